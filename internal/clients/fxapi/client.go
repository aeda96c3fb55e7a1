// Package fxapi fetches spot exchange rates from the configured FX provider.
package fxapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/fairvalue/internal/config"
	"github.com/aristath/fairvalue/internal/utils"
)

// Client for the external FX rate provider. Two provider flavors are
// supported: "base_symbols" (exchangerate-api style) and "from_to".
type Client struct {
	baseURL string
	apiKey  string
	flavor  string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new FX provider client.
func NewClient(cfg *config.Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.FxProviderURL, "/"),
		apiKey:  cfg.FxAPIKey,
		flavor:  cfg.FxProviderFlavor,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "fx-api").Logger(),
	}
}

// GetRate fetches the from→to rate for a date.
func (c *Client) GetRate(ctx context.Context, from, to string, date time.Time) (float64, error) {
	if c.baseURL == "" {
		return 0, fmt.Errorf("fx provider not configured")
	}

	query := url.Values{}
	switch c.flavor {
	case "from_to":
		query.Set("from", from)
		query.Set("to", to)
	default: // base_symbols
		query.Set("base", from)
		query.Set("symbols", to)
	}
	query.Set("date", utils.FormatDate(date))
	reqURL := c.baseURL + "/latest?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var payload struct {
		Rate  float64            `json:"rate"`
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}

	rate := payload.Rate
	if rate == 0 {
		rate = payload.Rates[to]
	}
	if rate <= 0 {
		return 0, fmt.Errorf("rate not found for %s->%s", from, to)
	}

	c.log.Info().Str("from", from).Str("to", to).Float64("rate", rate).Msg("Fetched rate")
	return rate, nil
}
