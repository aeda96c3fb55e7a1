// Package marketdata fetches vendor curves from the market data gateway.
package marketdata

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
	"github.com/aristath/fairvalue/internal/domain"
	"github.com/aristath/fairvalue/internal/utils"
)

// Client for the market data gateway.
type Client struct {
	baseURL string
	apiKey  string
	enabled bool
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new market data client.
func NewClient(cfg *config.Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.MarketDataBaseURL, "/"),
		apiKey:  cfg.MarketDataAPIKey,
		enabled: cfg.ExternalCurvesEnabled && cfg.MarketDataBaseURL != "",
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "marketdata").Logger(),
	}
}

type curvePayload struct {
	Currency  string `json:"currency"`
	CurveType string `json:"curve_type"`
	Date      string `json:"date"`
	Points    []struct {
		Tenor string  `json:"tenor"`
		Rate  float64 `json:"rate"`
	} `json:"points"`
}

// Fetch retrieves a named curve by query. (nil, nil) on 404 or when the
// gateway is not configured.
func (c *Client) Fetch(ctx context.Context, name string, date time.Time) (*domain.Curve, error) {
	if !c.enabled {
		return nil, nil
	}

	query := url.Values{}
	query.Set("curve", name)
	query.Set("date", utils.FormatDate(date))
	reqURL := c.baseURL + "/curves?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var payload curvePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(payload.Points) == 0 {
		return nil, nil
	}

	curveDate := date
	if payload.Date != "" {
		if parsed, perr := utils.ParseDate(payload.Date); perr == nil {
			curveDate = parsed
		}
	}

	curveType := domain.CurvePar
	if payload.CurveType == string(domain.CurveSpread) {
		curveType = domain.CurveSpread
	}

	curve := &domain.Curve{
		Name:      name,
		CurveDate: curveDate,
		Source:    domain.CurveSourceBloomberg,
		Type:      curveType,
		Currency:  payload.Currency,
	}
	for _, p := range payload.Points {
		curve.Points = append(curve.Points, domain.CurvePoint{
			TenorLabel: strings.ToUpper(p.Tenor),
			Rate:       p.Rate,
		})
	}

	c.log.Info().Str("curve", name).Int("points", len(curve.Points)).Msg("Fetched curve")
	return curve, nil
}
