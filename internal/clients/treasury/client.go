// Package treasury fetches benchmark and spread curves from the rates API.
package treasury

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/fairvalue/internal/config"
	"github.com/aristath/fairvalue/internal/curvemath"
	"github.com/aristath/fairvalue/internal/domain"
	"github.com/aristath/fairvalue/internal/utils"
)

// Client for the treasury/corporate rates API.
type Client struct {
	baseURL string
	apiKey  string
	nameMap map[string]string
	enabled bool
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new rates API client. When the external curve feed
// is disabled in config, Fetch always returns (nil, nil).
func NewClient(cfg *config.Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.CurveAPIBaseURL, "/"),
		apiKey:  cfg.CurveAPIKey,
		nameMap: cfg.CurveNameMap,
		enabled: cfg.ExternalCurvesEnabled && cfg.CurveAPIBaseURL != "",
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "treasury-api").Logger(),
	}
}

// curveResponse is the API payload: parallel arrays of maturities in
// years and rates in percent. Treasury and corporate endpoints carry
// yields, spread endpoints carry spreads.
type curveResponse struct {
	CurveDate  string    `json:"curve_date"`
	Maturities []float64 `json:"maturities"`
	Yields     []float64 `json:"yields"`
	Spreads    []float64 `json:"spreads"`
}

// Fetch retrieves one named curve for a date. Unknown names and disabled
// feeds return (nil, nil) so the resolution pipeline moves on.
func (c *Client) Fetch(ctx context.Context, name string, date time.Time) (*domain.Curve, error) {
	if !c.enabled {
		return nil, nil
	}

	endpoint, curveType, ok := c.endpointFor(name, date)
	if !ok {
		return nil, nil
	}

	url := c.baseURL + endpoint
	c.log.Debug().Str("url", url).Str("curve", name).Msg("Fetching curve")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
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

	var payload curveResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(payload.Maturities) == 0 {
		return nil, nil
	}

	rates := payload.Yields
	if curveType == domain.CurveSpread {
		rates = payload.Spreads
	}
	if len(rates) != len(payload.Maturities) {
		return nil, fmt.Errorf("maturities and rates disagree: %d vs %d", len(payload.Maturities), len(rates))
	}

	curveDate := date
	if payload.CurveDate != "" {
		if parsed, perr := utils.ParseDate(payload.CurveDate); perr == nil {
			curveDate = parsed
		}
	}

	curve := &domain.Curve{
		Name:      name,
		CurveDate: curveDate,
		Source:    domain.CurveSourceFRED,
		Type:      curveType,
		Currency:  "USD",
	}
	for i, years := range payload.Maturities {
		yf := years
		curve.Points = append(curve.Points, domain.CurvePoint{
			TenorLabel:   curvemath.YearsToTenor(years),
			Rate:         rates[i] / 100.0, // percent to decimal
			YearFraction: &yf,
		})
	}

	return curve, nil
}

// endpointFor maps a logical curve name to an API path and curve type.
// Spread curves are addressed by rating, e.g. "corporate_spread:BBB".
func (c *Client) endpointFor(name string, date time.Time) (string, domain.CurveType, bool) {
	mapped, ok := c.nameMap[name]
	if !ok {
		return "", "", false
	}

	day := utils.FormatDate(date)
	switch {
	case mapped == "treasury":
		return "/treasury/" + day, domain.CurvePar, true
	case mapped == "treasury_latest":
		return "/treasury/latest", domain.CurvePar, true
	case mapped == "corporate":
		return "/corporate/" + day, domain.CurvePar, true
	case strings.HasPrefix(mapped, "corporate_spread:"):
		rating := strings.TrimPrefix(mapped, "corporate_spread:")
		return "/corporate/spread/" + rating + "/" + day, domain.CurveSpread, true
	}
	return "", "", false
}
