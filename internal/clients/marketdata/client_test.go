package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/fairvalue/internal/config"
	"github.com/aristath/fairvalue/internal/domain"
)

func testClient(baseURL string) *Client {
	cfg := &config.Config{
		MarketDataBaseURL:     baseURL,
		MarketDataAPIKey:      "test-key",
		ExternalCurvesEnabled: true,
	}
	return NewClient(cfg, zerolog.Nop())
}

func TestFetchCurve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/curves", r.URL.Path)
		assert.Equal(t, "EUR_Swap", r.URL.Query().Get("curve"))
		assert.Equal(t, "2024-03-10", r.URL.Query().Get("date"))
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"currency": "EUR",
			"curve_type": "par",
			"date": "2024-03-08",
			"points": [
				{"tenor": "1y", "rate": 0.0331},
				{"tenor": "5y", "rate": 0.0287}
			]
		}`))
	}))
	defer server.Close()

	client := testClient(server.URL)

	curve, err := client.Fetch(context.Background(), "EUR_Swap", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, curve)

	assert.Equal(t, "EUR_Swap", curve.Name)
	assert.Equal(t, time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), curve.CurveDate)
	assert.Equal(t, domain.CurveSourceBloomberg, curve.Source)
	assert.Equal(t, domain.CurvePar, curve.Type)
	assert.Equal(t, "EUR", curve.Currency)

	require.Len(t, curve.Points, 2)
	assert.Equal(t, "1Y", curve.Points[0].TenorLabel)
	assert.InDelta(t, 0.0331, curve.Points[0].Rate, 1e-12)
	assert.Equal(t, "5Y", curve.Points[1].TenorLabel)
}

func TestFetchSpreadCurveType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"currency": "USD",
			"curve_type": "spread",
			"points": [{"tenor": "5Y", "rate": 0.0125}]
		}`))
	}))
	defer server.Close()

	client := testClient(server.URL)

	curve, err := client.Fetch(context.Background(), "USD_Corp_Spread", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, curve)

	assert.Equal(t, domain.CurveSpread, curve.Type)
	// No date in the payload, so the requested date stands.
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), curve.CurveDate)
}

func TestFetchDisabledGateway(t *testing.T) {
	cfg := &config.Config{MarketDataBaseURL: "http://localhost:1", ExternalCurvesEnabled: false}
	client := NewClient(cfg, zerolog.Nop())

	curve, err := client.Fetch(context.Background(), "EUR_Swap", time.Now())
	require.NoError(t, err)
	assert.Nil(t, curve)
}

func TestFetchNotFoundFallsThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := testClient(server.URL)

	curve, err := client.Fetch(context.Background(), "Nope", time.Now())
	require.NoError(t, err)
	assert.Nil(t, curve)
}

func TestFetchServerErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := testClient(server.URL)

	_, err := client.Fetch(context.Background(), "EUR_Swap", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestFetchEmptyPayloadFallsThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"currency": "EUR", "points": []}`))
	}))
	defer server.Close()

	client := testClient(server.URL)

	curve, err := client.Fetch(context.Background(), "EUR_Swap", time.Now())
	require.NoError(t, err)
	assert.Nil(t, curve)
}
