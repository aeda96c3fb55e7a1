package curves

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/fairvalue/internal/domain"
)

// stubFetcher serves canned curves and records calls.
type stubFetcher struct {
	curve *domain.Curve
	err   error
	calls int
}

func (s *stubFetcher) Fetch(_ context.Context, _ string, _ time.Time) (*domain.Curve, error) {
	s.calls++
	return s.curve, s.err
}

func fetchedTreasury(curveDate time.Time) *domain.Curve {
	c := treasuryCurve(curveDate)
	c.Source = domain.CurveSourceFRED
	return c
}

func TestLoadCompositeBenchmarkOnly(t *testing.T) {
	repo := NewRepository(newCacheDB(t), zerolog.Nop())
	asOf := testDate(2024, 3, 10)
	require.NoError(t, repo.Save(treasuryCurve(asOf)))

	provider := NewProvider(repo, nil, 1, zerolog.Nop())
	composite, err := provider.LoadComposite(context.Background(), "UST", nil, asOf, nil)
	require.NoError(t, err)

	require.Len(t, composite.Points, 4)
	for _, pt := range composite.Points {
		assert.InDelta(t, pt.Benchmark, pt.Rate, 1e-12)
		assert.Zero(t, pt.Spread)
	}
	assert.Equal(t, "UST", composite.Setup.Benchmark.Name)
	assert.Equal(t, string(domain.CurveSourceManual), composite.Setup.Benchmark.Source)
	assert.Nil(t, composite.Setup.Spread)
}

func TestLoadCompositeAppliesSpreadCurveAndManualOverrides(t *testing.T) {
	repo := NewRepository(newCacheDB(t), zerolog.Nop())
	asOf := testDate(2024, 3, 10)
	require.NoError(t, repo.Save(treasuryCurve(asOf)))

	spread := &domain.Curve{
		Name:      "CORP_SPREAD_BBB",
		CurveDate: asOf,
		Source:    domain.CurveSourceManual,
		Currency:  "USD",
		Type:      domain.CurveSpread,
		Points: []domain.CurvePoint{
			{TenorLabel: "1Y", Rate: 0.0120},
			{TenorLabel: "5Y", Rate: 0.0150},
		},
	}
	require.NoError(t, repo.Save(spread))

	provider := NewProvider(repo, nil, 1, zerolog.Nop())
	spreadName := "CORP_SPREAD_BBB"
	manual := map[string]float64{"5Y": 25, "default": 10}
	composite, err := provider.LoadComposite(context.Background(), "UST", &spreadName, asOf, manual)
	require.NoError(t, err)
	require.Len(t, composite.Points, 4)

	byTenor := map[string]CompositePoint{}
	for _, pt := range composite.Points {
		byTenor[pt.Tenor] = pt
	}

	// 3M: no spread match, "default" 10bps
	assert.InDelta(t, 0.0010, byTenor["3M"].Spread, 1e-12)
	// 1Y: spread curve 120bps plus default 10bps
	assert.InDelta(t, 0.0120+0.0010, byTenor["1Y"].Spread, 1e-12)
	// 5Y: spread curve 150bps plus the explicit 25bps override
	assert.InDelta(t, 0.0150+0.0025, byTenor["5Y"].Spread, 1e-12)
	assert.InDelta(t, 0.0445+0.0175, byTenor["5Y"].Rate, 1e-12)

	require.NotNil(t, composite.Setup.Spread)
	assert.Equal(t, "CORP_SPREAD_BBB", composite.Setup.Spread.Name)
	assert.Equal(t, manual, composite.Setup.ManualSpreads)
}

func TestResolveFetchesWhenCacheMisses(t *testing.T) {
	repo := NewRepository(newCacheDB(t), zerolog.Nop())
	asOf := testDate(2024, 3, 10)
	fetcher := &stubFetcher{curve: fetchedTreasury(asOf)}

	provider := NewProvider(repo, []ExternalFetcher{fetcher}, 1, zerolog.Nop())
	composite, err := provider.LoadComposite(context.Background(), "UST", nil, asOf, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, string(domain.CurveSourceFRED), composite.Setup.Benchmark.Source)

	// The fetched curve is now cached; the next load does not refetch
	_, err = provider.LoadComposite(context.Background(), "UST", nil, asOf, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls)
}

func TestResolveRefreshesStaleExternalCurve(t *testing.T) {
	repo := NewRepository(newCacheDB(t), zerolog.Nop())
	asOf := testDate(2024, 3, 10)

	stale := fetchedTreasury(testDate(2024, 3, 1)) // 9 days old, TTL is 1
	require.NoError(t, repo.Save(stale))
	fetcher := &stubFetcher{curve: fetchedTreasury(asOf)}

	provider := NewProvider(repo, []ExternalFetcher{fetcher}, 1, zerolog.Nop())
	composite, err := provider.LoadComposite(context.Background(), "UST", nil, asOf, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, asOf.Format("2006-01-02"), composite.Setup.Benchmark.CurveDate)
}

func TestResolveFallsBackToStaleCacheWhenFetchFails(t *testing.T) {
	repo := NewRepository(newCacheDB(t), zerolog.Nop())
	asOf := testDate(2024, 3, 10)

	stale := fetchedTreasury(testDate(2024, 3, 1))
	require.NoError(t, repo.Save(stale))
	fetcher := &stubFetcher{err: errors.New("provider down")}

	provider := NewProvider(repo, []ExternalFetcher{fetcher}, 1, zerolog.Nop())
	composite, err := provider.LoadComposite(context.Background(), "UST", nil, asOf, nil)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", composite.Setup.Benchmark.CurveDate)
}

func TestResolveManualCurveNeverExpires(t *testing.T) {
	repo := NewRepository(newCacheDB(t), zerolog.Nop())
	asOf := testDate(2024, 3, 10)
	require.NoError(t, repo.Save(treasuryCurve(testDate(2023, 1, 1))))

	fetcher := &stubFetcher{curve: fetchedTreasury(asOf)}
	provider := NewProvider(repo, []ExternalFetcher{fetcher}, 1, zerolog.Nop())
	composite, err := provider.LoadComposite(context.Background(), "UST", nil, asOf, nil)
	require.NoError(t, err)
	assert.Zero(t, fetcher.calls)
	assert.Equal(t, "2023-01-01", composite.Setup.Benchmark.CurveDate)
}

func TestResolveUnavailableCurve(t *testing.T) {
	repo := NewRepository(newCacheDB(t), zerolog.Nop())
	provider := NewProvider(repo, nil, 1, zerolog.Nop())

	_, err := provider.LoadComposite(context.Background(), "NOPE", nil, testDate(2024, 3, 10), nil)
	var unavailable *domain.CurveUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "NOPE", unavailable.Name)
}

func TestCompositeResolveExactAndInterpolated(t *testing.T) {
	repo := NewRepository(newCacheDB(t), zerolog.Nop())
	asOf := testDate(2024, 3, 10)
	require.NoError(t, repo.Save(treasuryCurve(asOf)))

	provider := NewProvider(repo, nil, 1, zerolog.Nop())
	composite, err := provider.LoadComposite(context.Background(), "UST", nil, asOf, nil)
	require.NoError(t, err)

	// A flow landing exactly on the 5Y point's maturity resolves exactly
	fiveYear := composite.Points[2]
	res := composite.Resolve(*fiveYear.MaturityDate, 5.0)
	assert.True(t, res.Exact)
	assert.InDelta(t, 0.0445, res.Rate, 1e-12)

	// A flow between 1Y and 5Y interpolates linearly
	res = composite.Resolve(testDate(2027, 3, 10), 3.0)
	assert.False(t, res.Exact)
	assert.InDelta(t, 0.0495+(3.0-1.0)/(5.0-1.0)*(0.0445-0.0495), res.Rate, 1e-9)

	// Beyond the last point the end rate extends flat
	res = composite.Resolve(testDate(2060, 1, 1), 36.0)
	assert.InDelta(t, 0.0450, res.Rate, 1e-12)
}
