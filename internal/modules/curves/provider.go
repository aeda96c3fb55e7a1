package curves

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/fairvalue/internal/domain"
	"github.com/aristath/fairvalue/internal/utils"
)

// yearFractionTolerance is the tolerance for matching spread-curve points to
// benchmark points by year fraction.
const yearFractionTolerance = 1e-8

// ExternalFetcher fetches one named curve for one date from an external
// provider. A (nil, nil) return means the provider cannot serve this name
// (disabled, unknown name, or no data); the pipeline falls through.
type ExternalFetcher interface {
	Fetch(ctx context.Context, name string, date time.Time) (*domain.Curve, error)
}

// Provider resolves named curves through the store-backed cache with
// external fallback, and builds composite (benchmark + spread + manual
// override) curves.
type Provider struct {
	repo     *Repository
	fetchers []ExternalFetcher
	ttl      time.Duration
	log      zerolog.Logger
}

// NewProvider creates a new curve provider. fetchers are tried in order
// when the cache misses or holds only stale external data.
func NewProvider(repo *Repository, fetchers []ExternalFetcher, ttlDays int, log zerolog.Logger) *Provider {
	if ttlDays < 1 {
		ttlDays = 1
	}
	return &Provider{
		repo:     repo,
		fetchers: fetchers,
		ttl:      time.Duration(ttlDays) * 24 * time.Hour,
		log:      log.With().Str("provider", "curves").Logger(),
	}
}

// CurveRef identifies the concrete curve used in a composite, for the
// curve-setup audit snapshot.
type CurveRef struct {
	Name      string `json:"name"`
	Source    string `json:"source"`
	CurveDate string `json:"curve_date"`
}

// Setup is the audit snapshot of a composite's construction.
type Setup struct {
	Benchmark     CurveRef           `json:"benchmark"`
	Spread        *CurveRef          `json:"spread,omitempty"`
	ManualSpreads map[string]float64 `json:"manual_spreads,omitempty"`
}

// CompositePoint is one node of a composite curve with its components.
type CompositePoint struct {
	Tenor        string     `json:"tenor,omitempty"`
	Years        float64    `json:"years"`
	Rate         float64    `json:"rate"`
	MaturityDate *time.Time `json:"maturity_date,omitempty"`
	Benchmark    float64    `json:"benchmark_rate"`
	Spread       float64    `json:"spread_rate"`
}

// Composite is a fully-resolved discounting curve: benchmark plus optional
// spread curve plus manual per-tenor overrides.
type Composite struct {
	Points []CompositePoint
	Setup  Setup
}

// Resolution is the rate resolved for one flow date.
type Resolution struct {
	Tenor     string
	Benchmark float64
	Spread    float64
	Rate      float64
	Exact     bool
}

// resolve loads one named curve: cache first, external fetchers when the
// cached copy is missing or stale, stale cache as last fallback.
func (p *Provider) resolve(ctx context.Context, name string, asOf time.Time) (*domain.Curve, error) {
	cached, err := p.repo.GetLatest(name, asOf, nil)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if cached != nil && p.isFresh(cached, asOf) {
		return cached, nil
	}

	for _, fetcher := range p.fetchers {
		fetched, ferr := fetcher.Fetch(ctx, name, asOf)
		if ferr != nil {
			// Provider failures (including timeouts) fall through
			p.log.Warn().Err(ferr).Str("curve", name).Msg("external curve fetch failed")
			continue
		}
		if fetched == nil {
			continue
		}
		if nerr := normalizePoints(fetched); nerr != nil {
			p.log.Warn().Err(nerr).Str("curve", name).Msg("fetched curve failed normalization")
			continue
		}

		if serr := p.repo.Save(fetched); serr != nil {
			p.log.Warn().Err(serr).Str("curve", name).Msg("failed to cache fetched curve")
		}
		p.log.Info().
			Str("curve", name).
			Str("source", string(fetched.Source)).
			Str("date", utils.FormatDate(fetched.CurveDate)).
			Int("points", len(fetched.Points)).
			Msg("Fetched curve")
		return fetched, nil
	}

	if cached != nil {
		p.log.Warn().
			Str("curve", name).
			Str("date", utils.FormatDate(cached.CurveDate)).
			Msg("using stale cached curve")
		return cached, nil
	}

	return nil, &domain.CurveUnavailableError{Name: name, Date: asOf}
}

// isFresh reports whether a cached curve needs no re-fetch. Manually loaded
// and identity curves never expire; external sources expire when their
// curve date falls behind asOf by more than the TTL.
func (p *Provider) isFresh(curve *domain.Curve, asOf time.Time) bool {
	switch curve.Source {
	case domain.CurveSourceManual, domain.CurveSourceIdentity:
		return true
	}
	return asOf.Sub(curve.CurveDate) <= p.ttl
}

// LoadComposite builds the composite discounting curve for one security:
// benchmark curve, optional spread curve matched point-by-point, and manual
// per-tenor overrides added on top. The returned point list is non-empty
// and sorted by year fraction; every point carries both components.
func (p *Provider) LoadComposite(ctx context.Context, benchmarkName string, spreadName *string, asOf time.Time, manualSpreads map[string]float64) (*Composite, error) {
	benchmark, err := p.resolve(ctx, benchmarkName, asOf)
	if err != nil {
		return nil, err
	}
	if len(benchmark.Points) == 0 {
		return nil, &domain.CurveUnavailableError{Name: benchmarkName, Date: asOf}
	}

	var spread *domain.Curve
	if spreadName != nil && *spreadName != "" {
		spread, err = p.resolve(ctx, *spreadName, asOf)
		if err != nil {
			return nil, err
		}
	}

	composite := &Composite{
		Setup: Setup{
			Benchmark: CurveRef{
				Name:      benchmark.Name,
				Source:    string(benchmark.Source),
				CurveDate: utils.FormatDate(benchmark.CurveDate),
			},
			ManualSpreads: manualSpreads,
		},
	}
	if spread != nil {
		composite.Setup.Spread = &CurveRef{
			Name:      spread.Name,
			Source:    string(spread.Source),
			CurveDate: utils.FormatDate(spread.CurveDate),
		}
	}

	for _, bp := range benchmark.Points {
		spreadRate := matchSpread(spread, bp)

		// Manual overrides are additive on top of the curve spread and
		// recorded in the spread component.
		if bps, ok := manualOverride(manualSpreads, bp.TenorLabel); ok {
			spreadRate += bps / 10000.0
		}

		composite.Points = append(composite.Points, CompositePoint{
			Tenor:        bp.TenorLabel,
			Years:        *bp.YearFraction,
			Rate:         bp.Rate + spreadRate,
			MaturityDate: bp.MaturityDate,
			Benchmark:    bp.Rate,
			Spread:       spreadRate,
		})
	}

	return composite, nil
}

// matchSpread finds the spread-curve point matching a benchmark point:
// exact maturity date, then year fraction within tolerance, then tenor
// label. Missing matches contribute zero spread.
func matchSpread(spread *domain.Curve, bp domain.CurvePoint) float64 {
	if spread == nil {
		return 0
	}

	if bp.MaturityDate != nil {
		for _, sp := range spread.Points {
			if sp.MaturityDate != nil && utils.SameDay(*sp.MaturityDate, *bp.MaturityDate) {
				return sp.Rate
			}
		}
	}

	if bp.YearFraction != nil {
		for _, sp := range spread.Points {
			if sp.YearFraction != nil && math.Abs(*sp.YearFraction-*bp.YearFraction) < yearFractionTolerance {
				return sp.Rate
			}
		}
	}

	if bp.TenorLabel != "" {
		for _, sp := range spread.Points {
			if sp.TenorLabel == bp.TenorLabel {
				return sp.Rate
			}
		}
	}

	return 0
}

// manualOverride looks up a manual spread (bps) for a tenor, falling back
// to the "default" key.
func manualOverride(spreads map[string]float64, tenor string) (float64, bool) {
	if len(spreads) == 0 {
		return 0, false
	}
	if bps, ok := spreads[tenor]; ok {
		return bps, true
	}
	if bps, ok := spreads["default"]; ok {
		return bps, true
	}
	return 0, false
}

// Resolve returns the discount rate for a flow: an exact maturity-date
// point when one exists, else linear interpolation of the components in
// (years, rate) space with endpoint rates beyond the curve ends.
func (c *Composite) Resolve(flowDate time.Time, years float64) Resolution {
	for _, pt := range c.Points {
		if pt.MaturityDate != nil && utils.SameDay(*pt.MaturityDate, flowDate) {
			return Resolution{
				Tenor:     pt.Tenor,
				Benchmark: pt.Benchmark,
				Spread:    pt.Spread,
				Rate:      pt.Benchmark + pt.Spread,
				Exact:     true,
			}
		}
	}

	benchmark := interpolateComponent(c.Points, years, func(p CompositePoint) float64 { return p.Benchmark })
	spread := interpolateComponent(c.Points, years, func(p CompositePoint) float64 { return p.Spread })

	return Resolution{
		Benchmark: benchmark,
		Spread:    spread,
		Rate:      benchmark + spread,
	}
}

// interpolateComponent linearly interpolates one component of the composite
// in (years, value) space. Points are already sorted by years.
func interpolateComponent(points []CompositePoint, years float64, value func(CompositePoint) float64) float64 {
	if len(points) == 0 {
		return 0
	}
	if years <= points[0].Years {
		return value(points[0])
	}
	last := points[len(points)-1]
	if years >= last.Years {
		return value(last)
	}

	for i := 1; i < len(points); i++ {
		if points[i].Years >= years {
			lo, hi := points[i-1], points[i]
			if hi.Years == lo.Years {
				return value(lo)
			}
			frac := (years - lo.Years) / (hi.Years - lo.Years)
			return value(lo) + frac*(value(hi)-value(lo))
		}
	}
	return value(last)
}
