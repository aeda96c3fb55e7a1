package curvemath

import (
	"math"
	"sort"

	"github.com/aristath/fairvalue/internal/domain"
)

// Method selects the interpolation scheme
type Method string

const (
	MethodLinear Method = "linear"
	MethodCubic  Method = "cubic"
)

// knotTolerance is the year distance below which a target is treated as an
// exact knot match.
const knotTolerance = 1e-3

// Point is a (years, rate) curve node for interpolation.
type Point struct {
	Years float64
	Rate  float64
}

// Interpolate evaluates the curve at targetYears. Points are sorted by
// years; targets beyond the curve ends use flat extrapolation. Cubic
// interpolation needs at least four points and falls back to linear below
// that.
func Interpolate(points []Point, targetYears float64, method Method) (float64, error) {
	if len(points) == 0 {
		return 0, domain.NewValidationError("cannot interpolate empty curve")
	}

	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Years < sorted[j].Years })

	for _, p := range sorted {
		if math.Abs(p.Years-targetYears) < knotTolerance {
			return p.Rate, nil
		}
	}

	// Flat extrapolation beyond the ends
	if targetYears <= sorted[0].Years {
		return sorted[0].Rate, nil
	}
	if targetYears >= sorted[len(sorted)-1].Years {
		return sorted[len(sorted)-1].Rate, nil
	}

	// Locate the bracketing segment
	hi := sort.Search(len(sorted), func(i int) bool { return sorted[i].Years >= targetYears })
	lo := hi - 1

	switch method {
	case MethodCubic:
		if len(sorted) >= 4 {
			return hermite(sorted, lo, targetYears), nil
		}
		return linear(sorted[lo], sorted[hi], targetYears), nil
	case MethodLinear, "":
		return linear(sorted[lo], sorted[hi], targetYears), nil
	default:
		return 0, domain.NewValidationError("unknown interpolation method %q", method)
	}
}

func linear(a, b Point, x float64) float64 {
	if b.Years == a.Years {
		return a.Rate
	}
	return a.Rate + (b.Rate-a.Rate)*(x-a.Years)/(b.Years-a.Years)
}

// hermite evaluates a cubic Hermite segment between points[lo] and
// points[lo+1]. Endpoint slopes come from finite differences of the
// neighbouring segments, falling back to the segment's own slope at the
// curve boundaries.
func hermite(points []Point, lo int, x float64) float64 {
	p0, p1 := points[lo], points[lo+1]
	h := p1.Years - p0.Years
	if h == 0 {
		return p0.Rate
	}

	segSlope := (p1.Rate - p0.Rate) / h

	m0 := segSlope
	if lo > 0 {
		prev := points[lo-1]
		m0 = (p1.Rate - prev.Rate) / (p1.Years - prev.Years)
	}

	m1 := segSlope
	if lo+2 < len(points) {
		next := points[lo+2]
		m1 = (next.Rate - p0.Rate) / (next.Years - p0.Years)
	}

	t := (x - p0.Years) / h
	t2 := t * t
	t3 := t2 * t

	h00 := 2*t3 - 3*t2 + 1
	h10 := t3 - 2*t2 + t
	h01 := -2*t3 + 3*t2
	h11 := t3 - t2

	return h00*p0.Rate + h10*h*m0 + h01*p1.Rate + h11*h*m1
}

// ForwardRate derives the forward rate implied by two zero rates r1@t1 and
// r2@t2 with t2 > t1:
//
//	f = ((1+r2)^t2 / (1+r1)^t1)^(1/(t2-t1)) - 1
func ForwardRate(r1, t1, r2, t2 float64) (float64, error) {
	if t2 <= t1 {
		return 0, domain.NewValidationError("forward rate requires t2 > t1, got t1=%v t2=%v", t1, t2)
	}

	growth := math.Pow(1+r2, t2) / math.Pow(1+r1, t1)
	return math.Pow(growth, 1/(t2-t1)) - 1, nil
}

// ApplySpread adds a basis-point spread to a decimal rate.
func ApplySpread(rate, spreadBps float64) float64 {
	return rate + spreadBps/10000.0
}
