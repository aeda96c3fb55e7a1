package valuation

import (
	"math"
	"time"

	"github.com/aristath/fairvalue/internal/daycount"
	"github.com/aristath/fairvalue/internal/domain"
	"github.com/aristath/fairvalue/internal/modules/cashflows"
)

const (
	ytmInitialGuess  = 0.05
	ytmMinYield      = 1e-4
	ytmMaxIterations = 100
	ytmTolerance     = 1e-4
)

// YieldToMaturity solves, by Newton-Raphson, the flat annual yield that
// reprices the security to the given dirty value. The yield is quoted off
// the contractual fixed-coupon schedule regenerated for the security, not
// the family-specific projection. Returns nil for non-bond instruments,
// degenerate inputs, and non-convergence.
func YieldToMaturity(sec *domain.Security, proj *cashflows.Projection, dirtyValue float64, valuationDate time.Time) *float64 {
	if !sec.InstrumentType.IsBond() || dirtyValue <= 0 || len(proj.Future) == 0 {
		return nil
	}
	performing := false
	for i := range proj.Future {
		if !proj.Future[i].IsDefaulted {
			performing = true
			break
		}
	}
	if !performing {
		return nil
	}

	type timedFlow struct {
		years  float64
		amount float64
	}
	var flows []timedFlow
	for _, f := range cashflows.FixedSchedule(sec) {
		years, err := daycount.YearFraction(valuationDate, f.FlowDate, daycount.ConvAct365)
		if err != nil || years <= 0 {
			continue
		}
		flows = append(flows, timedFlow{years: years, amount: f.Amount})
	}
	if len(flows) == 0 {
		return nil
	}

	yield := ytmInitialGuess
	for i := 0; i < ytmMaxIterations; i++ {
		var price, derivative float64
		for _, f := range flows {
			df := math.Pow(1+yield, -f.years)
			price += f.amount * df
			derivative -= f.years * f.amount * df / (1 + yield)
		}

		diff := price - dirtyValue
		if math.Abs(diff) < ytmTolerance {
			return &yield
		}
		if derivative == 0 || math.IsNaN(derivative) {
			return nil
		}

		yield -= diff / derivative
		if math.IsNaN(yield) || math.IsInf(yield, 0) {
			return nil
		}
		if yield < ytmMinYield {
			yield = ytmMinYield
		}
	}

	return nil
}
