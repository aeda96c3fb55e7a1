package valuation

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/fairvalue/internal/daycount"
	"github.com/aristath/fairvalue/internal/domain"
	"github.com/aristath/fairvalue/internal/modules/cashflows"
	"github.com/aristath/fairvalue/internal/modules/curves"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func flatComposite(rate float64) *curves.Composite {
	points := make([]curves.CompositePoint, 0, 4)
	for _, years := range []float64{0.25, 1, 5, 30} {
		points = append(points, curves.CompositePoint{
			Tenor:     curveTenor(years),
			Years:     years,
			Rate:      rate,
			Benchmark: rate,
		})
	}
	return &curves.Composite{Points: points}
}

func curveTenor(years float64) string {
	switch years {
	case 0.25:
		return "3M"
	case 1:
		return "1Y"
	case 5:
		return "5Y"
	default:
		return "30Y"
	}
}

func fixedBond() *domain.Security {
	return &domain.Security{
		ID:             "SEC-FIXED",
		Name:           "5% 2026",
		InstrumentType: domain.InstrumentFixedBond,
		Currency:       "USD",
		DayCount:       "ACT/365",
		CouponRate:     5.0,
		Frequency:      domain.FrequencySemi,
		IssueDate:      date(2023, 1, 15),
		MaturityDate:   date(2026, 1, 15),
		FaceValue:      100,
	}
}

func project(t *testing.T, sec *domain.Security, valuationDate time.Time) *cashflows.Projection {
	t.Helper()
	proj, err := cashflows.NewProjector(nil, zerolog.Nop()).Project(sec, valuationDate)
	require.NoError(t, err)
	return proj
}

// expectedPV independently discounts the future flows at a flat rate.
func expectedPV(t *testing.T, proj *cashflows.Projection, valuationDate time.Time, rate float64) float64 {
	t.Helper()
	var pv float64
	for _, f := range proj.Future {
		years, err := daycount.YearFraction(valuationDate, f.FlowDate, daycount.ConvAct365)
		require.NoError(t, err)
		pv += f.Amount * math.Pow(1+rate, -years)
	}
	return pv
}

func TestPriceFixedBondFlatCurve(t *testing.T) {
	sec := fixedBond()
	valuationDate := date(2024, 3, 10)
	proj := project(t, sec, valuationDate)

	engine := NewEngine(zerolog.Nop())
	result, err := engine.Price(sec, proj, flatComposite(0.05), domain.StandingSpreads{}, valuationDate)
	require.NoError(t, err)

	assert.InDelta(t, expectedPV(t, proj, valuationDate, 0.05), result.PresentValue, 1e-9)

	// Accrued over 55 of 182 days in the 2024-01-15..2024-07-15 period
	assert.InDelta(t, 2.5*55.0/182.0, result.AccruedInterest, 1e-9)
	assert.InDelta(t, result.PresentValue+result.AccruedInterest, result.DirtyValue, 1e-12)

	// One discount step per future flow, in order
	assert.Len(t, result.Steps, len(proj.Future))
	for i, step := range result.Steps {
		assert.Equal(t, i+1, step.StepOrder)
		assert.Equal(t, domain.StepDiscount, step.StepType)
	}

	// Roughly a two-year bond
	assert.InDelta(t, 1.75, result.MacaulayDuration, 0.15)
	assert.Greater(t, result.Convexity, result.MacaulayDuration)
}

func TestPriceZeroBond(t *testing.T) {
	sec := &domain.Security{
		ID:             "SEC-ZERO",
		Name:           "zero 2029",
		InstrumentType: domain.InstrumentZeroBond,
		Currency:       "USD",
		DayCount:       "ACT/365",
		Frequency:      domain.FrequencyZero,
		IssueDate:      date(2024, 3, 10),
		MaturityDate:   date(2029, 3, 10),
		FaceValue:      1000,
	}
	valuationDate := date(2024, 3, 10)
	proj := project(t, sec, valuationDate)

	engine := NewEngine(zerolog.Nop())
	result, err := engine.Price(sec, proj, flatComposite(0.04), domain.StandingSpreads{}, valuationDate)
	require.NoError(t, err)

	years, err := daycount.YearFraction(valuationDate, sec.MaturityDate, daycount.ConvAct365)
	require.NoError(t, err)
	assert.InDelta(t, 1000*math.Pow(1.04, -years), result.PresentValue, 1e-9)

	// Zeros never accrue
	assert.Zero(t, result.AccruedInterest)
	assert.Len(t, result.Steps, 1)
	assert.InDelta(t, years, result.MacaulayDuration, 1e-9)
}

func TestPriceMaturedBondIsZero(t *testing.T) {
	sec := fixedBond()
	valuationDate := date(2027, 6, 1) // past maturity
	proj := project(t, sec, valuationDate)

	engine := NewEngine(zerolog.Nop())
	result, err := engine.Price(sec, proj, flatComposite(0.05), domain.StandingSpreads{}, valuationDate)
	require.NoError(t, err)

	assert.Zero(t, result.PresentValue)
	assert.Empty(t, result.Steps)
	assert.Zero(t, result.AccruedInterest)
}

func TestPriceStandingSpreadsShiftRates(t *testing.T) {
	sec := fixedBond()
	valuationDate := date(2024, 3, 10)
	proj := project(t, sec, valuationDate)
	engine := NewEngine(zerolog.Nop())

	z := 50.0 // bps
	withSpread, err := engine.Price(sec, proj, flatComposite(0.05), domain.StandingSpreads{Z: &z}, valuationDate)
	require.NoError(t, err)

	assert.InDelta(t, expectedPV(t, proj, valuationDate, 0.055), withSpread.PresentValue, 1e-9)

	// Widening the discount rate lowers value
	base, err := engine.Price(sec, proj, flatComposite(0.05), domain.StandingSpreads{}, valuationDate)
	require.NoError(t, err)
	assert.Less(t, withSpread.PresentValue, base.PresentValue)

	// The adjustment is recorded after the discount steps
	last := withSpread.Steps[len(withSpread.Steps)-1]
	assert.Equal(t, domain.StepAdjustment, last.StepType)
	assert.Len(t, withSpread.Steps, len(proj.Future)+1)
}

func TestPriceSkipsDefaultedFlowsUsesRecovery(t *testing.T) {
	sec := fixedBond()
	valuationDate := date(2024, 3, 10)
	proj := project(t, sec, valuationDate)

	// Default the 2024-07-15 coupon with partial recovery
	recovery := 1.0
	for i := range proj.Future {
		if proj.Future[i].FlowDate.Equal(date(2024, 7, 15)) {
			proj.Future[i].IsDefaulted = true
			proj.Future[i].RecoveryAmount = &recovery
		}
	}

	engine := NewEngine(zerolog.Nop())
	result, err := engine.Price(sec, proj, flatComposite(0.05), domain.StandingSpreads{}, valuationDate)
	require.NoError(t, err)

	// Discounted recovery replaces the coupon in the first step
	data, ok := result.Steps[0].StepData.(domain.DiscountStepData)
	require.True(t, ok)
	assert.InDelta(t, 1.0, data.CashFlow, 1e-12)

	base, err := engine.Price(sec, project(t, sec, valuationDate), flatComposite(0.05), domain.StandingSpreads{}, valuationDate)
	require.NoError(t, err)
	assert.Less(t, result.PresentValue, base.PresentValue)
}

func TestPriceStepsRecordInterpolatedTenor(t *testing.T) {
	sec := fixedBond()
	valuationDate := date(2024, 3, 10)
	proj := project(t, sec, valuationDate)

	// Every flow lands between curve pillars, so each rate is
	// interpolated; the steps still carry a derived tenor label.
	result, err := NewEngine(zerolog.Nop()).Price(sec, proj, flatComposite(0.05), domain.StandingSpreads{}, valuationDate)
	require.NoError(t, err)

	require.NotEmpty(t, result.Steps)
	for _, step := range result.Steps {
		data, ok := step.StepData.(domain.DiscountStepData)
		require.True(t, ok)
		assert.NotEmpty(t, data.Tenor)
	}
}

func TestPriceExactMaturityPointWins(t *testing.T) {
	sec := fixedBond()
	valuationDate := date(2024, 3, 10)
	proj := project(t, sec, valuationDate)

	maturity := sec.MaturityDate
	composite := flatComposite(0.05)
	// Pin a distinct rate on the redemption date
	composite.Points = append(composite.Points, curves.CompositePoint{
		Tenor:        "CUSTOM",
		Years:        1.85,
		Rate:         0.06,
		Benchmark:    0.06,
		MaturityDate: &maturity,
	})

	engine := NewEngine(zerolog.Nop())
	result, err := engine.Price(sec, proj, composite, domain.StandingSpreads{}, valuationDate)
	require.NoError(t, err)

	for _, step := range result.Steps {
		data := step.StepData.(domain.DiscountStepData)
		if data.FlowDate == "2026-01-15" {
			assert.InDelta(t, 0.06, data.DiscountRate, 1e-12)
		} else {
			assert.InDelta(t, 0.05, data.DiscountRate, 1e-12)
		}
	}
}
