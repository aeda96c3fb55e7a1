// Package valuation prices securities by discounted cash flow and runs
// portfolio-scale valuations.
package valuation

import (
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/aristath/fairvalue/internal/curvemath"
	"github.com/aristath/fairvalue/internal/daycount"
	"github.com/aristath/fairvalue/internal/domain"
	"github.com/aristath/fairvalue/internal/modules/cashflows"
	"github.com/aristath/fairvalue/internal/modules/curves"
	"github.com/aristath/fairvalue/internal/utils"
)

// Engine discounts projected cash flows on a composite curve.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a new DCF engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("engine", "dcf").Logger()}
}

// Result is the priced outcome for one security.
type Result struct {
	PresentValue     float64
	AccruedInterest  float64
	DirtyValue       float64
	MacaulayDuration float64
	Convexity        float64
	Steps            []domain.CalculationStep
	CurveSetup       curves.Setup
}

// Price discounts the projection's future flows. Standing spreads (bps)
// from the discount spec shift every resolved rate and are recorded as an
// adjustment step after the discounting steps.
func (e *Engine) Price(sec *domain.Security, proj *cashflows.Projection, composite *curves.Composite, standing domain.StandingSpreads, valuationDate time.Time) (*Result, error) {
	standingBps := sumStanding(standing)
	standingRate := standingBps / 10000.0

	var (
		pvs    []float64
		result = &Result{CurveSetup: composite.Setup}
		order  = 0
	)

	for i := range proj.Future {
		flow := proj.Future[i]

		amount := flow.Amount
		if flow.IsDefaulted {
			if flow.RecoveryAmount == nil {
				continue
			}
			amount = *flow.RecoveryAmount
		}

		years, err := daycount.YearFraction(valuationDate, flow.FlowDate, daycount.ConvAct365)
		if err != nil {
			return nil, err
		}
		if years <= 0 {
			continue
		}

		res := composite.Resolve(flow.FlowDate, years)
		tenor := res.Tenor
		if tenor == "" {
			tenor = curvemath.YearsToTenor(years)
		}
		rate := res.Rate + standingRate
		df := discountFactor(rate, years)
		pv := amount * df
		pvs = append(pvs, pv)

		order++
		result.Steps = append(result.Steps, domain.CalculationStep{
			SecurityID: sec.ID,
			StepOrder:  order,
			StepType:   domain.StepDiscount,
			StepData: domain.DiscountStepData{
				FlowDate:       utils.FormatDate(flow.FlowDate),
				Tenor:          tenor,
				Years:          years,
				CashFlow:       amount,
				BenchmarkRate:  res.Benchmark,
				SpreadRate:     res.Spread + standingRate,
				DiscountRate:   rate,
				DiscountFactor: df,
				PresentValue:   pv,
			},
		})
	}

	result.PresentValue = floats.Sum(pvs)

	if standingBps != 0 {
		order++
		result.Steps = append(result.Steps, domain.CalculationStep{
			SecurityID: sec.ID,
			StepOrder:  order,
			StepType:   domain.StepAdjustment,
			StepData: map[string]any{
				"standing_spreads_bps": standingBps,
				"z":                    standing.Z,
				"g":                    standing.G,
				"cds":                  standing.CDS,
				"liquidity":            standing.Liquidity,
			},
		})
	}

	// Duration and convexity over the discounted flows
	if result.PresentValue > 0 {
		var durSum, convSum float64
		for _, step := range result.Steps {
			data, ok := step.StepData.(domain.DiscountStepData)
			if !ok {
				continue
			}
			durSum += data.PresentValue * data.Years
			convSum += data.PresentValue * data.Years * (data.Years + 1)
		}
		result.MacaulayDuration = durSum / result.PresentValue
		result.Convexity = convSum / result.PresentValue
	}

	accrued, err := e.accruedInterest(sec, valuationDate)
	if err != nil {
		return nil, err
	}
	result.AccruedInterest = accrued
	result.DirtyValue = result.PresentValue + accrued

	return result, nil
}

// accruedInterest computes settlement accrual for coupon-bearing bonds.
// Loans and zero-frequency instruments accrue nothing.
func (e *Engine) accruedInterest(sec *domain.Security, valuationDate time.Time) (float64, error) {
	if !sec.InstrumentType.IsBond() {
		return 0, nil
	}
	freq := sec.Frequency.PeriodsPerYear()
	if freq == 0 || sec.CouponRate <= 0 {
		return 0, nil
	}

	dates := daycount.CouponDates(sec.IssueDate, sec.FirstCoupon, sec.MaturityDate, sec.Frequency)
	if len(dates) == 0 {
		return 0, nil
	}

	last := sec.IssueDate
	next := dates[len(dates)-1]
	for _, d := range dates {
		if d.After(valuationDate) {
			next = d
			break
		}
		last = d
	}
	if !next.After(valuationDate) {
		return 0, nil
	}

	annualCoupon := sec.FaceValue * sec.CouponRate / 100.0
	return daycount.AccruedInterest(annualCoupon, freq, last, valuationDate, next, sec.DayCount)
}

// discountFactor is (1+r)^-t with annual compounding; flows at or before
// the valuation date discount at 1.
func discountFactor(rate, years float64) float64 {
	if years <= 0 {
		return 1
	}
	return math.Pow(1+rate, -years)
}

func sumStanding(s domain.StandingSpreads) float64 {
	var total float64
	for _, v := range []*float64{s.Z, s.G, s.CDS, s.Liquidity} {
		if v != nil {
			total += *v
		}
	}
	return total
}
