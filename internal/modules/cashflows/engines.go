package cashflows

import (
	"time"

	"github.com/aristath/fairvalue/internal/daycount"
	"github.com/aristath/fairvalue/internal/domain"
)

// The engines below generate the contractual flow schedule of one
// instrument family. Dates come out ascending; amounts are in the
// security's own currency. Realized markers are set by the projector.

// generateFixedBond produces periodic coupons plus redemption at maturity.
// Zero coupon frequency delegates to the zero-coupon engine.
func generateFixedBond(sec *domain.Security) []domain.CashFlow {
	return generateCouponSchedule(sec, sec.CouponRate)
}

// FixedSchedule regenerates the security's contractual fixed-coupon
// schedule regardless of family, without realized or defaulted markers.
// Yield solving quotes off this synthetic schedule.
func FixedSchedule(sec *domain.Security) []domain.CashFlow {
	return generateFixedBond(sec)
}

// generateZeroBond produces the single redemption payment.
func generateZeroBond(sec *domain.Security) []domain.CashFlow {
	return []domain.CashFlow{{
		SecurityID:    sec.ID,
		FlowDate:      sec.MaturityDate,
		Amount:        sec.FaceValue,
		Type:          domain.FlowRedemption,
		PaymentStatus: domain.PaymentProjected,
	}}
}

// generateFloatingBond projects the last known reference-rate snapshot plus
// the contractual spread forward, clamped to the floor and cap.
func generateFloatingBond(sec *domain.Security) []domain.CashFlow {
	rate := sec.CouponRate
	if sec.ReferenceRateValue != nil {
		rate = *sec.ReferenceRateValue
		if sec.Spread != nil {
			rate += *sec.Spread
		}
	}
	if sec.RateFloor != nil && rate < *sec.RateFloor {
		rate = *sec.RateFloor
	}
	if sec.RateCap != nil && rate > *sec.RateCap {
		rate = *sec.RateCap
	}
	return generateCouponSchedule(sec, rate)
}

// generateInflationBond scales coupons and the redemption by the most
// recent index ratio on or before each flow date (1.0 when none known).
func generateInflationBond(sec *domain.Security) []domain.CashFlow {
	flows := generateCouponSchedule(sec, sec.CouponRate)
	for i := range flows {
		flows[i].Amount *= indexRatioAt(sec, flows[i].FlowDate)
	}
	return flows
}

// generateStepUpBond uses, for each coupon, the latest scheduled coupon
// rate effective on or before the payment date.
func generateStepUpBond(sec *domain.Security) []domain.CashFlow {
	freq := sec.Frequency.PeriodsPerYear()
	if freq == 0 {
		return generateZeroBond(sec)
	}

	dates := daycount.CouponDates(sec.IssueDate, sec.FirstCoupon, sec.MaturityDate, sec.Frequency)
	var flows []domain.CashFlow
	for _, d := range dates {
		rate := sec.CouponRate
		for _, step := range sec.StepSchedule {
			if !step.EffectiveDate.After(d) {
				rate = step.NewCoupon
			}
		}
		flows = append(flows, domain.CashFlow{
			SecurityID:    sec.ID,
			FlowDate:      d,
			Amount:        sec.FaceValue * rate / (100.0 * float64(freq)),
			Type:          domain.FlowCoupon,
			PaymentStatus: domain.PaymentProjected,
		})
	}

	return append(flows, domain.CashFlow{
		SecurityID:    sec.ID,
		FlowDate:      sec.MaturityDate,
		Amount:        sec.FaceValue,
		Type:          domain.FlowRedemption,
		PaymentStatus: domain.PaymentProjected,
	})
}

// generateConvertibleBond values the straight-debt floor: the fixed coupon
// schedule with conversion optionality left unexercised.
func generateConvertibleBond(sec *domain.Security) []domain.CashFlow {
	return generateCouponSchedule(sec, sec.CouponRate)
}

// generateLoan covers the term, amortizing, and revolving families, which
// share one repayment model. An explicit amortization schedule is
// authoritative: each row becomes a single combined flow, typed principal
// when the row repays principal and interest otherwise. Without a schedule
// the face amortizes in equal principal installments with a flat
// per-period interest charge.
func generateLoan(sec *domain.Security) []domain.CashFlow {
	if len(sec.AmortSchedule) > 0 {
		var flows []domain.CashFlow
		for _, entry := range sec.AmortSchedule {
			flowType := domain.FlowInterest
			if entry.Principal != 0 {
				flowType = domain.FlowPrincipal
			}
			flows = append(flows, domain.CashFlow{
				SecurityID:    sec.ID,
				FlowDate:      entry.Date,
				Amount:        entry.Principal + entry.Interest,
				Type:          flowType,
				PaymentStatus: domain.PaymentProjected,
			})
		}
		return flows
	}

	dates := daycount.CouponDates(sec.IssueDate, sec.FirstCoupon, sec.MaturityDate, sec.Frequency)
	if sec.Frequency.PeriodsPerYear() == 0 || len(dates) == 0 {
		dates = []time.Time{sec.MaturityDate}
	}

	n := float64(len(dates))
	principal := sec.FaceValue / n
	interest := sec.FaceValue * sec.CouponRate / (100.0 * n)
	var flows []domain.CashFlow
	for _, d := range dates {
		if interest > 0 {
			flows = append(flows, domain.CashFlow{
				SecurityID:    sec.ID,
				FlowDate:      d,
				Amount:        interest,
				Type:          domain.FlowInterest,
				PaymentStatus: domain.PaymentProjected,
			})
		}
		flows = append(flows, domain.CashFlow{
			SecurityID:    sec.ID,
			FlowDate:      d,
			Amount:        principal,
			Type:          domain.FlowPrincipal,
			PaymentStatus: domain.PaymentProjected,
		})
	}
	return flows
}

// generateCouponSchedule is the shared fixed-rate bond schedule: periodic
// coupons at the given annual rate (percent) plus redemption at maturity.
func generateCouponSchedule(sec *domain.Security, annualRate float64) []domain.CashFlow {
	freq := sec.Frequency.PeriodsPerYear()
	if freq == 0 {
		return generateZeroBond(sec)
	}

	var flows []domain.CashFlow
	if annualRate > 0 {
		coupon := sec.FaceValue * annualRate / (100.0 * float64(freq))
		for _, d := range daycount.CouponDates(sec.IssueDate, sec.FirstCoupon, sec.MaturityDate, sec.Frequency) {
			flows = append(flows, domain.CashFlow{
				SecurityID:    sec.ID,
				FlowDate:      d,
				Amount:        coupon,
				Type:          domain.FlowCoupon,
				PaymentStatus: domain.PaymentProjected,
			})
		}
	}

	return append(flows, domain.CashFlow{
		SecurityID:    sec.ID,
		FlowDate:      sec.MaturityDate,
		Amount:        sec.FaceValue,
		Type:          domain.FlowRedemption,
		PaymentStatus: domain.PaymentProjected,
	})
}

// indexRatioAt returns the most recent known index ratio on or before the
// date, 1.0 when none applies.
func indexRatioAt(sec *domain.Security, date time.Time) float64 {
	ratio := 1.0
	var best time.Time
	for iso, r := range sec.IndexRatios {
		d, err := time.Parse("2006-01-02", iso)
		if err != nil {
			continue
		}
		if d.After(date) {
			continue
		}
		if best.IsZero() || d.After(best) {
			best = d
			ratio = r
		}
	}
	return ratio
}
