// Package daycount provides year-fraction calculations under the six
// supported day-count conventions, coupon-date generation, and simple
// business-day adjustment.
package daycount

import (
	"time"

	"github.com/aristath/fairvalue/internal/domain"
)

// Supported convention names. ACT/365F is accepted as an alias for ACT/365.
const (
	Conv30360Bond  = "30/360"
	Conv30E360     = "30E/360"
	ConvAct360     = "ACT/360"
	ConvAct365     = "ACT/365"
	ConvActActISDA = "ACT/ACT_ISDA"
	ConvActActICMA = "ACT/ACT_ICMA"
)

// YearFraction computes the year fraction between two dates under the given
// convention. ACT/ACT ICMA is computed with an annual frequency; use
// YearFractionFreq when the coupon frequency matters.
func YearFraction(start, end time.Time, convention string) (float64, error) {
	return YearFractionFreq(start, end, convention, 1)
}

// YearFractionFreq computes the year fraction between two dates. The
// frequency parameter only affects ACT/ACT ICMA, whose denominator is the
// coupon period length 365/frequency.
func YearFractionFreq(start, end time.Time, convention string, frequency int) (float64, error) {
	switch convention {
	case Conv30360Bond:
		return thirty360(start, end, false), nil
	case Conv30E360:
		return thirty360(start, end, true), nil
	case ConvAct360:
		return float64(actualDays(start, end)) / 360.0, nil
	case ConvAct365, "ACT/365F":
		return float64(actualDays(start, end)) / 365.0, nil
	case ConvActActISDA:
		return actActISDA(start, end), nil
	case ConvActActICMA:
		if frequency <= 0 {
			frequency = 1
		}
		periodDays := 365.0 / float64(frequency)
		return float64(actualDays(start, end)) / periodDays, nil
	default:
		return 0, domain.NewValidationError("unknown day-count convention %q", convention)
	}
}

// actualDays returns the number of calendar days between two dates.
// Dates are truncated to midnight UTC before differencing.
func actualDays(start, end time.Time) int {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return int(e.Sub(s).Hours() / 24)
}

// thirty360 implements the 30/360 family. The US (Bond) variant only caps
// d2 at 30 when d1 was already capped; the European variant caps both
// unconditionally.
func thirty360(start, end time.Time, european bool) float64 {
	y1, m1, d1 := start.Year(), int(start.Month()), start.Day()
	y2, m2, d2 := end.Year(), int(end.Month()), end.Day()

	if d1 == 31 {
		d1 = 30
	}
	if d2 == 31 {
		if european || d1 >= 30 {
			d2 = 30
		}
	}

	days := 360*(y2-y1) + 30*(m2-m1) + (d2 - d1)
	return float64(days) / 360.0
}

// actActISDA splits the interval at each calendar-year boundary and sums
// days/(365 or 366) per sub-interval.
func actActISDA(start, end time.Time) float64 {
	if !start.Before(end) {
		return 0
	}

	var sum float64
	cursor := start
	for cursor.Year() < end.Year() {
		yearEnd := time.Date(cursor.Year()+1, 1, 1, 0, 0, 0, 0, time.UTC)
		sum += float64(actualDays(cursor, yearEnd)) / daysInYear(cursor.Year())
		cursor = yearEnd
	}
	sum += float64(actualDays(cursor, end)) / daysInYear(end.Year())
	return sum
}

func daysInYear(year int) float64 {
	if isLeapYear(year) {
		return 366
	}
	return 365
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// CouponDates generates the coupon dates for a security: stepping by the
// coupon interval from first_coupon_date (or issue + one interval), with
// the final date clamped to maturity. Zero frequency yields no dates.
func CouponDates(issue time.Time, firstCoupon *time.Time, maturity time.Time, freq domain.Frequency) []time.Time {
	months := freq.MonthsPerPeriod()
	if months == 0 {
		return nil
	}

	start := issue.AddDate(0, months, 0)
	if firstCoupon != nil {
		start = *firstCoupon
	}

	var dates []time.Time
	for d := start; ; d = d.AddDate(0, months, 0) {
		if !d.Before(maturity) {
			dates = append(dates, maturity)
			break
		}
		dates = append(dates, d)
	}
	return dates
}

// AdjustBusinessDay shifts weekend dates forward to the next Monday.
// Holiday calendars are out of scope.
func AdjustBusinessDay(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, 2)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

// AccruedInterest computes accrued interest at settlement for a
// coupon-bearing security whose current coupon period is [last, next]:
//
//	accrued = (annualCoupon / frequency) * yf(last, settlement) / yf(last, next)
//
// Returns 0 for zero frequency or settlement outside the period.
func AccruedInterest(annualCoupon float64, frequency int, last, settlement, next time.Time, convention string) (float64, error) {
	if frequency <= 0 || !settlement.After(last) || settlement.After(next) {
		return 0, nil
	}

	num, err := YearFractionFreq(last, settlement, convention, frequency)
	if err != nil {
		return 0, err
	}
	den, err := YearFractionFreq(last, next, convention, frequency)
	if err != nil {
		return 0, err
	}
	if den == 0 {
		return 0, nil
	}

	return (annualCoupon / float64(frequency)) * num / den, nil
}
