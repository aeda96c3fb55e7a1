package daycount

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/fairvalue/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestYearFraction30360(t *testing.T) {
	// Full year
	yf, err := YearFraction(date(2024, 1, 15), date(2025, 1, 15), Conv30360Bond)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, yf, 1e-12)

	// Half year
	yf, err = YearFraction(date(2024, 1, 15), date(2024, 7, 15), Conv30360Bond)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, yf, 1e-12)

	// Month-end: Jan 31 counts as Jan 30 under the US variant
	yf, err = YearFraction(date(2024, 1, 31), date(2024, 2, 28), Conv30360Bond)
	require.NoError(t, err)
	assert.InDelta(t, 28.0/360.0, yf, 1e-12)
}

func TestYearFraction30360USvsEuropean(t *testing.T) {
	// d1=15 < 30, d2=31: US leaves d2 at 31, European caps at 30
	us, err := YearFraction(date(2024, 1, 15), date(2024, 3, 31), Conv30360Bond)
	require.NoError(t, err)
	eu, err := YearFraction(date(2024, 1, 15), date(2024, 3, 31), Conv30E360)
	require.NoError(t, err)

	assert.InDelta(t, 76.0/360.0, us, 1e-12)
	assert.InDelta(t, 75.0/360.0, eu, 1e-12)
}

func TestYearFractionActual(t *testing.T) {
	start, end := date(2024, 1, 1), date(2024, 12, 31) // 365 days, leap year

	yf, err := YearFraction(start, end, ConvAct360)
	require.NoError(t, err)
	assert.InDelta(t, 365.0/360.0, yf, 1e-12)

	yf, err = YearFraction(start, end, ConvAct365)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, yf, 1e-12)

	// ACT/365F is an alias
	alias, err := YearFraction(start, end, "ACT/365F")
	require.NoError(t, err)
	assert.Equal(t, yf, alias)
}

func TestYearFractionActActISDA(t *testing.T) {
	// Spans a leap-year boundary: 2023-07-01 .. 2024-07-01
	yf, err := YearFraction(date(2023, 7, 1), date(2024, 7, 1), ConvActActISDA)
	require.NoError(t, err)

	expected := 184.0/365.0 + 182.0/366.0
	assert.InDelta(t, expected, yf, 1e-12)
}

func TestYearFractionActActISDAAdditivity(t *testing.T) {
	a, b, c := date(2023, 3, 10), date(2024, 2, 2), date(2025, 9, 30)

	full, err := YearFraction(a, c, ConvActActISDA)
	require.NoError(t, err)
	first, err := YearFraction(a, b, ConvActActISDA)
	require.NoError(t, err)
	second, err := YearFraction(b, c, ConvActActISDA)
	require.NoError(t, err)

	assert.InDelta(t, full, first+second, 1e-9)
}

func TestYearFractionICMAUsesFrequency(t *testing.T) {
	start, end := date(2024, 1, 1), date(2024, 4, 1) // 91 days

	semi, err := YearFractionFreq(start, end, ConvActActICMA, 2)
	require.NoError(t, err)
	assert.InDelta(t, 91.0/(365.0/2.0), semi, 1e-12)

	annual, err := YearFractionFreq(start, end, ConvActActICMA, 1)
	require.NoError(t, err)
	assert.InDelta(t, 91.0/365.0, annual, 1e-12)
}

func TestYearFractionUnknownConvention(t *testing.T) {
	_, err := YearFraction(date(2024, 1, 1), date(2025, 1, 1), "ACT/WRONG")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestCouponDatesSemiAnnual(t *testing.T) {
	dates := CouponDates(date(2023, 1, 15), nil, date(2026, 1, 15), domain.FrequencySemi)

	require.Len(t, dates, 6)
	assert.Equal(t, date(2023, 7, 15), dates[0])
	assert.Equal(t, date(2024, 1, 15), dates[1])
	assert.Equal(t, date(2026, 1, 15), dates[5])
}

func TestCouponDatesFirstCouponOverride(t *testing.T) {
	first := date(2023, 6, 1)
	dates := CouponDates(date(2023, 1, 15), &first, date(2024, 6, 1), domain.FrequencySemi)

	require.Len(t, dates, 3)
	assert.Equal(t, date(2023, 6, 1), dates[0])
	assert.Equal(t, date(2023, 12, 1), dates[1])
	assert.Equal(t, date(2024, 6, 1), dates[2])
}

func TestCouponDatesStubClampedToMaturity(t *testing.T) {
	// Quarterly schedule whose natural step overshoots maturity
	dates := CouponDates(date(2024, 1, 10), nil, date(2024, 9, 1), domain.FrequencyQuarterly)

	require.Len(t, dates, 3)
	assert.Equal(t, date(2024, 4, 10), dates[0])
	assert.Equal(t, date(2024, 7, 10), dates[1])
	assert.Equal(t, date(2024, 9, 1), dates[2])

	for i := 1; i < len(dates); i++ {
		assert.True(t, dates[i].After(dates[i-1]))
	}
}

func TestCouponDatesZeroFrequency(t *testing.T) {
	assert.Nil(t, CouponDates(date(2024, 1, 1), nil, date(2030, 1, 1), domain.FrequencyZero))
}

func TestAdjustBusinessDay(t *testing.T) {
	saturday := date(2024, 6, 1)
	sunday := date(2024, 6, 2)
	monday := date(2024, 6, 3)

	assert.Equal(t, monday, AdjustBusinessDay(saturday))
	assert.Equal(t, monday, AdjustBusinessDay(sunday))
	assert.Equal(t, monday, AdjustBusinessDay(monday))
}

func TestAccruedInterestMidPeriod(t *testing.T) {
	// Semi-annual 5% on 100 face, exactly half way through the period
	last := date(2024, 1, 15)
	next := date(2024, 7, 15)
	settlement := date(2024, 4, 15) // 91 of 182 days

	accrued, err := AccruedInterest(5.0, 2, last, settlement, next, ConvAct365)
	require.NoError(t, err)
	assert.InDelta(t, 2.5*91.0/182.0, accrued, 1e-12)
}

func TestAccruedInterestBoundaries(t *testing.T) {
	last := date(2024, 1, 15)
	next := date(2024, 7, 15)

	// On the coupon date itself nothing has accrued
	accrued, err := AccruedInterest(5.0, 2, last, last, next, ConvAct365)
	require.NoError(t, err)
	assert.Zero(t, accrued)

	// Zero frequency accrues nothing
	accrued, err = AccruedInterest(5.0, 0, last, date(2024, 3, 1), next, ConvAct365)
	require.NoError(t, err)
	assert.Zero(t, accrued)

	// A full period accrues the full coupon
	accrued, err = AccruedInterest(5.0, 2, last, next, next, ConvAct365)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, accrued, 1e-12)
}
