package curvemath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenorToYears(t *testing.T) {
	cases := []struct {
		tenor string
		years float64
	}{
		{"30D", 30.0 / 365.0},
		{"2W", 2.0 / 52.0},
		{"1M", 1.0 / 12.0},
		{"6M", 0.5},
		{"1Y", 1.0},
		{"10Y", 10.0},
		{"30y", 30.0}, // case-insensitive
		{" 5Y ", 5.0}, // surrounding whitespace
	}
	for _, tc := range cases {
		years, err := TenorToYears(tc.tenor)
		require.NoError(t, err, tc.tenor)
		assert.InDelta(t, tc.years, years, 1e-12, tc.tenor)
	}
}

func TestTenorToYearsInvalid(t *testing.T) {
	for _, tenor := range []string{"", "Y", "10", "X5", "5Q", "-1Y", "1.5Y"} {
		_, err := TenorToYears(tenor)
		assert.Error(t, err, tenor)
	}
}

func TestIsValidTenor(t *testing.T) {
	assert.True(t, IsValidTenor("6M"))
	assert.False(t, IsValidTenor("default"))
}

func TestYearsToTenor(t *testing.T) {
	assert.Equal(t, "10Y", YearsToTenor(10.0))
	assert.Equal(t, "1Y", YearsToTenor(1.0))
	assert.Equal(t, "6M", YearsToTenor(0.5))
	assert.Equal(t, "7D", YearsToTenor(7.0/365.0))
	assert.Equal(t, "0D", YearsToTenor(0))
}

func TestTenorRoundTrip(t *testing.T) {
	for _, tenor := range []string{"1M", "6M", "1Y", "5Y", "30Y"} {
		years, err := TenorToYears(tenor)
		require.NoError(t, err)
		assert.Equal(t, tenor, YearsToTenor(years), tenor)
	}
}
