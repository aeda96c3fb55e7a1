// Package curvemath provides tenor parsing, curve interpolation, and
// forward-rate derivation for the valuation core.
package curvemath

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/aristath/fairvalue/internal/domain"
)

// TenorToYears converts a tenor string like "30D", "2W", "6M", "10Y" to a
// year fraction (D/365, W/52, M/12, Y/1). Parsing is case-insensitive.
func TenorToYears(tenor string) (float64, error) {
	t := strings.TrimSpace(strings.ToUpper(tenor))
	if len(t) < 2 {
		return 0, domain.NewValidationError("invalid tenor %q", tenor)
	}

	unit := t[len(t)-1]
	n, err := strconv.Atoi(t[:len(t)-1])
	if err != nil || n < 0 {
		return 0, domain.NewValidationError("invalid tenor %q", tenor)
	}

	switch unit {
	case 'D':
		return float64(n) / 365.0, nil
	case 'W':
		return float64(n) / 52.0, nil
	case 'M':
		return float64(n) / 12.0, nil
	case 'Y':
		return float64(n), nil
	default:
		return 0, domain.NewValidationError("invalid tenor %q", tenor)
	}
}

// IsValidTenor reports whether s parses as a tenor.
func IsValidTenor(s string) bool {
	_, err := TenorToYears(s)
	return err == nil
}

// YearsToTenor derives a human-readable tenor label from a year fraction.
// Whole-ish years render as NY, sub-year horizons as NM or ND.
func YearsToTenor(years float64) string {
	if years <= 0 {
		return "0D"
	}
	if years >= 1 {
		if whole := math.Round(years); math.Abs(years-whole) < 0.01 {
			return fmt.Sprintf("%dY", int(whole))
		}
	}
	months := math.Round(years * 12)
	if months >= 1 && math.Abs(years*12-months) < 0.1 {
		return fmt.Sprintf("%dM", int(months))
	}
	return fmt.Sprintf("%dD", int(math.Round(years*365)))
}
