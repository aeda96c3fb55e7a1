package valuation

import (
	"strings"

	"github.com/aristath/fairvalue/internal/domain"
)

// ClassifyIFRSLevel assigns the IFRS 13 fair-value hierarchy level. A
// level pinned on the discount spec always wins; otherwise the level is
// inferred from rating and sector.
func ClassifyIFRSLevel(sec *domain.Security, spec *domain.DiscountSpec) int {
	if spec != nil && spec.IFRSLevel != nil {
		return *spec.IFRSLevel
	}

	rating := normalizeRating(sec.Rating)
	sector := strings.ToLower(sec.Sector)

	// Government debt and top investment grade price off observable curves
	if sector == "government" || sector == "treasury" {
		return 1
	}
	switch rating {
	case "AAA", "AA", "A":
		return 1
	case "BBB", "BB":
		return 2
	}

	// Unrated generic bonds and loans still discount on market curves
	if rating == "" && (sec.InstrumentType == domain.InstrumentFixedBond ||
		sec.InstrumentType == domain.InstrumentZeroBond ||
		sec.InstrumentType == domain.InstrumentTermLoan ||
		sec.InstrumentType == domain.InstrumentAmortizingLoan) {
		return 2
	}

	return 3
}

// normalizeRating strips notches so AA- and AA+ both classify as AA.
func normalizeRating(rating string) string {
	r := strings.ToUpper(strings.TrimSpace(rating))
	r = strings.TrimRight(r, "+-")
	return r
}
