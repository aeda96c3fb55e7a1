package valuation

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/fairvalue/internal/domain"
	"github.com/aristath/fairvalue/internal/modules/cashflows"
)

func TestYieldToMaturityRecoversFlatCurveRate(t *testing.T) {
	sec := fixedBond()
	valuationDate := date(2024, 3, 10)
	proj := project(t, sec, valuationDate)

	// Price on a flat 4% curve, then solve the yield back out
	result, err := NewEngine(zerolog.Nop()).Price(sec, proj, flatComposite(0.04), domain.StandingSpreads{}, valuationDate)
	require.NoError(t, err)

	ytm := YieldToMaturity(sec, proj, result.PresentValue, valuationDate)
	require.NotNil(t, ytm)
	assert.InDelta(t, 0.04, *ytm, 1e-3)
}

func TestYieldToMaturityParBond(t *testing.T) {
	sec := fixedBond()
	valuationDate := sec.IssueDate
	proj := project(t, sec, valuationDate)

	// A bond priced at par yields roughly its coupon
	ytm := YieldToMaturity(sec, proj, 100.0, valuationDate)
	require.NotNil(t, ytm)
	assert.InDelta(t, 0.05, *ytm, 3e-3)
}

func TestYieldToMaturityDegenerateInputs(t *testing.T) {
	sec := fixedBond()
	valuationDate := date(2024, 3, 10)
	proj := project(t, sec, valuationDate)

	assert.Nil(t, YieldToMaturity(sec, proj, 0, valuationDate))
	assert.Nil(t, YieldToMaturity(sec, proj, -5, valuationDate))

	loan := fixedBond()
	loan.InstrumentType = domain.InstrumentTermLoan
	assert.Nil(t, YieldToMaturity(loan, proj, 100, valuationDate))

	empty := &cashflows.Projection{SecurityID: sec.ID}
	assert.Nil(t, YieldToMaturity(sec, empty, 100, valuationDate))
}

func TestYieldToMaturityQuotesContractualSchedule(t *testing.T) {
	sec := fixedBond()
	valuationDate := date(2024, 3, 10)
	proj := project(t, sec, valuationDate)

	result, err := NewEngine(zerolog.Nop()).Price(sec, proj, flatComposite(0.04), domain.StandingSpreads{}, valuationDate)
	require.NoError(t, err)

	// A defaulted coupon in the projection must not shift the quoted
	// yield: the solve regenerates the full contractual schedule.
	proj.Future[0].IsDefaulted = true
	ytm := YieldToMaturity(sec, proj, result.PresentValue, valuationDate)
	require.NotNil(t, ytm)
	assert.InDelta(t, 0.04, *ytm, 1e-3)
}

func TestYieldToMaturitySkipsDefaultedFlows(t *testing.T) {
	sec := fixedBond()
	valuationDate := date(2024, 3, 10)
	proj := project(t, sec, valuationDate)
	for i := range proj.Future {
		proj.Future[i].IsDefaulted = true
	}
	assert.Nil(t, YieldToMaturity(sec, proj, 100, valuationDate))
}
