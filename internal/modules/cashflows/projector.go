package cashflows

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/fairvalue/internal/domain"
)

// Projector builds the complete flow schedule of a security as of a
// valuation date: engine-generated flows merged with stored flows, stored
// authoritative on (date, type, amount) collisions.
type Projector struct {
	repo *Repository
	log  zerolog.Logger
}

// NewProjector creates a new cash flow projector. repo may be nil, in
// which case only generated flows are returned.
func NewProjector(repo *Repository, log zerolog.Logger) *Projector {
	return &Projector{
		repo: repo,
		log:  log.With().Str("service", "projector").Logger(),
	}
}

// Summary aggregates a projection for reporting.
type Summary struct {
	TotalFlows     int                 `json:"total_flows"`
	PastFlows      int                 `json:"past_flows"`
	FutureFlows    int                 `json:"future_flows"`
	DefaultedFlows int                 `json:"defaulted_flows"`
	RealizedFlows  int                 `json:"realized_flows"`
	FutureTotal    float64             `json:"future_total"`
	NextPayment    *domain.CashFlow    `json:"next_payment,omitempty"`
	NextCall       *domain.OptionEntry `json:"next_call,omitempty"`
	NextPut        *domain.OptionEntry `json:"next_put,omitempty"`
}

// Projection is the merged flow schedule of one security.
type Projection struct {
	SecurityID string
	Flows      []domain.CashFlow // all flows, ascending by date
	Past       []domain.CashFlow // flow date on or before the valuation date
	Future     []domain.CashFlow // flow date strictly after the valuation date
	Summary    Summary
}

// Project generates, merges, and splits the schedule for one security.
func (p *Projector) Project(sec *domain.Security, valuationDate time.Time) (*Projection, error) {
	generated, err := p.generate(sec)
	if err != nil {
		return nil, err
	}

	var stored []domain.CashFlow
	if p.repo != nil {
		if stored, err = p.repo.ListBySecurity(sec.ID); err != nil {
			return nil, err
		}
	}

	merged := mergeFlows(stored, generated)
	for i := range merged {
		if !merged[i].FlowDate.After(valuationDate) {
			merged[i].IsRealized = true
			if merged[i].PaymentStatus == domain.PaymentProjected && !merged[i].IsDefaulted {
				merged[i].PaymentStatus = domain.PaymentPaid
			}
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].FlowDate.Before(merged[j].FlowDate)
	})

	proj := &Projection{SecurityID: sec.ID, Flows: merged}
	for i := range merged {
		if merged[i].FlowDate.After(valuationDate) {
			proj.Future = append(proj.Future, merged[i])
		} else {
			proj.Past = append(proj.Past, merged[i])
		}
	}

	proj.Summary = summarize(sec, proj, valuationDate)
	return proj, nil
}

// generate dispatches to the family engine. Loan-classified holdings of
// bond-typed instruments route to the loan engine.
func (p *Projector) generate(sec *domain.Security) ([]domain.CashFlow, error) {
	instrumentType := sec.InstrumentType
	if sec.Classification != nil && *sec.Classification == domain.ClassificationLoan && instrumentType.IsBond() {
		instrumentType = domain.InstrumentTermLoan
	}

	switch instrumentType {
	case domain.InstrumentFixedBond:
		return generateFixedBond(sec), nil
	case domain.InstrumentZeroBond:
		return generateZeroBond(sec), nil
	case domain.InstrumentFloatingBond:
		return generateFloatingBond(sec), nil
	case domain.InstrumentInflationBond:
		return generateInflationBond(sec), nil
	case domain.InstrumentStepUpBond:
		return generateStepUpBond(sec), nil
	case domain.InstrumentConvertibleBond:
		return generateConvertibleBond(sec), nil
	case domain.InstrumentTermLoan, domain.InstrumentAmortizingLoan, domain.InstrumentRevolvingLoan:
		return generateLoan(sec), nil
	}
	return nil, &domain.ProjectionUnsupportedError{InstrumentType: sec.InstrumentType}
}

// mergeFlows combines stored and generated flows. A stored flow replaces
// any generated flow carrying the same (date, type, amount) key.
func mergeFlows(stored, generated []domain.CashFlow) []domain.CashFlow {
	if len(stored) == 0 {
		return generated
	}

	seen := make(map[string]struct{}, len(stored))
	merged := make([]domain.CashFlow, 0, len(stored)+len(generated))
	for i := range stored {
		seen[stored[i].Key()] = struct{}{}
		merged = append(merged, stored[i])
	}
	for i := range generated {
		if _, dup := seen[generated[i].Key()]; dup {
			continue
		}
		merged = append(merged, generated[i])
	}
	return merged
}

func summarize(sec *domain.Security, proj *Projection, valuationDate time.Time) Summary {
	s := Summary{
		TotalFlows:  len(proj.Flows),
		PastFlows:   len(proj.Past),
		FutureFlows: len(proj.Future),
	}
	for i := range proj.Flows {
		if proj.Flows[i].IsDefaulted {
			s.DefaultedFlows++
		}
		if proj.Flows[i].IsRealized {
			s.RealizedFlows++
		}
	}
	for i := range proj.Future {
		s.FutureTotal += proj.Future[i].Amount
	}
	if len(proj.Future) > 0 {
		s.NextPayment = &proj.Future[0]
	}

	// Embedded options are recorded, never exercised.
	for i := range sec.CallSchedule {
		if sec.CallSchedule[i].Date.After(valuationDate) {
			s.NextCall = &sec.CallSchedule[i]
			break
		}
	}
	for i := range sec.PutSchedule {
		if sec.PutSchedule[i].Date.After(valuationDate) {
			s.NextPut = &sec.PutSchedule[i]
			break
		}
	}

	return s
}
