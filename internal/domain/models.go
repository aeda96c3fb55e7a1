// Package domain provides core domain models and types for the valuation core.
package domain

import (
	"fmt"
	"math"
	"time"
)

// Currency represents a currency code
type Currency = string

// InstrumentType identifies one of the nine supported instrument families.
// Types prefixed with "bond_" are coupon-bearing for accrued-interest purposes.
type InstrumentType string

const (
	InstrumentFixedBond       InstrumentType = "bond_fixed"
	InstrumentZeroBond        InstrumentType = "bond_zero"
	InstrumentFloatingBond    InstrumentType = "bond_floating"
	InstrumentInflationBond   InstrumentType = "bond_inflation_linked"
	InstrumentStepUpBond      InstrumentType = "bond_step_up"
	InstrumentConvertibleBond InstrumentType = "bond_convertible"
	InstrumentTermLoan        InstrumentType = "loan_term"
	InstrumentAmortizingLoan  InstrumentType = "loan_amortizing"
	InstrumentRevolvingLoan   InstrumentType = "loan_revolving"
)

// IsBond reports whether the instrument family is coupon-bearing bond debt.
// Accrued interest is computed for bonds only.
func (t InstrumentType) IsBond() bool {
	return len(t) >= 5 && t[:5] == "bond_"
}

// IsLoan reports whether the instrument family is loan debt.
func (t InstrumentType) IsLoan() bool {
	return len(t) >= 5 && t[:5] == "loan_"
}

// Valid reports whether the instrument type is one of the nine families.
func (t InstrumentType) Valid() bool {
	switch t {
	case InstrumentFixedBond, InstrumentZeroBond, InstrumentFloatingBond,
		InstrumentInflationBond, InstrumentStepUpBond, InstrumentConvertibleBond,
		InstrumentTermLoan, InstrumentAmortizingLoan, InstrumentRevolvingLoan:
		return true
	}
	return false
}

// Classification is the coarse debt class inherited from the owning asset class.
type Classification string

const (
	ClassificationBond Classification = "bond"
	ClassificationLoan Classification = "loan"
)

// Frequency represents a coupon payment frequency
type Frequency string

const (
	FrequencyAnnual    Frequency = "annual"
	FrequencySemi      Frequency = "semi_annual"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyZero      Frequency = "zero"
)

// PeriodsPerYear returns the number of coupon periods per year (0 for zero).
func (f Frequency) PeriodsPerYear() int {
	switch f {
	case FrequencyAnnual:
		return 1
	case FrequencySemi:
		return 2
	case FrequencyQuarterly:
		return 4
	case FrequencyMonthly:
		return 12
	}
	return 0
}

// MonthsPerPeriod returns the length of one coupon period in months (0 for zero).
func (f Frequency) MonthsPerPeriod() int {
	switch f {
	case FrequencyAnnual:
		return 12
	case FrequencySemi:
		return 6
	case FrequencyQuarterly:
		return 3
	case FrequencyMonthly:
		return 1
	}
	return 0
}

// StepEntry is one row of a step-up coupon schedule.
type StepEntry struct {
	EffectiveDate time.Time `json:"effective_date"`
	NewCoupon     float64   `json:"new_coupon"`
}

// AmortEntry is one row of an amortization schedule.
type AmortEntry struct {
	Date      time.Time `json:"date"`
	Principal float64   `json:"principal"`
	Interest  float64   `json:"interest"`
}

// OptionEntry is one row of a call or put schedule.
type OptionEntry struct {
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
}

// Security is the immutable (within a run) description of one instrument.
type Security struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	ExternalID     string         `json:"external_id,omitempty"`
	InstrumentType InstrumentType `json:"instrument_type"`
	Currency       Currency       `json:"currency"`
	DayCount       string         `json:"day_count"`
	CouponRate     float64        `json:"coupon_rate"` // percent, e.g. 5.25 = 5.25%
	Frequency      Frequency      `json:"coupon_frequency"`
	IssueDate      time.Time      `json:"issue_date"`
	FirstCoupon    *time.Time     `json:"first_coupon_date,omitempty"`
	MaturityDate   time.Time      `json:"maturity_date"`
	FaceValue      float64        `json:"face_value"`
	Rating         string         `json:"rating,omitempty"`
	Sector         string         `json:"sector,omitempty"`

	// Floating-rate fields
	ReferenceRate      string   `json:"reference_rate,omitempty"`
	ReferenceRateValue *float64 `json:"reference_rate_value,omitempty"` // percent snapshot
	Spread             *float64 `json:"spread,omitempty"`               // percent over reference
	RateFloor          *float64 `json:"rate_floor,omitempty"`
	RateCap            *float64 `json:"rate_cap,omitempty"`
	ResetFrequency     string   `json:"reset_frequency,omitempty"`

	// Inflation-linked fields
	InflationIndex string             `json:"inflation_index,omitempty"`
	IndexBaseValue *float64           `json:"index_base_value,omitempty"`
	IndexLagMonths int                `json:"index_lag_months,omitempty"`
	IndexRatios    map[string]float64 `json:"index_ratios,omitempty"` // ISO date -> ratio

	// Optionality and family-specific schedules
	Callable      bool          `json:"callable"`
	CallSchedule  []OptionEntry `json:"call_schedule,omitempty"`
	Puttable      bool          `json:"puttable"`
	PutSchedule   []OptionEntry `json:"put_schedule,omitempty"`
	StepSchedule  []StepEntry   `json:"step_schedule,omitempty"`
	AmortSchedule []AmortEntry  `json:"amort_schedule,omitempty"`

	// Classification inherited from the owning asset class; nil when unheld.
	Classification *Classification `json:"classification,omitempty"`
}

// amortTolerance is the allowed gap between the amortization principal sum
// and the face value, in currency units.
const amortTolerance = 1.0

// Validate enforces the security invariants. It returns a ValidationError
// describing the first violation found.
func (s *Security) Validate() error {
	if !s.InstrumentType.Valid() {
		return NewValidationError("unknown instrument type %q", s.InstrumentType)
	}
	if s.FaceValue <= 0 {
		return NewValidationError("face value must be positive, got %v", s.FaceValue)
	}
	if s.MaturityDate.Before(s.IssueDate) {
		return NewValidationError("maturity %s precedes issue date %s",
			s.MaturityDate.Format("2006-01-02"), s.IssueDate.Format("2006-01-02"))
	}
	if s.Frequency != FrequencyZero && s.CouponRate < 0 {
		return NewValidationError("coupon rate must be non-negative, got %v", s.CouponRate)
	}

	for i := 1; i < len(s.StepSchedule); i++ {
		if !s.StepSchedule[i-1].EffectiveDate.Before(s.StepSchedule[i].EffectiveDate) {
			return NewValidationError("step schedule not strictly increasing at entry %d", i)
		}
	}
	if n := len(s.StepSchedule); n > 0 && s.StepSchedule[n-1].EffectiveDate.After(s.MaturityDate) {
		return NewValidationError("step schedule extends past maturity")
	}

	if len(s.AmortSchedule) > 0 {
		var sum float64
		for i, e := range s.AmortSchedule {
			if i > 0 && e.Date.Before(s.AmortSchedule[i-1].Date) {
				return NewValidationError("amortization schedule not sorted at entry %d", i)
			}
			sum += e.Principal
		}
		if math.Abs(sum-s.FaceValue) > amortTolerance {
			return NewValidationError("amortization principal sum %v differs from face value %v", sum, s.FaceValue)
		}
	}

	for i := 1; i < len(s.CallSchedule); i++ {
		if s.CallSchedule[i].Date.Before(s.CallSchedule[i-1].Date) {
			return NewValidationError("call schedule not sorted at entry %d", i)
		}
	}
	for i := 1; i < len(s.PutSchedule); i++ {
		if s.PutSchedule[i].Date.Before(s.PutSchedule[i-1].Date) {
			return NewValidationError("put schedule not sorted at entry %d", i)
		}
	}

	return nil
}

// PositionStatus represents the lifecycle state of a position
type PositionStatus string

const (
	PositionActive      PositionStatus = "active"
	PositionSold        PositionStatus = "sold"
	PositionDefaulted   PositionStatus = "defaulted"
	PositionTransferred PositionStatus = "transferred"
	PositionMatured     PositionStatus = "matured"
)

// Position links a security to an asset class. Only active positions
// participate in portfolio and fund expansion.
type Position struct {
	ID              string         `json:"id"`
	SecurityID      string         `json:"security_id"`
	AssetClassID    string         `json:"asset_class_id"`
	Quantity        float64        `json:"quantity"`
	BookValue       *float64       `json:"book_value,omitempty"`
	CostBasis       *float64       `json:"cost_basis,omitempty"`
	AcquisitionDate *time.Time     `json:"acquisition_date,omitempty"`
	Status          PositionStatus `json:"status"`
}

// FlowType classifies a projected or realized cash flow
type FlowType string

const (
	FlowCoupon     FlowType = "coupon"
	FlowPrincipal  FlowType = "principal"
	FlowInterest   FlowType = "interest"
	FlowRedemption FlowType = "redemption"
)

// PaymentStatus is the settlement state of a cash flow
type PaymentStatus string

const (
	PaymentProjected PaymentStatus = "projected"
	PaymentPaid      PaymentStatus = "paid"
	PaymentDefaulted PaymentStatus = "defaulted"
	PaymentRecovered PaymentStatus = "recovered"
)

// CashFlow is a single projected or realized payment.
type CashFlow struct {
	ID             int64         `json:"id,omitempty"`
	SecurityID     string        `json:"security_id,omitempty"`
	FlowDate       time.Time     `json:"flow_date"`
	Amount         float64       `json:"amount"`
	Type           FlowType      `json:"type"`
	IsRealized     bool          `json:"is_realized"`
	IsDefaulted    bool          `json:"is_defaulted"`
	DefaultDate    *time.Time    `json:"default_date,omitempty"`
	RecoveryAmount *float64      `json:"recovery_amount,omitempty"`
	PaymentStatus  PaymentStatus `json:"payment_status"`
}

// Key returns the merge identity of a flow. Stored flows are authoritative
// over generated flows with the same key.
func (c *CashFlow) Key() string {
	return fmt.Sprintf("%s|%s|%.6f", c.FlowDate.Format("2006-01-02"), c.Type, c.Amount)
}

// StandingSpreads are per-security standing spread adjustments in basis points.
type StandingSpreads struct {
	Z         *float64 `json:"z,omitempty"`
	G         *float64 `json:"g,omitempty"`
	CDS       *float64 `json:"cds,omitempty"`
	Liquidity *float64 `json:"liquidity,omitempty"`
}

// DiscountSpec is the per-security discounting configuration.
type DiscountSpec struct {
	ID             string             `json:"id"`
	SecurityID     string             `json:"security_id"`
	BenchmarkCurve string             `json:"benchmark_curve_name"`
	SpreadCurve    *string            `json:"spread_curve_name,omitempty"`
	ManualSpreads  map[string]float64 `json:"manual_spreads,omitempty"` // tenor (or "default") -> bps
	Standing       StandingSpreads    `json:"standing_spreads"`
	IFRSLevel      *int               `json:"ifrs_level,omitempty"`
}

// CurveSource identifies where a cached curve came from
type CurveSource string

const (
	CurveSourceManual    CurveSource = "manual"
	CurveSourceFRED      CurveSource = "external-fred"
	CurveSourceBloomberg CurveSource = "external-bloomberg"
	CurveSourceIdentity  CurveSource = "identity"
)

// CurveType classifies a yield curve
type CurveType string

const (
	CurveZero    CurveType = "zero"
	CurvePar     CurveType = "par"
	CurveForward CurveType = "forward"
	CurveSpread  CurveType = "spread"
)

// CurvePoint is one node of a curve. At least one of TenorLabel,
// YearFraction, or MaturityDate is present; the rest are derived on load.
type CurvePoint struct {
	TenorLabel   string     `json:"tenor_label,omitempty"`
	Rate         float64    `json:"rate"` // decimal, 0.0525 = 5.25%
	YearFraction *float64   `json:"year_fraction,omitempty"`
	MaturityDate *time.Time `json:"maturity_date,omitempty"`
}

// Curve is a named yield curve on a date with its ordered points.
type Curve struct {
	ID        int64        `json:"id,omitempty"`
	Name      string       `json:"name"`
	CurveDate time.Time    `json:"curve_date"`
	Source    CurveSource  `json:"source"`
	Currency  Currency     `json:"currency"`
	Type      CurveType    `json:"curve_type"`
	Points    []CurvePoint `json:"points"`
	FetchedAt time.Time    `json:"-"`
}

// FxRate is a resolved exchange rate.
type FxRate struct {
	From     Currency  `json:"from_currency"`
	To       Currency  `json:"to_currency"`
	RateDate time.Time `json:"rate_date"`
	Rate     float64   `json:"rate"`
	Source   string    `json:"source"`
}

// RunType is the expansion scope of a valuation run
type RunType string

const (
	RunTypeSecurity  RunType = "security"
	RunTypePortfolio RunType = "portfolio"
	RunTypeFund      RunType = "fund"
)

// RunStatus is the lifecycle state of a valuation run
type RunStatus string

const (
	RunPending             RunStatus = "pending"
	RunRunning             RunStatus = "running"
	RunCompleted           RunStatus = "completed"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	RunFailed              RunStatus = "failed"
)

// ValuationRun tracks one valuation execution. Mutated only by the
// orchestrator; terminal once completed or failed.
type ValuationRun struct {
	ID                  string     `json:"run_id"`
	RunType             RunType    `json:"run_type"`
	TargetID            string     `json:"target_id"`
	ValuationDate       time.Time  `json:"valuation_date"`
	Status              RunStatus  `json:"status"`
	Progress            float64    `json:"progress"` // 0..100
	TotalSecurities     int        `json:"total_securities"`
	CompletedSecurities int        `json:"completed_securities"`
	StartedAt           time.Time  `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	CreatedBy           string     `json:"created_by,omitempty"`
}

// PriceResult is the fair-value outcome for one security in one run.
type PriceResult struct {
	RunID              string    `json:"run_id"`
	SecurityID         string    `json:"security_id"`
	ValuationDate      time.Time `json:"valuation_date"`
	BookValue          *float64  `json:"book_value,omitempty"`
	PresentValue       float64   `json:"present_value"`
	AccruedInterest    float64   `json:"accrued_interest"`
	FairValue          float64   `json:"fair_value"`
	UnrealizedGainLoss float64   `json:"unrealized_gain_loss"`
	Currency           Currency  `json:"currency"`
	IFRSLevel          *int      `json:"ifrs_level,omitempty"`
}

// StepType classifies a calculation step
type StepType string

const (
	StepDiscount   StepType = "discount"
	StepAdjustment StepType = "adjustment"
)

// DiscountStepData is the audit payload of one discounting step.
type DiscountStepData struct {
	FlowDate       string  `json:"flow_date"`
	Tenor          string  `json:"tenor"`
	Years          float64 `json:"years"`
	CashFlow       float64 `json:"cash_flow"`
	BenchmarkRate  float64 `json:"benchmark_rate"`
	SpreadRate     float64 `json:"spread_rate"`
	DiscountRate   float64 `json:"discount_rate"`
	DiscountFactor float64 `json:"discount_factor"`
	PresentValue   float64 `json:"present_value"`
}

// CalculationStep is one ordered entry of a security's valuation audit record.
type CalculationStep struct {
	RunID      string   `json:"run_id"`
	SecurityID string   `json:"security_id"`
	StepOrder  int      `json:"step_order"` // 1-based, strictly increasing
	StepType   StepType `json:"step_type"`
	StepData   any      `json:"step_data"`
}

// AuditEntry is one audit log row.
type AuditEntry struct {
	CreatedAt  time.Time      `json:"created_at"`
	RunID      string         `json:"run_id,omitempty"`
	SecurityID string         `json:"security_id,omitempty"`
	Action     string         `json:"action"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedBy  string         `json:"created_by,omitempty"`
}
