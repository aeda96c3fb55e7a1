// Package securities provides the security master repository.
package securities

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/fairvalue/internal/domain"
	"github.com/aristath/fairvalue/internal/utils"
)

// Repository handles security master database operations
type Repository struct {
	masterDB *sql.DB
	log      zerolog.Logger
}

// NewRepository creates a new security repository
func NewRepository(masterDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		masterDB: masterDB,
		log:      log.With().Str("repo", "securities").Logger(),
	}
}

// JSON row shapes for the schedule blobs. Dates are stored as ISO strings.
type stepRow struct {
	EffectiveDate string  `json:"effective_date"`
	NewCoupon     float64 `json:"new_coupon"`
}

type amortRow struct {
	Date      string  `json:"date"`
	Principal float64 `json:"principal"`
	Interest  float64 `json:"interest"`
}

type optionRow struct {
	Date  string  `json:"date"`
	Price float64 `json:"price"`
}

const securityColumns = `id, name, external_id, instrument_type, currency, day_count,
	coupon_rate, coupon_frequency, issue_date, first_coupon_date, maturity_date, face_value,
	rating, sector, reference_rate, reference_rate_value, spread, rate_floor, rate_cap,
	reset_frequency, inflation_index, index_base_value, index_lag_months, index_ratios,
	callable, call_schedule, puttable, put_schedule, step_schedule, amort_schedule`

// Get loads a security by id. Returns domain.ErrNotFound when absent.
func (r *Repository) Get(id string) (*domain.Security, error) {
	row := r.masterDB.QueryRow(`SELECT `+securityColumns+` FROM securities WHERE id = ?`, id)

	sec, err := scanSecurity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("security %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load security %s: %w", id, err)
	}
	return sec, nil
}

// GetWithClassification loads a security together with the classification
// inherited from the asset class of any active position holding it.
func (r *Repository) GetWithClassification(id string) (*domain.Security, error) {
	sec, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	var classification sql.NullString
	err = r.masterDB.QueryRow(`
		SELECT ac.classification
		FROM positions p
		JOIN asset_classes ac ON ac.id = p.asset_class_id
		WHERE p.security_id = ? AND p.status = 'active' AND ac.classification IS NOT NULL
		LIMIT 1`, id).Scan(&classification)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load classification for %s: %w", id, err)
	}
	if classification.Valid {
		c := domain.Classification(classification.String)
		sec.Classification = &c
	}

	return sec, nil
}

// Create inserts a new security after validating its invariants.
func (r *Repository) Create(sec *domain.Security) error {
	if err := sec.Validate(); err != nil {
		return err
	}

	stepJSON, err := marshalSteps(sec.StepSchedule)
	if err != nil {
		return err
	}
	amortJSON, err := marshalAmort(sec.AmortSchedule)
	if err != nil {
		return err
	}
	callJSON, err := marshalOptions(sec.CallSchedule)
	if err != nil {
		return err
	}
	putJSON, err := marshalOptions(sec.PutSchedule)
	if err != nil {
		return err
	}

	var ratiosJSON any
	if len(sec.IndexRatios) > 0 {
		b, err := json.Marshal(sec.IndexRatios)
		if err != nil {
			return fmt.Errorf("failed to marshal index ratios: %w", err)
		}
		ratiosJSON = string(b)
	}

	var firstCoupon any
	if sec.FirstCoupon != nil {
		firstCoupon = utils.FormatDate(*sec.FirstCoupon)
	}

	_, err = r.masterDB.Exec(`
		INSERT INTO securities (`+securityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sec.ID, sec.Name, nullIfEmpty(sec.ExternalID), string(sec.InstrumentType), sec.Currency, sec.DayCount,
		sec.CouponRate, string(sec.Frequency), utils.FormatDate(sec.IssueDate), firstCoupon,
		utils.FormatDate(sec.MaturityDate), sec.FaceValue,
		nullIfEmpty(sec.Rating), nullIfEmpty(sec.Sector),
		nullIfEmpty(sec.ReferenceRate), sec.ReferenceRateValue, sec.Spread, sec.RateFloor, sec.RateCap,
		nullIfEmpty(sec.ResetFrequency), nullIfEmpty(sec.InflationIndex), sec.IndexBaseValue,
		sec.IndexLagMonths, ratiosJSON,
		boolToInt(sec.Callable), callJSON, boolToInt(sec.Puttable), putJSON, stepJSON, amortJSON)
	if err != nil {
		return fmt.Errorf("failed to insert security %s: %w", sec.ID, err)
	}

	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSecurity(row rowScanner) (*domain.Security, error) {
	var (
		sec                                    domain.Security
		externalID, rating, sector             sql.NullString
		firstCoupon                            sql.NullString
		issueDate, maturityDate                string
		refRate, resetFreq, inflIndex          sql.NullString
		refRateValue, spread, floor, cap       sql.NullFloat64
		indexBase                              sql.NullFloat64
		indexLag                               sql.NullInt64
		ratiosJSON                             sql.NullString
		callable, puttable                     int
		callJSON, putJSON, stepJSON, amortJSON sql.NullString
		instrumentType, frequency              string
	)

	err := row.Scan(
		&sec.ID, &sec.Name, &externalID, &instrumentType, &sec.Currency, &sec.DayCount,
		&sec.CouponRate, &frequency, &issueDate, &firstCoupon, &maturityDate, &sec.FaceValue,
		&rating, &sector, &refRate, &refRateValue, &spread, &floor, &cap,
		&resetFreq, &inflIndex, &indexBase, &indexLag, &ratiosJSON,
		&callable, &callJSON, &puttable, &putJSON, &stepJSON, &amortJSON)
	if err != nil {
		return nil, err
	}

	sec.InstrumentType = domain.InstrumentType(instrumentType)
	sec.Frequency = domain.Frequency(frequency)
	sec.ExternalID = externalID.String
	sec.Rating = rating.String
	sec.Sector = sector.String
	sec.ReferenceRate = refRate.String
	sec.ResetFrequency = resetFreq.String
	sec.InflationIndex = inflIndex.String
	sec.Callable = callable != 0
	sec.Puttable = puttable != 0
	sec.IndexLagMonths = int(indexLag.Int64)

	if sec.IssueDate, err = utils.ParseDate(issueDate); err != nil {
		return nil, err
	}
	if sec.MaturityDate, err = utils.ParseDate(maturityDate); err != nil {
		return nil, err
	}
	if firstCoupon.Valid {
		fc, err := utils.ParseDate(firstCoupon.String)
		if err != nil {
			return nil, err
		}
		sec.FirstCoupon = &fc
	}

	sec.ReferenceRateValue = nullFloat(refRateValue)
	sec.Spread = nullFloat(spread)
	sec.RateFloor = nullFloat(floor)
	sec.RateCap = nullFloat(cap)
	sec.IndexBaseValue = nullFloat(indexBase)

	if ratiosJSON.Valid && ratiosJSON.String != "" {
		if err := json.Unmarshal([]byte(ratiosJSON.String), &sec.IndexRatios); err != nil {
			return nil, fmt.Errorf("failed to parse index ratios: %w", err)
		}
	}

	if sec.StepSchedule, err = unmarshalSteps(stepJSON); err != nil {
		return nil, err
	}
	if sec.AmortSchedule, err = unmarshalAmort(amortJSON); err != nil {
		return nil, err
	}
	if sec.CallSchedule, err = unmarshalOptions(callJSON); err != nil {
		return nil, err
	}
	if sec.PutSchedule, err = unmarshalOptions(putJSON); err != nil {
		return nil, err
	}

	return &sec, nil
}

func marshalSteps(steps []domain.StepEntry) (any, error) {
	if len(steps) == 0 {
		return nil, nil
	}
	rows := make([]stepRow, len(steps))
	for i, s := range steps {
		rows[i] = stepRow{EffectiveDate: utils.FormatDate(s.EffectiveDate), NewCoupon: s.NewCoupon}
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step schedule: %w", err)
	}
	return string(b), nil
}

func unmarshalSteps(raw sql.NullString) ([]domain.StepEntry, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var rows []stepRow
	if err := json.Unmarshal([]byte(raw.String), &rows); err != nil {
		return nil, fmt.Errorf("failed to parse step schedule: %w", err)
	}
	steps := make([]domain.StepEntry, len(rows))
	for i, row := range rows {
		d, err := utils.ParseDate(row.EffectiveDate)
		if err != nil {
			return nil, err
		}
		steps[i] = domain.StepEntry{EffectiveDate: d, NewCoupon: row.NewCoupon}
	}
	return steps, nil
}

func marshalAmort(entries []domain.AmortEntry) (any, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	rows := make([]amortRow, len(entries))
	for i, e := range entries {
		rows[i] = amortRow{Date: utils.FormatDate(e.Date), Principal: e.Principal, Interest: e.Interest}
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal amortization schedule: %w", err)
	}
	return string(b), nil
}

func unmarshalAmort(raw sql.NullString) ([]domain.AmortEntry, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var rows []amortRow
	if err := json.Unmarshal([]byte(raw.String), &rows); err != nil {
		return nil, fmt.Errorf("failed to parse amortization schedule: %w", err)
	}
	entries := make([]domain.AmortEntry, len(rows))
	for i, row := range rows {
		d, err := utils.ParseDate(row.Date)
		if err != nil {
			return nil, err
		}
		entries[i] = domain.AmortEntry{Date: d, Principal: row.Principal, Interest: row.Interest}
	}
	return entries, nil
}

func marshalOptions(entries []domain.OptionEntry) (any, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	rows := make([]optionRow, len(entries))
	for i, e := range entries {
		rows[i] = optionRow{Date: utils.FormatDate(e.Date), Price: e.Price}
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal option schedule: %w", err)
	}
	return string(b), nil
}

func unmarshalOptions(raw sql.NullString) ([]domain.OptionEntry, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var rows []optionRow
	if err := json.Unmarshal([]byte(raw.String), &rows); err != nil {
		return nil, fmt.Errorf("failed to parse option schedule: %w", err)
	}
	entries := make([]domain.OptionEntry, len(rows))
	for i, row := range rows {
		d, err := utils.ParseDate(row.Date)
		if err != nil {
			return nil, err
		}
		entries[i] = domain.OptionEntry{Date: d, Price: row.Price}
	}
	return entries, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Exists reports whether a security id is present in the master.
func (r *Repository) Exists(id string) (bool, error) {
	var one int
	err := r.masterDB.QueryRow(`SELECT 1 FROM securities WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check security %s: %w", id, err)
	}
	return true, nil
}
