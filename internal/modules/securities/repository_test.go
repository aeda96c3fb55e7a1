package securities

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/fairvalue/internal/domain"
)

func newMasterDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?_fk=1")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile(filepath.Join("..", "..", "database", "schemas", "master_schema.sql"))
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)
	return db
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	repo := NewRepository(newMasterDB(t), zerolog.Nop())

	refRate := 4.0
	spread := 1.5
	floor := 2.0
	firstCoupon := date(2023, 7, 1)
	sec := &domain.Security{
		ID:             "SEC-FLOAT",
		Name:           "SOFR +150 2027",
		ExternalID:     "ISIN123",
		InstrumentType: domain.InstrumentFloatingBond,
		Currency:       "USD",
		DayCount:       "ACT/360",
		CouponRate:     4.0,
		Frequency:      domain.FrequencyQuarterly,
		IssueDate:      date(2023, 1, 15),
		FirstCoupon:    &firstCoupon,
		MaturityDate:   date(2027, 1, 15),
		FaceValue:      1000,
		Rating:         "BBB+",
		Sector:         "financial",

		ReferenceRate:      "SOFR",
		ReferenceRateValue: &refRate,
		Spread:             &spread,
		RateFloor:          &floor,
		ResetFrequency:     "quarterly",

		Callable: true,
		CallSchedule: []domain.OptionEntry{
			{Date: date(2025, 1, 15), Price: 101},
			{Date: date(2026, 1, 15), Price: 100.5},
		},
		StepSchedule: []domain.StepEntry{
			{EffectiveDate: date(2024, 1, 15), NewCoupon: 4.5},
			{EffectiveDate: date(2025, 1, 15), NewCoupon: 5.0},
		},
	}
	require.NoError(t, repo.Create(sec))

	got, err := repo.Get("SEC-FLOAT")
	require.NoError(t, err)

	assert.Equal(t, sec.Name, got.Name)
	assert.Equal(t, "ISIN123", got.ExternalID)
	assert.Equal(t, domain.InstrumentFloatingBond, got.InstrumentType)
	assert.Equal(t, "ACT/360", got.DayCount)
	assert.Equal(t, domain.FrequencyQuarterly, got.Frequency)
	assert.True(t, got.IssueDate.Equal(sec.IssueDate))
	require.NotNil(t, got.FirstCoupon)
	assert.True(t, got.FirstCoupon.Equal(firstCoupon))
	assert.Equal(t, "BBB+", got.Rating)

	require.NotNil(t, got.ReferenceRateValue)
	assert.InDelta(t, 4.0, *got.ReferenceRateValue, 1e-12)
	require.NotNil(t, got.Spread)
	assert.InDelta(t, 1.5, *got.Spread, 1e-12)
	require.NotNil(t, got.RateFloor)
	assert.Nil(t, got.RateCap)

	assert.True(t, got.Callable)
	require.Len(t, got.CallSchedule, 2)
	assert.True(t, got.CallSchedule[0].Date.Equal(date(2025, 1, 15)))
	assert.InDelta(t, 101, got.CallSchedule[0].Price, 1e-12)
	require.Len(t, got.StepSchedule, 2)
	assert.InDelta(t, 4.5, got.StepSchedule[0].NewCoupon, 1e-12)
	assert.Empty(t, got.AmortSchedule)
	assert.Nil(t, got.Classification)
}

func TestCreateRejectsInvalidSecurity(t *testing.T) {
	repo := NewRepository(newMasterDB(t), zerolog.Nop())

	sec := &domain.Security{
		ID:             "SEC-BAD",
		Name:           "bad",
		InstrumentType: domain.InstrumentFixedBond,
		IssueDate:      date(2024, 1, 15),
		MaturityDate:   date(2023, 1, 15), // precedes issue
		FaceValue:      100,
	}
	assert.True(t, domain.IsValidation(repo.Create(sec)))
}

func TestGetNotFound(t *testing.T) {
	repo := NewRepository(newMasterDB(t), zerolog.Nop())
	_, err := repo.Get("NOPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExists(t *testing.T) {
	db := newMasterDB(t)
	repo := NewRepository(db, zerolog.Nop())

	ok, err := repo.Exists("SEC-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Create(&domain.Security{
		ID:             "SEC-1",
		Name:           "plain",
		InstrumentType: domain.InstrumentFixedBond,
		Currency:       "USD",
		DayCount:       "30/360",
		Frequency:      domain.FrequencyAnnual,
		IssueDate:      date(2023, 1, 15),
		MaturityDate:   date(2026, 1, 15),
		FaceValue:      100,
	}))

	ok, err = repo.Exists("SEC-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetWithClassificationInheritsFromAssetClass(t *testing.T) {
	db := newMasterDB(t)
	repo := NewRepository(db, zerolog.Nop())

	require.NoError(t, repo.Create(&domain.Security{
		ID:             "SEC-1",
		Name:           "held bond",
		InstrumentType: domain.InstrumentFixedBond,
		Currency:       "USD",
		DayCount:       "30/360",
		Frequency:      domain.FrequencyAnnual,
		IssueDate:      date(2023, 1, 15),
		MaturityDate:   date(2026, 1, 15),
		FaceValue:      100,
	}))

	_, err := db.Exec(`INSERT INTO funds (id, name) VALUES ('F1', 'Fund')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO portfolios (id, fund_id, name) VALUES ('P1', 'F1', 'Port')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO asset_classes (id, portfolio_id, name, classification) VALUES ('AC1', 'P1', 'Loans', 'loan')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO positions (id, security_id, asset_class_id) VALUES ('POS1', 'SEC-1', 'AC1')`)
	require.NoError(t, err)

	got, err := repo.GetWithClassification("SEC-1")
	require.NoError(t, err)
	require.NotNil(t, got.Classification)
	assert.Equal(t, domain.ClassificationLoan, *got.Classification)

	// Sold positions do not contribute a classification
	_, err = db.Exec(`UPDATE positions SET status = 'sold' WHERE id = 'POS1'`)
	require.NoError(t, err)
	got, err = repo.GetWithClassification("SEC-1")
	require.NoError(t, err)
	assert.Nil(t, got.Classification)
}
