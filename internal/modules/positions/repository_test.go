package positions

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

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

// seedHierarchy builds fund FUND-1 with two portfolios, one asset class
// each, and a security per position.
func seedHierarchy(t *testing.T, db *sql.DB) {
	t.Helper()
	stmts := []string{
		`INSERT INTO funds (id, name) VALUES ('FUND-1', 'Fund')`,
		`INSERT INTO portfolios (id, fund_id, name) VALUES ('PORT-1', 'FUND-1', 'Bonds')`,
		`INSERT INTO portfolios (id, fund_id, name) VALUES ('PORT-2', 'FUND-1', 'Loans')`,
		`INSERT INTO asset_classes (id, portfolio_id, name, classification) VALUES ('AC-1', 'PORT-1', 'IG', 'bond')`,
		`INSERT INTO asset_classes (id, portfolio_id, name, classification) VALUES ('AC-2', 'PORT-2', 'Direct', 'loan')`,
	}
	for _, id := range []string{"SEC-A", "SEC-B", "SEC-C"} {
		stmts = append(stmts, `INSERT INTO securities (id, name, instrument_type, issue_date, maturity_date, face_value)
			VALUES ('`+id+`', '`+id+`', 'bond_fixed', '2023-01-15', '2026-01-15', 100)`)
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
}

func TestExpandPortfolioListsActiveHoldings(t *testing.T) {
	db := newMasterDB(t)
	repo := NewRepository(db, zerolog.Nop())
	seedHierarchy(t, db)

	require.NoError(t, repo.Create(&domain.Position{ID: "P1", SecurityID: "SEC-B", AssetClassID: "AC-1"}))
	require.NoError(t, repo.Create(&domain.Position{ID: "P2", SecurityID: "SEC-A", AssetClassID: "AC-1"}))
	require.NoError(t, repo.Create(&domain.Position{
		ID: "P3", SecurityID: "SEC-C", AssetClassID: "AC-1", Status: domain.PositionSold,
	}))
	// Held in the other portfolio
	require.NoError(t, repo.Create(&domain.Position{ID: "P4", SecurityID: "SEC-C", AssetClassID: "AC-2"}))

	ids, err := repo.ExpandPortfolio("PORT-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"SEC-A", "SEC-B"}, ids) // sold excluded, sorted

	ids, err = repo.ExpandPortfolio("PORT-EMPTY")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestExpandFundCoversAllPortfolios(t *testing.T) {
	db := newMasterDB(t)
	repo := NewRepository(db, zerolog.Nop())
	seedHierarchy(t, db)

	require.NoError(t, repo.Create(&domain.Position{ID: "P1", SecurityID: "SEC-A", AssetClassID: "AC-1"}))
	require.NoError(t, repo.Create(&domain.Position{ID: "P2", SecurityID: "SEC-C", AssetClassID: "AC-2"}))
	// Same security held twice appears once
	require.NoError(t, repo.Create(&domain.Position{ID: "P3", SecurityID: "SEC-A", AssetClassID: "AC-2"}))

	ids, err := repo.ExpandFund("FUND-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"SEC-A", "SEC-C"}, ids)
}

func TestBookValueSumsActivePositions(t *testing.T) {
	db := newMasterDB(t)
	repo := NewRepository(db, zerolog.Nop())
	seedHierarchy(t, db)

	bv1, bv2, bv3 := 60.0, 35.0, 10.0
	require.NoError(t, repo.Create(&domain.Position{ID: "P1", SecurityID: "SEC-A", AssetClassID: "AC-1", BookValue: &bv1}))
	require.NoError(t, repo.Create(&domain.Position{ID: "P2", SecurityID: "SEC-A", AssetClassID: "AC-2", BookValue: &bv2}))
	require.NoError(t, repo.Create(&domain.Position{
		ID: "P3", SecurityID: "SEC-A", AssetClassID: "AC-1", BookValue: &bv3, Status: domain.PositionSold,
	}))

	total, err := repo.BookValue("SEC-A")
	require.NoError(t, err)
	require.NotNil(t, total)
	assert.InDelta(t, 95, *total, 1e-9)

	// No active booked positions
	missing, err := repo.BookValue("SEC-B")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
