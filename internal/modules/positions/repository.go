// Package positions provides the position repository and run-target expansion.
package positions

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/fairvalue/internal/domain"
	"github.com/aristath/fairvalue/internal/utils"
)

// Repository handles position database operations
type Repository struct {
	masterDB *sql.DB
	log      zerolog.Logger
}

// NewRepository creates a new position repository
func NewRepository(masterDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		masterDB: masterDB,
		log:      log.With().Str("repo", "positions").Logger(),
	}
}

// Create inserts a position row.
func (r *Repository) Create(pos *domain.Position) error {
	var acquisition any
	if pos.AcquisitionDate != nil {
		acquisition = utils.FormatDate(*pos.AcquisitionDate)
	}
	if pos.Status == "" {
		pos.Status = domain.PositionActive
	}

	_, err := r.masterDB.Exec(`
		INSERT INTO positions (id, security_id, asset_class_id, quantity, book_value, cost_basis, acquisition_date, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.ID, pos.SecurityID, pos.AssetClassID, pos.Quantity,
		pos.BookValue, pos.CostBasis, acquisition, string(pos.Status))
	if err != nil {
		return fmt.Errorf("failed to insert position %s: %w", pos.ID, err)
	}
	return nil
}

// ExpandPortfolio returns the distinct security ids held by active positions
// in the portfolio's asset classes, in stable (insertion-id) order.
func (r *Repository) ExpandPortfolio(portfolioID string) ([]string, error) {
	rows, err := r.masterDB.Query(`
		SELECT DISTINCT p.security_id
		FROM positions p
		JOIN asset_classes ac ON ac.id = p.asset_class_id
		WHERE ac.portfolio_id = ? AND p.status = 'active'
		ORDER BY p.security_id`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to expand portfolio %s: %w", portfolioID, err)
	}
	defer rows.Close()

	return collectIDs(rows)
}

// ExpandFund returns the distinct security ids held by active positions in
// all portfolios of the fund.
func (r *Repository) ExpandFund(fundID string) ([]string, error) {
	rows, err := r.masterDB.Query(`
		SELECT DISTINCT p.security_id
		FROM positions p
		JOIN asset_classes ac ON ac.id = p.asset_class_id
		JOIN portfolios pf ON pf.id = ac.portfolio_id
		WHERE pf.fund_id = ? AND p.status = 'active'
		ORDER BY p.security_id`, fundID)
	if err != nil {
		return nil, fmt.Errorf("failed to expand fund %s: %w", fundID, err)
	}
	defer rows.Close()

	return collectIDs(rows)
}

// BookValue returns the total book value of active positions in a security,
// or nil when no active position carries one.
func (r *Repository) BookValue(securityID string) (*float64, error) {
	var total sql.NullFloat64
	err := r.masterDB.QueryRow(`
		SELECT SUM(book_value) FROM positions
		WHERE security_id = ? AND status = 'active' AND book_value IS NOT NULL`,
		securityID).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to sum book value for %s: %w", securityID, err)
	}
	if !total.Valid {
		return nil, nil
	}
	v := total.Float64
	return &v, nil
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan security id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security ids: %w", err)
	}
	return ids, nil
}
