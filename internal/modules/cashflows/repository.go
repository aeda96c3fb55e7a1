// Package cashflows generates and stores instrument cash-flow schedules.
package cashflows

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/fairvalue/internal/domain"
	"github.com/aristath/fairvalue/internal/utils"
)

// Repository handles persistence of stored (realized/defaulted) cash flows
// in master.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new cash flow repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "cashflows").Logger(),
	}
}

// ListBySecurity returns a security's stored flows ordered by date.
func (r *Repository) ListBySecurity(securityID string) ([]domain.CashFlow, error) {
	rows, err := r.db.Query(`
		SELECT id, security_id, flow_date, amount, flow_type,
		       is_realized, is_defaulted, default_date, recovery_amount, payment_status
		FROM cash_flows
		WHERE security_id = ?
		ORDER BY flow_date ASC, id ASC`, securityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cash flows: %w", err)
	}
	defer rows.Close()

	var flows []domain.CashFlow
	for rows.Next() {
		var (
			f           domain.CashFlow
			flowDate    string
			realized    int
			defaulted   int
			defaultDate sql.NullString
			recovery    sql.NullFloat64
		)
		if err := rows.Scan(&f.ID, &f.SecurityID, &flowDate, &f.Amount, &f.Type,
			&realized, &defaulted, &defaultDate, &recovery, &f.PaymentStatus); err != nil {
			return nil, fmt.Errorf("failed to scan cash flow: %w", err)
		}
		if f.FlowDate, err = utils.ParseDate(flowDate); err != nil {
			return nil, err
		}
		f.IsRealized = realized != 0
		f.IsDefaulted = defaulted != 0
		if defaultDate.Valid {
			d, err := utils.ParseDate(defaultDate.String)
			if err != nil {
				return nil, err
			}
			f.DefaultDate = &d
		}
		if recovery.Valid {
			v := recovery.Float64
			f.RecoveryAmount = &v
		}
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cash flows: %w", err)
	}

	return flows, nil
}

// Create inserts one stored flow.
func (r *Repository) Create(f *domain.CashFlow) error {
	var defaultDate any
	if f.DefaultDate != nil {
		defaultDate = utils.FormatDate(*f.DefaultDate)
	}
	status := f.PaymentStatus
	if status == "" {
		status = domain.PaymentProjected
	}

	result, err := r.db.Exec(`
		INSERT INTO cash_flows
			(security_id, flow_date, amount, flow_type,
			 is_realized, is_defaulted, default_date, recovery_amount, payment_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.SecurityID, utils.FormatDate(f.FlowDate), f.Amount, string(f.Type),
		boolToInt(f.IsRealized), boolToInt(f.IsDefaulted), defaultDate, f.RecoveryAmount, string(status))
	if err != nil {
		return fmt.Errorf("failed to create cash flow: %w", err)
	}
	f.ID, _ = result.LastInsertId()
	return nil
}

// MarkDefaulted flags a stored flow as defaulted with an optional recovery.
func (r *Repository) MarkDefaulted(id int64, defaultDate time.Time, recovery *float64) error {
	_, err := r.db.Exec(`
		UPDATE cash_flows
		SET is_defaulted = 1, default_date = ?, recovery_amount = ?, payment_status = 'defaulted'
		WHERE id = ?`,
		utils.FormatDate(defaultDate), recovery, id)
	if err != nil {
		return fmt.Errorf("failed to mark cash flow defaulted: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
