// Package runs persists valuation runs, price results, calculation steps,
// and the audit trail.
package runs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/fairvalue/internal/database"
	"github.com/aristath/fairvalue/internal/domain"
	"github.com/aristath/fairvalue/internal/utils"
)

// Repository handles persistence in runs.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new runs repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "runs").Logger(),
	}
}

// CreateRun inserts a new run record.
func (r *Repository) CreateRun(run *domain.ValuationRun) error {
	_, err := r.db.Exec(`
		INSERT INTO valuation_runs
			(id, run_type, target_id, valuation_date, status, progress,
			 total_securities, completed_securities, started_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.RunType), run.TargetID, utils.FormatDate(run.ValuationDate),
		string(run.Status), run.Progress, run.TotalSecurities, run.CompletedSecurities,
		run.StartedAt.Unix(), nullIfEmpty(run.CreatedBy))
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun returns one run by id.
func (r *Repository) GetRun(runID string) (*domain.ValuationRun, error) {
	var (
		run         domain.ValuationRun
		runType     string
		status      string
		valDate     string
		startedAt   int64
		completedAt sql.NullInt64
		errMsg      sql.NullString
		createdBy   sql.NullString
	)
	err := r.db.QueryRow(`
		SELECT id, run_type, target_id, valuation_date, status, progress,
		       total_securities, completed_securities, started_at, completed_at,
		       error_message, created_by
		FROM valuation_runs WHERE id = ?`, runID).Scan(
		&run.ID, &runType, &run.TargetID, &valDate, &status, &run.Progress,
		&run.TotalSecurities, &run.CompletedSecurities, &startedAt, &completedAt,
		&errMsg, &createdBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.RunType = domain.RunType(runType)
	run.Status = domain.RunStatus(status)
	if run.ValuationDate, err = utils.ParseDate(valDate); err != nil {
		return nil, err
	}
	run.StartedAt = time.Unix(startedAt, 0).UTC()
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0).UTC()
		run.CompletedAt = &t
	}
	run.ErrorMessage = errMsg.String
	run.CreatedBy = createdBy.String

	return &run, nil
}

// UpdateProgress records completion counts and the derived percentage.
func (r *Repository) UpdateProgress(runID string, completed, total int) error {
	progress := 0.0
	if total > 0 {
		progress = float64(int(100.0*float64(completed)/float64(total) + 0.5))
	}
	_, err := r.db.Exec(`
		UPDATE valuation_runs
		SET completed_securities = ?, total_securities = ?, progress = ?
		WHERE id = ?`,
		completed, total, progress, runID)
	if err != nil {
		return fmt.Errorf("failed to update run progress: %w", err)
	}
	return nil
}

// MarkRunning flips a pending run to running and sets the target count.
func (r *Repository) MarkRunning(runID string, total int) error {
	_, err := r.db.Exec(`
		UPDATE valuation_runs SET status = ?, total_securities = ? WHERE id = ?`,
		string(domain.RunRunning), total, runID)
	if err != nil {
		return fmt.Errorf("failed to mark run running: %w", err)
	}
	return nil
}

// FinishRun sets the terminal status. The error message is kept for
// failed and partially-failed runs.
func (r *Repository) FinishRun(runID string, status domain.RunStatus, errorMessage string) error {
	_, err := r.db.Exec(`
		UPDATE valuation_runs
		SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ?`,
		string(status), time.Now().Unix(), nullIfEmpty(errorMessage), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// SaveResult writes the price result and calculation steps of one security
// in a single transaction, plus an audit row. A replayed security replaces
// its previous rows.
func (r *Repository) SaveResult(result *domain.PriceResult, steps []domain.CalculationStep, audit *domain.AuditEntry) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO price_results
				(run_id, security_id, valuation_date, book_value, present_value,
				 accrued_interest, fair_value, unrealized_gain_loss, currency, ifrs_level)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (run_id, security_id) DO UPDATE SET
				book_value = excluded.book_value,
				present_value = excluded.present_value,
				accrued_interest = excluded.accrued_interest,
				fair_value = excluded.fair_value,
				unrealized_gain_loss = excluded.unrealized_gain_loss,
				currency = excluded.currency,
				ifrs_level = excluded.ifrs_level`,
			result.RunID, result.SecurityID, utils.FormatDate(result.ValuationDate),
			result.BookValue, result.PresentValue, result.AccruedInterest,
			result.FairValue, result.UnrealizedGainLoss, result.Currency, result.IFRSLevel)
		if err != nil {
			return fmt.Errorf("failed to save price result: %w", err)
		}

		_, err = tx.Exec(`DELETE FROM calculation_steps WHERE run_id = ? AND security_id = ?`,
			result.RunID, result.SecurityID)
		if err != nil {
			return fmt.Errorf("failed to clear calculation steps: %w", err)
		}

		for _, step := range steps {
			data, err := json.Marshal(step.StepData)
			if err != nil {
				return fmt.Errorf("failed to marshal step data: %w", err)
			}
			_, err = tx.Exec(`
				INSERT INTO calculation_steps (run_id, security_id, step_order, step_type, step_data)
				VALUES (?, ?, ?, ?, ?)`,
				result.RunID, result.SecurityID, step.StepOrder, string(step.StepType), string(data))
			if err != nil {
				return fmt.Errorf("failed to insert calculation step: %w", err)
			}
		}

		if audit != nil {
			if err := insertAudit(tx, audit); err != nil {
				return err
			}
		}

		return nil
	})
}

// ListResults returns the price results of a run ordered by security.
func (r *Repository) ListResults(runID string) ([]domain.PriceResult, error) {
	rows, err := r.db.Query(`
		SELECT run_id, security_id, valuation_date, book_value, present_value,
		       accrued_interest, fair_value, unrealized_gain_loss, currency, ifrs_level
		FROM price_results WHERE run_id = ? ORDER BY security_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list price results: %w", err)
	}
	defer rows.Close()

	var results []domain.PriceResult
	for rows.Next() {
		var (
			res       domain.PriceResult
			valDate   string
			bookValue sql.NullFloat64
			ifrsLevel sql.NullInt64
		)
		if err := rows.Scan(&res.RunID, &res.SecurityID, &valDate, &bookValue,
			&res.PresentValue, &res.AccruedInterest, &res.FairValue,
			&res.UnrealizedGainLoss, &res.Currency, &ifrsLevel); err != nil {
			return nil, fmt.Errorf("failed to scan price result: %w", err)
		}
		if res.ValuationDate, err = utils.ParseDate(valDate); err != nil {
			return nil, err
		}
		if bookValue.Valid {
			v := bookValue.Float64
			res.BookValue = &v
		}
		if ifrsLevel.Valid {
			l := int(ifrsLevel.Int64)
			res.IFRSLevel = &l
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price results: %w", err)
	}

	return results, nil
}

// ListSteps returns a security's calculation steps in order.
func (r *Repository) ListSteps(runID, securityID string) ([]domain.CalculationStep, error) {
	rows, err := r.db.Query(`
		SELECT run_id, security_id, step_order, step_type, step_data
		FROM calculation_steps
		WHERE run_id = ? AND security_id = ?
		ORDER BY step_order ASC`, runID, securityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list calculation steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.CalculationStep
	for rows.Next() {
		var (
			step     domain.CalculationStep
			stepType string
			data     string
		)
		if err := rows.Scan(&step.RunID, &step.SecurityID, &step.StepOrder, &stepType, &data); err != nil {
			return nil, fmt.Errorf("failed to scan calculation step: %w", err)
		}
		step.StepType = domain.StepType(stepType)
		var payload map[string]any
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step data: %w", err)
		}
		step.StepData = payload
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating calculation steps: %w", err)
	}

	return steps, nil
}

// Audit appends one audit row outside any result transaction.
func (r *Repository) Audit(entry *domain.AuditEntry) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := insertAudit(tx, entry); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// DeleteRunsBefore removes runs started before the cutoff; owned rows cascade.
func (r *Repository) DeleteRunsBefore(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM valuation_runs WHERE started_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func insertAudit(tx *sql.Tx, entry *domain.AuditEntry) error {
	var details any
	if len(entry.Details) > 0 {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
		details = string(data)
	}
	_, err := tx.Exec(`
		INSERT INTO audit_log (run_id, security_id, action, details, created_by)
		VALUES (?, ?, ?, ?, ?)`,
		nullIfEmpty(entry.RunID), nullIfEmpty(entry.SecurityID), entry.Action,
		details, nullIfEmpty(entry.CreatedBy))
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
