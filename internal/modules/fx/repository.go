// Package fx resolves exchange rates for reporting-currency conversion.
package fx

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/fairvalue/internal/domain"
	"github.com/aristath/fairvalue/internal/utils"
)

// Repository handles persistence of cached FX rates (cache.db).
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new FX rate repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "fx").Logger(),
	}
}

// GetLatest returns the newest stored from→to rate dated on or before asOf.
func (r *Repository) GetLatest(from, to string, asOf time.Time) (*domain.FxRate, error) {
	query := `
		SELECT from_currency, to_currency, rate, rate_date, source
		FROM fx_rates
		WHERE from_currency = ? AND to_currency = ? AND rate_date <= ?
		ORDER BY rate_date DESC, fetched_at DESC
		LIMIT 1`

	var rate domain.FxRate
	var rateDate string
	err := r.db.QueryRow(query, from, to, utils.FormatDate(asOf)).Scan(
		&rate.From, &rate.To, &rate.Rate, &rateDate, &rate.Source,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fx rate: %w", err)
	}

	if rate.RateDate, err = utils.ParseDate(rateDate); err != nil {
		return nil, fmt.Errorf("invalid rate_date %q: %w", rateDate, err)
	}

	return &rate, nil
}

// Save upserts one rate, keyed by (from, to, rate_date).
func (r *Repository) Save(rate *domain.FxRate) error {
	query := `
		INSERT INTO fx_rates (from_currency, to_currency, rate, rate_date, source, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(from_currency, to_currency, rate_date) DO UPDATE SET
			rate = excluded.rate,
			source = excluded.source,
			fetched_at = excluded.fetched_at`

	_, err := r.db.Exec(query,
		rate.From, rate.To, rate.Rate,
		utils.FormatDate(rate.RateDate), rate.Source, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save fx rate: %w", err)
	}
	return nil
}

// DeleteOlderThan removes cached rates dated before the cutoff.
func (r *Repository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM fx_rates WHERE rate_date < ?`, utils.FormatDate(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete fx rates: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
