// Package curves provides the curve cache repository and the composite
// curve provider.
package curves

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/fairvalue/internal/curvemath"
	"github.com/aristath/fairvalue/internal/daycount"
	"github.com/aristath/fairvalue/internal/domain"
	"github.com/aristath/fairvalue/internal/utils"
)

// Repository handles the curve read-through cache in cache.db
type Repository struct {
	cacheDB *sql.DB
	log     zerolog.Logger
}

// NewRepository creates a new curve repository
func NewRepository(cacheDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		cacheDB: cacheDB,
		log:     log.With().Str("repo", "curves").Logger(),
	}
}

// GetLatest returns the newest cached curve named name with curve_date on or
// before asOf, optionally restricted to one source. Returns domain.ErrNotFound
// when no such curve exists.
func (r *Repository) GetLatest(name string, asOf time.Time, source *domain.CurveSource) (*domain.Curve, error) {
	query := `SELECT id, name, curve_date, source, currency, curve_type, fetched_at
		FROM curves WHERE name = ? AND curve_date <= ?`
	args := []any{name, utils.FormatDate(asOf)}
	if source != nil {
		query += ` AND source = ?`
		args = append(args, string(*source))
	}
	query += ` ORDER BY curve_date DESC, fetched_at DESC LIMIT 1`

	var (
		curve     domain.Curve
		curveDate string
		src       string
		curveType string
		fetchedAt int64
	)
	err := r.cacheDB.QueryRow(query, args...).Scan(
		&curve.ID, &curve.Name, &curveDate, &src, &curve.Currency, &curveType, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("curve %s as of %s: %w", name, utils.FormatDate(asOf), domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load curve %s: %w", name, err)
	}

	curve.Source = domain.CurveSource(src)
	curve.Type = domain.CurveType(curveType)
	curve.FetchedAt = time.Unix(fetchedAt, 0).UTC()
	if curve.CurveDate, err = utils.ParseDate(curveDate); err != nil {
		return nil, err
	}

	if curve.Points, err = r.loadPoints(curve.ID); err != nil {
		return nil, err
	}
	if err := normalizePoints(&curve); err != nil {
		return nil, err
	}

	return &curve, nil
}

// Save upserts a curve and replaces its points. Idempotent on
// (name, curve_date, source); concurrent writers of the same key settle on
// last-write-wins.
func (r *Repository) Save(curve *domain.Curve) error {
	return withTx(r.cacheDB, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO curves (name, curve_date, source, currency, curve_type, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (name, curve_date, source)
			DO UPDATE SET currency = excluded.currency, curve_type = excluded.curve_type,
				fetched_at = excluded.fetched_at`,
			curve.Name, utils.FormatDate(curve.CurveDate), string(curve.Source),
			curve.Currency, string(curve.Type), time.Now().Unix())
		if err != nil {
			return fmt.Errorf("failed to upsert curve %s: %w", curve.Name, err)
		}

		var curveID int64
		err = tx.QueryRow(`SELECT id FROM curves WHERE name = ? AND curve_date = ? AND source = ?`,
			curve.Name, utils.FormatDate(curve.CurveDate), string(curve.Source)).Scan(&curveID)
		if err != nil {
			return fmt.Errorf("failed to resolve curve id for %s: %w", curve.Name, err)
		}
		curve.ID = curveID

		if _, err := tx.Exec(`DELETE FROM curve_points WHERE curve_id = ?`, curveID); err != nil {
			return fmt.Errorf("failed to clear curve points: %w", err)
		}

		for _, p := range curve.Points {
			var maturity any
			if p.MaturityDate != nil {
				maturity = utils.FormatDate(*p.MaturityDate)
			}
			var tenor any
			if p.TenorLabel != "" {
				tenor = p.TenorLabel
			}
			_, err := tx.Exec(`
				INSERT INTO curve_points (curve_id, tenor_label, rate, year_fraction, maturity_date)
				VALUES (?, ?, ?, ?, ?)`,
				curveID, tenor, p.Rate, p.YearFraction, maturity)
			if err != nil {
				return fmt.Errorf("failed to insert curve point: %w", err)
			}
		}

		return nil
	})
}

// DeleteOlderThan removes cached curves fetched before the cutoff.
// Returns the number of curves removed (points cascade).
func (r *Repository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := r.cacheDB.Exec(`DELETE FROM curves WHERE fetched_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired curves: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *Repository) loadPoints(curveID int64) ([]domain.CurvePoint, error) {
	rows, err := r.cacheDB.Query(`
		SELECT tenor_label, rate, year_fraction, maturity_date
		FROM curve_points WHERE curve_id = ?
		ORDER BY year_fraction ASC, id ASC`, curveID)
	if err != nil {
		return nil, fmt.Errorf("failed to load curve points: %w", err)
	}
	defer rows.Close()

	var points []domain.CurvePoint
	for rows.Next() {
		var (
			p        domain.CurvePoint
			tenor    sql.NullString
			years    sql.NullFloat64
			maturity sql.NullString
		)
		if err := rows.Scan(&tenor, &p.Rate, &years, &maturity); err != nil {
			return nil, fmt.Errorf("failed to scan curve point: %w", err)
		}
		p.TenorLabel = tenor.String
		if years.Valid {
			y := years.Float64
			p.YearFraction = &y
		}
		if maturity.Valid {
			d, err := utils.ParseDate(maturity.String)
			if err != nil {
				return nil, err
			}
			p.MaturityDate = &d
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating curve points: %w", err)
	}

	return points, nil
}

// normalizePoints derives the missing representations of each point. Every
// point must end up with a year fraction; tenor labels and maturity dates
// are filled in when derivable.
func normalizePoints(curve *domain.Curve) error {
	for i := range curve.Points {
		p := &curve.Points[i]

		if p.YearFraction == nil {
			switch {
			case p.TenorLabel != "":
				y, err := curvemath.TenorToYears(p.TenorLabel)
				if err != nil {
					return err
				}
				p.YearFraction = &y
			case p.MaturityDate != nil:
				y, err := daycount.YearFraction(curve.CurveDate, *p.MaturityDate, daycount.ConvAct365)
				if err != nil {
					return err
				}
				p.YearFraction = &y
			default:
				return domain.NewValidationError(
					"curve %s point %d has no tenor, year fraction, or maturity date", curve.Name, i)
			}
		}

		if p.TenorLabel == "" {
			p.TenorLabel = curvemath.YearsToTenor(*p.YearFraction)
		}

		if p.MaturityDate == nil {
			days := int(*p.YearFraction*365.0 + 0.5)
			d := curve.CurveDate.AddDate(0, 0, days)
			p.MaturityDate = &d
		}
	}

	// Keep ascending year-fraction order regardless of storage order
	for i := 1; i < len(curve.Points); i++ {
		for j := i; j > 0 && *curve.Points[j].YearFraction < *curve.Points[j-1].YearFraction; j-- {
			curve.Points[j], curve.Points[j-1] = curve.Points[j-1], curve.Points[j]
		}
	}

	return nil
}

func withTx(db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
