// Package discountspec manages per-security discounting configuration.
package discountspec

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/fairvalue/internal/curvemath"
	"github.com/aristath/fairvalue/internal/domain"
)

// Repository handles persistence of discount specs (master.db). One spec
// per security.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new discount spec repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "discountspec").Logger(),
	}
}

// Validate checks a spec before writing. Manual spread keys must be tenor
// labels or the literal "default".
func Validate(spec *domain.DiscountSpec) error {
	if spec.SecurityID == "" {
		return domain.NewValidationError("discount spec requires a security id")
	}
	if spec.BenchmarkCurve == "" {
		return domain.NewValidationError("discount spec requires a benchmark curve")
	}
	for key := range spec.ManualSpreads {
		if key == "default" {
			continue
		}
		if !curvemath.IsValidTenor(key) {
			return domain.NewValidationError("manual spread key %q is not a tenor or \"default\"", key)
		}
	}
	if spec.IFRSLevel != nil && (*spec.IFRSLevel < 1 || *spec.IFRSLevel > 3) {
		return domain.NewValidationError("ifrs level must be 1..3, got %d", *spec.IFRSLevel)
	}
	return nil
}

// GetBySecurity returns the spec configured for a security.
func (r *Repository) GetBySecurity(securityID string) (*domain.DiscountSpec, error) {
	var (
		spec          domain.DiscountSpec
		spreadCurve   sql.NullString
		manualSpreads sql.NullString
		z, g          sql.NullFloat64
		cds, liq      sql.NullFloat64
		ifrsLevel     sql.NullInt64
	)
	err := r.db.QueryRow(`
		SELECT id, security_id, benchmark_curve, spread_curve, manual_spreads,
		       z_spread, g_spread, cds_spread, liquidity_spread, ifrs_level
		FROM discount_specs WHERE security_id = ?`, securityID).Scan(
		&spec.ID, &spec.SecurityID, &spec.BenchmarkCurve, &spreadCurve, &manualSpreads,
		&z, &g, &cds, &liq, &ifrsLevel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("discount spec for %s: %w", securityID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get discount spec: %w", err)
	}

	if spreadCurve.Valid {
		s := spreadCurve.String
		spec.SpreadCurve = &s
	}
	if manualSpreads.Valid && manualSpreads.String != "" {
		if err := json.Unmarshal([]byte(manualSpreads.String), &spec.ManualSpreads); err != nil {
			return nil, fmt.Errorf("invalid manual spreads for %s: %w", securityID, err)
		}
	}
	spec.Standing = domain.StandingSpreads{
		Z:         nullableFloat(z),
		G:         nullableFloat(g),
		CDS:       nullableFloat(cds),
		Liquidity: nullableFloat(liq),
	}
	if ifrsLevel.Valid {
		l := int(ifrsLevel.Int64)
		spec.IFRSLevel = &l
	}

	return &spec, nil
}

// Upsert writes a spec, replacing any existing spec for the security.
func (r *Repository) Upsert(spec *domain.DiscountSpec) error {
	if err := Validate(spec); err != nil {
		return err
	}
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}

	var manualSpreads any
	if len(spec.ManualSpreads) > 0 {
		data, err := json.Marshal(spec.ManualSpreads)
		if err != nil {
			return fmt.Errorf("failed to marshal manual spreads: %w", err)
		}
		manualSpreads = string(data)
	}

	_, err := r.db.Exec(`
		INSERT INTO discount_specs
			(id, security_id, benchmark_curve, spread_curve, manual_spreads,
			 z_spread, g_spread, cds_spread, liquidity_spread, ifrs_level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (security_id) DO UPDATE SET
			benchmark_curve = excluded.benchmark_curve,
			spread_curve = excluded.spread_curve,
			manual_spreads = excluded.manual_spreads,
			z_spread = excluded.z_spread,
			g_spread = excluded.g_spread,
			cds_spread = excluded.cds_spread,
			liquidity_spread = excluded.liquidity_spread,
			ifrs_level = excluded.ifrs_level`,
		spec.ID, spec.SecurityID, spec.BenchmarkCurve, spec.SpreadCurve, manualSpreads,
		spec.Standing.Z, spec.Standing.G, spec.Standing.CDS, spec.Standing.Liquidity,
		spec.IFRSLevel)
	if err != nil {
		return fmt.Errorf("failed to upsert discount spec: %w", err)
	}
	return nil
}

// Delete removes the spec for a security. Deleting a missing spec is a no-op.
func (r *Repository) Delete(securityID string) error {
	_, err := r.db.Exec(`DELETE FROM discount_specs WHERE security_id = ?`, securityID)
	if err != nil {
		return fmt.Errorf("failed to delete discount spec: %w", err)
	}
	return nil
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
