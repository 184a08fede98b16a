package postgres

import (
	"context"
	"database/sql"
	"errors"

	metering "utilibill/internal/metering/domain"
	tariff "utilibill/internal/tariff/domain"
)

// Repository is a Postgres implementation of the tariff catalog.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const tariffColumns = `id, name, meter_type, kind, effective_from, active,
standing_charge_daily, vat_rate, rate_pence, day_rate_pence, night_rate_pence,
threshold_units, tier_one_rate_pence, tier_two_rate_pence,
correction_factor, calorific_value, created_at, updated_at`

// FindByID loads a tariff, nil when absent.
func (r *Repository) FindByID(ctx context.Context, id string) (*tariff.Tariff, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("tariff repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+tariffColumns+`
FROM tariffs
WHERE id = $1`, id)
	t, err := scanTariff(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// List returns the catalog ordered by name.
func (r *Repository) List(ctx context.Context) ([]*tariff.Tariff, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("tariff repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+tariffColumns+`
FROM tariffs
ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*tariff.Tariff
	for rows.Next() {
		t, err := scanTariff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Save inserts a tariff.
func (r *Repository) Save(ctx context.Context, t *tariff.Tariff) error {
	if r == nil || r.db == nil {
		return errors.New("tariff repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO tariffs (`+tariffColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		t.ID, t.Name, string(t.MeterType), string(t.Kind), t.EffectiveFrom, t.Active,
		t.StandingChargeDaily, t.VATRate, t.RatePence, t.DayRatePence, t.NightRatePence,
		t.ThresholdUnits, t.TierOneRatePence, t.TierTwoRatePence,
		t.CorrectionFactor, t.CalorificValue, t.CreatedAt, t.UpdatedAt)
	return err
}

// Update overwrites a tariff definition.
func (r *Repository) Update(ctx context.Context, t *tariff.Tariff) error {
	if r == nil || r.db == nil {
		return errors.New("tariff repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE tariffs
SET name = $2, meter_type = $3, kind = $4, effective_from = $5, active = $6,
    standing_charge_daily = $7, vat_rate = $8, rate_pence = $9,
    day_rate_pence = $10, night_rate_pence = $11, threshold_units = $12,
    tier_one_rate_pence = $13, tier_two_rate_pence = $14,
    correction_factor = $15, calorific_value = $16, updated_at = $17
WHERE id = $1`,
		t.ID, t.Name, string(t.MeterType), string(t.Kind), t.EffectiveFrom, t.Active,
		t.StandingChargeDaily, t.VATRate, t.RatePence, t.DayRatePence, t.NightRatePence,
		t.ThresholdUnits, t.TierOneRatePence, t.TierTwoRatePence,
		t.CorrectionFactor, t.CalorificValue, t.UpdatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTariff(row rowScanner) (*tariff.Tariff, error) {
	var t tariff.Tariff
	var meterType, kind string
	if err := row.Scan(
		&t.ID, &t.Name, &meterType, &kind, &t.EffectiveFrom, &t.Active,
		&t.StandingChargeDaily, &t.VATRate, &t.RatePence, &t.DayRatePence, &t.NightRatePence,
		&t.ThresholdUnits, &t.TierOneRatePence, &t.TierTwoRatePence,
		&t.CorrectionFactor, &t.CalorificValue, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.MeterType = metering.MeterType(meterType)
	t.Kind = tariff.Kind(kind)
	return &t, nil
}
