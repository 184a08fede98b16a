package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	metering "utilibill/internal/metering/domain"
)

// MeterRepository is a Postgres implementation for meters.
type MeterRepository struct {
	db *sql.DB
}

// NewMeterRepository constructs a repository.
func NewMeterRepository(db *sql.DB) *MeterRepository {
	return &MeterRepository{db: db}
}

const meterColumns = `id, customer_id, type, day_night_capable, imperial_units,
current_reading, current_day, current_night, max_reading, active, created_at, updated_at`

// FindByID loads a meter, nil when absent.
func (r *MeterRepository) FindByID(ctx context.Context, id string) (*metering.Meter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("meter repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+meterColumns+`
FROM meters
WHERE id = $1`, id)
	m, err := scanMeter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// FindByCustomer lists a customer's meters.
func (r *MeterRepository) FindByCustomer(ctx context.Context, customerID string) ([]*metering.Meter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("meter repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+meterColumns+`
FROM meters
WHERE customer_id = $1
ORDER BY id`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*metering.Meter
	for rows.Next() {
		m, err := scanMeter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Save inserts a meter.
func (r *MeterRepository) Save(ctx context.Context, m *metering.Meter) error {
	if r == nil || r.db == nil {
		return errors.New("meter repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO meters (`+meterColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.CustomerID, string(m.Type), m.DayNightCapable, m.ImperialUnits,
		m.CurrentReading, m.CurrentDay, m.CurrentNight, m.MaxReading, m.Active,
		m.CreatedAt, m.UpdatedAt)
	return err
}

// Update overwrites the mutable meter fields.
func (r *MeterRepository) Update(ctx context.Context, m *metering.Meter) error {
	if r == nil || r.db == nil {
		return errors.New("meter repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE meters
SET current_reading = $2, current_day = $3, current_night = $4, active = $5, updated_at = $6
WHERE id = $1`,
		m.ID, m.CurrentReading, m.CurrentDay, m.CurrentNight, m.Active, m.UpdatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeter(row rowScanner) (*metering.Meter, error) {
	var m metering.Meter
	var meterType string
	if err := row.Scan(
		&m.ID, &m.CustomerID, &meterType, &m.DayNightCapable, &m.ImperialUnits,
		&m.CurrentReading, &m.CurrentDay, &m.CurrentNight, &m.MaxReading, &m.Active,
		&m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.Type = metering.MeterType(meterType)
	return &m, nil
}

// ReadingRepository is a Postgres implementation for readings.
type ReadingRepository struct {
	db *sql.DB
}

// NewReadingRepository constructs a repository.
func NewReadingRepository(db *sql.DB) *ReadingRepository {
	return &ReadingRepository{db: db}
}

const readingColumns = `id, meter_id, customer_id, reading_date, kind,
value, day_value, night_value, prev_value, prev_day, prev_night,
consumption, day_consumption, night_consumption, imperial_units, billed, created_at`

// FindByMeter lists readings for a meter in the inclusive range, by date.
func (r *ReadingRepository) FindByMeter(ctx context.Context, meterID string, from, to time.Time) ([]*metering.Reading, error) {
	return r.list(ctx, meterID, from, to, false)
}

// FindUnbilled lists unbilled readings in the range, by date.
func (r *ReadingRepository) FindUnbilled(ctx context.Context, meterID string, from, to time.Time) ([]*metering.Reading, error) {
	return r.list(ctx, meterID, from, to, true)
}

func (r *ReadingRepository) list(ctx context.Context, meterID string, from, to time.Time, unbilledOnly bool) ([]*metering.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	query := `
SELECT ` + readingColumns + `
FROM readings
WHERE meter_id = $1
  AND ($2::timestamptz IS NULL OR reading_date >= $2)
  AND ($3::timestamptz IS NULL OR reading_date < $3)`
	if unbilledOnly {
		query += `
  AND billed = FALSE`
	}
	query += `
ORDER BY reading_date`

	rows, err := r.db.QueryContext(ctx, query, meterID, nullableTime(from), nullableTime(exclusiveEnd(to)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*metering.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, reading)
	}
	return out, rows.Err()
}

// Save inserts a reading.
func (r *ReadingRepository) Save(ctx context.Context, reading *metering.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO readings (`+readingColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		reading.ID, reading.MeterID, reading.CustomerID, reading.Date, string(reading.Kind),
		reading.Value, reading.DayValue, reading.NightValue,
		reading.PrevValue, reading.PrevDay, reading.PrevNight,
		reading.Consumption, reading.DayConsumption, reading.NightConsumption,
		reading.ImperialUnits, reading.Billed, reading.CreatedAt)
	return err
}

// Update flips the billed flag; readings are otherwise immutable.
func (r *ReadingRepository) Update(ctx context.Context, reading *metering.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE readings SET billed = $2 WHERE id = $1`, reading.ID, reading.Billed)
	return err
}

// Delete removes a reading. Used only for recording compensation.
func (r *ReadingRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM readings WHERE id = $1`, id)
	return err
}

func scanReading(row rowScanner) (*metering.Reading, error) {
	var reading metering.Reading
	var kind string
	if err := row.Scan(
		&reading.ID, &reading.MeterID, &reading.CustomerID, &reading.Date, &kind,
		&reading.Value, &reading.DayValue, &reading.NightValue,
		&reading.PrevValue, &reading.PrevDay, &reading.PrevNight,
		&reading.Consumption, &reading.DayConsumption, &reading.NightConsumption,
		&reading.ImperialUnits, &reading.Billed, &reading.CreatedAt,
	); err != nil {
		return nil, err
	}
	reading.Kind = metering.ReadingKind(kind)
	return &reading, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// exclusiveEnd pushes an inclusive period end past the last instant of its day.
func exclusiveEnd(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
