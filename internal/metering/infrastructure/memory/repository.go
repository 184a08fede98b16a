package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	metering "utilibill/internal/metering/domain"
)

// MeterRepository is an in-memory meter store.
type MeterRepository struct {
	mu   sync.RWMutex
	data map[string]*metering.Meter
}

// NewMeterRepository constructs a repository.
func NewMeterRepository() *MeterRepository {
	return &MeterRepository{data: make(map[string]*metering.Meter)}
}

// FindByID loads a meter.
func (r *MeterRepository) FindByID(ctx context.Context, id string) (*metering.Meter, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data[id].Clone(), nil
}

// FindByCustomer lists a customer's meters.
func (r *MeterRepository) FindByCustomer(ctx context.Context, customerID string) ([]*metering.Meter, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*metering.Meter
	for _, m := range r.data {
		if m.CustomerID == customerID {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Save stores a meter.
func (r *MeterRepository) Save(ctx context.Context, meter *metering.Meter) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[meter.ID] = meter.Clone()
	return nil
}

// Update overwrites a meter.
func (r *MeterRepository) Update(ctx context.Context, meter *metering.Meter) error {
	return r.Save(ctx, meter)
}

// ReadingRepository is an in-memory reading store.
type ReadingRepository struct {
	mu   sync.RWMutex
	data map[string]*metering.Reading
}

// NewReadingRepository constructs a repository.
func NewReadingRepository() *ReadingRepository {
	return &ReadingRepository{data: make(map[string]*metering.Reading)}
}

// FindByMeter lists readings for a meter in the inclusive date range,
// ordered by reading date.
func (r *ReadingRepository) FindByMeter(ctx context.Context, meterID string, from, to time.Time) ([]*metering.Reading, error) {
	return r.list(ctx, meterID, from, to, false)
}

// FindUnbilled lists unbilled readings in the range, ordered by date.
func (r *ReadingRepository) FindUnbilled(ctx context.Context, meterID string, from, to time.Time) ([]*metering.Reading, error) {
	return r.list(ctx, meterID, from, to, true)
}

func (r *ReadingRepository) list(ctx context.Context, meterID string, from, to time.Time, unbilledOnly bool) ([]*metering.Reading, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*metering.Reading
	for _, reading := range r.data {
		if reading.MeterID != meterID {
			continue
		}
		if unbilledOnly && reading.Billed {
			continue
		}
		if !from.IsZero() && reading.Date.Before(from) {
			continue
		}
		if !to.IsZero() && reading.Date.After(endOfDay(to)) {
			continue
		}
		out = append(out, reading.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// Save stores a reading.
func (r *ReadingRepository) Save(ctx context.Context, reading *metering.Reading) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[reading.ID] = reading.Clone()
	return nil
}

// Update overwrites a reading.
func (r *ReadingRepository) Update(ctx context.Context, reading *metering.Reading) error {
	return r.Save(ctx, reading)
}

// Delete removes a reading. Used only for recording compensation.
func (r *ReadingRepository) Delete(ctx context.Context, id string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, id)
	return nil
}

// endOfDay pushes an inclusive period end to the last instant of its day.
func endOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
}
