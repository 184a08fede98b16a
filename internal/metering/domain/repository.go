package metering

import (
	"context"
	"time"
)

// MeterRepository persists meters.
type MeterRepository interface {
	FindByID(ctx context.Context, id string) (*Meter, error)
	FindByCustomer(ctx context.Context, customerID string) ([]*Meter, error)
	Save(ctx context.Context, meter *Meter) error
	Update(ctx context.Context, meter *Meter) error
}

// ReadingRepository persists reading events. Listing methods return
// readings ordered by reading date; no other ordering is guaranteed.
type ReadingRepository interface {
	FindByMeter(ctx context.Context, meterID string, from, to time.Time) ([]*Reading, error)
	FindUnbilled(ctx context.Context, meterID string, from, to time.Time) ([]*Reading, error)
	Save(ctx context.Context, reading *Reading) error
	Update(ctx context.Context, reading *Reading) error
	Delete(ctx context.Context, id string) error
}
