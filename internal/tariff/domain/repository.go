package tariff

import "context"

// Repository persists the tariff catalog. FindByID returns the current
// definition; snapshotting onto invoices is the billing engine's job.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Tariff, error)
	List(ctx context.Context) ([]*Tariff, error)
	Save(ctx context.Context, tariff *Tariff) error
	Update(ctx context.Context, tariff *Tariff) error
}
