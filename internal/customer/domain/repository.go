package customer

import (
	"context"

	"utilibill/internal/money"
)

// Repository persists customers. CreditAccount and DebitAccount are
// atomic read-modify-write operations; callers still serialize per
// customer so the balance never interleaves with invoice generation.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Customer, error)
	Save(ctx context.Context, customer *Customer) error
	Update(ctx context.Context, customer *Customer) error
	CreditAccount(ctx context.Context, id string, amount money.Money) error
	DebitAccount(ctx context.Context, id string, amount money.Money) error
}
