package billing

import "context"

// Repository persists invoices. Delete exists solely for compensation:
// a freshly persisted invoice is removed again when the account debit
// fails, so the ledger never sees a debit without a durable invoice.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Invoice, error)
	FindByCustomer(ctx context.Context, customerID string) ([]*Invoice, error)
	Save(ctx context.Context, invoice *Invoice) error
	Update(ctx context.Context, invoice *Invoice) error
	Delete(ctx context.Context, id string) error
	NextNumber(ctx context.Context) (int64, error)
}
