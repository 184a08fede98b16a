package memory

import (
	"context"
	"sort"
	"sync"

	billing "utilibill/internal/billing/domain"
)

// Repository is an in-memory invoice store with a local number sequence.
type Repository struct {
	mu   sync.RWMutex
	data map[string]*billing.Invoice
	seq  int64
}

// NewRepository constructs a repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]*billing.Invoice)}
}

// FindByID loads an invoice.
func (r *Repository) FindByID(ctx context.Context, id string) (*billing.Invoice, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data[id].Clone(), nil
}

// FindByCustomer lists a customer's invoices ordered by issue date.
func (r *Repository) FindByCustomer(ctx context.Context, customerID string) ([]*billing.Invoice, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*billing.Invoice
	for _, inv := range r.data {
		if inv.CustomerID == customerID {
			out = append(out, inv.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssueDate.Before(out[j].IssueDate) })
	return out, nil
}

// Save stores an invoice.
func (r *Repository) Save(ctx context.Context, inv *billing.Invoice) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[inv.ID] = inv.Clone()
	return nil
}

// Update overwrites an invoice.
func (r *Repository) Update(ctx context.Context, inv *billing.Invoice) error {
	return r.Save(ctx, inv)
}

// Delete removes an invoice. Used only for billing compensation.
func (r *Repository) Delete(ctx context.Context, id string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, id)
	return nil
}

// NextNumber issues the next invoice sequence value.
func (r *Repository) NextNumber(ctx context.Context) (int64, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq, nil
}
