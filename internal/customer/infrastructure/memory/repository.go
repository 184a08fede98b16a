package memory

import (
	"context"
	"errors"
	"sync"

	customer "utilibill/internal/customer/domain"
	"utilibill/internal/money"
)

// Repository is an in-memory customer store. Credit and debit are
// atomic read-modify-write operations under the store lock.
type Repository struct {
	mu   sync.RWMutex
	data map[string]*customer.Customer
}

// NewRepository constructs a repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]*customer.Customer)}
}

// FindByID loads a customer.
func (r *Repository) FindByID(ctx context.Context, id string) (*customer.Customer, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data[id].Clone(), nil
}

// Save stores a customer.
func (r *Repository) Save(ctx context.Context, c *customer.Customer) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[c.ID] = c.Clone()
	return nil
}

// Update overwrites a customer.
func (r *Repository) Update(ctx context.Context, c *customer.Customer) error {
	return r.Save(ctx, c)
}

// CreditAccount atomically increases a customer's balance.
func (r *Repository) CreditAccount(ctx context.Context, id string, amount money.Money) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.data[id]
	if !ok {
		return errors.New("customer repo: not found")
	}
	return c.Credit(amount)
}

// DebitAccount atomically decreases a customer's balance.
func (r *Repository) DebitAccount(ctx context.Context, id string, amount money.Money) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.data[id]
	if !ok {
		return errors.New("customer repo: not found")
	}
	return c.Debit(amount)
}
