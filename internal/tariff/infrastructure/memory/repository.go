package memory

import (
	"context"
	"sort"
	"sync"

	tariff "utilibill/internal/tariff/domain"
)

// Repository is an in-memory tariff catalog.
type Repository struct {
	mu   sync.RWMutex
	data map[string]*tariff.Tariff
}

// NewRepository constructs a repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]*tariff.Tariff)}
}

// FindByID loads a tariff.
func (r *Repository) FindByID(ctx context.Context, id string) (*tariff.Tariff, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data[id].Clone(), nil
}

// List returns the catalog ordered by name.
func (r *Repository) List(ctx context.Context) ([]*tariff.Tariff, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*tariff.Tariff, 0, len(r.data))
	for _, t := range r.data {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Save stores a tariff.
func (r *Repository) Save(ctx context.Context, t *tariff.Tariff) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[t.ID] = t.Clone()
	return nil
}

// Update overwrites a tariff.
func (r *Repository) Update(ctx context.Context, t *tariff.Tariff) error {
	return r.Save(ctx, t)
}
