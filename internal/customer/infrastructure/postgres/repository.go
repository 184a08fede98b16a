package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	customer "utilibill/internal/customer/domain"
	"utilibill/internal/fault"
	"utilibill/internal/money"
)

// Repository is a Postgres implementation for customers. Balance
// mutations are single atomic UPDATE statements.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FindByID loads a customer, nil when absent.
func (r *Repository) FindByID(ctx context.Context, id string) (*customer.Customer, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("customer repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, account_number, tariff_id, balance, active, created_at, updated_at
FROM customers
WHERE id = $1`, id)

	var c customer.Customer
	err := row.Scan(&c.ID, &c.Name, &c.AccountNumber, &c.TariffID, &c.Balance, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Save inserts a customer.
func (r *Repository) Save(ctx context.Context, c *customer.Customer) error {
	if r == nil || r.db == nil {
		return errors.New("customer repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO customers (id, name, account_number, tariff_id, balance, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.Name, c.AccountNumber, c.TariffID, c.Balance, c.Active, c.CreatedAt, c.UpdatedAt)
	return err
}

// Update overwrites the customer's mutable fields except the balance,
// which only CreditAccount/DebitAccount may touch.
func (r *Repository) Update(ctx context.Context, c *customer.Customer) error {
	if r == nil || r.db == nil {
		return errors.New("customer repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE customers
SET name = $2, account_number = $3, tariff_id = $4, active = $5, updated_at = $6
WHERE id = $1`,
		c.ID, c.Name, c.AccountNumber, c.TariffID, c.Active, c.UpdatedAt)
	return err
}

// CreditAccount atomically increases the balance.
func (r *Repository) CreditAccount(ctx context.Context, id string, amount money.Money) error {
	if !amount.IsPositive() {
		return fault.New(fault.KindLedgerInconsistency, "credit amount must be positive").WithEntity(id)
	}
	return r.adjustBalance(ctx, id, amount)
}

// DebitAccount atomically decreases the balance.
func (r *Repository) DebitAccount(ctx context.Context, id string, amount money.Money) error {
	if !amount.IsPositive() {
		return fault.New(fault.KindLedgerInconsistency, "debit amount must be positive").WithEntity(id)
	}
	return r.adjustBalance(ctx, id, amount.Neg())
}

func (r *Repository) adjustBalance(ctx context.Context, id string, delta money.Money) error {
	if r == nil || r.db == nil {
		return errors.New("customer repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE customers
SET balance = balance + $2, updated_at = $3
WHERE id = $1`, id, delta, time.Now().UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.New("customer repo: not found")
	}
	return nil
}
