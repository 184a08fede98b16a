package customer

import (
	"time"

	"utilibill/internal/fault"
	"utilibill/internal/money"
)

// Customer is the account-holding aggregate. Balance is signed: billing
// debits it by invoice totals, payments and cancellations credit it.
type Customer struct {
	ID            string
	Name          string
	AccountNumber string
	TariffID      string
	Balance       money.Money
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Credit increases the balance. Amounts must be strictly positive;
// anything else is a programming error upstream.
func (c *Customer) Credit(amount money.Money) error {
	if !amount.IsPositive() {
		return fault.New(fault.KindLedgerInconsistency, "credit amount must be positive").WithEntity(c.ID)
	}
	c.Balance = c.Balance.Add(amount)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Debit decreases the balance. Amounts must be strictly positive.
func (c *Customer) Debit(amount money.Money) error {
	if !amount.IsPositive() {
		return fault.New(fault.KindLedgerInconsistency, "debit amount must be positive").WithEntity(c.ID)
	}
	c.Balance = c.Balance.Sub(amount)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Clone returns a detached copy.
func (c *Customer) Clone() *Customer {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}
