package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"utilibill/internal/fault"
	"utilibill/internal/money"
	tariff "utilibill/internal/tariff/domain"
)

// Status is the invoice lifecycle state. Transitions only move forward
// except for refunds, which recompute Paid/Partial.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPartial   Status = "partial"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// LineItem is one itemized invoice line. Rate is pence per unit and the
// amount is the exact rounded charge; line amounts sum to the subtotal
// with no untracked rounding.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit"`
	RatePence   decimal.Decimal `json:"rate_pence"`
	Amount      money.Money     `json:"amount"`
}

// MeterSummary records the register movement of one meter over the
// billing period, for display on the invoice.
type MeterSummary struct {
	MeterID          string  `json:"meter_id"`
	OpeningReading   float64 `json:"opening_reading"`
	ClosingReading   float64 `json:"closing_reading"`
	Consumption      float64 `json:"consumption"`
	DayConsumption   float64 `json:"day_consumption,omitempty"`
	NightConsumption float64 `json:"night_consumption,omitempty"`
	ReadingCount     int     `json:"reading_count"`
}

// Invoice is the externally meaningful artifact of the engine: line
// items, totals and the tariff snapshot are rendered verbatim into
// documents. Invoices are never deleted; cancellation is a status.
type Invoice struct {
	ID            string
	Number        string
	CustomerID    string
	AccountNumber string
	PeriodStart   time.Time
	PeriodEnd     time.Time
	IssueDate     time.Time
	DueDate       time.Time
	Status        Status

	Tariff tariff.Snapshot
	Lines  []LineItem
	Meters []MeterSummary
	// Gas retains the volumetric conversion intermediates for gas invoices.
	Gas *tariff.GasConversion

	UnitCost       money.Money
	StandingCharge money.Money
	Subtotal       money.Money
	VATAmount      money.Money
	Total          money.Money
	AmountPaid     money.Money
	BalanceDue     money.Money

	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	PaidAt       time.Time
	CancelledAt  time.Time
}

// FormatNumber renders a sequence value as the human-readable invoice number.
func FormatNumber(seq int64) string {
	return fmt.Sprintf("INV-%08d", seq)
}

// ApplyPayment records a payment against the balance due.
func (inv *Invoice) ApplyPayment(amount money.Money) error {
	if !amount.IsPositive() {
		return fault.New(fault.KindLedgerInconsistency, "payment amount must be positive").WithEntity(inv.ID)
	}
	switch inv.Status {
	case StatusPending, StatusPartial, StatusOverdue:
	default:
		return fault.New(fault.KindLedgerInconsistency, "invoice not payable in status "+string(inv.Status)).WithEntity(inv.ID)
	}
	if inv.BalanceDue.LessThan(amount) {
		return fault.New(fault.KindLedgerInconsistency, "payment exceeds balance due").WithEntity(inv.ID)
	}
	inv.AmountPaid = inv.AmountPaid.Add(amount)
	inv.recomputeBalance()
	return nil
}

// ApplyRefund reverses part of the paid amount. This is the only
// backward move the status machine allows.
func (inv *Invoice) ApplyRefund(amount money.Money) error {
	if !amount.IsPositive() {
		return fault.New(fault.KindLedgerInconsistency, "refund amount must be positive").WithEntity(inv.ID)
	}
	if inv.Status != StatusPaid && inv.Status != StatusPartial {
		return fault.New(fault.KindLedgerInconsistency, "invoice not refundable in status "+string(inv.Status)).WithEntity(inv.ID)
	}
	if inv.AmountPaid.LessThan(amount) {
		return fault.New(fault.KindLedgerInconsistency, "refund exceeds amount paid").WithEntity(inv.ID)
	}
	inv.AmountPaid = inv.AmountPaid.Sub(amount)
	inv.recomputeBalance()
	return nil
}

// Cancel voids the invoice. The underlying readings stay billed: a
// cancelled invoice is a void, not an undo of metering history.
func (inv *Invoice) Cancel(reason string) error {
	if inv.Status == StatusCancelled {
		return fault.New(fault.KindLedgerInconsistency, "invoice already cancelled").WithEntity(inv.ID)
	}
	inv.Status = StatusCancelled
	inv.CancelReason = reason
	inv.CancelledAt = time.Now().UTC()
	inv.UpdatedAt = inv.CancelledAt
	return nil
}

// MarkOverdue moves a pending invoice past its due date to overdue.
func (inv *Invoice) MarkOverdue(now time.Time) bool {
	if inv.Status != StatusPending || !inv.DueDate.Before(now) {
		return false
	}
	inv.Status = StatusOverdue
	inv.UpdatedAt = now.UTC()
	return true
}

// Active reports whether the invoice counts toward the ledger, i.e. it
// has not been cancelled.
func (inv *Invoice) Active() bool {
	return inv.Status != StatusCancelled
}

func (inv *Invoice) recomputeBalance() {
	inv.BalanceDue = inv.Total.Sub(inv.AmountPaid)
	now := time.Now().UTC()
	switch {
	case inv.BalanceDue.IsZero():
		inv.Status = StatusPaid
		inv.PaidAt = now
	case inv.AmountPaid.IsPositive():
		inv.Status = StatusPartial
	default:
		inv.Status = StatusPending
	}
	inv.UpdatedAt = now
}

// Clone returns a detached copy with its own line slices.
func (inv *Invoice) Clone() *Invoice {
	if inv == nil {
		return nil
	}
	clone := *inv
	clone.Lines = append([]LineItem(nil), inv.Lines...)
	clone.Meters = append([]MeterSummary(nil), inv.Meters...)
	if inv.Gas != nil {
		gas := *inv.Gas
		clone.Gas = &gas
	}
	return &clone
}
