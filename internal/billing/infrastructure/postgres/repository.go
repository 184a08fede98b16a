package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	billing "utilibill/internal/billing/domain"
	tariff "utilibill/internal/tariff/domain"
)

// Repository is a Postgres implementation for invoices. Line items,
// meter summaries, the tariff snapshot and the gas conversion details
// are stored as JSONB so the invoice graph round-trips losslessly.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const invoiceColumns = `id, number, customer_id, account_number,
period_start, period_end, issue_date, due_date, status,
tariff_snapshot, lines, meter_summaries, gas_conversion,
unit_cost, standing_charge, subtotal, vat_amount, total, amount_paid, balance_due,
cancel_reason, created_at, updated_at, paid_at, cancelled_at`

// FindByID loads an invoice, nil when absent.
func (r *Repository) FindByID(ctx context.Context, id string) (*billing.Invoice, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("invoice repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+invoiceColumns+`
FROM invoices
WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return inv, err
}

// FindByCustomer lists a customer's invoices by issue date.
func (r *Repository) FindByCustomer(ctx context.Context, customerID string) ([]*billing.Invoice, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("invoice repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+invoiceColumns+`
FROM invoices
WHERE customer_id = $1
ORDER BY issue_date`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Save inserts an invoice.
func (r *Repository) Save(ctx context.Context, inv *billing.Invoice) error {
	if r == nil || r.db == nil {
		return errors.New("invoice repo: nil db")
	}
	snapshot, lines, meters, gas, err := marshalInvoiceDocs(inv)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO invoices (`+invoiceColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
        $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
		inv.ID, inv.Number, inv.CustomerID, inv.AccountNumber,
		inv.PeriodStart, inv.PeriodEnd, inv.IssueDate, inv.DueDate, string(inv.Status),
		snapshot, lines, meters, gas,
		inv.UnitCost, inv.StandingCharge, inv.Subtotal, inv.VATAmount, inv.Total, inv.AmountPaid, inv.BalanceDue,
		inv.CancelReason, inv.CreatedAt, inv.UpdatedAt, nullableTime(inv.PaidAt), nullableTime(inv.CancelledAt))
	return err
}

// Update overwrites the mutable invoice fields.
func (r *Repository) Update(ctx context.Context, inv *billing.Invoice) error {
	if r == nil || r.db == nil {
		return errors.New("invoice repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE invoices
SET status = $2, amount_paid = $3, balance_due = $4, cancel_reason = $5,
    updated_at = $6, paid_at = $7, cancelled_at = $8
WHERE id = $1`,
		inv.ID, string(inv.Status), inv.AmountPaid, inv.BalanceDue, inv.CancelReason,
		inv.UpdatedAt, nullableTime(inv.PaidAt), nullableTime(inv.CancelledAt))
	return err
}

// Delete removes an invoice. Used only for billing compensation.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("invoice repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	return err
}

// NextNumber issues the next invoice sequence value.
func (r *Repository) NextNumber(ctx context.Context) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("invoice repo: nil db")
	}
	var seq int64
	if err := r.db.QueryRowContext(ctx, `SELECT nextval('invoice_numbers')`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func marshalInvoiceDocs(inv *billing.Invoice) (snapshot, lines, meters, gas []byte, err error) {
	if snapshot, err = json.Marshal(inv.Tariff); err != nil {
		return nil, nil, nil, nil, err
	}
	if lines, err = json.Marshal(inv.Lines); err != nil {
		return nil, nil, nil, nil, err
	}
	if meters, err = json.Marshal(inv.Meters); err != nil {
		return nil, nil, nil, nil, err
	}
	if inv.Gas != nil {
		if gas, err = json.Marshal(inv.Gas); err != nil {
			return nil, nil, nil, nil, err
		}
	}
	return snapshot, lines, meters, gas, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*billing.Invoice, error) {
	var (
		inv              billing.Invoice
		status           string
		snapshotRaw      []byte
		linesRaw         []byte
		metersRaw        []byte
		gasRaw           []byte
		paidAt, cancelAt sql.NullTime
	)
	if err := row.Scan(
		&inv.ID, &inv.Number, &inv.CustomerID, &inv.AccountNumber,
		&inv.PeriodStart, &inv.PeriodEnd, &inv.IssueDate, &inv.DueDate, &status,
		&snapshotRaw, &linesRaw, &metersRaw, &gasRaw,
		&inv.UnitCost, &inv.StandingCharge, &inv.Subtotal, &inv.VATAmount, &inv.Total, &inv.AmountPaid, &inv.BalanceDue,
		&inv.CancelReason, &inv.CreatedAt, &inv.UpdatedAt, &paidAt, &cancelAt,
	); err != nil {
		return nil, err
	}
	inv.Status = billing.Status(status)
	if err := json.Unmarshal(snapshotRaw, &inv.Tariff); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(linesRaw, &inv.Lines); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metersRaw, &inv.Meters); err != nil {
		return nil, err
	}
	if len(gasRaw) > 0 {
		var gas tariff.GasConversion
		if err := json.Unmarshal(gasRaw, &gas); err != nil {
			return nil, err
		}
		inv.Gas = &gas
	}
	if paidAt.Valid {
		inv.PaidAt = paidAt.Time
	}
	if cancelAt.Valid {
		inv.CancelledAt = cancelAt.Time
	}
	return &inv, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
