package application

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	billing "utilibill/internal/billing/domain"
	customer "utilibill/internal/customer/domain"
	"utilibill/internal/fault"
	"utilibill/internal/locking"
	metering "utilibill/internal/metering/domain"
	"utilibill/internal/money"
	"utilibill/internal/observability/metrics"
	tariff "utilibill/internal/tariff/domain"
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// DefaultPaymentTermsDays is the gap between issue date and due date.
const DefaultPaymentTermsDays = 14

// BillingService turns unbilled readings into priced invoices and keeps
// the customer ledger consistent with them. All mutations of one
// customer run under that customer's lock; different customers proceed
// in parallel.
type BillingService struct {
	invoices  billing.Repository
	customers customer.Repository
	tariffs   tariff.Repository
	meters    metering.MeterRepository
	readings  metering.ReadingRepository
	locks     *locking.KeyedMutex
	node      *snowflake.Node
	clock     Clock
	logger    *log.Logger

	paymentTermsDays int
}

// Option configures the service.
type Option func(*BillingService)

// WithPaymentTerms overrides the due-date offset in days.
func WithPaymentTerms(days int) Option {
	return func(s *BillingService) {
		if days > 0 {
			s.paymentTermsDays = days
		}
	}
}

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(s *BillingService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewBillingService constructs the orchestrator.
func NewBillingService(
	invoices billing.Repository,
	customers customer.Repository,
	tariffs tariff.Repository,
	meters metering.MeterRepository,
	readings metering.ReadingRepository,
	locks *locking.KeyedMutex,
	node *snowflake.Node,
	logger *log.Logger,
	opts ...Option,
) (*BillingService, error) {
	if invoices == nil {
		return nil, errors.New("billing service: nil invoice repo")
	}
	if customers == nil {
		return nil, errors.New("billing service: nil customer repo")
	}
	if tariffs == nil {
		return nil, errors.New("billing service: nil tariff repo")
	}
	if meters == nil {
		return nil, errors.New("billing service: nil meter repo")
	}
	if readings == nil {
		return nil, errors.New("billing service: nil reading repo")
	}
	if locks == nil {
		return nil, errors.New("billing service: nil locks")
	}
	if node == nil {
		return nil, errors.New("billing service: nil snowflake node")
	}
	s := &BillingService{
		invoices:         invoices,
		customers:        customers,
		tariffs:          tariffs,
		meters:           meters,
		readings:         readings,
		locks:            locks,
		node:             node,
		clock:            SystemClock{},
		logger:           logger,
		paymentTermsDays: DefaultPaymentTermsDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GenerateInvoice assembles an invoice for the customer over the
// inclusive billing period. The sequence mark-billed, persist-invoice,
// debit-account is compensated on partial failure so a failed run
// leaves readings, invoices and the account exactly as they were.
func (s *BillingService) GenerateInvoice(ctx context.Context, customerID string, periodStart, periodEnd time.Time) (*billing.Invoice, error) {
	start := s.clock.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveInvoiceGenerate(result, time.Since(start))
	}()

	inv, err := s.generateInvoice(ctx, customerID, periodStart, periodEnd)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	return inv, nil
}

func (s *BillingService) generateInvoice(ctx context.Context, customerID string, periodStart, periodEnd time.Time) (*billing.Invoice, error) {
	if customerID == "" {
		return nil, errors.New("billing service: customer id required")
	}
	billingDays, err := money.BillingDays(periodStart, periodEnd)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(customerID)
	defer unlock()

	cust, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		return nil, fault.Wrap(fault.KindPersistenceFailure, "load customer", err)
	}
	if cust == nil {
		return nil, errors.New("billing service: customer not found")
	}
	if cust.TariffID == "" {
		return nil, fault.New(fault.KindNoTariffAssigned, "customer has no assigned tariff").WithEntity(customerID)
	}

	trf, err := s.tariffs.FindByID(ctx, cust.TariffID)
	if err != nil {
		return nil, fault.Wrap(fault.KindPersistenceFailure, "load tariff", err)
	}
	if trf == nil {
		return nil, fault.New(fault.KindTariffNotFound, "assigned tariff does not exist").WithEntity(cust.TariffID)
	}
	if !trf.Active {
		return nil, fault.New(fault.KindTariffNotFound, "assigned tariff is inactive").WithEntity(trf.ID)
	}

	allMeters, err := s.meters.FindByCustomer(ctx, customerID)
	if err != nil {
		return nil, fault.Wrap(fault.KindPersistenceFailure, "load meters", err)
	}
	var matching []*metering.Meter
	for _, m := range allMeters {
		if m.Active && m.Type == trf.MeterType {
			matching = append(matching, m)
		}
	}
	if len(matching) == 0 {
		return nil, fault.New(fault.KindNoMatchingMeter, "no active meter of type "+string(trf.MeterType)).WithEntity(customerID)
	}

	var (
		toBill        []*metering.Reading
		summaries     []billing.MeterSummary
		cons          tariff.Consumption
		imperialUnits float64
	)
	for _, m := range matching {
		rs, err := s.readings.FindUnbilled(ctx, m.ID, periodStart, periodEnd)
		if err != nil {
			return nil, fault.Wrap(fault.KindPersistenceFailure, "load readings", err)
		}
		if len(rs) == 0 {
			continue
		}
		summary := billing.MeterSummary{MeterID: m.ID, ReadingCount: len(rs)}
		first, last := rs[0], rs[len(rs)-1]
		if m.DayNightCapable {
			summary.OpeningReading = first.PrevDay + first.PrevNight
			summary.ClosingReading = last.DayValue + last.NightValue
		} else {
			summary.OpeningReading = first.PrevValue
			summary.ClosingReading = last.Value
		}
		for _, r := range rs {
			summary.Consumption += r.Consumption
			summary.DayConsumption += r.DayConsumption
			summary.NightConsumption += r.NightConsumption
			toBill = append(toBill, r)
		}
		cons.Day += summary.DayConsumption
		cons.Night += summary.NightConsumption
		if trf.Kind == tariff.KindGas && m.ImperialUnits {
			imperialUnits += summary.Consumption
		} else {
			cons.Units += summary.Consumption
		}
		summaries = append(summaries, summary)
	}
	if len(toBill) == 0 {
		return nil, fault.New(fault.KindNothingToBill, "no unbilled readings in period").WithEntity(customerID)
	}

	// A uniform imperial gas fleet keeps its raw units so the conversion
	// audit shows them; a mixed fleet is normalized to cubic meters per
	// meter before aggregating, never converting metric volume twice.
	if imperialUnits > 0 {
		if cons.Units == 0 {
			cons.Units = imperialUnits
			cons.Imperial = true
		} else {
			cons.Units += decimal.NewFromFloat(imperialUnits).Mul(tariff.ImperialToMetric).InexactFloat64()
		}
	}

	cost, err := trf.UnitCost(cons)
	if err != nil {
		return nil, err
	}
	standing := trf.StandingCharge(billingDays)

	lines := make([]billing.LineItem, 0, len(cost.Lines)+1)
	for _, l := range cost.Lines {
		lines = append(lines, billing.LineItem{
			Description: l.Description,
			Quantity:    l.Quantity,
			Unit:        l.Unit,
			RatePence:   l.RatePence,
			Amount:      l.Amount,
		})
	}
	lines = append(lines, billing.LineItem{
		Description: "Standing charge",
		Quantity:    decimalFromInt(billingDays),
		Unit:        "day",
		RatePence:   trf.StandingChargeDaily.Decimal().Mul(decimalFromInt(100)),
		Amount:      standing,
	})

	subtotal := cost.Total.Add(standing)
	vat := money.FromDecimal(subtotal.Decimal().Mul(trf.VATRate))
	total := subtotal.Add(vat)

	seq, err := s.invoices.NextNumber(ctx)
	if err != nil {
		return nil, fault.Wrap(fault.KindPersistenceFailure, "next invoice number", err)
	}

	now := s.clock.Now()
	inv := &billing.Invoice{
		ID:             "inv-" + s.node.Generate().String(),
		Number:         billing.FormatNumber(seq),
		CustomerID:     cust.ID,
		AccountNumber:  cust.AccountNumber,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		IssueDate:      now,
		DueDate:        now.AddDate(0, 0, s.paymentTermsDays),
		Status:         billing.StatusPending,
		Tariff:         trf.Snapshot(),
		Lines:          lines,
		Meters:         summaries,
		Gas:            cost.Gas,
		UnitCost:       cost.Total,
		StandingCharge: standing,
		Subtotal:       subtotal,
		VATAmount:      vat,
		Total:          total,
		AmountPaid:     money.Zero(),
		BalanceDue:     total,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// The billing transaction. Without multi-record storage transactions
	// the orchestrator compensates: no reading stays billed without a
	// persisted invoice, and the account is never debited without one.
	var billed []*metering.Reading
	revert := func() {
		for _, r := range billed {
			r.Unbill()
			if uerr := s.readings.Update(ctx, r); uerr != nil && s.logger != nil {
				s.logger.Printf("billing: compensation failed for reading %s: %v", r.ID, uerr)
			}
		}
	}

	for _, r := range toBill {
		if err := r.MarkBilled(); err != nil {
			revert()
			return nil, err
		}
		if err := s.readings.Update(ctx, r); err != nil {
			r.Unbill()
			revert()
			return nil, fault.Wrap(fault.KindPersistenceFailure, "mark reading billed", err)
		}
		billed = append(billed, r)
	}

	if err := s.invoices.Save(ctx, inv); err != nil {
		revert()
		return nil, fault.Wrap(fault.KindPersistenceFailure, "persist invoice", err)
	}

	if err := s.customers.DebitAccount(ctx, cust.ID, total); err != nil {
		if derr := s.invoices.Delete(ctx, inv.ID); derr != nil && s.logger != nil {
			s.logger.Printf("billing: compensation failed for invoice %s: %v", inv.ID, derr)
		}
		revert()
		return nil, fault.Wrap(fault.KindPersistenceFailure, "debit account", err)
	}

	return inv, nil
}

// RecordPayment applies a payment to an invoice and credits the
// customer's account by the same amount.
func (s *BillingService) RecordPayment(ctx context.Context, invoiceID string, amount money.Money) (*billing.Invoice, error) {
	result := metrics.ResultSuccess
	defer func() { metrics.ObserveLedgerOp("payment", result) }()

	inv, err := s.lockedInvoice(ctx, invoiceID)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	defer inv.unlock()

	if err := inv.invoice.ApplyPayment(amount); err != nil {
		result = metrics.ResultError
		return nil, err
	}
	if err := s.invoices.Update(ctx, inv.invoice); err != nil {
		result = metrics.ResultError
		return nil, fault.Wrap(fault.KindPersistenceFailure, "persist payment", err)
	}
	if err := s.customers.CreditAccount(ctx, inv.invoice.CustomerID, amount); err != nil {
		s.revertInvoice(ctx, inv.before)
		result = metrics.ResultError
		return nil, fault.Wrap(fault.KindPersistenceFailure, "credit account", err)
	}
	return inv.invoice, nil
}

// RecordRefund reverses part of a paid amount and debits the account.
func (s *BillingService) RecordRefund(ctx context.Context, invoiceID string, amount money.Money) (*billing.Invoice, error) {
	result := metrics.ResultSuccess
	defer func() { metrics.ObserveLedgerOp("refund", result) }()

	inv, err := s.lockedInvoice(ctx, invoiceID)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	defer inv.unlock()

	if err := inv.invoice.ApplyRefund(amount); err != nil {
		result = metrics.ResultError
		return nil, err
	}
	if err := s.invoices.Update(ctx, inv.invoice); err != nil {
		result = metrics.ResultError
		return nil, fault.Wrap(fault.KindPersistenceFailure, "persist refund", err)
	}
	if err := s.customers.DebitAccount(ctx, inv.invoice.CustomerID, amount); err != nil {
		s.revertInvoice(ctx, inv.before)
		result = metrics.ResultError
		return nil, fault.Wrap(fault.KindPersistenceFailure, "debit account", err)
	}
	return inv.invoice, nil
}

// CancelInvoice voids an invoice and credits the account by its total.
// The consumed readings deliberately stay billed; a cancelled invoice
// voids the charge, not the metering history.
func (s *BillingService) CancelInvoice(ctx context.Context, invoiceID, reason string) (*billing.Invoice, error) {
	result := metrics.ResultSuccess
	defer func() { metrics.ObserveLedgerOp("cancel", result) }()

	inv, err := s.lockedInvoice(ctx, invoiceID)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	defer inv.unlock()

	if err := inv.invoice.Cancel(reason); err != nil {
		result = metrics.ResultError
		return nil, err
	}
	if err := s.invoices.Update(ctx, inv.invoice); err != nil {
		result = metrics.ResultError
		return nil, fault.Wrap(fault.KindPersistenceFailure, "persist cancellation", err)
	}
	if err := s.customers.CreditAccount(ctx, inv.invoice.CustomerID, inv.invoice.Total); err != nil {
		s.revertInvoice(ctx, inv.before)
		result = metrics.ResultError
		return nil, fault.Wrap(fault.KindPersistenceFailure, "credit account", err)
	}
	return inv.invoice, nil
}

// MarkOverdue sweeps the customer's pending invoices past their due
// date into overdue and returns how many moved.
func (s *BillingService) MarkOverdue(ctx context.Context, customerID string) (int, error) {
	unlock := s.locks.Lock(customerID)
	defer unlock()

	invs, err := s.invoices.FindByCustomer(ctx, customerID)
	if err != nil {
		return 0, fault.Wrap(fault.KindPersistenceFailure, "load invoices", err)
	}
	now := s.clock.Now()
	moved := 0
	for _, inv := range invs {
		if !inv.MarkOverdue(now) {
			continue
		}
		if err := s.invoices.Update(ctx, inv); err != nil {
			return moved, fault.Wrap(fault.KindPersistenceFailure, "persist overdue", err)
		}
		moved++
	}
	return moved, nil
}

// Invoice loads one invoice.
func (s *BillingService) Invoice(ctx context.Context, invoiceID string) (*billing.Invoice, error) {
	inv, err := s.invoices.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, fault.Wrap(fault.KindPersistenceFailure, "load invoice", err)
	}
	if inv == nil {
		return nil, errors.New("billing service: invoice not found")
	}
	return inv, nil
}

// InvoicesForCustomer lists a customer's invoices.
func (s *BillingService) InvoicesForCustomer(ctx context.Context, customerID string) ([]*billing.Invoice, error) {
	if customerID == "" {
		return nil, errors.New("billing service: customer id required")
	}
	invs, err := s.invoices.FindByCustomer(ctx, customerID)
	if err != nil {
		return nil, fault.Wrap(fault.KindPersistenceFailure, "load invoices", err)
	}
	return invs, nil
}

func decimalFromInt(n int) decimal.Decimal { return decimal.NewFromInt(int64(n)) }

type lockedInvoice struct {
	invoice *billing.Invoice
	before  *billing.Invoice
	unlock  func()
}

// lockedInvoice loads the invoice, acquires its customer's lock and
// reloads under the lock so ledger operations never race billing.
func (s *BillingService) lockedInvoice(ctx context.Context, invoiceID string) (*lockedInvoice, error) {
	if invoiceID == "" {
		return nil, errors.New("billing service: invoice id required")
	}
	peek, err := s.invoices.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, fault.Wrap(fault.KindPersistenceFailure, "load invoice", err)
	}
	if peek == nil {
		return nil, errors.New("billing service: invoice not found")
	}

	unlock := s.locks.Lock(peek.CustomerID)
	inv, err := s.invoices.FindByID(ctx, invoiceID)
	if err != nil {
		unlock()
		return nil, fault.Wrap(fault.KindPersistenceFailure, "load invoice", err)
	}
	if inv == nil {
		unlock()
		return nil, errors.New("billing service: invoice not found")
	}
	return &lockedInvoice{invoice: inv, before: inv.Clone(), unlock: unlock}, nil
}

func (s *BillingService) revertInvoice(ctx context.Context, before *billing.Invoice) {
	if before == nil {
		return
	}
	if err := s.invoices.Update(ctx, before); err != nil && s.logger != nil {
		s.logger.Printf("billing: compensation failed for invoice %s: %v", before.ID, err)
	}
}
