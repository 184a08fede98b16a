package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	billing "utilibill/internal/billing/domain"
	billingmem "utilibill/internal/billing/infrastructure/memory"
	customer "utilibill/internal/customer/domain"
	customermem "utilibill/internal/customer/infrastructure/memory"
	"utilibill/internal/fault"
	"utilibill/internal/locking"
	metering "utilibill/internal/metering/domain"
	meteringmem "utilibill/internal/metering/infrastructure/memory"
	"utilibill/internal/money"
	tariff "utilibill/internal/tariff/domain"
	tariffmem "utilibill/internal/tariff/infrastructure/memory"
)

type fixture struct {
	invoices  *billingmem.Repository
	customers *customermem.Repository
	tariffs   *tariffmem.Repository
	meters    *meteringmem.MeterRepository
	readings  *meteringmem.ReadingRepository
	svc       *BillingService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		invoices:  billingmem.NewRepository(),
		customers: customermem.NewRepository(),
		tariffs:   tariffmem.NewRepository(),
		meters:    meteringmem.NewMeterRepository(),
		readings:  meteringmem.NewReadingRepository(),
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	svc, err := NewBillingService(f.invoices, f.customers, f.tariffs, f.meters, f.readings,
		locking.NewKeyedMutex(), node, nil)
	if err != nil {
		t.Fatalf("NewBillingService: %v", err)
	}
	f.svc = svc
	return f
}

func (f *fixture) seedFlat(t *testing.T) (customerID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	trf := &tariff.Tariff{
		ID:                  "t-flat",
		Name:                "Standard Variable",
		MeterType:           metering.MeterTypeElectricity,
		Kind:                tariff.KindFlat,
		Active:              true,
		RatePence:           decimal.RequireFromString("28.62"),
		StandingChargeDaily: money.FromPounds(0.45),
		VATRate:             decimal.RequireFromString("0.05"),
		EffectiveFrom:       now.AddDate(-1, 0, 0),
	}
	if err := f.tariffs.Save(ctx, trf); err != nil {
		t.Fatalf("save tariff: %v", err)
	}
	cust := &customer.Customer{
		ID:            "c-1",
		Name:          "Ada Byron",
		AccountNumber: "AC-00000001",
		TariffID:      trf.ID,
		Active:        true,
	}
	if err := f.customers.Save(ctx, cust); err != nil {
		t.Fatalf("save customer: %v", err)
	}
	meter := &metering.Meter{
		ID:         "m-1",
		CustomerID: cust.ID,
		Type:       metering.MeterTypeElectricity,
		MaxReading: metering.DefaultMaxReading,
		Active:     true,
	}
	if err := f.meters.Save(ctx, meter); err != nil {
		t.Fatalf("save meter: %v", err)
	}
	reading := &metering.Reading{
		ID:          "r-1",
		MeterID:     meter.ID,
		CustomerID:  cust.ID,
		Date:        time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Kind:        metering.ReadingActual,
		Value:       12100,
		PrevValue:   12000,
		Consumption: 100,
	}
	if err := f.readings.Save(ctx, reading); err != nil {
		t.Fatalf("save reading: %v", err)
	}
	return cust.ID
}

var (
	periodStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
)

func TestGenerateInvoiceFlat(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedFlat(t)
	ctx := context.Background()

	inv, err := f.svc.GenerateInvoice(ctx, customerID, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("GenerateInvoice: %v", err)
	}

	// 100 kWh at 28.62p = 28.62, standing 31 * 0.45 = 13.95,
	// subtotal 42.57, VAT 5% = 2.13, total 44.70.
	if got := inv.UnitCost.String(); got != "28.62" {
		t.Fatalf("unit cost = %s, want 28.62", got)
	}
	if got := inv.StandingCharge.String(); got != "13.95" {
		t.Fatalf("standing charge = %s, want 13.95", got)
	}
	if got := inv.Subtotal.String(); got != "42.57" {
		t.Fatalf("subtotal = %s, want 42.57", got)
	}
	if got := inv.VATAmount.String(); got != "2.13" {
		t.Fatalf("vat = %s, want 2.13", got)
	}
	if got := inv.Total.String(); got != "44.70" {
		t.Fatalf("total = %s, want 44.70", got)
	}
	if inv.Status != billing.StatusPending {
		t.Fatalf("status = %s, want pending", inv.Status)
	}
	if inv.Number != "INV-00000001" {
		t.Fatalf("number = %s", inv.Number)
	}
	if len(inv.Lines) != 2 {
		t.Fatalf("lines = %d, want usage + standing charge", len(inv.Lines))
	}
	// Line amounts sum exactly to the subtotal.
	sum := money.Zero()
	for _, line := range inv.Lines {
		sum = sum.Add(line.Amount)
	}
	if !sum.Equal(inv.Subtotal) {
		t.Fatalf("line sum %s != subtotal %s", sum, inv.Subtotal)
	}
	if got := inv.DueDate.Sub(inv.IssueDate); got != 14*24*time.Hour {
		t.Fatalf("due date offset = %s, want 14 days", got)
	}
	if len(inv.Meters) != 1 || inv.Meters[0].Consumption != 100 {
		t.Fatalf("meter summary = %+v", inv.Meters)
	}

	// Ledger effect: account debited by the invoice total.
	cust, err := f.customers.FindByID(ctx, customerID)
	if err != nil {
		t.Fatalf("load customer: %v", err)
	}
	if got := cust.Balance.String(); got != "-44.70" {
		t.Fatalf("balance = %s, want -44.70", got)
	}

	// Readings consumed by the invoice are marked billed.
	rs, err := f.readings.FindByMeter(ctx, "m-1", periodStart, periodEnd)
	if err != nil {
		t.Fatalf("load readings: %v", err)
	}
	if len(rs) != 1 || !rs[0].Billed {
		t.Fatalf("reading not marked billed: %+v", rs)
	}
}

func TestGenerateInvoiceIdempotent(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedFlat(t)
	ctx := context.Background()

	if _, err := f.svc.GenerateInvoice(ctx, customerID, periodStart, periodEnd); err != nil {
		t.Fatalf("first run: %v", err)
	}
	_, err := f.svc.GenerateInvoice(ctx, customerID, periodStart, periodEnd)
	if !fault.IsKind(err, fault.KindNothingToBill) {
		t.Fatalf("expected nothing to bill, got %v", err)
	}
}

func TestGenerateInvoiceNoTariff(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedFlat(t)
	ctx := context.Background()

	cust, _ := f.customers.FindByID(ctx, customerID)
	cust.TariffID = ""
	if err := f.customers.Update(ctx, cust); err != nil {
		t.Fatalf("update customer: %v", err)
	}
	_, err := f.svc.GenerateInvoice(ctx, customerID, periodStart, periodEnd)
	if !fault.IsKind(err, fault.KindNoTariffAssigned) {
		t.Fatalf("expected no tariff assigned, got %v", err)
	}
}

func TestGenerateInvoiceInactiveTariff(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedFlat(t)
	ctx := context.Background()

	trf, _ := f.tariffs.FindByID(ctx, "t-flat")
	trf.Deactivate()
	if err := f.tariffs.Update(ctx, trf); err != nil {
		t.Fatalf("update tariff: %v", err)
	}
	_, err := f.svc.GenerateInvoice(ctx, customerID, periodStart, periodEnd)
	if !fault.IsKind(err, fault.KindTariffNotFound) {
		t.Fatalf("expected tariff not found, got %v", err)
	}
}

func TestGenerateInvoiceNoMatchingMeter(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedFlat(t)
	ctx := context.Background()

	meter, _ := f.meters.FindByID(ctx, "m-1")
	meter.Active = false
	if err := f.meters.Update(ctx, meter); err != nil {
		t.Fatalf("update meter: %v", err)
	}
	_, err := f.svc.GenerateInvoice(ctx, customerID, periodStart, periodEnd)
	if !fault.IsKind(err, fault.KindNoMatchingMeter) {
		t.Fatalf("expected no matching meter, got %v", err)
	}
}

func TestGenerateInvoiceInvalidPeriod(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedFlat(t)

	_, err := f.svc.GenerateInvoice(context.Background(), customerID, periodEnd, periodStart)
	if !fault.IsKind(err, fault.KindInvalidBillingPeriod) {
		t.Fatalf("expected invalid billing period, got %v", err)
	}
}

func TestGenerateInvoiceDayNightItemization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	trf := &tariff.Tariff{
		ID:                  "t-dn",
		Name:                "Economy 7",
		MeterType:           metering.MeterTypeElectricity,
		Kind:                tariff.KindDayNight,
		Active:              true,
		DayRatePence:        decimal.RequireFromString("32.10"),
		NightRatePence:      decimal.RequireFromString("15.48"),
		StandingChargeDaily: money.FromPounds(0.50),
		VATRate:             decimal.RequireFromString("0.05"),
		EffectiveFrom:       now.AddDate(-1, 0, 0),
	}
	if err := f.tariffs.Save(ctx, trf); err != nil {
		t.Fatalf("save tariff: %v", err)
	}
	cust := &customer.Customer{ID: "c-dn", Name: "Grace", AccountNumber: "AC-2", TariffID: trf.ID, Active: true}
	if err := f.customers.Save(ctx, cust); err != nil {
		t.Fatalf("save customer: %v", err)
	}
	meter := &metering.Meter{
		ID: "m-dn", CustomerID: cust.ID, Type: metering.MeterTypeElectricity,
		DayNightCapable: true, MaxReading: metering.DefaultMaxReading, Active: true,
	}
	if err := f.meters.Save(ctx, meter); err != nil {
		t.Fatalf("save meter: %v", err)
	}
	reading := &metering.Reading{
		ID: "r-dn", MeterID: meter.ID, CustomerID: cust.ID,
		Date: time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC), Kind: metering.ReadingActual,
		DayValue: 1120, NightValue: 2060, PrevDay: 1000, PrevNight: 2000,
		Consumption: 180, DayConsumption: 120, NightConsumption: 60,
	}
	if err := f.readings.Save(ctx, reading); err != nil {
		t.Fatalf("save reading: %v", err)
	}

	inv, err := f.svc.GenerateInvoice(ctx, cust.ID, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("GenerateInvoice: %v", err)
	}
	// Day line, night line, standing charge: never a blended rate.
	if len(inv.Lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(inv.Lines))
	}
	if got := inv.Lines[0].Amount.String(); got != "38.52" {
		t.Fatalf("day line = %s, want 38.52", got)
	}
	if got := inv.Lines[1].Amount.String(); got != "9.29" {
		t.Fatalf("night line = %s, want 9.29", got)
	}
	if inv.Meters[0].DayConsumption != 120 || inv.Meters[0].NightConsumption != 60 {
		t.Fatalf("meter summary split = %+v", inv.Meters[0])
	}
}

func (f *fixture) seedGasCustomer(t *testing.T) (customerID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	trf := &tariff.Tariff{
		ID:               "t-gas",
		Name:             "Gas Standard",
		MeterType:        metering.MeterTypeGas,
		Kind:             tariff.KindGas,
		Active:           true,
		RatePence:        decimal.RequireFromString("7.42"),
		CorrectionFactor: decimal.RequireFromString("1.02264"),
		CalorificValue:   decimal.RequireFromString("39.4"),
		EffectiveFrom:    now.AddDate(-1, 0, 0),
	}
	if err := f.tariffs.Save(ctx, trf); err != nil {
		t.Fatalf("save tariff: %v", err)
	}
	cust := &customer.Customer{ID: "c-gas", Name: "Joan", AccountNumber: "AC-3", TariffID: trf.ID, Active: true}
	if err := f.customers.Save(ctx, cust); err != nil {
		t.Fatalf("save customer: %v", err)
	}
	return cust.ID
}

func (f *fixture) seedGasMeter(t *testing.T, customerID, meterID string, imperial bool, consumption float64) {
	t.Helper()
	ctx := context.Background()
	meter := &metering.Meter{
		ID: meterID, CustomerID: customerID, Type: metering.MeterTypeGas,
		ImperialUnits: imperial, MaxReading: metering.DefaultMaxReading, Active: true,
	}
	if err := f.meters.Save(ctx, meter); err != nil {
		t.Fatalf("save meter: %v", err)
	}
	reading := &metering.Reading{
		ID: "r-" + meterID, MeterID: meterID, CustomerID: customerID,
		Date: time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC), Kind: metering.ReadingActual,
		Value: 1000 + consumption, PrevValue: 1000, Consumption: consumption,
		ImperialUnits: imperial,
	}
	if err := f.readings.Save(ctx, reading); err != nil {
		t.Fatalf("save reading: %v", err)
	}
}

func TestGenerateInvoiceGasImperialFleet(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedGasCustomer(t)
	f.seedGasMeter(t, customerID, "m-gi", true, 100)

	inv, err := f.svc.GenerateInvoice(context.Background(), customerID, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("GenerateInvoice: %v", err)
	}
	if inv.Gas == nil {
		t.Fatal("expected gas conversion on invoice")
	}
	if !inv.Gas.Imperial {
		t.Fatal("expected imperial conversion")
	}
	if got := inv.Gas.CubicMeters.String(); got != "283" {
		t.Fatalf("cubic meters = %s, want 283", got)
	}
	if got := inv.Gas.EnergyKWh.StringFixed(6); got != "3167.400147" {
		t.Fatalf("kWh = %s", got)
	}
	if got := inv.UnitCost.String(); got != "235.02" {
		t.Fatalf("unit cost = %s, want 235.02", got)
	}
}

func TestGenerateInvoiceGasMixedUnitsFleet(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedGasCustomer(t)
	f.seedGasMeter(t, customerID, "m-gi", true, 100)
	f.seedGasMeter(t, customerID, "m-gm", false, 50)

	inv, err := f.svc.GenerateInvoice(context.Background(), customerID, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("GenerateInvoice: %v", err)
	}
	if inv.Gas == nil {
		t.Fatal("expected gas conversion on invoice")
	}
	// Imperial units are converted to cubic meters per meter before
	// aggregating: 100 imperial -> 283 m3, plus 50 metric m3.
	if inv.Gas.Imperial {
		t.Fatal("mixed fleet must aggregate in cubic meters")
	}
	if got := inv.Gas.CubicMeters.String(); got != "333" {
		t.Fatalf("cubic meters = %s, want 333", got)
	}
	if got := inv.Gas.EnergyKWh.StringFixed(6); got != "3727.011480" {
		t.Fatalf("kWh = %s", got)
	}
	if got := inv.UnitCost.String(); got != "276.54" {
		t.Fatalf("unit cost = %s, want 276.54", got)
	}
	if len(inv.Meters) != 2 {
		t.Fatalf("meter summaries = %d, want 2", len(inv.Meters))
	}
}

func TestPaymentRefundCancelLedger(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedFlat(t)
	ctx := context.Background()

	inv, err := f.svc.GenerateInvoice(ctx, customerID, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("GenerateInvoice: %v", err)
	}

	paid, err := f.svc.RecordPayment(ctx, inv.ID, money.FromPounds(44.70))
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if paid.Status != billing.StatusPaid {
		t.Fatalf("status = %s, want paid", paid.Status)
	}
	cust, _ := f.customers.FindByID(ctx, customerID)
	if got := cust.Balance.String(); got != "0.00" {
		t.Fatalf("balance after payment = %s, want 0.00", got)
	}

	refunded, err := f.svc.RecordRefund(ctx, inv.ID, money.FromPounds(10.00))
	if err != nil {
		t.Fatalf("RecordRefund: %v", err)
	}
	if refunded.Status != billing.StatusPartial {
		t.Fatalf("status = %s, want partial", refunded.Status)
	}
	cust, _ = f.customers.FindByID(ctx, customerID)
	if got := cust.Balance.String(); got != "-10.00" {
		t.Fatalf("balance after refund = %s, want -10.00", got)
	}

	cancelled, err := f.svc.CancelInvoice(ctx, inv.ID, "dispute upheld")
	if err != nil {
		t.Fatalf("CancelInvoice: %v", err)
	}
	if cancelled.Status != billing.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}
	cust, _ = f.customers.FindByID(ctx, customerID)
	if got := cust.Balance.String(); got != "34.70" {
		t.Fatalf("balance after cancel = %s, want 34.70", got)
	}

	// Cancellation voids the charge, not the metering history.
	rs, _ := f.readings.FindByMeter(ctx, "m-1", periodStart, periodEnd)
	if !rs[0].Billed {
		t.Fatal("cancellation unbilled the reading")
	}
}

func TestMarkOverdueSweep(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedFlat(t)
	ctx := context.Background()

	past := fixedClock{now: time.Now().UTC().AddDate(0, 0, -30)}
	f.svc.clock = past

	if _, err := f.svc.GenerateInvoice(ctx, customerID, periodStart, periodEnd); err != nil {
		t.Fatalf("GenerateInvoice: %v", err)
	}

	f.svc.clock = SystemClock{}
	moved, err := f.svc.MarkOverdue(ctx, customerID)
	if err != nil {
		t.Fatalf("MarkOverdue: %v", err)
	}
	if moved != 1 {
		t.Fatalf("moved = %d, want 1", moved)
	}
	invs, _ := f.svc.InvoicesForCustomer(ctx, customerID)
	if invs[0].Status != billing.StatusOverdue {
		t.Fatalf("status = %s, want overdue", invs[0].Status)
	}
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type failingInvoiceRepo struct {
	*billingmem.Repository
	failSave bool
}

func (r *failingInvoiceRepo) Save(ctx context.Context, inv *billing.Invoice) error {
	if r.failSave {
		return errors.New("disk full")
	}
	return r.Repository.Save(ctx, inv)
}

func TestGenerateInvoiceCompensatesOnInvoiceSaveFailure(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedFlat(t)
	ctx := context.Background()

	failing := &failingInvoiceRepo{Repository: f.invoices, failSave: true}
	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	svc, err := NewBillingService(failing, f.customers, f.tariffs, f.meters, f.readings,
		locking.NewKeyedMutex(), node, nil)
	if err != nil {
		t.Fatalf("NewBillingService: %v", err)
	}

	_, err = svc.GenerateInvoice(ctx, customerID, periodStart, periodEnd)
	if !fault.IsKind(err, fault.KindPersistenceFailure) {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	if !fault.Retryable(err) {
		t.Fatal("persistence failure should be retryable")
	}

	// Compensation: the reading is back to unbilled, the account untouched.
	rs, _ := f.readings.FindByMeter(ctx, "m-1", periodStart, periodEnd)
	if rs[0].Billed {
		t.Fatal("reading left billed after failed run")
	}
	cust, _ := f.customers.FindByID(ctx, customerID)
	if !cust.Balance.IsZero() {
		t.Fatalf("balance mutated: %s", cust.Balance)
	}

	// A retry against a healthy repo succeeds.
	failing.failSave = false
	if _, err := svc.GenerateInvoice(ctx, customerID, periodStart, periodEnd); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

type failingCustomerRepo struct {
	*customermem.Repository
	failDebit bool
}

func (r *failingCustomerRepo) DebitAccount(ctx context.Context, id string, amount money.Money) error {
	if r.failDebit {
		return errors.New("ledger offline")
	}
	return r.Repository.DebitAccount(ctx, id, amount)
}

func TestGenerateInvoiceCompensatesOnDebitFailure(t *testing.T) {
	f := newFixture(t)
	customerID := f.seedFlat(t)
	ctx := context.Background()

	failing := &failingCustomerRepo{Repository: f.customers, failDebit: true}
	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	svc, err := NewBillingService(f.invoices, failing, f.tariffs, f.meters, f.readings,
		locking.NewKeyedMutex(), node, nil)
	if err != nil {
		t.Fatalf("NewBillingService: %v", err)
	}

	_, err = svc.GenerateInvoice(ctx, customerID, periodStart, periodEnd)
	if !fault.IsKind(err, fault.KindPersistenceFailure) {
		t.Fatalf("expected persistence failure, got %v", err)
	}

	// The persisted invoice was deleted and the reading unbilled.
	invs, _ := f.invoices.FindByCustomer(ctx, customerID)
	if len(invs) != 0 {
		t.Fatalf("invoice left behind after failed debit: %d", len(invs))
	}
	rs, _ := f.readings.FindByMeter(ctx, "m-1", periodStart, periodEnd)
	if rs[0].Billed {
		t.Fatal("reading left billed after failed debit")
	}
}
