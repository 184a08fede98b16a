package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"utilibill/internal/fault"
	"utilibill/internal/locking"
	metering "utilibill/internal/metering/domain"
	meteringmem "utilibill/internal/metering/infrastructure/memory"
)

func newService(t *testing.T, meter *metering.Meter) (*ReadingService, *meteringmem.MeterRepository, *meteringmem.ReadingRepository) {
	t.Helper()
	meters := meteringmem.NewMeterRepository()
	readings := meteringmem.NewReadingRepository()
	if err := meters.Save(context.Background(), meter); err != nil {
		t.Fatalf("save meter: %v", err)
	}
	svc, err := NewReadingService(meters, readings, locking.NewKeyedMutex())
	if err != nil {
		t.Fatalf("NewReadingService: %v", err)
	}
	return svc, meters, readings
}

func electricityMeter() *metering.Meter {
	return &metering.Meter{
		ID:             "m-1",
		CustomerID:     "c-1",
		Type:           metering.MeterTypeElectricity,
		CurrentReading: 12000,
		MaxReading:     metering.DefaultMaxReading,
		Active:         true,
	}
}

func TestRecordReadingAdvancesMeter(t *testing.T) {
	svc, meters, readings := newService(t, electricityMeter())
	ctx := context.Background()

	r, err := svc.RecordReading(ctx, RecordReadingInput{
		MeterID: "m-1",
		Date:    time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Value:   12100,
	})
	if err != nil {
		t.Fatalf("RecordReading: %v", err)
	}
	if r.Consumption != 100 || r.PrevValue != 12000 {
		t.Fatalf("consumption=%v prev=%v", r.Consumption, r.PrevValue)
	}
	if r.Kind != metering.ReadingActual {
		t.Fatalf("default kind = %s, want actual", r.Kind)
	}

	meter, _ := meters.FindByID(ctx, "m-1")
	if meter.CurrentReading != 12100 {
		t.Fatalf("register = %v, want 12100", meter.CurrentReading)
	}
	stored, _ := readings.FindByMeter(ctx, "m-1", time.Time{}, time.Time{})
	if len(stored) != 1 {
		t.Fatalf("stored readings = %d", len(stored))
	}
}

func TestRecordReadingRegressionRejected(t *testing.T) {
	svc, meters, _ := newService(t, electricityMeter())
	ctx := context.Background()

	_, err := svc.RecordReading(ctx, RecordReadingInput{
		MeterID: "m-1",
		Date:    time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Value:   11000,
	})
	if !fault.IsKind(err, fault.KindInvalidReading) {
		t.Fatalf("expected invalid reading, got %v", err)
	}
	meter, _ := meters.FindByID(ctx, "m-1")
	if meter.CurrentReading != 12000 {
		t.Fatalf("register moved on rejected reading: %v", meter.CurrentReading)
	}
}

func TestRecordReadingRollover(t *testing.T) {
	meter := electricityMeter()
	meter.CurrentReading = 99950
	svc, _, _ := newService(t, meter)

	r, err := svc.RecordReading(context.Background(), RecordReadingInput{
		MeterID: "m-1",
		Date:    time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Value:   50,
	})
	if err != nil {
		t.Fatalf("RecordReading: %v", err)
	}
	if want := float64(99999-99950) + 50; r.Consumption != want {
		t.Fatalf("consumption = %v, want %v", r.Consumption, want)
	}
}

func TestRecordReadingSplitMeter(t *testing.T) {
	meter := &metering.Meter{
		ID:              "m-dn",
		CustomerID:      "c-1",
		Type:            metering.MeterTypeElectricity,
		DayNightCapable: true,
		CurrentDay:      1000,
		CurrentNight:    2000,
		MaxReading:      metering.DefaultMaxReading,
		Active:          true,
	}
	svc, _, _ := newService(t, meter)

	r, err := svc.RecordReading(context.Background(), RecordReadingInput{
		MeterID:    "m-dn",
		Date:       time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		DayValue:   1120,
		NightValue: 2060,
	})
	if err != nil {
		t.Fatalf("RecordReading: %v", err)
	}
	if r.DayConsumption != 120 || r.NightConsumption != 60 || r.Consumption != 180 {
		t.Fatalf("split consumption = %+v", r)
	}
}

func TestRecordReadingInactiveMeter(t *testing.T) {
	meter := electricityMeter()
	meter.Active = false
	svc, _, _ := newService(t, meter)

	_, err := svc.RecordReading(context.Background(), RecordReadingInput{
		MeterID: "m-1",
		Date:    time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Value:   12100,
	})
	if !fault.IsKind(err, fault.KindInvalidReading) {
		t.Fatalf("expected invalid reading, got %v", err)
	}
}

func TestRecordReadingUnknownKind(t *testing.T) {
	svc, _, _ := newService(t, electricityMeter())

	_, err := svc.RecordReading(context.Background(), RecordReadingInput{
		MeterID: "m-1",
		Date:    time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Kind:    metering.ReadingKind("guessed"),
		Value:   12100,
	})
	if !fault.IsKind(err, fault.KindInvalidReading) {
		t.Fatalf("expected invalid reading, got %v", err)
	}
}

// rendezvousMeterRepo holds the first two lookups until both have
// arrived, so two concurrent recordings observe the same register
// before either takes the customer lock.
type rendezvousMeterRepo struct {
	*meteringmem.MeterRepository
	arrived chan struct{}
	calls   int32
}

func (r *rendezvousMeterRepo) FindByID(ctx context.Context, id string) (*metering.Meter, error) {
	if n := atomic.AddInt32(&r.calls, 1); n == 2 {
		close(r.arrived)
	} else if n < 2 {
		<-r.arrived
	}
	return r.MeterRepository.FindByID(ctx, id)
}

func TestRecordReadingConcurrentSameMeter(t *testing.T) {
	ctx := context.Background()
	meters := meteringmem.NewMeterRepository()
	readings := meteringmem.NewReadingRepository()
	if err := meters.Save(ctx, electricityMeter()); err != nil {
		t.Fatalf("save meter: %v", err)
	}
	gated := &rendezvousMeterRepo{MeterRepository: meters, arrived: make(chan struct{})}
	svc, err := NewReadingService(gated, readings, locking.NewKeyedMutex())
	if err != nil {
		t.Fatalf("NewReadingService: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordReading(ctx, RecordReadingInput{
				MeterID: "m-1",
				Date:    time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
				Value:   12100,
			})
			if err != nil {
				t.Errorf("RecordReading: %v", err)
			}
		}()
	}
	wg.Wait()

	// Whichever recording ran second must see the advanced register,
	// not the pre-lock copy: the register moved by 100 in total.
	stored, err := readings.FindByMeter(ctx, "m-1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("FindByMeter: %v", err)
	}
	var total float64
	for _, r := range stored {
		total += r.Consumption
	}
	if total != 100 {
		t.Fatalf("total consumption = %v, want 100", total)
	}
	meter, _ := meters.FindByID(ctx, "m-1")
	if meter.CurrentReading != 12100 {
		t.Fatalf("register = %v, want 12100", meter.CurrentReading)
	}
}

type failingMeterRepo struct {
	*meteringmem.MeterRepository
	failUpdate bool
}

func (r *failingMeterRepo) Update(ctx context.Context, m *metering.Meter) error {
	if r.failUpdate {
		return errors.New("disk full")
	}
	return r.MeterRepository.Update(ctx, m)
}

func TestRecordReadingCompensatesOnMeterUpdateFailure(t *testing.T) {
	ctx := context.Background()
	meters := meteringmem.NewMeterRepository()
	readings := meteringmem.NewReadingRepository()
	if err := meters.Save(ctx, electricityMeter()); err != nil {
		t.Fatalf("save meter: %v", err)
	}
	failing := &failingMeterRepo{MeterRepository: meters, failUpdate: true}
	svc, err := NewReadingService(failing, readings, locking.NewKeyedMutex())
	if err != nil {
		t.Fatalf("NewReadingService: %v", err)
	}

	in := RecordReadingInput{
		MeterID: "m-1",
		Date:    time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Value:   12100,
	}
	_, err = svc.RecordReading(ctx, in)
	if !fault.IsKind(err, fault.KindPersistenceFailure) {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	if !fault.Retryable(err) {
		t.Fatal("expected retryable failure")
	}

	// The saved reading is rolled back and the register never advanced.
	stored, err := readings.FindByMeter(ctx, "m-1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("FindByMeter: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("stored readings = %d, want 0", len(stored))
	}
	meter, _ := meters.FindByID(ctx, "m-1")
	if meter.CurrentReading != 12000 {
		t.Fatalf("register = %v, want 12000", meter.CurrentReading)
	}

	// Once the store recovers the same reading goes through cleanly.
	failing.failUpdate = false
	r, err := svc.RecordReading(ctx, in)
	if err != nil {
		t.Fatalf("retry RecordReading: %v", err)
	}
	if r.Consumption != 100 || r.PrevValue != 12000 {
		t.Fatalf("retry consumption=%v prev=%v", r.Consumption, r.PrevValue)
	}
}
