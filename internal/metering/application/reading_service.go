package application

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"utilibill/internal/fault"
	"utilibill/internal/locking"
	metering "utilibill/internal/metering/domain"
	"utilibill/internal/observability/metrics"
)

// RecordReadingInput carries one reading event. Value is used for
// single-register meters; DayValue/NightValue for split meters.
type RecordReadingInput struct {
	MeterID    string
	Date       time.Time
	Kind       metering.ReadingKind
	Value      float64
	DayValue   float64
	NightValue float64
}

// ReadingService records reading events against meters. Meter state
// mutations run under the owning customer's lock, shared with billing.
type ReadingService struct {
	meters   metering.MeterRepository
	readings metering.ReadingRepository
	locks    *locking.KeyedMutex
	logger   *log.Logger

	rolloverTolerance float64
}

// ReadingOption configures the service.
type ReadingOption func(*ReadingService)

// WithRolloverTolerance overrides the rollover heuristic fraction.
func WithRolloverTolerance(tolerance float64) ReadingOption {
	return func(s *ReadingService) {
		if tolerance > 0 && tolerance <= 1 {
			s.rolloverTolerance = tolerance
		}
	}
}

// WithLogger attaches a logger for compensation failures.
func WithLogger(logger *log.Logger) ReadingOption {
	return func(s *ReadingService) {
		s.logger = logger
	}
}

// NewReadingService constructs the service.
func NewReadingService(meters metering.MeterRepository, readings metering.ReadingRepository, locks *locking.KeyedMutex, opts ...ReadingOption) (*ReadingService, error) {
	if meters == nil {
		return nil, errors.New("reading service: nil meter repo")
	}
	if readings == nil {
		return nil, errors.New("reading service: nil reading repo")
	}
	if locks == nil {
		return nil, errors.New("reading service: nil locks")
	}
	s := &ReadingService{
		meters:            meters,
		readings:          readings,
		locks:             locks,
		rolloverTolerance: metering.DefaultRolloverTolerance,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RecordReading validates the new register values, computes consumption
// deltas (rollover-aware), advances the meter and persists the reading.
// A rejected reading leaves the meter untouched.
func (s *ReadingService) RecordReading(ctx context.Context, in RecordReadingInput) (*metering.Reading, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveReadingRecord(result, time.Since(start))
	}()

	r, err := s.recordReading(ctx, in)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	return r, nil
}

func (s *ReadingService) recordReading(ctx context.Context, in RecordReadingInput) (*metering.Reading, error) {
	if in.MeterID == "" {
		return nil, errors.New("reading service: meter id required")
	}
	if in.Date.IsZero() {
		return nil, fault.New(fault.KindInvalidReading, "reading date required").WithEntity(in.MeterID)
	}
	if in.Kind == "" {
		in.Kind = metering.ReadingActual
	}
	if in.Kind != metering.ReadingActual && in.Kind != metering.ReadingEstimated {
		return nil, fault.New(fault.KindInvalidReading, "unknown reading kind "+string(in.Kind)).WithEntity(in.MeterID)
	}

	meter, err := s.meters.FindByID(ctx, in.MeterID)
	if err != nil {
		return nil, fault.Wrap(fault.KindPersistenceFailure, "load meter", err)
	}
	if meter == nil {
		return nil, errors.New("reading service: meter not found")
	}

	unlock := s.locks.Lock(meter.CustomerID)
	defer unlock()

	// Reload under the lock: a concurrent recording or billing run may
	// have advanced the register between the lookup and the lock.
	meter, err = s.meters.FindByID(ctx, in.MeterID)
	if err != nil {
		return nil, fault.Wrap(fault.KindPersistenceFailure, "load meter", err)
	}
	if meter == nil {
		return nil, errors.New("reading service: meter not found")
	}
	if !meter.Active {
		return nil, fault.New(fault.KindInvalidReading, "meter is deactivated").WithEntity(meter.ID)
	}

	reading := &metering.Reading{
		ID:            uuid.NewString(),
		MeterID:       meter.ID,
		CustomerID:    meter.CustomerID,
		Date:          in.Date.UTC(),
		Kind:          in.Kind,
		ImperialUnits: meter.ImperialUnits,
		CreatedAt:     time.Now().UTC(),
	}

	if meter.DayNightCapable {
		dayCons, nightCons, prevDay, prevNight, err := meter.ApplySplit(in.DayValue, in.NightValue, s.rolloverTolerance)
		if err != nil {
			return nil, err
		}
		reading.DayValue = in.DayValue
		reading.NightValue = in.NightValue
		reading.PrevDay = prevDay
		reading.PrevNight = prevNight
		reading.DayConsumption = dayCons
		reading.NightConsumption = nightCons
		reading.Consumption = dayCons + nightCons
		reading.Value = in.DayValue + in.NightValue
		reading.PrevValue = prevDay + prevNight
	} else {
		cons, prev, err := meter.ApplySingle(in.Value, s.rolloverTolerance)
		if err != nil {
			return nil, err
		}
		reading.Value = in.Value
		reading.PrevValue = prev
		reading.Consumption = cons
	}

	if err := s.readings.Save(ctx, reading); err != nil {
		return nil, fault.Wrap(fault.KindPersistenceFailure, "persist reading", err)
	}
	if err := s.meters.Update(ctx, meter); err != nil {
		// Compensate: a durable reading without an advanced register
		// would double-count on the next recording.
		if derr := s.readings.Delete(ctx, reading.ID); derr != nil && s.logger != nil {
			s.logger.Printf("metering: compensation failed for reading %s: %v", reading.ID, derr)
		}
		return nil, fault.Wrap(fault.KindPersistenceFailure, "persist meter", err)
	}
	return reading, nil
}

// Readings lists readings for a meter within a date range.
func (s *ReadingService) Readings(ctx context.Context, meterID string, from, to time.Time) ([]*metering.Reading, error) {
	if meterID == "" {
		return nil, errors.New("reading service: meter id required")
	}
	rs, err := s.readings.FindByMeter(ctx, meterID, from, to)
	if err != nil {
		return nil, fault.Wrap(fault.KindPersistenceFailure, "load readings", err)
	}
	return rs, nil
}
