package metering

import (
	"errors"
	"time"

	"utilibill/internal/fault"
)

// MeterType distinguishes electricity and gas meters.
type MeterType string

const (
	MeterTypeElectricity MeterType = "electricity"
	MeterTypeGas         MeterType = "gas"
)

// DefaultRolloverTolerance is the fraction of the rollover ceiling a
// register must have reached for a regressed value to count as a
// rollover rather than a data-entry error.
const DefaultRolloverTolerance = 0.95

// DefaultMaxReading is the rollover ceiling for a standard five-digit register.
const DefaultMaxReading = 99999

// Meter is a physical electricity or gas meter owned by one customer.
// Meters are never deleted, only deactivated.
type Meter struct {
	ID              string
	CustomerID      string
	Type            MeterType
	DayNightCapable bool
	ImperialUnits   bool
	CurrentReading  float64
	CurrentDay      float64
	CurrentNight    float64
	MaxReading      float64
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ValidType reports whether t is a known meter type.
func ValidType(t MeterType) bool {
	return t == MeterTypeElectricity || t == MeterTypeGas
}

// ChannelConsumption computes the consumption delta for one register
// channel. A regressed value is a rollover only when the previous value
// sits within tolerance of the ceiling; otherwise it is rejected.
func ChannelConsumption(previous, next, maxReading, tolerance float64) (float64, error) {
	if next < 0 {
		return 0, fault.New(fault.KindInvalidReading, "reading value is negative").WithValue(next)
	}
	if next >= previous {
		return next - previous, nil
	}
	if maxReading > 0 && previous >= tolerance*maxReading {
		return (maxReading - previous) + next, nil
	}
	return 0, fault.New(fault.KindInvalidReading, "reading regressed without plausible rollover").WithValue(next)
}

// ApplySingle validates a new register value against the current one,
// advances the register and returns the consumption delta together with
// the previous value. The meter is untouched when validation fails.
func (m *Meter) ApplySingle(value, tolerance float64) (consumption, previous float64, err error) {
	previous = m.CurrentReading
	consumption, err = ChannelConsumption(previous, value, m.MaxReading, tolerance)
	if err != nil {
		return 0, 0, withMeter(err, m.ID)
	}
	m.CurrentReading = value
	m.UpdatedAt = time.Now().UTC()
	return consumption, previous, nil
}

// ApplySplit advances both day and night registers. Both channels are
// validated before either register moves.
func (m *Meter) ApplySplit(day, night, tolerance float64) (dayCons, nightCons, prevDay, prevNight float64, err error) {
	prevDay = m.CurrentDay
	prevNight = m.CurrentNight
	dayCons, err = ChannelConsumption(prevDay, day, m.MaxReading, tolerance)
	if err != nil {
		return 0, 0, 0, 0, withMeter(err, m.ID)
	}
	nightCons, err = ChannelConsumption(prevNight, night, m.MaxReading, tolerance)
	if err != nil {
		return 0, 0, 0, 0, withMeter(err, m.ID)
	}
	m.CurrentDay = day
	m.CurrentNight = night
	m.CurrentReading = day + night
	m.UpdatedAt = time.Now().UTC()
	return dayCons, nightCons, prevDay, prevNight, nil
}

// Clone returns a detached copy.
func (m *Meter) Clone() *Meter {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

func withMeter(err error, meterID string) error {
	var fe *fault.Error
	if errors.As(err, &fe) && fe.EntityID == "" {
		fe.EntityID = meterID
	}
	return err
}
