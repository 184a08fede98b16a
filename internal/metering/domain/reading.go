package metering

import (
	"time"

	"utilibill/internal/fault"
)

// ReadingKind distinguishes actual meter reads from estimates.
type ReadingKind string

const (
	ReadingActual    ReadingKind = "actual"
	ReadingEstimated ReadingKind = "estimated"
)

// Reading is a recorded reading event. The previous register values are
// captured at creation time for auditability. A reading is billed at
// most once and is immutable afterwards apart from the billed flag.
type Reading struct {
	ID         string
	MeterID    string
	CustomerID string
	Date       time.Time
	Kind       ReadingKind

	Value      float64
	DayValue   float64
	NightValue float64

	PrevValue float64
	PrevDay   float64
	PrevNight float64

	Consumption      float64
	DayConsumption   float64
	NightConsumption float64

	// ImperialUnits marks raw volumetric imperial gas units. Metric
	// conversion happens at tariff-calculation time, not here.
	ImperialUnits bool

	Billed    bool
	CreatedAt time.Time
}

// MarkBilled flips the billed flag. Billing an already-billed reading
// is an internal invariant violation, never a user error.
func (r *Reading) MarkBilled() error {
	if r.Billed {
		return fault.New(fault.KindLedgerInconsistency, "reading already billed").WithEntity(r.ID)
	}
	r.Billed = true
	return nil
}

// Unbill reverts the billed flag during compensation.
func (r *Reading) Unbill() {
	r.Billed = false
}

// Clone returns a detached copy.
func (r *Reading) Clone() *Reading {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}
