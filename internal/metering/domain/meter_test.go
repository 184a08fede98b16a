package metering

import (
	"testing"

	"utilibill/internal/fault"
)

func TestChannelConsumptionDelta(t *testing.T) {
	got, err := ChannelConsumption(12000, 12100, DefaultMaxReading, DefaultRolloverTolerance)
	if err != nil {
		t.Fatalf("ChannelConsumption: %v", err)
	}
	if got != 100 {
		t.Fatalf("consumption = %v, want 100", got)
	}
}

func TestChannelConsumptionRollover(t *testing.T) {
	// Register near the ceiling wrapping to a small value.
	got, err := ChannelConsumption(99950, 50, DefaultMaxReading, DefaultRolloverTolerance)
	if err != nil {
		t.Fatalf("ChannelConsumption: %v", err)
	}
	want := float64(99999-99950) + 50
	if got != want {
		t.Fatalf("consumption = %v, want %v", got, want)
	}
}

func TestChannelConsumptionRegressionRejected(t *testing.T) {
	// Previous value nowhere near the ceiling: regression is an error,
	// not a rollover.
	_, err := ChannelConsumption(50000, 49000, DefaultMaxReading, DefaultRolloverTolerance)
	if !fault.IsKind(err, fault.KindInvalidReading) {
		t.Fatalf("expected invalid reading, got %v", err)
	}
}

func TestChannelConsumptionNegativeRejected(t *testing.T) {
	_, err := ChannelConsumption(100, -1, DefaultMaxReading, DefaultRolloverTolerance)
	if !fault.IsKind(err, fault.KindInvalidReading) {
		t.Fatalf("expected invalid reading, got %v", err)
	}
}

func TestApplySingleAdvancesRegister(t *testing.T) {
	m := &Meter{ID: "m-1", CurrentReading: 500, MaxReading: DefaultMaxReading}
	cons, prev, err := m.ApplySingle(620, DefaultRolloverTolerance)
	if err != nil {
		t.Fatalf("ApplySingle: %v", err)
	}
	if cons != 120 || prev != 500 {
		t.Fatalf("cons=%v prev=%v, want 120/500", cons, prev)
	}
	if m.CurrentReading != 620 {
		t.Fatalf("register = %v, want 620", m.CurrentReading)
	}
}

func TestApplySingleFailureLeavesMeterUntouched(t *testing.T) {
	m := &Meter{ID: "m-1", CurrentReading: 500, MaxReading: DefaultMaxReading}
	if _, _, err := m.ApplySingle(400, DefaultRolloverTolerance); err == nil {
		t.Fatal("expected error")
	}
	if m.CurrentReading != 500 {
		t.Fatalf("register moved to %v on failed apply", m.CurrentReading)
	}
}

func TestApplySplitValidatesBothChannelsFirst(t *testing.T) {
	m := &Meter{
		ID:              "m-2",
		DayNightCapable: true,
		CurrentDay:      1000,
		CurrentNight:    2000,
		MaxReading:      DefaultMaxReading,
	}
	// Day value is fine, night regresses: neither register may move.
	_, _, _, _, err := m.ApplySplit(1100, 1900, DefaultRolloverTolerance)
	if !fault.IsKind(err, fault.KindInvalidReading) {
		t.Fatalf("expected invalid reading, got %v", err)
	}
	if m.CurrentDay != 1000 || m.CurrentNight != 2000 {
		t.Fatalf("registers moved on failed apply: day=%v night=%v", m.CurrentDay, m.CurrentNight)
	}
}

func TestApplySplitAdvancesBothRegisters(t *testing.T) {
	m := &Meter{
		ID:              "m-2",
		DayNightCapable: true,
		CurrentDay:      1000,
		CurrentNight:    2000,
		MaxReading:      DefaultMaxReading,
	}
	dayCons, nightCons, prevDay, prevNight, err := m.ApplySplit(1120, 2060, DefaultRolloverTolerance)
	if err != nil {
		t.Fatalf("ApplySplit: %v", err)
	}
	if dayCons != 120 || nightCons != 60 {
		t.Fatalf("cons day=%v night=%v, want 120/60", dayCons, nightCons)
	}
	if prevDay != 1000 || prevNight != 2000 {
		t.Fatalf("prev day=%v night=%v", prevDay, prevNight)
	}
	if m.CurrentReading != 1120+2060 {
		t.Fatalf("combined register = %v", m.CurrentReading)
	}
}

func TestMarkBilledTwice(t *testing.T) {
	r := &Reading{ID: "r-1"}
	if err := r.MarkBilled(); err != nil {
		t.Fatalf("first MarkBilled: %v", err)
	}
	if err := r.MarkBilled(); !fault.IsKind(err, fault.KindLedgerInconsistency) {
		t.Fatalf("expected ledger inconsistency, got %v", err)
	}
	r.Unbill()
	if r.Billed {
		t.Fatal("Unbill did not clear the flag")
	}
}
