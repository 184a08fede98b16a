package fault

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorMessageCarriesContext(t *testing.T) {
	err := New(KindInvalidReading, "reading regressed").WithEntity("m-1").WithValue(-5)
	msg := err.Error()
	for _, want := range []string{"invalid_reading", "reading regressed", "m-1", "-5"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindPersistenceFailure, "save invoice", cause)
	if !errors.Is(err, cause) {
		t.Fatal("cause not reachable through Unwrap")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("message %q missing cause", err.Error())
	}
}

func TestKindOf(t *testing.T) {
	err := New(KindNothingToBill, "nothing in period")
	if KindOf(err) != KindNothingToBill {
		t.Fatalf("KindOf = %s", KindOf(err))
	}
	wrapped := fmt.Errorf("outer: %w", err)
	if KindOf(wrapped) != KindNothingToBill {
		t.Fatalf("KindOf through wrap = %s", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatal("plain error reported a kind")
	}
}

func TestIsMatchesByKind(t *testing.T) {
	a := New(KindTariffNotFound, "one").WithEntity("t-1")
	b := New(KindTariffNotFound, "another").WithEntity("t-2")
	if !errors.Is(a, b) {
		t.Fatal("faults of the same kind should match")
	}
	c := New(KindNoMatchingMeter, "different")
	if errors.Is(a, c) {
		t.Fatal("faults of different kinds should not match")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(Wrap(KindPersistenceFailure, "save", errors.New("io"))) {
		t.Fatal("persistence failures are retryable")
	}
	if Retryable(New(KindLedgerInconsistency, "bad state")) {
		t.Fatal("ledger inconsistencies are not retryable")
	}
}
