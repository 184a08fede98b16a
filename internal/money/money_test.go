package money

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"utilibill/internal/fault"
)

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2.1285", "2.13"},
		{"2.1240", "2.12"},
		{"2.125", "2.13"},
		{"0.005", "0.01"},
		{"42.57", "42.57"},
	}
	for _, tc := range cases {
		got := RoundHalfUp(decimal.RequireFromString(tc.in)).StringFixed(2)
		if got != tc.want {
			t.Fatalf("RoundHalfUp(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestFromPence(t *testing.T) {
	if got := FromPence(4257).String(); got != "42.57" {
		t.Fatalf("FromPence(4257) = %s", got)
	}
	if got := FromPence(5).String(); got != "0.05" {
		t.Fatalf("FromPence(5) = %s", got)
	}
}

func TestArithmetic(t *testing.T) {
	a := FromPounds(28.62)
	b := FromPounds(13.95)
	if got := a.Add(b).String(); got != "42.57" {
		t.Fatalf("add = %s", got)
	}
	if got := a.Sub(b).String(); got != "14.67" {
		t.Fatalf("sub = %s", got)
	}
	if got := FromPounds(0.45).MulInt(31).String(); got != "13.95" {
		t.Fatalf("mul = %s", got)
	}
	if !FromPounds(1.00).Sub(FromPounds(2.00)).IsNegative() {
		t.Fatal("expected negative result")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(FromPounds(44.70))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"44.70"` {
		t.Fatalf("marshal = %s", data)
	}
	var m Money
	if err := json.Unmarshal([]byte(`"235.02"`), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.String() != "235.02" {
		t.Fatalf("unmarshal = %s", m)
	}
}

func TestBillingDaysInclusive(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	days, err := BillingDays(start, end)
	if err != nil {
		t.Fatalf("BillingDays: %v", err)
	}
	if days != 31 {
		t.Fatalf("days = %d, want 31", days)
	}

	sameDay, err := BillingDays(start, start)
	if err != nil {
		t.Fatalf("BillingDays same day: %v", err)
	}
	if sameDay != 1 {
		t.Fatalf("same day = %d, want 1", sameDay)
	}
}

func TestBillingDaysInvalid(t *testing.T) {
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := BillingDays(start, end); !fault.IsKind(err, fault.KindInvalidBillingPeriod) {
		t.Fatalf("expected invalid billing period, got %v", err)
	}
	if _, err := BillingDays(time.Time{}, end); !fault.IsKind(err, fault.KindInvalidBillingPeriod) {
		t.Fatalf("expected invalid billing period for zero boundary, got %v", err)
	}
}
