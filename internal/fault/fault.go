package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a billing engine failure.
type Kind string

const (
	// KindInvalidReading marks a negative value or an unexplained regression.
	KindInvalidReading Kind = "invalid_reading"
	// KindInvalidBillingPeriod marks a zero or inverted date range.
	KindInvalidBillingPeriod Kind = "invalid_billing_period"
	// KindNoTariffAssigned marks a customer without an assigned tariff.
	KindNoTariffAssigned Kind = "no_tariff_assigned"
	// KindTariffNotFound marks a missing or inactive tariff.
	KindTariffNotFound Kind = "tariff_not_found"
	// KindNoMatchingMeter marks a customer without a meter of the tariff's type.
	KindNoMatchingMeter Kind = "no_matching_meter"
	// KindNothingToBill marks a billing window with no unbilled readings.
	KindNothingToBill Kind = "nothing_to_bill"
	// KindPersistenceFailure marks a repository failure; retryable after compensation.
	KindPersistenceFailure Kind = "persistence_failure"
	// KindLedgerInconsistency marks an internal invariant violation. Not user-recoverable.
	KindLedgerInconsistency Kind = "ledger_inconsistency"
)

// Error is the single tagged error type of the billing engine. It carries
// the failure kind plus the entity and value that triggered it.
type Error struct {
	Kind     Kind
	EntityID string
	Value    float64
	HasValue bool
	Message  string
	Cause    error
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithEntity attaches the offending entity id.
func (e *Error) WithEntity(id string) *Error {
	e.EntityID = id
	return e
}

// WithValue attaches the offending numeric value.
func (e *Error) WithValue(value float64) *Error {
	e.Value = value
	e.HasValue = true
	return e
}

// Wrap attaches an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.EntityID != "" {
		msg += fmt.Sprintf(" (entity %s)", e.EntityID)
	}
	if e.HasValue {
		msg += fmt.Sprintf(" (value %g)", e.Value)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches two faults by kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// KindOf returns the fault kind of err, or "" when err is not a fault.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err is a fault of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the caller may safely retry the operation.
func Retryable(err error) bool {
	return IsKind(err, KindPersistenceFailure)
}
