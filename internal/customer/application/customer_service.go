package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	customer "utilibill/internal/customer/domain"
	"utilibill/internal/fault"
	metering "utilibill/internal/metering/domain"
	tariff "utilibill/internal/tariff/domain"
)

// MeterInput describes the meter installed during onboarding.
type MeterInput struct {
	Type            metering.MeterType
	DayNightCapable bool
	ImperialUnits   bool
	InitialReading  float64
	InitialDay      float64
	InitialNight    float64
	MaxReading      float64
}

// OnboardInput describes a new account and its first meter.
type OnboardInput struct {
	Name          string
	AccountNumber string
	TariffID      string
	Meter         MeterInput
}

// CustomerService onboards accounts and manages tariff assignment.
type CustomerService struct {
	customers customer.Repository
	meters    metering.MeterRepository
	tariffs   tariff.Repository
}

// NewCustomerService constructs a CustomerService.
func NewCustomerService(customers customer.Repository, meters metering.MeterRepository, tariffs tariff.Repository) (*CustomerService, error) {
	if customers == nil {
		return nil, errors.New("customer service: nil customer repository")
	}
	if meters == nil {
		return nil, errors.New("customer service: nil meter repository")
	}
	if tariffs == nil {
		return nil, errors.New("customer service: nil tariff repository")
	}
	return &CustomerService{customers: customers, meters: meters, tariffs: tariffs}, nil
}

// Onboard creates a customer account together with its first meter.
func (s *CustomerService) Onboard(ctx context.Context, input OnboardInput) (*customer.Customer, *metering.Meter, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, nil, errors.New("customer service: customer name is required")
	}
	if !metering.ValidType(input.Meter.Type) {
		return nil, nil, errors.New("customer service: unknown meter type")
	}
	if input.TariffID != "" {
		if err := s.ensureAssignable(ctx, input.TariffID); err != nil {
			return nil, nil, err
		}
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	accountNumber := strings.TrimSpace(input.AccountNumber)
	if accountNumber == "" {
		accountNumber = "AC-" + strings.ToUpper(id[:8])
	}

	cust := &customer.Customer{
		ID:            id,
		Name:          name,
		AccountNumber: accountNumber,
		TariffID:      input.TariffID,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	maxReading := input.Meter.MaxReading
	if maxReading <= 0 {
		maxReading = metering.DefaultMaxReading
	}
	meter := &metering.Meter{
		ID:              uuid.NewString(),
		CustomerID:      id,
		Type:            input.Meter.Type,
		DayNightCapable: input.Meter.DayNightCapable,
		ImperialUnits:   input.Meter.ImperialUnits,
		CurrentReading:  input.Meter.InitialReading,
		CurrentDay:      input.Meter.InitialDay,
		CurrentNight:    input.Meter.InitialNight,
		MaxReading:      maxReading,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.customers.Save(ctx, cust); err != nil {
		return nil, nil, fault.Wrap(fault.KindPersistenceFailure, "save customer", err)
	}
	if err := s.meters.Save(ctx, meter); err != nil {
		return nil, nil, fault.Wrap(fault.KindPersistenceFailure, "save meter", err)
	}
	return cust, meter, nil
}

// Customer loads one account with its meters.
func (s *CustomerService) Customer(ctx context.Context, id string) (*customer.Customer, []*metering.Meter, error) {
	if id == "" {
		return nil, nil, errors.New("customer service: empty customer id")
	}
	cust, err := s.customers.FindByID(ctx, id)
	if err != nil {
		return nil, nil, fault.Wrap(fault.KindPersistenceFailure, "load customer", err)
	}
	if cust == nil {
		return nil, nil, errors.New("customer service: customer not found")
	}
	meters, err := s.meters.FindByCustomer(ctx, id)
	if err != nil {
		return nil, nil, fault.Wrap(fault.KindPersistenceFailure, "load meters", err)
	}
	return cust, meters, nil
}

// AssignTariff points the account at a new active tariff. Already
// issued invoices keep their snapshots.
func (s *CustomerService) AssignTariff(ctx context.Context, customerID, tariffID string) (*customer.Customer, error) {
	if customerID == "" || tariffID == "" {
		return nil, errors.New("customer service: empty id")
	}
	if err := s.ensureAssignable(ctx, tariffID); err != nil {
		return nil, err
	}
	cust, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		return nil, fault.Wrap(fault.KindPersistenceFailure, "load customer", err)
	}
	if cust == nil {
		return nil, errors.New("customer service: customer not found")
	}
	cust.TariffID = tariffID
	cust.UpdatedAt = time.Now().UTC()
	if err := s.customers.Update(ctx, cust); err != nil {
		return nil, fault.Wrap(fault.KindPersistenceFailure, "update customer", err)
	}
	return cust, nil
}

func (s *CustomerService) ensureAssignable(ctx context.Context, tariffID string) error {
	t, err := s.tariffs.FindByID(ctx, tariffID)
	if err != nil {
		return fault.Wrap(fault.KindPersistenceFailure, "load tariff", err)
	}
	if t == nil || !t.Active {
		return fault.New(fault.KindTariffNotFound, "tariff missing or inactive").WithEntity(tariffID)
	}
	return nil
}
