package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"utilibill/internal/fault"
	metering "utilibill/internal/metering/domain"
	tariff "utilibill/internal/tariff/domain"
)

// TariffService manages the tariff catalog.
type TariffService struct {
	tariffs tariff.Repository
}

// NewTariffService constructs a TariffService.
func NewTariffService(tariffs tariff.Repository) (*TariffService, error) {
	if tariffs == nil {
		return nil, errors.New("tariff service: nil repository")
	}
	return &TariffService{tariffs: tariffs}, nil
}

// Create validates and stores a new tariff.
func (s *TariffService) Create(ctx context.Context, t *tariff.Tariff) (*tariff.Tariff, error) {
	if t == nil {
		return nil, errors.New("tariff service: nil tariff")
	}
	if strings.TrimSpace(t.Name) == "" {
		return nil, errors.New("tariff service: tariff name is required")
	}
	if !tariff.ValidKind(t.Kind) {
		return nil, errors.New("tariff service: unknown pricing kind")
	}
	if !metering.ValidType(t.MeterType) {
		return nil, errors.New("tariff service: unknown meter type")
	}
	if err := validateRates(t); err != nil {
		return nil, err
	}

	created := t.Clone()
	now := time.Now().UTC()
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if created.EffectiveFrom.IsZero() {
		created.EffectiveFrom = now
	}
	created.Active = true
	created.CreatedAt = now
	created.UpdatedAt = now
	if err := s.tariffs.Save(ctx, created); err != nil {
		return nil, fault.Wrap(fault.KindPersistenceFailure, "save tariff", err)
	}
	return created, nil
}

// Tariff loads one tariff by id.
func (s *TariffService) Tariff(ctx context.Context, id string) (*tariff.Tariff, error) {
	if id == "" {
		return nil, errors.New("tariff service: empty tariff id")
	}
	t, err := s.tariffs.FindByID(ctx, id)
	if err != nil {
		return nil, fault.Wrap(fault.KindPersistenceFailure, "load tariff", err)
	}
	if t == nil {
		return nil, fault.New(fault.KindTariffNotFound, "tariff not found").WithEntity(id)
	}
	return t, nil
}

// List returns the catalog, optionally filtered to active tariffs.
func (s *TariffService) List(ctx context.Context, activeOnly bool) ([]*tariff.Tariff, error) {
	list, err := s.tariffs.List(ctx)
	if err != nil {
		return nil, fault.Wrap(fault.KindPersistenceFailure, "list tariffs", err)
	}
	if !activeOnly {
		return list, nil
	}
	filtered := make([]*tariff.Tariff, 0, len(list))
	for _, t := range list {
		if t.Active {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

// Deactivate stops new assignments to a tariff. Invoices already
// issued against it keep their snapshots.
func (s *TariffService) Deactivate(ctx context.Context, id string) (*tariff.Tariff, error) {
	t, err := s.Tariff(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return t, nil
	}
	t.Deactivate()
	if err := s.tariffs.Update(ctx, t); err != nil {
		return nil, fault.Wrap(fault.KindPersistenceFailure, "update tariff", err)
	}
	return t, nil
}

func validateRates(t *tariff.Tariff) error {
	switch t.Kind {
	case tariff.KindFlat:
		if t.RatePence.IsNegative() {
			return errors.New("tariff service: flat rate must not be negative")
		}
	case tariff.KindDayNight:
		if t.DayRatePence.IsNegative() || t.NightRatePence.IsNegative() {
			return errors.New("tariff service: day/night rates must not be negative")
		}
	case tariff.KindTiered:
		if t.ThresholdUnits.Sign() <= 0 {
			return errors.New("tariff service: tier threshold must be positive")
		}
		if t.TierOneRatePence.IsNegative() || t.TierTwoRatePence.IsNegative() {
			return errors.New("tariff service: tier rates must not be negative")
		}
	case tariff.KindGas:
		if t.RatePence.IsNegative() {
			return errors.New("tariff service: gas rate must not be negative")
		}
		if t.MeterType != metering.MeterTypeGas {
			return errors.New("tariff service: gas pricing requires a gas meter type")
		}
	}
	if t.StandingChargeDaily.IsNegative() {
		return errors.New("tariff service: standing charge must not be negative")
	}
	if t.VATRate.IsNegative() {
		return errors.New("tariff service: vat rate must not be negative")
	}
	return nil
}
