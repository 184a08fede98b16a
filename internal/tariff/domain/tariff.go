package tariff

import (
	"time"

	"github.com/shopspring/decimal"

	metering "utilibill/internal/metering/domain"
	"utilibill/internal/money"
)

// Kind is the closed set of pricing variants.
type Kind string

const (
	KindFlat     Kind = "flat"
	KindDayNight Kind = "day_night"
	KindTiered   Kind = "tiered"
	KindGas      Kind = "gas"
)

// Tariff is a pricing definition from the tariff catalog. Rates are
// pence per unit. A tariff referenced by an issued invoice is never
// hard-deleted; deactivation only stops new assignments.
type Tariff struct {
	ID            string
	Name          string
	MeterType     metering.MeterType
	Kind          Kind
	EffectiveFrom time.Time
	Active        bool

	// StandingChargeDaily is the fixed fee per billing day.
	StandingChargeDaily money.Money
	// VATRate is a fraction, e.g. 0.05 for 5%.
	VATRate decimal.Decimal

	// RatePence prices flat-rate electricity and, for gas, pence per kWh
	// after volumetric conversion.
	RatePence decimal.Decimal

	// Day/night split rates.
	DayRatePence   decimal.Decimal
	NightRatePence decimal.Decimal

	// Tiered threshold pricing: TierOneRatePence up to ThresholdUnits,
	// TierTwoRatePence for the excess. The threshold belongs to the
	// tariff, not to any customer.
	ThresholdUnits   decimal.Decimal
	TierOneRatePence decimal.Decimal
	TierTwoRatePence decimal.Decimal

	// Gas volumetric conversion parameters.
	CorrectionFactor decimal.Decimal
	CalorificValue   decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidKind reports whether k is a known pricing variant.
func ValidKind(k Kind) bool {
	switch k {
	case KindFlat, KindDayNight, KindTiered, KindGas:
		return true
	}
	return false
}

// Deactivate soft-deletes the tariff.
func (t *Tariff) Deactivate() {
	t.Active = false
	t.UpdatedAt = time.Now().UTC()
}

// StandingCharge totals the daily charge over the billing days.
func (t *Tariff) StandingCharge(billingDays int) money.Money {
	return t.StandingChargeDaily.MulInt(int64(billingDays))
}

// Clone returns a detached copy.
func (t *Tariff) Clone() *Tariff {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

// Snapshot freezes the rate fields onto an issued invoice so later
// catalog changes cannot alter it.
type Snapshot struct {
	TariffID            string             `json:"tariff_id"`
	Name                string             `json:"name"`
	Kind                Kind               `json:"kind"`
	MeterType           metering.MeterType `json:"meter_type"`
	StandingChargeDaily money.Money        `json:"standing_charge_daily"`
	VATRate             decimal.Decimal    `json:"vat_rate"`
	RatePence           decimal.Decimal    `json:"rate_pence"`
	DayRatePence        decimal.Decimal    `json:"day_rate_pence"`
	NightRatePence      decimal.Decimal    `json:"night_rate_pence"`
	ThresholdUnits      decimal.Decimal    `json:"threshold_units"`
	TierOneRatePence    decimal.Decimal    `json:"tier_one_rate_pence"`
	TierTwoRatePence    decimal.Decimal    `json:"tier_two_rate_pence"`
	CorrectionFactor    decimal.Decimal    `json:"correction_factor"`
	CalorificValue      decimal.Decimal    `json:"calorific_value"`
}

// Snapshot captures the current rate fields.
func (t *Tariff) Snapshot() Snapshot {
	return Snapshot{
		TariffID:            t.ID,
		Name:                t.Name,
		Kind:                t.Kind,
		MeterType:           t.MeterType,
		StandingChargeDaily: t.StandingChargeDaily,
		VATRate:             t.VATRate,
		RatePence:           t.RatePence,
		DayRatePence:        t.DayRatePence,
		NightRatePence:      t.NightRatePence,
		ThresholdUnits:      t.ThresholdUnits,
		TierOneRatePence:    t.TierOneRatePence,
		TierTwoRatePence:    t.TierTwoRatePence,
		CorrectionFactor:    t.CorrectionFactor,
		CalorificValue:      t.CalorificValue,
	}
}
