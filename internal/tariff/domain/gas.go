package tariff

import "github.com/shopspring/decimal"

// Gas conversion constants. Correction factor and calorific value are
// defaults; tariffs may override both.
var (
	// ImperialToMetric converts imperial gas units to cubic meters.
	ImperialToMetric = decimal.RequireFromString("2.83")
	// DefaultCorrectionFactor adjusts volume for temperature and pressure.
	DefaultCorrectionFactor = decimal.RequireFromString("1.02264")
	// DefaultCalorificValue is the energy content per corrected cubic meter.
	DefaultCalorificValue = decimal.RequireFromString("39.4")
	// kWhDivisor converts megajoules to kilowatt hours.
	kWhDivisor = decimal.RequireFromString("3.6")
)

// GasConversion retains every intermediate of the volumetric-to-energy
// pipeline. All four values appear on the invoice for audit display.
type GasConversion struct {
	RawUnits        decimal.Decimal `json:"raw_units"`
	Imperial        bool            `json:"imperial"`
	CubicMeters     decimal.Decimal `json:"cubic_meters"`
	CorrectedVolume decimal.Decimal `json:"corrected_volume"`
	EnergyKWh       decimal.Decimal `json:"energy_kwh"`
}

// ConvertGas runs the conversion pipeline in order: imperial units to
// cubic meters, volume correction, then calorific conversion to kWh.
func ConvertGas(rawUnits decimal.Decimal, imperial bool, correctionFactor, calorificValue decimal.Decimal) GasConversion {
	if correctionFactor.IsZero() {
		correctionFactor = DefaultCorrectionFactor
	}
	if calorificValue.IsZero() {
		calorificValue = DefaultCalorificValue
	}

	cubicMeters := rawUnits
	if imperial {
		cubicMeters = rawUnits.Mul(ImperialToMetric)
	}
	corrected := cubicMeters.Mul(correctionFactor)
	kWh := corrected.Mul(calorificValue).Div(kWhDivisor)

	return GasConversion{
		RawUnits:        rawUnits,
		Imperial:        imperial,
		CubicMeters:     cubicMeters,
		CorrectedVolume: corrected,
		EnergyKWh:       kWh,
	}
}
