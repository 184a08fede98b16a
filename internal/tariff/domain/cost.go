package tariff

import (
	"github.com/shopspring/decimal"

	"utilibill/internal/fault"
	"utilibill/internal/money"
)

// Consumption is the aggregated meter consumption for one billing run.
// Day and night carry the split for day/night capable meters; Units is
// the overall total. Imperial flags raw volumetric imperial gas units.
type Consumption struct {
	Units    float64
	Day      float64
	Night    float64
	Imperial bool
}

// CostLine is one priced usage line. Rate is pence per unit; Amount is
// the rounded charge for the line.
type CostLine struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit"`
	RatePence   decimal.Decimal `json:"rate_pence"`
	Amount      money.Money     `json:"amount"`
}

// CostResult is the outcome of pricing a consumption figure. Total is
// the exact sum of the line amounts. Gas carries the retained conversion
// intermediates for gas tariffs.
type CostResult struct {
	Lines []CostLine
	Total money.Money
	Gas   *GasConversion
}

// UnitCost prices the consumption under this tariff variant. Dispatch
// is exhaustive over the closed Kind set; an unknown kind is an
// internal invariant violation.
func (t *Tariff) UnitCost(c Consumption) (CostResult, error) {
	if c.Units < 0 || c.Day < 0 || c.Night < 0 {
		return CostResult{}, fault.New(fault.KindInvalidReading, "negative consumption").WithEntity(t.ID).WithValue(c.Units)
	}
	switch t.Kind {
	case KindFlat:
		return t.flatCost(c), nil
	case KindDayNight:
		return t.dayNightCost(c), nil
	case KindTiered:
		return t.tieredCost(c), nil
	case KindGas:
		return t.gasCost(c), nil
	default:
		return CostResult{}, fault.New(fault.KindLedgerInconsistency, "unknown tariff kind "+string(t.Kind)).WithEntity(t.ID)
	}
}

func (t *Tariff) flatCost(c Consumption) CostResult {
	units := decimal.NewFromFloat(c.Units)
	line := CostLine{
		Description: "Electricity used",
		Quantity:    units,
		Unit:        "kWh",
		RatePence:   t.RatePence,
		Amount:      flatAmount(t.RatePence, units),
	}
	return CostResult{Lines: []CostLine{line}, Total: line.Amount}
}

// dayNightCost prices each register independently and keeps them as
// separate line items. Regulatory display forbids a blended rate.
func (t *Tariff) dayNightCost(c Consumption) CostResult {
	day := decimal.NewFromFloat(c.Day)
	night := decimal.NewFromFloat(c.Night)
	dayLine := CostLine{
		Description: "Electricity used (day)",
		Quantity:    day,
		Unit:        "kWh",
		RatePence:   t.DayRatePence,
		Amount:      flatAmount(t.DayRatePence, day),
	}
	nightLine := CostLine{
		Description: "Electricity used (night)",
		Quantity:    night,
		Unit:        "kWh",
		RatePence:   t.NightRatePence,
		Amount:      flatAmount(t.NightRatePence, night),
	}
	return CostResult{
		Lines: []CostLine{dayLine, nightLine},
		Total: dayLine.Amount.Add(nightLine.Amount),
	}
}

func (t *Tariff) tieredCost(c Consumption) CostResult {
	units := decimal.NewFromFloat(c.Units)
	banded := decimal.Min(units, t.ThresholdUnits)
	excess := decimal.Max(decimal.Zero, units.Sub(t.ThresholdUnits))

	lines := []CostLine{{
		Description: "Electricity used within threshold",
		Quantity:    banded,
		Unit:        "kWh",
		RatePence:   t.TierOneRatePence,
		Amount:      flatAmount(t.TierOneRatePence, banded),
	}}
	total := lines[0].Amount
	if excess.IsPositive() {
		excessLine := CostLine{
			Description: "Electricity used above threshold",
			Quantity:    excess,
			Unit:        "kWh",
			RatePence:   t.TierTwoRatePence,
			Amount:      flatAmount(t.TierTwoRatePence, excess),
		}
		lines = append(lines, excessLine)
		total = total.Add(excessLine.Amount)
	}
	return CostResult{Lines: lines, Total: total}
}

func (t *Tariff) gasCost(c Consumption) CostResult {
	conv := ConvertGas(decimal.NewFromFloat(c.Units), c.Imperial, t.CorrectionFactor, t.CalorificValue)
	line := CostLine{
		Description: "Gas used",
		Quantity:    conv.EnergyKWh,
		Unit:        "kWh",
		RatePence:   t.RatePence,
		Amount:      flatAmount(t.RatePence, conv.EnergyKWh),
	}
	return CostResult{Lines: []CostLine{line}, Total: line.Amount, Gas: &conv}
}

// flatAmount applies the flat-rate formula: rate_pence * units / 100,
// rounded half-up to two places. The division keeps full decimal
// precision until the single final round.
func flatAmount(ratePence, units decimal.Decimal) money.Money {
	return money.FromDecimal(ratePence.Mul(units).Div(decimal.NewFromInt(100)))
}
