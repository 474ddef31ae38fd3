package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of fractional digits in presented amounts.
const MoneyPlaces = 2

// PeriodLine is the usage and cost attributed to one tariff period.
type PeriodLine struct {
	Period   string
	UsageKWh decimal.Decimal
	Rate     decimal.Decimal
	Cost     decimal.Decimal
}

// DayTotal aggregates one calendar date of the range.
type DayTotal struct {
	Date        time.Time
	UsageKWh    decimal.Decimal
	UsageCost   decimal.Decimal
	SolarKWh    decimal.Decimal
	SolarCredit decimal.Decimal
}

// CostBreakdown is the full result of a cost calculation. Values are exact
// unless the breakdown came from Rounded.
type CostBreakdown struct {
	Vendor   string
	Currency string
	Start    time.Time
	End      time.Time
	Days     int
	DayCount DayCountPolicy

	Lines         []PeriodLine // tariff declaration order
	TotalUsageKWh decimal.Decimal
	UsageCost     decimal.Decimal

	SupplyRate   decimal.Decimal
	SupplyCharge decimal.Decimal

	SolarKWh    decimal.Decimal
	SolarRate   decimal.Decimal
	SolarCredit decimal.Decimal

	SubTotal decimal.Decimal // usage + supply
	NetCost  decimal.Decimal // usage + supply - solar credit

	Daily    []DayTotal
	Readings int
	Rounded  bool
}

// PeriodCosts returns the cost of each period.
func (b *CostBreakdown) PeriodCosts() map[string]decimal.Decimal {
	costs := make(map[string]decimal.Decimal, len(b.Lines))
	for _, l := range b.Lines {
		costs[l.Period] = l.Cost
	}
	return costs
}

// Line returns the line for a period.
func (b *CostBreakdown) Line(period string) (PeriodLine, bool) {
	for _, l := range b.Lines {
		if l.Period == period {
			return l, true
		}
	}
	return PeriodLine{}, false
}

// Presented returns a copy with every money line rounded half away from
// zero to MoneyPlaces. Totals are recomputed from the rounded lines so the
// presented bill adds up exactly.
func (b *CostBreakdown) Presented() *CostBreakdown {
	out := *b
	out.Rounded = true

	out.Lines = make([]PeriodLine, len(b.Lines))
	out.UsageCost = decimal.Zero
	for i, l := range b.Lines {
		l.Cost = l.Cost.Round(MoneyPlaces)
		out.Lines[i] = l
		out.UsageCost = out.UsageCost.Add(l.Cost)
	}
	out.SupplyCharge = b.SupplyCharge.Round(MoneyPlaces)
	out.SolarCredit = b.SolarCredit.Round(MoneyPlaces)
	out.SubTotal = out.UsageCost.Add(out.SupplyCharge)
	out.NetCost = out.SubTotal.Sub(out.SolarCredit)

	out.Daily = make([]DayTotal, len(b.Daily))
	for i, d := range b.Daily {
		d.UsageCost = d.UsageCost.Round(MoneyPlaces)
		d.SolarCredit = d.SolarCredit.Round(MoneyPlaces)
		out.Daily[i] = d
	}
	return &out
}

// Summary drops the per-line detail.
func (b *CostBreakdown) Summary() *CostSummary {
	return &CostSummary{
		Vendor:       b.Vendor,
		Start:        b.Start,
		End:          b.End,
		Days:         b.Days,
		Periods:      b.PeriodCosts(),
		UsageCost:    b.UsageCost,
		SupplyCharge: b.SupplyCharge,
		SolarCredit:  b.SolarCredit,
		NetCost:      b.NetCost,
		Rounded:      b.Rounded,
	}
}

// CostSummary is the net cost of a range with its per-period subtotals.
type CostSummary struct {
	Vendor       string
	Start        time.Time
	End          time.Time
	Days         int
	Periods      map[string]decimal.Decimal
	UsageCost    decimal.Decimal
	SupplyCharge decimal.Decimal
	SolarCredit  decimal.Decimal
	NetCost      decimal.Decimal
	Rounded      bool
}
