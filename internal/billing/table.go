package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Table is the presentation form of a breakdown. Printers and exporters
// render it; amounts are already rounded and formatted.
type Table struct {
	Title    string
	Subtitle string
	Header   []string
	Rows     [][]string
	Footer   []FooterLine
}

// FooterLine is a labelled amount below the period rows.
type FooterLine struct {
	Label  string
	Amount string
}

// Table builds the presented breakdown table.
func (b *CostBreakdown) Table() Table {
	p := b
	if !b.Rounded {
		p = b.Presented()
	}

	t := Table{
		Title: "Cost Breakdown for " + p.Vendor,
		Subtitle: fmt.Sprintf("Period: %s to %s (%d days)",
			p.Start.Format(time.DateOnly), lastBilledDate(p.End).Format(time.DateOnly), p.Days),
		Header: []string{"Period", "Usage (kWh)", fmt.Sprintf("Rate (%s/kWh)", p.Currency), fmt.Sprintf("Cost (%s)", p.Currency)},
	}
	for _, l := range p.Lines {
		t.Rows = append(t.Rows, []string{
			l.Period,
			l.UsageKWh.StringFixed(2),
			l.Rate.StringFixed(4),
			l.Cost.StringFixed(MoneyPlaces),
		})
	}
	t.Footer = []FooterLine{
		{Label: fmt.Sprintf("Supply Charge %d days", p.Days), Amount: p.SupplyCharge.StringFixed(MoneyPlaces)},
		{Label: "Sub total Costs", Amount: p.SubTotal.StringFixed(MoneyPlaces)},
		{Label: fmt.Sprintf("Solar Feed-in %s kWh", p.SolarKWh.StringFixed(2)), Amount: p.SolarCredit.Neg().StringFixed(MoneyPlaces)},
		{Label: "Net Total", Amount: p.NetCost.StringFixed(MoneyPlaces)},
	}
	return t
}

// lastBilledDate is the final calendar date inside [start, end).
func lastBilledDate(end time.Time) time.Time {
	return civilDate(end.Add(-time.Nanosecond))
}

func money(d decimal.Decimal) float64 {
	f, _ := d.Round(MoneyPlaces).Float64()
	return f
}
