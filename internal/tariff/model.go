package tariff

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

const minutesPerDay = 24 * 60

// DaySet is a set of weekdays.
type DaySet uint8

// Has reports whether d contains w.
func (d DaySet) Has(w time.Weekday) bool {
	return d&(1<<uint(w)) != 0
}

func (d DaySet) with(w time.Weekday) DaySet {
	return d | 1<<uint(w)
}

const (
	Weekdays DaySet = 1<<time.Monday | 1<<time.Tuesday | 1<<time.Wednesday | 1<<time.Thursday | 1<<time.Friday
	Weekend  DaySet = 1<<time.Saturday | 1<<time.Sunday
	AllDays         = Weekdays | Weekend
)

// Rule maps a weekday set and a time-of-day window [Start, End) in
// minutes since midnight to a period. End may be 1440.
type Rule struct {
	Days   DaySet
	Start  int
	End    int
	Period string
}

func (r Rule) matches(w time.Weekday, minute int) bool {
	return r.Days.Has(w) && minute >= r.Start && minute < r.End
}

// MonthSet is a set of calendar months. The zero value means every month.
type MonthSet uint16

// Has reports whether m contains month.
func (m MonthSet) Has(month time.Month) bool {
	return m == 0 || m&(1<<uint(month)) != 0
}

func (m MonthSet) intersects(o MonthSet) bool {
	return m == 0 || o == 0 || m&o != 0
}

// RuleSet applies to dates in [From, To) whose month is in Months. A zero
// bound is open, so a season with no dates recurs every year.
type RuleSet struct {
	Name   string
	From   time.Time
	To     time.Time
	Months MonthSet
	Rules  []Rule
}

// Contains reports whether the calendar date of ts lies in the set's range
// and months.
func (rs RuleSet) Contains(ts time.Time) bool {
	d := dateOf(ts)
	if !rs.Months.Has(d.Month()) {
		return false
	}
	if !rs.From.IsZero() && d.Before(rs.From) {
		return false
	}
	if !rs.To.IsZero() && !d.Before(rs.To) {
		return false
	}
	return true
}

// overlaps reports whether some date could fall in both rs and o.
func (rs RuleSet) overlaps(o RuleSet) bool {
	if !rs.Months.intersects(o.Months) {
		return false
	}
	if !rs.To.IsZero() && !o.From.IsZero() && !o.From.Before(rs.To) {
		return false
	}
	if !o.To.IsZero() && !rs.From.IsZero() && !rs.From.Before(o.To) {
		return false
	}
	return true
}

// Rate is the per-kWh price of a period.
type Rate struct {
	Period string
	PerKWh decimal.Decimal
}

// Vendor is the validated tariff of one retailer. It is never modified
// after loading.
type Vendor struct {
	name         string
	currency     string
	ruleSets     []RuleSet
	rates        []Rate
	rateIndex    map[string]decimal.Decimal
	supplyCharge decimal.Decimal
	solarRate    decimal.Decimal
}

func (v *Vendor) Name() string     { return v.name }
func (v *Vendor) Currency() string { return v.currency }

// SupplyCharge is the fixed charge per billed day.
func (v *Vendor) SupplyCharge() decimal.Decimal { return v.supplyCharge }

// SolarRate is the feed-in credit per exported kWh.
func (v *Vendor) SolarRate() decimal.Decimal { return v.solarRate }

// Rates returns the period prices in declaration order.
func (v *Vendor) Rates() []Rate { return slices.Clone(v.rates) }

// Periods returns the period names in declaration order.
func (v *Vendor) Periods() []string {
	names := make([]string, len(v.rates))
	for i, r := range v.rates {
		names[i] = r.Period
	}
	return names
}

// RuleSets returns a copy of the vendor's rule-sets.
func (v *Vendor) RuleSets() []RuleSet {
	out := make([]RuleSet, len(v.ruleSets))
	for i, rs := range v.ruleSets {
		rs.Rules = slices.Clone(rs.Rules)
		out[i] = rs
	}
	return out
}

// Rate returns the price of a period.
func (v *Vendor) Rate(period string) (decimal.Decimal, error) {
	rate, ok := v.rateIndex[period]
	if !ok {
		return decimal.Decimal{}, configErrorf(v.name, "no rate for period %q", period)
	}
	return rate, nil
}

// Classify returns the period a timestamp falls into. Exactly one
// rule-set must cover the date and exactly one of its rules must match.
func (v *Vendor) Classify(ts time.Time) (string, error) {
	var active *RuleSet
	for i := range v.ruleSets {
		if !v.ruleSets[i].Contains(ts) {
			continue
		}
		if active != nil {
			return "", configErrorf(v.name, "rule-sets %q and %q both cover %s", active.Name, v.ruleSets[i].Name, ts.Format(time.DateOnly))
		}
		active = &v.ruleSets[i]
	}
	if active == nil {
		return "", configErrorf(v.name, "no rule-set covers %s", ts.Format(time.DateOnly))
	}

	minute := ts.Hour()*60 + ts.Minute()
	weekday := ts.Weekday()

	period := ""
	for _, r := range active.Rules {
		if !r.matches(weekday, minute) {
			continue
		}
		if period != "" {
			return "", configErrorf(v.name, "rule-set %q is ambiguous at %s %s: %q and %q", active.Name, weekday, ts.Format("15:04"), period, r.Period)
		}
		period = r.Period
	}
	if period == "" {
		return "", configErrorf(v.name, "rule-set %q has no rule for %s %s", active.Name, weekday, ts.Format("15:04"))
	}
	return period, nil
}

// Model is the immutable set of vendor tariffs.
type Model struct {
	vendors map[string]*Vendor
}

// Vendor looks up a vendor by name.
func (m *Model) Vendor(name string) (*Vendor, error) {
	v, ok := m.vendors[name]
	if !ok {
		return nil, configErrorf(name, "unknown vendor")
	}
	return v, nil
}

// Vendors returns the configured vendor names, sorted.
func (m *Model) Vendors() []string {
	names := make([]string, 0, len(m.vendors))
	for name := range m.vendors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (m *Model) Classify(vendor string, ts time.Time) (string, error) {
	v, err := m.Vendor(vendor)
	if err != nil {
		return "", err
	}
	return v.Classify(ts)
}

func (m *Model) Rate(vendor, period string) (decimal.Decimal, error) {
	v, err := m.Vendor(vendor)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return v.Rate(period)
}

func (m *Model) SupplyCharge(vendor string) (decimal.Decimal, error) {
	v, err := m.Vendor(vendor)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return v.SupplyCharge(), nil
}

func (m *Model) SolarRate(vendor string) (decimal.Decimal, error) {
	v, err := m.Vendor(vendor)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return v.SolarRate(), nil
}

func dateOf(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
