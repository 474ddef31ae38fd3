package tariff

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultCurrency applies when a vendor does not name one.
const DefaultCurrency = "AUD"

// Load reads and validates a tariff document.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tariff file: %w", err)
	}
	return Parse(data)
}

// Parse validates a YAML tariff document into a Model. Every structural
// problem is reported here rather than at first use.
func Parse(data []byte) (*Model, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, configErrorf("", "empty document")
		}
		var cerr *ConfigurationError
		if errors.As(err, &cerr) {
			return nil, cerr
		}
		return nil, &ConfigurationError{Reason: err.Error()}
	}
	if len(doc.Vendors) == 0 {
		return nil, configErrorf("", "no vendors defined")
	}

	m := &Model{vendors: make(map[string]*Vendor, len(doc.Vendors))}
	for name, vd := range doc.Vendors {
		v, err := buildVendor(name, vd)
		if err != nil {
			return nil, err
		}
		m.vendors[name] = v
	}
	return m, nil
}

type document struct {
	Vendors map[string]vendorDoc `yaml:"vendors"`
}

type vendorDoc struct {
	Currency     string       `yaml:"currency"`
	SupplyCharge *amount      `yaml:"supply_charge"`
	SolarRate    *amount      `yaml:"solar_rate"`
	Rates        rateList     `yaml:"rates"`
	RuleSets     []ruleSetDoc `yaml:"rule_sets"`
}

type ruleSetDoc struct {
	Name   string    `yaml:"name"`
	From   dateValue `yaml:"from"`
	To     dateValue `yaml:"to"`
	Months []int     `yaml:"months"`
	Rules  []ruleDoc `yaml:"rules"`
}

type ruleDoc struct {
	Days    []string `yaml:"days"`
	Windows []string `yaml:"windows"`
	Period  string   `yaml:"period"`
}

// amount decodes a scalar into an exact decimal.
type amount struct {
	decimal.Decimal
}

func (a *amount) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number", n.Line)
	}
	d, err := decimal.NewFromString(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %q is not a number", n.Line, n.Value)
	}
	a.Decimal = d
	return nil
}

// rateList keeps the declaration order of the rates mapping.
type rateList []Rate

func (l *rateList) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: rates must be a mapping of period to price", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		var price amount
		if err := price.UnmarshalYAML(n.Content[i+1]); err != nil {
			return err
		}
		*l = append(*l, Rate{Period: n.Content[i].Value, PerKWh: price.Decimal})
	}
	return nil
}

// dateValue decodes YYYY-MM-DD without yaml's timestamp resolution.
type dateValue struct {
	time.Time
}

func (d *dateValue) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a date", n.Line)
	}
	if n.Value == "" || n.Tag == "!!null" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %q is not a YYYY-MM-DD date", n.Line, n.Value)
	}
	d.Time = t
	return nil
}

func buildVendor(name string, vd vendorDoc) (*Vendor, error) {
	v := &Vendor{
		name:      name,
		currency:  vd.Currency,
		rateIndex: make(map[string]decimal.Decimal, len(vd.Rates)),
	}
	if v.currency == "" {
		v.currency = DefaultCurrency
	}

	if vd.SupplyCharge == nil {
		return nil, configErrorf(name, "supply_charge is required")
	}
	v.supplyCharge = vd.SupplyCharge.Decimal
	if vd.SolarRate != nil {
		v.solarRate = vd.SolarRate.Decimal
	}
	if v.supplyCharge.IsNegative() || v.solarRate.IsNegative() {
		return nil, configErrorf(name, "supply_charge and solar_rate must not be negative")
	}

	if len(vd.Rates) == 0 {
		return nil, configErrorf(name, "no rates defined")
	}
	for _, r := range vd.Rates {
		if _, dup := v.rateIndex[r.Period]; dup {
			return nil, configErrorf(name, "period %q priced twice", r.Period)
		}
		if r.PerKWh.IsNegative() {
			return nil, configErrorf(name, "rate for %q is negative", r.Period)
		}
		v.rateIndex[r.Period] = r.PerKWh
		v.rates = append(v.rates, r)
	}

	if len(vd.RuleSets) == 0 {
		return nil, configErrorf(name, "no rule_sets defined")
	}
	for i, rsd := range vd.RuleSets {
		rs, err := buildRuleSet(name, i, rsd, v.rateIndex)
		if err != nil {
			return nil, err
		}
		v.ruleSets = append(v.ruleSets, rs)
	}
	if err := checkRuleSetRanges(name, v.ruleSets); err != nil {
		return nil, err
	}
	return v, nil
}

func buildRuleSet(vendor string, idx int, rsd ruleSetDoc, rates map[string]decimal.Decimal) (RuleSet, error) {
	rs := RuleSet{Name: rsd.Name, From: rsd.From.Time, To: rsd.To.Time}
	if rs.Name == "" {
		rs.Name = "rule_set_" + strconv.Itoa(idx+1)
	}
	if !rs.From.IsZero() && !rs.To.IsZero() && !rs.From.Before(rs.To) {
		return RuleSet{}, configErrorf(vendor, "rule-set %q: from %s is not before to %s", rs.Name, rs.From.Format(time.DateOnly), rs.To.Format(time.DateOnly))
	}
	months, err := ParseMonths(rsd.Months)
	if err != nil {
		return RuleSet{}, configErrorf(vendor, "rule-set %q: %v", rs.Name, err)
	}
	rs.Months = months
	if len(rsd.Rules) == 0 {
		return RuleSet{}, configErrorf(vendor, "rule-set %q has no rules", rs.Name)
	}

	for _, rd := range rsd.Rules {
		if _, ok := rates[rd.Period]; !ok {
			return RuleSet{}, configErrorf(vendor, "rule-set %q: period %q has no rate", rs.Name, rd.Period)
		}
		days, err := ParseDays(rd.Days)
		if err != nil {
			return RuleSet{}, configErrorf(vendor, "rule-set %q: %v", rs.Name, err)
		}
		if len(rd.Windows) == 0 {
			return RuleSet{}, configErrorf(vendor, "rule-set %q: period %q has no windows", rs.Name, rd.Period)
		}
		for _, w := range rd.Windows {
			spans, err := ParseWindow(w)
			if err != nil {
				return RuleSet{}, configErrorf(vendor, "rule-set %q: %v", rs.Name, err)
			}
			for _, sp := range spans {
				rs.Rules = append(rs.Rules, Rule{Days: days, Start: sp[0], End: sp[1], Period: rd.Period})
			}
		}
	}

	if err := checkCoverage(vendor, rs); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

// checkCoverage requires every weekday minute to match exactly one rule.
func checkCoverage(vendor string, rs RuleSet) error {
	var owner [7][minutesPerDay]int // rule index + 1
	for i, r := range rs.Rules {
		for d := time.Sunday; d <= time.Saturday; d++ {
			if !r.Days.Has(d) {
				continue
			}
			for m := r.Start; m < r.End; m++ {
				if prev := owner[d][m]; prev != 0 {
					return configErrorf(vendor, "rule-set %q: %q and %q overlap on %s at %s",
						rs.Name, rs.Rules[prev-1].Period, r.Period, d, formatMinute(m))
				}
				owner[d][m] = i + 1
			}
		}
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		for m := 0; m < minutesPerDay; m++ {
			if owner[d][m] == 0 {
				return configErrorf(vendor, "rule-set %q: no rule covers %s at %s", rs.Name, d, formatMinute(m))
			}
		}
	}
	return nil
}

// checkRuleSetRanges rejects rule-sets that could both apply to one date:
// their date ranges and their months intersect.
func checkRuleSetRanges(vendor string, sets []RuleSet) error {
	for i := range sets {
		for j := i + 1; j < len(sets); j++ {
			if sets[i].overlaps(sets[j]) {
				return configErrorf(vendor, "rule-sets %q and %q have overlapping date ranges", sets[i].Name, sets[j].Name)
			}
		}
	}
	return nil
}

// ParseMonths turns month numbers 1-12 into a MonthSet. No months means
// every month.
func ParseMonths(months []int) (MonthSet, error) {
	var set MonthSet
	for _, m := range months {
		if m < 1 || m > 12 {
			return 0, fmt.Errorf("month %d out of range", m)
		}
		bit := MonthSet(1) << uint(m)
		if set&bit != 0 {
			return 0, fmt.Errorf("month %d listed twice", m)
		}
		set |= bit
	}
	return set, nil
}

var dayNames = map[string]DaySet{
	"sun": 1 << time.Sunday, "sunday": 1 << time.Sunday,
	"mon": 1 << time.Monday, "monday": 1 << time.Monday,
	"tue": 1 << time.Tuesday, "tuesday": 1 << time.Tuesday,
	"wed": 1 << time.Wednesday, "wednesday": 1 << time.Wednesday,
	"thu": 1 << time.Thursday, "thursday": 1 << time.Thursday,
	"fri": 1 << time.Friday, "friday": 1 << time.Friday,
	"sat": 1 << time.Saturday, "saturday": 1 << time.Saturday,
	"weekday": Weekdays, "weekdays": Weekdays,
	"weekend": Weekend, "weekends": Weekend,
	"all": AllDays, "daily": AllDays,
}

// ParseDays turns day names and aliases into a DaySet.
func ParseDays(names []string) (DaySet, error) {
	if len(names) == 0 {
		return 0, errors.New("rule has no days")
	}
	var set DaySet
	for _, n := range names {
		d, ok := dayNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return 0, fmt.Errorf("unknown day %q", n)
		}
		set |= d
	}
	return set, nil
}

// ParseWindow parses "HH:MM-HH:MM" into minute spans. A window that
// passes midnight becomes two spans.
func ParseWindow(s string) ([][2]int, error) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return nil, fmt.Errorf("window %q is not HH:MM-HH:MM", s)
	}
	start, err := parseClock(from)
	if err != nil || start == minutesPerDay {
		return nil, fmt.Errorf("window %q: bad start", s)
	}
	end, err := parseClock(to)
	if err != nil {
		return nil, fmt.Errorf("window %q: bad end", s)
	}

	switch {
	case start == end:
		return nil, fmt.Errorf("window %q is empty", s)
	case start < end:
		return [][2]int{{start, end}}, nil
	case end == 0:
		return [][2]int{{start, minutesPerDay}}, nil
	default:
		return [][2]int{{start, minutesPerDay}, {0, end}}, nil
	}
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, errors.New("missing colon")
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, err
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%q out of range", s)
	}
	return h*60 + m, nil
}

func formatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
