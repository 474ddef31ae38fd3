package tariff

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestModel(t *testing.T) *Model {
	t.Helper()
	m, err := Load("testdata/tariffs.yaml")
	require.NoError(t, err)
	return m
}

func at(y int, mo time.Month, d, h, mi int) time.Time {
	return time.Date(y, mo, d, h, mi, 0, 0, time.UTC)
}

func TestLoad(t *testing.T) {
	m := loadTestModel(t)
	assert.Equal(t, []string{"seasonal", "vendor_1"}, m.Vendors())

	v, err := m.Vendor("vendor_1")
	require.NoError(t, err)
	assert.Equal(t, DefaultCurrency, v.Currency())
	assert.Equal(t, []string{"peak", "shoulder", "off_peak"}, v.Periods())
	assert.True(t, v.SupplyCharge().Equal(decimal.RequireFromString("0.95")))
	assert.True(t, v.SolarRate().Equal(decimal.RequireFromString("0.15")))

	rate, err := m.Rate("vendor_1", "shoulder")
	require.NoError(t, err)
	assert.Equal(t, "0.25", rate.String())

	supply, err := m.SupplyCharge("seasonal")
	require.NoError(t, err)
	assert.Equal(t, "1.1", supply.String())

	solar, err := m.SolarRate("seasonal")
	require.NoError(t, err)
	assert.Equal(t, "0.05", solar.String())
}

func TestLoad_SplitsMidnightWindow(t *testing.T) {
	v, err := loadTestModel(t).Vendor("vendor_1")
	require.NoError(t, err)

	var offPeak []Rule
	for _, r := range v.RuleSets()[0].Rules {
		if r.Period == "off_peak" && r.Days == Weekdays {
			offPeak = append(offPeak, r)
		}
	}
	require.Len(t, offPeak, 2)
	assert.Equal(t, Rule{Days: Weekdays, Start: 22 * 60, End: 24 * 60, Period: "off_peak"}, offPeak[0])
	assert.Equal(t, Rule{Days: Weekdays, Start: 0, End: 7 * 60, Period: "off_peak"}, offPeak[1])
}

func TestClassify(t *testing.T) {
	m := loadTestModel(t)

	// 2023-11-01 is a Wednesday, 2023-11-04 a Saturday.
	tests := []struct {
		name string
		ts   time.Time
		want string
	}{
		{"weekday early morning", at(2023, 11, 1, 3, 0), "off_peak"},
		{"weekday shoulder start", at(2023, 11, 1, 7, 0), "shoulder"},
		{"weekday last shoulder minute", at(2023, 11, 1, 13, 59), "shoulder"},
		{"weekday peak start", at(2023, 11, 1, 14, 0), "peak"},
		{"weekday evening shoulder", at(2023, 11, 1, 20, 0), "shoulder"},
		{"weekday late", at(2023, 11, 1, 22, 0), "off_peak"},
		{"weekday last minute", at(2023, 11, 1, 23, 59), "off_peak"},
		{"weekend afternoon", at(2023, 11, 4, 15, 0), "off_peak"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Classify("vendor_1", tt.ts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_DateDependentRuleSets(t *testing.T) {
	m := loadTestModel(t)

	// Monday 2024-06-24 falls in the first set, Monday 2024-07-01 in the second.
	got, err := m.Classify("seasonal", at(2024, 6, 24, 17, 0))
	require.NoError(t, err)
	assert.Equal(t, "off_peak", got)

	got, err = m.Classify("seasonal", at(2024, 7, 1, 17, 0))
	require.NoError(t, err)
	assert.Equal(t, "peak", got)

	got, err = m.Classify("seasonal", at(2024, 7, 1, 21, 0))
	require.NoError(t, err)
	assert.Equal(t, "off_peak", got)
}

func TestClassify_Totality(t *testing.T) {
	m := loadTestModel(t)
	monday := at(2023, 11, 6, 0, 0)

	for _, vendor := range m.Vendors() {
		for _, base := range []time.Time{monday, at(2024, 7, 1, 0, 0)} {
			for step := 0; step < 7*48; step++ {
				ts := base.Add(time.Duration(step) * 30 * time.Minute)
				_, err := m.Classify(vendor, ts)
				require.NoError(t, err, "%s at %s", vendor, ts)
			}
		}
	}
}

const recurringSeasons = `vendors:
  v:
    supply_charge: 1
    rates: {peak: 0.55, off_peak: 0.18, legacy: 0.3}
    rule_sets:
      - name: summer
        months: [12, 1, 2]
        from: 2024-01-01
        rules:
          - {days: [weekday], windows: ["15:00-21:00"], period: peak}
          - {days: [weekday], windows: ["21:00-15:00"], period: off_peak}
          - {days: [weekend], windows: ["00:00-24:00"], period: off_peak}
      - name: rest
        months: [3, 4, 5, 6, 7, 8, 9, 10, 11]
        rules:
          - {days: [all], windows: ["00:00-24:00"], period: off_peak}
      - name: old-summer
        months: [12, 1, 2]
        to: 2024-01-01
        rules:
          - {days: [all], windows: ["00:00-24:00"], period: legacy}
`

func TestClassify_RecurringSeasons(t *testing.T) {
	m, err := Parse([]byte(recurringSeasons))
	require.NoError(t, err)

	for _, base := range []time.Time{at(2023, 11, 1, 0, 0), at(2030, 11, 1, 0, 0)} {
		for step := 0; step < 150*48; step++ {
			ts := base.Add(time.Duration(step) * 30 * time.Minute)
			_, err := m.Classify("v", ts)
			require.NoError(t, err, "at %s", ts)
		}
	}

	tests := []struct {
		ts   time.Time
		want string
	}{
		{at(2023, 12, 4, 16, 0), "legacy"},     // summer month before the dated season
		{at(2024, 1, 1, 16, 0), "peak"},        // Monday, first day of the dated season
		{at(2024, 12, 31, 16, 0), "peak"},      // Tuesday, across the year boundary
		{at(2025, 1, 4, 16, 0), "off_peak"},    // Saturday
		{at(2025, 3, 3, 16, 0), "off_peak"},    // Monday in autumn
		{at(2031, 2, 3, 16, 0), "peak"},        // recurs every year
		{at(2031, 11, 30, 23, 30), "off_peak"}, // last slot before summer
	}
	for _, tt := range tests {
		got, err := m.Classify("v", tt.ts)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.ts.String())
	}

	v, err := m.Vendor("v")
	require.NoError(t, err)
	sets := v.RuleSets()
	assert.True(t, sets[0].Months.Has(time.December))
	assert.False(t, sets[0].Months.Has(time.March))
	assert.True(t, RuleSet{}.Months.Has(time.March))
}

func TestParseMonths(t *testing.T) {
	set, err := ParseMonths([]int{12, 1, 2})
	require.NoError(t, err)
	assert.True(t, set.Has(time.January))
	assert.True(t, set.Has(time.December))
	assert.False(t, set.Has(time.June))

	all, err := ParseMonths(nil)
	require.NoError(t, err)
	assert.Equal(t, MonthSet(0), all)

	_, err = ParseMonths([]int{0})
	assert.Error(t, err)
}

func TestClassify_ConfigurationErrors(t *testing.T) {
	m := loadTestModel(t)

	_, err := m.Classify("nobody", at(2024, 1, 1, 0, 0))
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "nobody", cerr.Vendor)

	_, err = m.Rate("vendor_1", "super_peak")
	require.ErrorAs(t, err, &cerr)

	bounded := &Vendor{
		name: "bounded",
		ruleSets: []RuleSet{{
			Name:  "2024",
			From:  at(2024, 1, 1, 0, 0),
			To:    at(2025, 1, 1, 0, 0),
			Rules: []Rule{{Days: AllDays, Start: 0, End: minutesPerDay, Period: "flat"}},
		}},
	}
	_, err = bounded.Classify(at(2025, 1, 1, 0, 0))
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Reason, "no rule-set covers 2025-01-01")

	ambiguous := &Vendor{
		name: "ambiguous",
		ruleSets: []RuleSet{{
			Name: "all",
			Rules: []Rule{
				{Days: AllDays, Start: 0, End: minutesPerDay, Period: "a"},
				{Days: Weekend, Start: 600, End: 660, Period: "b"},
			},
		}},
	}
	_, err = ambiguous.Classify(at(2023, 11, 4, 10, 30))
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Reason, "ambiguous")

	partial := &Vendor{
		name:     "partial",
		ruleSets: []RuleSet{{Name: "day", Rules: []Rule{{Days: AllDays, Start: 0, End: 720, Period: "a"}}}},
	}
	_, err = partial.Classify(at(2023, 11, 4, 13, 0))
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Reason, "no rule")
}

func TestParse_Rejects(t *testing.T) {
	const head = "vendors:\n  v:\n    supply_charge: 1\n    rates: {a: 0.1, b: 0.2}\n"

	tests := []struct {
		name   string
		doc    string
		reason string
	}{
		{"empty", "", "empty document"},
		{"no vendors", "vendors: {}\n", "no vendors"},
		{"unknown field", "vendors:\n  v:\n    colour: red\n", "colour"},
		{"missing supply charge", "vendors:\n  v:\n    rates: {a: 1}\n    rule_sets: [{rules: [{days: [all], windows: ['00:00-24:00'], period: a}]}]\n", "supply_charge"},
		{"non numeric rate", "vendors:\n  v:\n    supply_charge: 1\n    rates: {a: cheap}\n", "not a number"},
		{"negative rate", "vendors:\n  v:\n    supply_charge: 1\n    rates: {a: -0.1}\n    rule_sets: [{rules: [{days: [all], windows: ['00:00-24:00'], period: a}]}]\n", "negative"},
		{"no rule sets", head, "no rule_sets"},
		{"undefined period", head + "    rule_sets: [{rules: [{days: [all], windows: ['00:00-24:00'], period: c}]}]\n", `period "c" has no rate`},
		{"unknown day", head + "    rule_sets: [{rules: [{days: [funday], windows: ['00:00-24:00'], period: a}]}]\n", "unknown day"},
		{"bad window", head + "    rule_sets: [{rules: [{days: [all], windows: ['25:00-26:00'], period: a}]}]\n", "bad start"},
		{"empty window", head + "    rule_sets: [{rules: [{days: [all], windows: ['10:00-10:00'], period: a}]}]\n", "empty"},
		{"gap", head + "    rule_sets: [{rules: [{days: [all], windows: ['00:00-23:30'], period: a}]}]\n", "no rule covers Sunday at 23:30"},
		{"overlap", head + "    rule_sets: [{rules: [{days: [all], windows: ['00:00-24:00'], period: a}, {days: [sat], windows: ['10:00-11:00'], period: b}]}]\n", "overlap"},
		{"bad date", head + "    rule_sets: [{from: 2024-13-01, rules: [{days: [all], windows: ['00:00-24:00'], period: a}]}]\n", "not a YYYY-MM-DD date"},
		{"inverted range", head + "    rule_sets: [{from: 2024-02-01, to: 2024-01-01, rules: [{days: [all], windows: ['00:00-24:00'], period: a}]}]\n", "is not before"},
		{"bad month", head + "    rule_sets: [{months: [13], rules: [{days: [all], windows: ['00:00-24:00'], period: a}]}]\n", "month 13 out of range"},
		{"repeated month", head + "    rule_sets: [{months: [1, 1], rules: [{days: [all], windows: ['00:00-24:00'], period: a}]}]\n", "listed twice"},
		{
			"overlapping months",
			head + "    rule_sets:\n" +
				"      - {name: summer, months: [12, 1, 2], rules: [{days: [all], windows: ['00:00-24:00'], period: a}]}\n" +
				"      - {name: winter, months: [2, 3], rules: [{days: [all], windows: ['00:00-24:00'], period: b}]}\n",
			"overlapping date ranges",
		},
		{
			"season overlaps unrestricted set",
			head + "    rule_sets:\n" +
				"      - {name: summer, months: [12, 1, 2], rules: [{days: [all], windows: ['00:00-24:00'], period: a}]}\n" +
				"      - {name: always, from: 2024-01-01, rules: [{days: [all], windows: ['00:00-24:00'], period: b}]}\n",
			"overlapping date ranges",
		},
		{
			"overlapping rule sets",
			head + "    rule_sets:\n" +
				"      - {name: one, to: 2024-06-01, rules: [{days: [all], windows: ['00:00-24:00'], period: a}]}\n" +
				"      - {name: two, from: 2024-05-01, rules: [{days: [all], windows: ['00:00-24:00'], period: b}]}\n",
			"overlapping date ranges",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			var cerr *ConfigurationError
			require.ErrorAs(t, err, &cerr)
			assert.Contains(t, cerr.Error(), tt.reason)
		})
	}
}

func TestParseWindow(t *testing.T) {
	spans, err := ParseWindow("22:00-00:00")
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{1320, 1440}}, spans)

	spans, err = ParseWindow("06:30-24:00")
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{390, 1440}}, spans)

	_, err = ParseWindow("24:00-01:00")
	assert.Error(t, err)
	_, err = ParseWindow("0700")
	assert.Error(t, err)
}

func TestParseDays(t *testing.T) {
	set, err := ParseDays([]string{"Sat", "sunday"})
	require.NoError(t, err)
	assert.Equal(t, Weekend, set)
	assert.True(t, set.Has(time.Saturday))
	assert.False(t, set.Has(time.Monday))

	_, err = ParseDays(nil)
	assert.Error(t, err)
}
