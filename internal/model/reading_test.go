package model

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateType(t *testing.T) {
	assert.True(t, RateTypeUsage.Valid())
	assert.True(t, RateTypeSolar.Valid())
	assert.True(t, RateTypeReactive.Valid())
	assert.False(t, RateType("Gas").Valid())

	rt, err := ParseRateType(" Solar ")
	require.NoError(t, err)
	assert.Equal(t, RateTypeSolar, rt)

	rt, err = ParseRateType("Other")
	require.NoError(t, err)
	assert.Equal(t, RateTypeReactive, rt)

	_, err = ParseRateType("usage")
	assert.Error(t, err)
}

func TestQuarter(t *testing.T) {
	tests := []struct {
		month time.Month
		want  int
	}{
		{time.January, 1}, {time.March, 1},
		{time.April, 2}, {time.June, 2},
		{time.July, 3}, {time.September, 3},
		{time.October, 4}, {time.December, 4},
	}
	for _, tt := range tests {
		t.Run(tt.month.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Quarter(time.Date(2024, tt.month, 15, 0, 0, 0, 0, time.UTC)))
		})
	}
}

func TestRegisterCode(t *testing.T) {
	assert.Equal(t, "700813815#E1", RegisterCode("700813815", "E1"))
	assert.Equal(t, "UNKNOWN#B1", RegisterCode("  ", "b1"))
}

func TestNormalizeNMI(t *testing.T) {
	assert.Equal(t, "NCDE001111", NormalizeNMI("  ncde001111 "))
}

func TestKey_NormalizesLocation(t *testing.T) {
	ts := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	a := IntervalReading{NMI: "N1", RegisterCode: "R#E1", Start: ts}
	b := IntervalReading{NMI: "N1", RegisterCode: "R#E1", Start: ts.In(time.FixedZone("AEST", 10*3600))}

	seen := map[Key]bool{a.Key(): true}
	assert.True(t, seen[b.Key()])
	assert.Equal(t, SeriesKey{NMI: "N1", RegisterCode: "R#E1"}, a.Series())
}

func TestCompare_OrdersByStartThenRegister(t *testing.T) {
	t0 := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	rows := []IntervalReading{
		{NMI: "N1", RegisterCode: "S#E1", Start: t0.Add(30 * time.Minute)},
		{NMI: "N1", RegisterCode: "S#E1", Start: t0},
		{NMI: "N1", RegisterCode: "S#B1", Start: t0},
		{NMI: "N0", RegisterCode: "S#B1", Start: t0},
	}
	slices.SortFunc(rows, Compare)

	assert.Equal(t, "N0", rows[0].NMI)
	assert.Equal(t, "S#B1", rows[1].RegisterCode)
	assert.Equal(t, "S#E1", rows[2].RegisterCode)
	assert.Equal(t, t0.Add(30*time.Minute), rows[3].Start)
}

func TestDerivedColumns(t *testing.T) {
	r := IntervalReading{Start: time.Date(2024, 8, 9, 13, 30, 0, 0, time.UTC)}
	assert.Equal(t, 9, r.StartDay())
	assert.Equal(t, 8, r.StartMonth())
	assert.Equal(t, 3, r.StartQuarter())
	assert.Equal(t, 2024, r.StartYear())
}
