package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy_billing/internal/model"
)

type fakeSource struct {
	last      map[model.SeriesKey]time.Time
	stored    map[model.SeriesKey][]time.Time
	err       error
	lastCalls int
	keyCalls  int
}

func (f *fakeSource) LastTimestamp(_ context.Context, nmi, register string) (time.Time, bool, error) {
	f.lastCalls++
	if f.err != nil {
		return time.Time{}, false, f.err
	}
	at, ok := f.last[model.SeriesKey{NMI: nmi, RegisterCode: register}]
	return at, ok, nil
}

func (f *fakeSource) StartsBetween(_ context.Context, nmi, register string, from, to time.Time) (map[time.Time]struct{}, error) {
	f.keyCalls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[time.Time]struct{})
	for _, s := range f.stored[model.SeriesKey{NMI: nmi, RegisterCode: register}] {
		if !s.Before(from) && !s.After(to) {
			out[s] = struct{}{}
		}
	}
	return out, nil
}

var day = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func reading(register string, halfHour int, value string) model.IntervalReading {
	start := day.Add(time.Duration(halfHour) * 30 * time.Minute)
	return model.IntervalReading{
		NMI:              "NMI1",
		RegisterCode:     register,
		RateType:         model.RateTypeUsage,
		Start:            start,
		End:              start.Add(30 * time.Minute),
		ProfileReadValue: decimal.RequireFromString(value),
		QualityFlag:      "A",
	}
}

func TestFilterAfterWatermark(t *testing.T) {
	src := &fakeSource{last: map[model.SeriesKey]time.Time{
		{NMI: "NMI1", RegisterCode: "S#E1"}: day.Add(time.Hour),
	}}
	rows := []model.IntervalReading{
		reading("S#E1", 0, "1"), // behind the watermark even though never stored
		reading("S#E1", 2, "1"), // equal to the watermark
		reading("S#E1", 3, "1"),
		reading("S#B1", 0, "1"), // no watermark
		reading("S#E1", 4, "1"),
	}

	kept, skipped, err := FilterAfterWatermark(context.Background(), rows, src)
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, kept, 3)
	assert.Equal(t, day.Add(90*time.Minute), kept[0].Start)
	assert.Equal(t, "S#B1", kept[1].RegisterCode)
	assert.Equal(t, 2, src.lastCalls, "one lookup per register")
}

func TestFilterExistingKeys(t *testing.T) {
	src := &fakeSource{stored: map[model.SeriesKey][]time.Time{
		{NMI: "NMI1", RegisterCode: "S#E1"}: {day.Add(30 * time.Minute), day.Add(10 * time.Hour)},
	}}
	rows := []model.IntervalReading{
		reading("S#E1", 0, "1"),
		reading("S#E1", 1, "1"), // stored
		reading("S#E1", 2, "1"),
		reading("S#E1", 0, "7"), // repeats within the batch
	}

	kept, skipped, err := FilterExistingKeys(context.Background(), rows, src)
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, kept, 2)
	assert.Equal(t, "7", kept[0].ProfileReadValue.String(), "last occurrence wins")
	assert.Equal(t, day.Add(time.Hour), kept[1].Start)
	assert.Equal(t, 1, src.keyCalls)
}

func TestFilters_PropagateSourceErrors(t *testing.T) {
	boom := errors.New("connection reset")
	src := &fakeSource{err: boom}
	rows := []model.IntervalReading{reading("S#E1", 0, "1")}

	_, _, err := FilterAfterWatermark(context.Background(), rows, src)
	assert.ErrorIs(t, err, boom)

	_, _, err = FilterExistingKeys(context.Background(), rows, src)
	assert.ErrorIs(t, err, boom)
}

func TestFilters_Empty(t *testing.T) {
	src := &fakeSource{}
	kept, skipped, err := FilterAfterWatermark(context.Background(), nil, src)
	require.NoError(t, err)
	assert.Empty(t, kept)
	assert.Zero(t, skipped)

	kept, skipped, err = FilterExistingKeys(context.Background(), nil, src)
	require.NoError(t, err)
	assert.Empty(t, kept)
	assert.Zero(t, skipped)
	assert.Zero(t, src.keyCalls)
}
