package ingest

import (
	"context"
	"fmt"
	"time"

	"energy_billing/internal/model"
)

// WatermarkSource reports the latest stored start of a register.
type WatermarkSource interface {
	LastTimestamp(ctx context.Context, nmi, registerCode string) (time.Time, bool, error)
}

// KeySource reports which starts of a register are already stored.
type KeySource interface {
	StartsBetween(ctx context.Context, nmi, registerCode string, from, to time.Time) (map[time.Time]struct{}, error)
}

// FilterAfterWatermark keeps only rows that start after the latest stored
// start of their register. The watermark is fetched once per register.
func FilterAfterWatermark(ctx context.Context, rows []model.IntervalReading, src WatermarkSource) ([]model.IntervalReading, int, error) {
	type mark struct {
		at  time.Time
		set bool
	}
	marks := make(map[model.SeriesKey]mark)

	kept := make([]model.IntervalReading, 0, len(rows))
	skipped := 0
	for _, r := range rows {
		key := r.Series()
		m, ok := marks[key]
		if !ok {
			last, found, err := src.LastTimestamp(ctx, key.NMI, key.RegisterCode)
			if err != nil {
				return nil, 0, fmt.Errorf("watermark for %s %s: %w", key.NMI, key.RegisterCode, err)
			}
			m = mark{at: last, set: found}
			marks[key] = m
		}
		if m.set && !r.Start.After(m.at) {
			skipped++
			continue
		}
		kept = append(kept, r)
	}
	return kept, skipped, nil
}

// FilterExistingKeys drops rows whose key is already stored, looking only
// at stored starts inside the window the rows span. Rows repeating a key
// within the batch collapse to the last occurrence.
func FilterExistingKeys(ctx context.Context, rows []model.IntervalReading, src KeySource) ([]model.IntervalReading, int, error) {
	type window struct{ from, to time.Time }
	windows := make(map[model.SeriesKey]window)
	for _, r := range rows {
		key := r.Series()
		w, ok := windows[key]
		if !ok {
			windows[key] = window{from: r.Start, to: r.Start}
			continue
		}
		if r.Start.Before(w.from) {
			w.from = r.Start
		}
		if r.Start.After(w.to) {
			w.to = r.Start
		}
		windows[key] = w
	}

	stored := make(map[model.SeriesKey]map[time.Time]struct{}, len(windows))
	for key, w := range windows {
		starts, err := src.StartsBetween(ctx, key.NMI, key.RegisterCode, w.from, w.to)
		if err != nil {
			return nil, 0, fmt.Errorf("stored keys for %s %s: %w", key.NMI, key.RegisterCode, err)
		}
		stored[key] = starts
	}

	kept := make([]model.IntervalReading, 0, len(rows))
	index := make(map[model.Key]int, len(rows))
	skipped := 0
	for _, r := range rows {
		if _, dup := stored[r.Series()][r.Start.UTC()]; dup {
			skipped++
			continue
		}
		k := r.Key()
		if i, seen := index[k]; seen {
			kept[i] = r // later occurrence wins
			skipped++
			continue
		}
		index[k] = len(kept)
		kept = append(kept, r)
	}
	return kept, skipped, nil
}
