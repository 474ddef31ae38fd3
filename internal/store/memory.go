package store

import (
	"context"
	"iter"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"energy_billing/internal/model"
)

// MemoryStore holds readings in memory, sorted by start then register code.
// Slices are replaced rather than mutated on append, so an iterator keeps
// reading the snapshot it started with.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   []model.IntervalReading
	series map[model.SeriesKey][]time.Time // sorted starts per register
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		series: make(map[model.SeriesKey][]time.Time),
	}
}

func (s *MemoryStore) Append(ctx context.Context, rows []model.IntervalReading) error {
	if err := Validate(rows); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.insert(rows)
	return nil
}

// insert adds already validated rows.
func (s *MemoryStore) insert(rows []model.IntervalReading) {
	if len(rows) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make([]model.IntervalReading, 0, len(s.rows)+len(rows))
	merged = append(merged, s.rows...)
	merged = append(merged, rows...)
	slices.SortStableFunc(merged, model.Compare)
	s.rows = merged

	// Rebuild the start index of each affected register
	added := make(map[model.SeriesKey][]time.Time)
	for _, r := range rows {
		added[r.Series()] = append(added[r.Series()], r.Start.UTC())
	}
	for key, starts := range added {
		all := make([]time.Time, 0, len(s.series[key])+len(starts))
		all = append(all, s.series[key]...)
		all = append(all, starts...)
		slices.SortFunc(all, time.Time.Compare)
		s.series[key] = all
	}
}

func (s *MemoryStore) LastTimestamp(_ context.Context, nmi, registerCode string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	starts := s.series[model.SeriesKey{NMI: nmi, RegisterCode: registerCode}]
	if len(starts) == 0 {
		return time.Time{}, false, nil
	}
	return starts[len(starts)-1], true, nil
}

func (s *MemoryStore) StartsBetween(_ context.Context, nmi, registerCode string, from, to time.Time) (map[time.Time]struct{}, error) {
	s.mu.RLock()
	starts := s.series[model.SeriesKey{NMI: nmi, RegisterCode: registerCode}]
	s.mu.RUnlock()

	lo := sort.Search(len(starts), func(i int) bool {
		return !starts[i].Before(from)
	})
	found := make(map[time.Time]struct{})
	for i := lo; i < len(starts) && !starts[i].After(to); i++ {
		found[starts[i]] = struct{}{}
	}
	return found, nil
}

func (s *MemoryStore) ReadRange(ctx context.Context, start, end time.Time, nmi string) iter.Seq2[model.IntervalReading, error] {
	return func(yield func(model.IntervalReading, error) bool) {
		s.mu.RLock()
		all := s.rows
		s.mu.RUnlock()

		// Binary search for start index
		idx := sort.Search(len(all), func(i int) bool {
			return !all[i].Start.Before(start)
		})

		for ; idx < len(all) && all[idx].Start.Before(end); idx++ {
			if nmi != "" && all[idx].NMI != nmi {
				continue
			}
			if err := ctx.Err(); err != nil {
				yield(model.IntervalReading{}, err)
				return
			}
			if !yield(all[idx], nil) {
				return
			}
		}
	}
}

// Count returns the total number of stored readings.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Series lists the registers present in the store.
func (s *MemoryStore) Series() []model.SeriesKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]model.SeriesKey, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b model.SeriesKey) int {
		if c := strings.Compare(a.NMI, b.NMI); c != 0 {
			return c
		}
		return strings.Compare(a.RegisterCode, b.RegisterCode)
	})
	return keys
}

func (s *MemoryStore) Close() error { return nil }
