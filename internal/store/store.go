package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"energy_billing/internal/model"
)

// Reader is the read side used by the cost engine.
type Reader interface {
	// ReadRange yields readings with Start in [start, end), ordered by
	// start then register code. An empty nmi matches every meter. The
	// sequence may be ranged over more than once.
	ReadRange(ctx context.Context, start, end time.Time, nmi string) iter.Seq2[model.IntervalReading, error]
}

// Store is an append-only dataset of interval readings.
type Store interface {
	Reader

	// Append validates every row and then writes all of them, or none.
	Append(ctx context.Context, rows []model.IntervalReading) error

	// LastTimestamp returns the latest stored Start for a register.
	LastTimestamp(ctx context.Context, nmi, registerCode string) (time.Time, bool, error)

	// StartsBetween returns the stored Start values of a register within
	// [from, to], both inclusive.
	StartsBetween(ctx context.Context, nmi, registerCode string, from, to time.Time) (map[time.Time]struct{}, error)

	Close() error
}

// Backend names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverCSV      = "csv"
	DriverPostgres = "postgres"
)

// Bounds of the representable reading range, for unbounded scans.
var (
	MinTime = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	MaxTime = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
)

// Open selects a backend by driver name. For csv the dsn is the file path,
// for postgres a connection URL.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverCSV:
		return OpenFile(dsn)
	case DriverPostgres:
		s, err := OpenSQL(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// ValidationError reports a row that cannot be stored. Row is the index in
// the appended batch; Line is set instead when loading a store file.
type ValidationError struct {
	Row    int
	Line   int
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	where := fmt.Sprintf("row %d", e.Row)
	if e.Line > 0 {
		where = fmt.Sprintf("line %d", e.Line)
	}
	msg := fmt.Sprintf("invalid reading at %s: %s %s", where, e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks the row invariants enforced on every append.
func Validate(rows []model.IntervalReading) error {
	for i, r := range rows {
		if err := validateRow(r); err != nil {
			err.Row = i
			return err
		}
	}
	return nil
}

func validateRow(r model.IntervalReading) *ValidationError {
	switch {
	case r.NMI == "":
		return &ValidationError{Field: "NMI", Reason: "is empty"}
	case r.RegisterCode == "":
		return &ValidationError{Field: "RegisterCode", Reason: "is empty"}
	case !r.RateType.Valid():
		return &ValidationError{Field: "RateTypeDescription", Reason: fmt.Sprintf("%q is not a known rate type", r.RateType)}
	case r.Start.IsZero():
		return &ValidationError{Field: "StartDate", Reason: "is zero"}
	case !r.End.After(r.Start):
		return &ValidationError{Field: "EndDate", Reason: fmt.Sprintf("%s is not after start %s", r.End.Format(time.DateTime), r.Start.Format(time.DateTime))}
	}
	if r.RateType != model.RateTypeReactive && r.ProfileReadValue.IsNegative() {
		return &ValidationError{Field: "ProfileReadValue", Reason: fmt.Sprintf("%s is negative for %s", r.ProfileReadValue, r.RateType)}
	}
	return nil
}
