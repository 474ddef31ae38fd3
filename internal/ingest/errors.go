package ingest

import (
	"errors"
	"fmt"
)

// ErrMeterNotFound is returned when an import asks for an NMI the file
// does not contain.
var ErrMeterNotFound = errors.New("meter not found in file")

// ParseError reports a malformed NEM12 record.
type ParseError struct {
	Line   int
	Record string // record indicator, e.g. "300"
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("NEM12 line %d", e.Line)
	if e.Record != "" {
		msg += " (" + e.Record + ")"
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// ConversionError reports a channel that cannot be mapped to a rate type.
type ConversionError struct {
	NMI    string
	Suffix string
	Line   int
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("NMI %s: unrecognised channel %q (line %d)", e.NMI, e.Suffix, e.Line)
}

// IngestionError reports a batch the store refused. Nothing from the
// batch was written.
type IngestionError struct {
	Source string
	Rows   int
	Err    error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingesting %s: store rejected %d rows: %v", e.Source, e.Rows, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }
