package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"energy_billing/internal/model"
)

// DateLayout is the day-first timestamp layout of the store file.
const DateLayout = "02/01/2006 15:04:05"

// Columns is the header of the store file.
var Columns = []string{
	"AccountNumber", "NMI", "DeviceNumber", "DeviceType", "RegisterCode",
	"RateTypeDescription", "StartDate", "Start Day", "Start Month",
	"Start Quarter", "Start Year", "EndDate", "ProfileReadValue",
	"RegisterReadValue", "QualityFlag",
}

const (
	colAccount = iota
	colNMI
	colDeviceNumber
	colDeviceType
	colRegisterCode
	colRateType
	colStartDate
	colStartDay
	colStartMonth
	colStartQuarter
	colStartYear
	colEndDate
	colProfileRead
	colRegisterRead
	colQuality
)

// FileStore is the flat CSV store. The whole file is indexed in memory at
// open; appends go to the end of the file.
type FileStore struct {
	path  string
	mu    sync.Mutex // serializes writers
	index *MemoryStore
}

// OpenFile loads the store file at path. A missing file is an empty store;
// it is created on the first append.
func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{path: path, index: NewMemory()}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening store file: %w", err)
	}
	defer f.Close()

	rows, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	s.index.insert(rows)
	return s, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Append(ctx context.Context, rows []model.IntervalReading) error {
	if err := Validate(rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening store file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat store file: %w", err)
	}
	size := info.Size()

	err = terminateLastLine(f, size)
	if err == nil {
		err = writeRows(f, rows, size == 0)
	}
	if err != nil {
		// Drop the partial batch so the file matches the index again
		if terr := f.Truncate(size); terr != nil {
			return fmt.Errorf("writing batch: %w (truncate failed: %v)", err, terr)
		}
		return fmt.Errorf("writing batch: %w", err)
	}

	s.index.insert(rows)
	return nil
}

// terminateLastLine adds the missing newline of a file saved without one,
// so the next record starts on its own line.
func terminateLastLine(f *os.File, size int64) error {
	if size == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err := f.Write([]byte{'\n'})
	return err
}

func writeRows(f *os.File, rows []model.IntervalReading, header bool) error {
	w := csv.NewWriter(f)
	if header {
		if err := w.Write(Columns); err != nil {
			return err
		}
	}
	for _, r := range rows {
		if err := w.Write(FormatRow(r)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}

func (s *FileStore) LastTimestamp(ctx context.Context, nmi, registerCode string) (time.Time, bool, error) {
	return s.index.LastTimestamp(ctx, nmi, registerCode)
}

func (s *FileStore) StartsBetween(ctx context.Context, nmi, registerCode string, from, to time.Time) (map[time.Time]struct{}, error) {
	return s.index.StartsBetween(ctx, nmi, registerCode, from, to)
}

func (s *FileStore) ReadRange(ctx context.Context, start, end time.Time, nmi string) iter.Seq2[model.IntervalReading, error] {
	return s.index.ReadRange(ctx, start, end, nmi)
}

// Count returns the number of readings in the file.
func (s *FileStore) Count() int { return s.index.Count() }

func (s *FileStore) Close() error { return nil }

// FormatRow renders a reading as a store file record.
func FormatRow(r model.IntervalReading) []string {
	return []string{
		r.AccountNumber,
		r.NMI,
		r.DeviceNumber,
		r.DeviceType,
		r.RegisterCode,
		string(r.RateType),
		r.Start.Format(DateLayout),
		strconv.Itoa(r.StartDay()),
		strconv.Itoa(r.StartMonth()),
		strconv.Itoa(r.StartQuarter()),
		strconv.Itoa(r.StartYear()),
		r.End.Format(DateLayout),
		r.ProfileReadValue.String(),
		r.RegisterReadValue.String(),
		r.QualityFlag,
	}
}

// ReadCSV parses a complete store file.
func ReadCSV(r io.Reader) ([]model.IntervalReading, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	if err := validateHeader(header); err != nil {
		return nil, &ValidationError{Line: 1, Field: "header", Reason: err.Error()}
	}

	var rows []model.IntervalReading
	lineNum := 1 // header was line 1

	for {
		lineNum++
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV line %d: %w", lineNum, err)
		}

		row, verr := parseRow(record)
		if verr != nil {
			verr.Line = lineNum
			return nil, verr
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func validateHeader(header []string) error {
	if len(header) != len(Columns) {
		return fmt.Errorf("expected %d columns, got %d", len(Columns), len(header))
	}
	for i, col := range Columns {
		got := strings.ReplaceAll(strings.TrimSpace(header[i]), " ", "")
		if got != strings.ReplaceAll(col, " ", "") {
			return fmt.Errorf("expected column %d to be %q, got %q", i, col, header[i])
		}
	}
	return nil
}

func parseRow(record []string) (model.IntervalReading, *ValidationError) {
	if len(record) != len(Columns) {
		return model.IntervalReading{}, &ValidationError{
			Field: "record", Reason: fmt.Sprintf("expected %d fields, got %d", len(Columns), len(record)),
		}
	}
	field := func(i int) string { return strings.TrimSpace(record[i]) }

	rateType, err := model.ParseRateType(field(colRateType))
	if err != nil {
		return model.IntervalReading{}, &ValidationError{Field: "RateTypeDescription", Reason: "is invalid", Err: err}
	}
	start, err := time.Parse(DateLayout, field(colStartDate))
	if err != nil {
		return model.IntervalReading{}, &ValidationError{Field: "StartDate", Reason: "is malformed", Err: err}
	}
	end, err := time.Parse(DateLayout, field(colEndDate))
	if err != nil {
		return model.IntervalReading{}, &ValidationError{Field: "EndDate", Reason: "is malformed", Err: err}
	}
	profile, err := decimal.NewFromString(field(colProfileRead))
	if err != nil {
		return model.IntervalReading{}, &ValidationError{Field: "ProfileReadValue", Reason: "is not a number", Err: err}
	}
	register := decimal.Zero
	if v := field(colRegisterRead); v != "" {
		if register, err = decimal.NewFromString(v); err != nil {
			return model.IntervalReading{}, &ValidationError{Field: "RegisterReadValue", Reason: "is not a number", Err: err}
		}
	}

	r := model.IntervalReading{
		AccountNumber:     field(colAccount),
		NMI:               model.NormalizeNMI(field(colNMI)),
		DeviceNumber:      field(colDeviceNumber),
		DeviceType:        field(colDeviceType),
		RegisterCode:      field(colRegisterCode),
		RateType:          rateType,
		Start:             start,
		End:               end,
		ProfileReadValue:  profile,
		RegisterReadValue: register,
		QualityFlag:       field(colQuality),
	}

	derived := []struct {
		col  int
		name string
		want int
	}{
		{colStartDay, "Start Day", r.StartDay()},
		{colStartMonth, "Start Month", r.StartMonth()},
		{colStartQuarter, "Start Quarter", r.StartQuarter()},
		{colStartYear, "Start Year", r.StartYear()},
	}
	for _, d := range derived {
		got, err := strconv.Atoi(field(d.col))
		if err != nil || got != d.want {
			return model.IntervalReading{}, &ValidationError{
				Field: d.name, Reason: fmt.Sprintf("%q does not match StartDate (want %d)", record[d.col], d.want),
			}
		}
	}

	if verr := validateRow(r); verr != nil {
		return model.IntervalReading{}, verr
	}
	return r, nil
}
