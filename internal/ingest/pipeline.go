package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"energy_billing/internal/metrics"
	"energy_billing/internal/model"
	"energy_billing/internal/store"
)

// Stage is a step of one ingestion run.
type Stage string

const (
	StageParsing       Stage = "parsing"
	StageConverting    Stage = "converting"
	StageDeduplicating Stage = "deduplicating"
	StageAppending     Stage = "appending"
	StageDone          Stage = "done"
	StageFailed        Stage = "failed"
)

// Result summarises one ingestion run. RowsConsidered always equals
// RowsSkippedAsDuplicate plus RowsAppended on success.
type Result struct {
	BatchID                uuid.UUID
	Source                 string
	NMI                    string // empty when the whole file was imported
	Stage                  Stage
	FailedStage            Stage
	RowsConsidered         int
	RowsSkippedAsDuplicate int
	RowsAppended           int
	FirstStart             time.Time // earliest appended start
	LastStart              time.Time // latest appended start
	Duration               time.Duration
}

// Event is published on every stage transition.
type Event struct {
	BatchID uuid.UUID
	Source  string
	Stage   Stage
	At      time.Time
	Result  *Result // set for done and failed
	Err     error   // set for failed
}

// Observer receives ingestion events.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

// Importer runs NEM12 files through parse, convert, dedup and append.
// Runs against the same store must not overlap.
type Importer struct {
	store    store.Store
	defaults Defaults
	log      *zap.Logger
	observer Observer
}

// Option configures an Importer.
type Option func(*Importer)

// WithDefaults sets the account number and device type of new readings.
func WithDefaults(d Defaults) Option {
	return func(im *Importer) { im.defaults = d }
}

// WithLogger sets the importer logger.
func WithLogger(l *zap.Logger) Option {
	return func(im *Importer) {
		if l != nil {
			im.log = l
		}
	}
}

// WithObserver registers an observer for stage events.
func WithObserver(o Observer) Option {
	return func(im *Importer) { im.observer = o }
}

func NewImporter(st store.Store, opts ...Option) *Importer {
	im := &Importer{
		store: st,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Import ingests the NEM12 file at path. A non-empty nmi restricts the
// import to that meter.
func (im *Importer) Import(ctx context.Context, path, nmi string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{Source: path, Stage: StageFailed, FailedStage: StageParsing}, fmt.Errorf("opening NEM12 file: %w", err)
	}
	defer f.Close()
	return im.ImportReader(ctx, f, path, nmi)
}

// ImportReader ingests NEM12 data read from r. Nothing is written unless
// every stage succeeds.
func (im *Importer) ImportReader(ctx context.Context, r io.Reader, source, nmi string) (Result, error) {
	began := time.Now()
	res := Result{
		BatchID: uuid.New(),
		Source:  source,
		NMI:     model.NormalizeNMI(nmi),
	}
	log := im.log.With(zap.String("batch_id", res.BatchID.String()), zap.String("source", source))

	fail := func(stage Stage, err error) (Result, error) {
		res.Stage = StageFailed
		res.FailedStage = stage
		res.Duration = time.Since(began)
		metrics.IncIngestFailure(string(stage))
		metrics.ObserveIngest(metrics.ResultError, 0, 0, res.Duration)
		log.Error("import failed", zap.String("stage", string(stage)), zap.Error(err))
		out := res
		im.emit(Event{BatchID: res.BatchID, Source: source, Stage: StageFailed, Result: &out, Err: err})
		return res, err
	}

	im.enter(log, &res, StageParsing)
	file, err := ParseNEM12(r)
	if err != nil {
		return fail(StageParsing, err)
	}

	im.enter(log, &res, StageConverting)
	rows, err := Convert(file, im.defaults)
	if err != nil {
		return fail(StageConverting, err)
	}
	if res.NMI != "" {
		rows = slices.DeleteFunc(rows, func(row model.IntervalReading) bool {
			return row.NMI != res.NMI
		})
		if !slices.Contains(file.NMIs(), res.NMI) {
			return fail(StageConverting, fmt.Errorf("%s in %s: %w", res.NMI, source, ErrMeterNotFound))
		}
	}
	res.RowsConsidered = len(rows)

	im.enter(log, &res, StageDeduplicating)
	fresh, staleCount, err := FilterAfterWatermark(ctx, rows, im.store)
	if err != nil {
		return fail(StageDeduplicating, err)
	}
	fresh, dupCount, err := FilterExistingKeys(ctx, fresh, im.store)
	if err != nil {
		return fail(StageDeduplicating, err)
	}
	res.RowsSkippedAsDuplicate = staleCount + dupCount
	log.Debug("deduplicated",
		zap.Int("considered", res.RowsConsidered),
		zap.Int("behind_watermark", staleCount),
		zap.Int("existing_keys", dupCount),
	)

	im.enter(log, &res, StageAppending)
	slices.SortStableFunc(fresh, model.Compare)
	if err := im.store.Append(ctx, fresh); err != nil {
		return fail(StageAppending, &IngestionError{Source: source, Rows: len(fresh), Err: err})
	}
	res.RowsAppended = len(fresh)
	if len(fresh) > 0 {
		res.FirstStart = fresh[0].Start
		res.LastStart = fresh[len(fresh)-1].Start
	}

	res.Stage = StageDone
	res.Duration = time.Since(began)
	metrics.ObserveIngest(metrics.ResultSuccess, res.RowsAppended, res.RowsSkippedAsDuplicate, res.Duration)
	log.Info("import finished",
		zap.String("nmi", res.NMI),
		zap.Int("rows_considered", res.RowsConsidered),
		zap.Int("rows_skipped", res.RowsSkippedAsDuplicate),
		zap.Int("rows_appended", res.RowsAppended),
		zap.Duration("duration", res.Duration),
	)
	out := res
	im.emit(Event{BatchID: res.BatchID, Source: source, Stage: StageDone, Result: &out})
	return res, nil
}

func (im *Importer) enter(log *zap.Logger, res *Result, stage Stage) {
	res.Stage = stage
	log.Debug("stage", zap.String("stage", string(stage)))
	im.emit(Event{BatchID: res.BatchID, Source: res.Source, Stage: stage})
}

func (im *Importer) emit(ev Event) {
	if im.observer == nil {
		return
	}
	ev.At = time.Now()
	im.observer.Observe(ev)
}

// LastEntry returns the latest stored start across a meter's registers.
func (im *Importer) LastEntry(ctx context.Context, m model.MeterChannels) (time.Time, bool, error) {
	var (
		latest time.Time
		found  bool
	)
	for _, register := range m.RegisterCodes {
		last, ok, err := im.store.LastTimestamp(ctx, m.NMI, register)
		if err != nil {
			return time.Time{}, false, err
		}
		if ok && (!found || last.After(latest)) {
			latest, found = last, true
		}
	}
	return latest, found, nil
}

// ListAvailableMeters parses a NEM12 file and reports its meters and
// channels without touching any store.
func ListAvailableMeters(path string) ([]model.MeterChannels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening NEM12 file: %w", err)
	}
	defer f.Close()

	file, err := ParseNEM12(f)
	if err != nil {
		return nil, err
	}
	for _, c := range file.Channels {
		if _, ok := RateTypeForSuffix(c.Suffix); !ok {
			return nil, &ConversionError{NMI: c.NMI, Suffix: c.Suffix, Line: c.Line}
		}
	}
	return Meters(file), nil
}
