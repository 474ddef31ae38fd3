package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"energy_billing/internal/metrics"
	"energy_billing/internal/model"
	"energy_billing/internal/store"
	"energy_billing/internal/tariff"
)

// ErrNoReadings is returned by DeviceInfo for a meter with no stored data.
var ErrNoReadings = errors.New("no readings stored for meter")

// Engine prices stored interval readings against a tariff model.
type Engine struct {
	readings store.Reader
	tariffs  *tariff.Model
	dayCount DayCountPolicy
	log      *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithDayCount sets the supply charge day count policy.
func WithDayCount(p DayCountPolicy) Option {
	return func(e *Engine) { e.dayCount = p }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func New(readings store.Reader, tariffs *tariff.Model, opts ...Option) *Engine {
	e := &Engine{
		readings: readings,
		tariffs:  tariffs,
		dayCount: DayCountCeil,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tariffs returns the model the engine prices against.
func (e *Engine) Tariffs() *tariff.Model { return e.tariffs }

type query struct {
	nmi string
}

// QueryOption narrows a calculation.
type QueryOption func(*query)

// ForMeter restricts a calculation to one NMI.
func ForMeter(nmi string) QueryOption {
	return func(q *query) { q.nmi = model.NormalizeNMI(nmi) }
}

// CalculateCostRange returns the net cost of [start, end) and the cost of
// each tariff period.
func (e *Engine) CalculateCostRange(ctx context.Context, start, end time.Time, vendor string, opts ...QueryOption) (*CostSummary, error) {
	b, err := e.CalculateDetailedBreakdown(ctx, start, end, vendor, opts...)
	if err != nil {
		return nil, err
	}
	return b.Summary(), nil
}

// CalculateDetailedBreakdown prices every reading in [start, end). Usage
// is charged at its period's rate, solar export is credited at the solar
// rate and reactive readings are ignored. Any reading that cannot be
// classified aborts the calculation.
func (e *Engine) CalculateDetailedBreakdown(ctx context.Context, start, end time.Time, vendor string, opts ...QueryOption) (b *CostBreakdown, err error) {
	began := time.Now()
	defer func() {
		readings := 0
		if b != nil {
			readings = b.Readings
		}
		metrics.ObserveCostCalculation(metrics.Result(err), readings, time.Since(began))
	}()

	if !start.Before(end) {
		return nil, &InvalidRangeError{Start: start, End: end}
	}
	var q query
	for _, opt := range opts {
		opt(&q)
	}

	v, err := e.tariffs.Vendor(vendor)
	if err != nil {
		return nil, err
	}

	b = &CostBreakdown{
		Vendor:     v.Name(),
		Currency:   v.Currency(),
		Start:      start,
		End:        end,
		DayCount:   e.dayCount,
		SupplyRate: v.SupplyCharge(),
		SolarRate:  v.SolarRate(),
	}

	lineIdx := make(map[string]int)
	for _, r := range v.Rates() {
		lineIdx[r.Period] = len(b.Lines)
		b.Lines = append(b.Lines, PeriodLine{Period: r.Period, Rate: r.PerKWh})
	}

	dayIdx := make(map[time.Time]int)
	day := func(ts time.Time) *DayTotal {
		d := civilDate(ts)
		i, ok := dayIdx[d]
		if !ok {
			i = len(b.Daily)
			dayIdx[d] = i
			b.Daily = append(b.Daily, DayTotal{Date: d})
		}
		return &b.Daily[i]
	}

	for r, err := range e.readings.ReadRange(ctx, start, end, q.nmi) {
		if err != nil {
			return nil, fmt.Errorf("reading interval data: %w", err)
		}
		b.Readings++

		switch r.RateType {
		case model.RateTypeUsage:
			period, err := v.Classify(r.Start)
			if err != nil {
				return nil, fmt.Errorf("classifying %s: %w", r.Key(), err)
			}
			i, ok := lineIdx[period]
			if !ok {
				return nil, &tariff.ConfigurationError{Vendor: vendor, Reason: fmt.Sprintf("no rate for period %q", period)}
			}
			line := &b.Lines[i]
			cost := r.ProfileReadValue.Mul(line.Rate)
			line.UsageKWh = line.UsageKWh.Add(r.ProfileReadValue)
			line.Cost = line.Cost.Add(cost)

			d := day(r.Start)
			d.UsageKWh = d.UsageKWh.Add(r.ProfileReadValue)
			d.UsageCost = d.UsageCost.Add(cost)

		case model.RateTypeSolar:
			b.SolarKWh = b.SolarKWh.Add(r.ProfileReadValue)

			d := day(r.Start)
			d.SolarKWh = d.SolarKWh.Add(r.ProfileReadValue)
			d.SolarCredit = d.SolarCredit.Add(r.ProfileReadValue.Mul(b.SolarRate))
		}
	}

	for _, l := range b.Lines {
		b.TotalUsageKWh = b.TotalUsageKWh.Add(l.UsageKWh)
		b.UsageCost = b.UsageCost.Add(l.Cost)
	}
	b.Days = e.dayCount.WholeDays(start, end)
	b.SupplyCharge = b.SupplyRate.Mul(decimal.NewFromInt(int64(b.Days)))
	b.SolarCredit = b.SolarKWh.Mul(b.SolarRate)
	b.SubTotal = b.UsageCost.Add(b.SupplyCharge)
	b.NetCost = b.SubTotal.Sub(b.SolarCredit)

	e.log.Debug("cost calculated",
		zap.String("vendor", vendor),
		zap.String("nmi", q.nmi),
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("readings", b.Readings),
		zap.Int("days", b.Days),
		zap.Stringer("net_cost", b.NetCost),
	)
	return b, nil
}

// UsageByDate returns the total usage recorded on a calendar date.
func (e *Engine) UsageByDate(ctx context.Context, date time.Time, opts ...QueryOption) (decimal.Decimal, error) {
	return e.sumByDate(ctx, date, model.RateTypeUsage, opts)
}

// SolarByDate returns the total solar export recorded on a calendar date.
func (e *Engine) SolarByDate(ctx context.Context, date time.Time, opts ...QueryOption) (decimal.Decimal, error) {
	return e.sumByDate(ctx, date, model.RateTypeSolar, opts)
}

func (e *Engine) sumByDate(ctx context.Context, date time.Time, rt model.RateType, opts []QueryOption) (decimal.Decimal, error) {
	var q query
	for _, opt := range opts {
		opt(&q)
	}
	start := wallMidnight(date)
	total := decimal.Zero
	for r, err := range e.readings.ReadRange(ctx, start, start.AddDate(0, 0, 1), q.nmi) {
		if err != nil {
			return decimal.Decimal{}, err
		}
		if r.RateType == rt {
			total = total.Add(r.ProfileReadValue)
		}
	}
	return total, nil
}

// DeviceInfo describes the device of the earliest stored reading of a meter.
func (e *Engine) DeviceInfo(ctx context.Context, nmi string) (model.DeviceInfo, error) {
	nmi = model.NormalizeNMI(nmi)
	for r, err := range e.readings.ReadRange(ctx, store.MinTime, store.MaxTime, nmi) {
		if err != nil {
			return model.DeviceInfo{}, err
		}
		return model.DeviceInfo{
			NMI:           r.NMI,
			DeviceNumber:  r.DeviceNumber,
			DeviceType:    r.DeviceType,
			AccountNumber: r.AccountNumber,
		}, nil
	}
	return model.DeviceInfo{}, fmt.Errorf("%s: %w", nmi, ErrNoReadings)
}
