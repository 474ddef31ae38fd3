package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"energy_billing/internal/billing"
	"energy_billing/internal/ingest"
)

// Envelope wraps all WebSocket messages with a type discriminator.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants
const (
	// Client -> Server
	TypeBillRequest = "bill:request"

	// Server -> Client
	TypeVendors       = "tariff:vendors"
	TypeIngestStage   = "ingest:stage"
	TypeIngestResult  = "ingest:result"
	TypeBillBreakdown = "bill:breakdown"
	TypeBillError     = "bill:error"
)

// Timestamps on the wire are naive wall clock.
const wireTime = "2006-01-02T15:04:05"

// Client -> Server messages

// BillRequestPayload asks for a breakdown of [start, end). Dates are
// YYYY-MM-DD or YYYY-MM-DDTHH:MM:SS.
type BillRequestPayload struct {
	RequestID string `json:"request_id"`
	Vendor    string `json:"vendor"`
	Start     string `json:"start"`
	End       string `json:"end"`
	NMI       string `json:"nmi,omitempty"`
}

// Range parses the requested bounds.
func (p BillRequestPayload) Range() (time.Time, time.Time, error) {
	start, err := parseWireTime(p.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
	}
	end, err := parseWireTime(p.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
	}
	return start, end, nil
}

func parseWireTime(s string) (time.Time, error) {
	for _, layout := range []string{time.DateOnly, wireTime, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a date", s)
}

// Server -> Client messages

type VendorsPayload struct {
	Vendors []string `json:"vendors"`
}

type IngestStagePayload struct {
	BatchID string `json:"batch_id"`
	Source  string `json:"source"`
	Stage   string `json:"stage"`
	At      string `json:"at"`
}

type IngestResultPayload struct {
	BatchID                string `json:"batch_id"`
	Source                 string `json:"source"`
	NMI                    string `json:"nmi,omitempty"`
	Status                 string `json:"status"`
	FailedStage            string `json:"failed_stage,omitempty"`
	RowsConsidered         int    `json:"rows_considered"`
	RowsSkippedAsDuplicate int    `json:"rows_skipped_as_duplicate"`
	RowsAppended           int    `json:"rows_appended"`
	FirstStart             string `json:"first_start,omitempty"`
	LastStart              string `json:"last_start,omitempty"`
	Error                  string `json:"error,omitempty"`
}

type BillLinePayload struct {
	Period   string `json:"period"`
	UsageKWh string `json:"usage_kwh"`
	Rate     string `json:"rate"`
	Cost     string `json:"cost"`
}

type BillDayPayload struct {
	Date        string `json:"date"`
	UsageKWh    string `json:"usage_kwh"`
	UsageCost   string `json:"usage_cost"`
	SolarKWh    string `json:"solar_kwh"`
	SolarCredit string `json:"solar_credit"`
}

// BillBreakdownPayload carries a presented breakdown. Amounts are decimal
// strings rounded to cents.
type BillBreakdownPayload struct {
	RequestID     string            `json:"request_id,omitempty"`
	Vendor        string            `json:"vendor"`
	Currency      string            `json:"currency"`
	Start         string            `json:"start"`
	End           string            `json:"end"`
	Days          int               `json:"days"`
	Lines         []BillLinePayload `json:"lines"`
	TotalUsageKWh string            `json:"total_usage_kwh"`
	UsageCost     string            `json:"usage_cost"`
	SupplyCharge  string            `json:"supply_charge"`
	SolarKWh      string            `json:"solar_kwh"`
	SolarCredit   string            `json:"solar_credit"`
	SubTotal      string            `json:"sub_total"`
	NetCost       string            `json:"net_cost"`
	Daily         []BillDayPayload  `json:"daily,omitempty"`
}

type BillErrorPayload struct {
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
}

func NewEnvelope(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

func IngestStageFromEvent(ev ingest.Event) IngestStagePayload {
	return IngestStagePayload{
		BatchID: ev.BatchID.String(),
		Source:  ev.Source,
		Stage:   string(ev.Stage),
		At:      ev.At.UTC().Format(time.RFC3339),
	}
}

func IngestResultFromEvent(ev ingest.Event) IngestResultPayload {
	p := IngestResultPayload{
		BatchID: ev.BatchID.String(),
		Source:  ev.Source,
		Status:  string(ev.Stage),
	}
	if ev.Err != nil {
		p.Error = ev.Err.Error()
	}
	if r := ev.Result; r != nil {
		p.NMI = r.NMI
		p.FailedStage = string(r.FailedStage)
		p.RowsConsidered = r.RowsConsidered
		p.RowsSkippedAsDuplicate = r.RowsSkippedAsDuplicate
		p.RowsAppended = r.RowsAppended
		p.FirstStart = formatOptional(r.FirstStart)
		p.LastStart = formatOptional(r.LastStart)
	}
	return p
}

// BillFromBreakdown presents b for the wire.
func BillFromBreakdown(requestID string, b *billing.CostBreakdown) BillBreakdownPayload {
	if !b.Rounded {
		b = b.Presented()
	}
	p := BillBreakdownPayload{
		RequestID:     requestID,
		Vendor:        b.Vendor,
		Currency:      b.Currency,
		Start:         b.Start.Format(wireTime),
		End:           b.End.Format(wireTime),
		Days:          b.Days,
		Lines:         make([]BillLinePayload, 0, len(b.Lines)),
		TotalUsageKWh: b.TotalUsageKWh.String(),
		UsageCost:     cents(b.UsageCost),
		SupplyCharge:  cents(b.SupplyCharge),
		SolarKWh:      b.SolarKWh.String(),
		SolarCredit:   cents(b.SolarCredit),
		SubTotal:      cents(b.SubTotal),
		NetCost:       cents(b.NetCost),
	}
	for _, l := range b.Lines {
		p.Lines = append(p.Lines, BillLinePayload{
			Period:   l.Period,
			UsageKWh: l.UsageKWh.String(),
			Rate:     l.Rate.String(),
			Cost:     cents(l.Cost),
		})
	}
	for _, d := range b.Daily {
		p.Daily = append(p.Daily, BillDayPayload{
			Date:        d.Date.Format(time.DateOnly),
			UsageKWh:    d.UsageKWh.String(),
			UsageCost:   cents(d.UsageCost),
			SolarKWh:    d.SolarKWh.String(),
			SolarCredit: cents(d.SolarCredit),
		})
	}
	return p
}

func cents(d decimal.Decimal) string {
	return d.StringFixed(billing.MoneyPlaces)
}

func formatOptional(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(wireTime)
}
