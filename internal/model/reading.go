package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RateType classifies what a register measures.
type RateType string

const (
	RateTypeUsage    RateType = "Usage"
	RateTypeSolar    RateType = "Solar"
	RateTypeReactive RateType = "Reactive"
)

// Valid reports whether t is one of the known rate types.
func (t RateType) Valid() bool {
	switch t {
	case RateTypeUsage, RateTypeSolar, RateTypeReactive:
		return true
	}
	return false
}

// legacyOther is how older store files label every register that is
// neither usage nor solar.
const legacyOther = "Other"

// ParseRateType maps a stored RateTypeDescription back to a RateType.
// The legacy "Other" label reads as Reactive.
func ParseRateType(s string) (RateType, error) {
	t := RateType(strings.TrimSpace(s))
	if t == legacyOther {
		return RateTypeReactive, nil
	}
	if !t.Valid() {
		return "", fmt.Errorf("unknown rate type %q", s)
	}
	return t, nil
}

// DefaultDeviceType is assigned to meters whose files carry no device type.
const DefaultDeviceType = "COMMS4D"

// UnknownSerial stands in for a missing meter serial number.
const UnknownSerial = "UNKNOWN"

// DefaultQualityFlag applies when a day row carries no quality method.
const DefaultQualityFlag = "A"

// IntervalReading is one stored energy measurement for a register over
// the half-open interval [Start, End).
type IntervalReading struct {
	AccountNumber     string
	NMI               string
	DeviceNumber      string
	DeviceType        string
	RegisterCode      string
	RateType          RateType
	Start             time.Time
	End               time.Time
	ProfileReadValue  decimal.Decimal // kWh
	RegisterReadValue decimal.Decimal
	QualityFlag       string
}

// Key identifies a reading within a store.
type Key struct {
	NMI          string
	RegisterCode string
	Start        time.Time
}

// SeriesKey identifies the readings of a single register.
type SeriesKey struct {
	NMI          string
	RegisterCode string
}

// Key returns the reading's identity. Start is normalized so keys compare
// equal regardless of how the time value was constructed.
func (r IntervalReading) Key() Key {
	return Key{NMI: r.NMI, RegisterCode: r.RegisterCode, Start: r.Start.UTC()}
}

// Series returns the register the reading belongs to.
func (r IntervalReading) Series() SeriesKey {
	return SeriesKey{NMI: r.NMI, RegisterCode: r.RegisterCode}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s@%s", k.NMI, k.RegisterCode, k.Start.Format(time.DateTime))
}

// StartDay, StartMonth, StartQuarter and StartYear are the derived
// calendar columns of the flat store layout.
func (r IntervalReading) StartDay() int     { return r.Start.Day() }
func (r IntervalReading) StartMonth() int   { return int(r.Start.Month()) }
func (r IntervalReading) StartQuarter() int { return Quarter(r.Start) }
func (r IntervalReading) StartYear() int    { return r.Start.Year() }

// Quarter returns the calendar quarter (1-4) of t.
func Quarter(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}

// NormalizeNMI returns the canonical form of a meter identifier.
func NormalizeNMI(nmi string) string {
	return strings.ToUpper(strings.TrimSpace(nmi))
}

// RegisterCode builds the "<serial>#<suffix>" register code.
func RegisterCode(serial, suffix string) string {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		serial = UnknownSerial
	}
	return serial + "#" + strings.ToUpper(strings.TrimSpace(suffix))
}

// Less orders readings by start time, then register code, then NMI.
func Less(a, b IntervalReading) bool {
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	if a.RegisterCode != b.RegisterCode {
		return a.RegisterCode < b.RegisterCode
	}
	return a.NMI < b.NMI
}

// Compare is the three-way form of Less for slices.SortFunc.
func Compare(a, b IntervalReading) int {
	switch {
	case Less(a, b):
		return -1
	case Less(b, a):
		return 1
	}
	return 0
}

// DeviceInfo describes the metering device behind an NMI.
type DeviceInfo struct {
	NMI           string
	DeviceNumber  string
	DeviceType    string
	AccountNumber string
}

// MeterChannels lists the registers found for one NMI.
type MeterChannels struct {
	NMI           string
	RegisterCodes []string
	Suffixes      []string
}
