package ingest

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"energy_billing/internal/model"
)

// Defaults fills the reading fields NEM12 does not carry.
type Defaults struct {
	AccountNumber string
	DeviceType    string
}

// RateTypeForSuffix maps a NEM12 channel suffix to a rate type by its
// first letter: E import, B export, Q and K reactive.
func RateTypeForSuffix(suffix string) (model.RateType, bool) {
	if suffix == "" {
		return "", false
	}
	switch strings.ToUpper(suffix[:1]) {
	case "E":
		return model.RateTypeUsage, true
	case "B":
		return model.RateTypeSolar, true
	case "Q", "K":
		return model.RateTypeReactive, true
	}
	return "", false
}

// Convert turns every channel of a parsed file into interval readings.
// A single unrecognised channel fails the whole file.
func Convert(f *File, defaults Defaults) ([]model.IntervalReading, error) {
	deviceType := defaults.DeviceType
	if deviceType == "" {
		deviceType = model.DefaultDeviceType
	}

	var rows []model.IntervalReading
	for _, c := range f.Channels {
		rateType, ok := RateTypeForSuffix(c.Suffix)
		if !ok {
			return nil, &ConversionError{NMI: c.NMI, Suffix: c.Suffix, Line: c.Line}
		}

		serial := strings.TrimSpace(c.MeterSerial)
		if serial == "" {
			serial = model.UnknownSerial
		}
		register := model.RegisterCode(serial, c.Suffix)
		step := time.Duration(c.IntervalLength) * time.Minute

		for _, d := range c.Days {
			for i, v := range d.Values {
				start := d.Date.Add(time.Duration(i) * step)
				rows = append(rows, model.IntervalReading{
					AccountNumber:     defaults.AccountNumber,
					NMI:               c.NMI,
					DeviceNumber:      serial,
					DeviceType:        deviceType,
					RegisterCode:      register,
					RateType:          rateType,
					Start:             start,
					End:               start.Add(step),
					ProfileReadValue:  v,
					RegisterReadValue: decimal.Zero,
					QualityFlag:       d.Quality[i],
				})
			}
		}
	}
	return rows, nil
}

// Meters lists each NMI in a file with its register codes and suffixes.
func Meters(f *File) []model.MeterChannels {
	byNMI := make(map[string]*model.MeterChannels)
	for _, c := range f.Channels {
		m, ok := byNMI[c.NMI]
		if !ok {
			m = &model.MeterChannels{NMI: c.NMI}
			byNMI[c.NMI] = m
		}
		register := model.RegisterCode(c.MeterSerial, c.Suffix)
		if !slices.Contains(m.RegisterCodes, register) {
			m.RegisterCodes = append(m.RegisterCodes, register)
		}
		if !slices.Contains(m.Suffixes, c.Suffix) {
			m.Suffixes = append(m.Suffixes, c.Suffix)
		}
	}

	out := make([]model.MeterChannels, 0, len(byNMI))
	for _, nmi := range f.NMIs() {
		m := byNMI[nmi]
		slices.Sort(m.RegisterCodes)
		slices.Sort(m.Suffixes)
		out = append(out, *m)
	}
	return out
}
