package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"energy_billing/internal/model"
)

// NEM12 record indicators.
const (
	recordHeader   = "100"
	recordNMI      = "200"
	recordInterval = "300"
	recordEvent    = "400"
	recordB2B      = "500"
	recordEnd      = "900"
)

const (
	nem12Version  = "NEM12"
	nem12Date     = "20060102"
	nem12Minute   = "200601021504"
	nem12Second   = "20060102150405"
	minutesPerDay = 24 * 60
)

// Header is the 100 record.
type Header struct {
	Version         string
	Created         time.Time
	FromParticipant string
	ToParticipant   string
}

// Channel is one 200 record with its interval days.
//
// Expected format:
//
//	200,NMI,NMIConfiguration,RegisterID,NMISuffix,MDMDataStreamIdentifier,MeterSerialNumber,UOM,IntervalLength,NextScheduledReadDate
type Channel struct {
	NMI               string
	Configuration     string
	RegisterID        string
	Suffix            string
	StreamID          string
	MeterSerial       string
	UOM               string
	IntervalLength    int // minutes
	NextScheduledRead time.Time
	Line              int
	Days              []Day
}

// Intervals is the number of values in one day for the channel.
func (c *Channel) Intervals() int {
	return minutesPerDay / c.IntervalLength
}

// Day is one 300 record.
//
// Expected format:
//
//	300,IntervalDate,IntervalValue1..N,QualityMethod,ReasonCode,ReasonDescription,UpdateDateTime,MSATSLoadDateTime
type Day struct {
	Date              time.Time
	Values            []decimal.Decimal
	QualityMethod     string
	ReasonCode        string
	ReasonDescription string
	Quality           []string // flag per interval, 400 events applied
	UpdatedAt         time.Time
	MSATSLoadedAt     time.Time
	Line              int
}

// File is a parsed NEM12 file.
type File struct {
	Header   Header
	Channels []*Channel
}

// NMIs returns the distinct meters in the file, sorted.
func (f *File) NMIs() []string {
	var nmis []string
	for _, c := range f.Channels {
		if !slices.Contains(nmis, c.NMI) {
			nmis = append(nmis, c.NMI)
		}
	}
	slices.Sort(nmis)
	return nmis
}

// ParseNEM12 reads a complete NEM12 file.
func ParseNEM12(r io.Reader) (*File, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	p := &nem12Parser{file: &File{}}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line := 0
			var cerr *csv.ParseError
			if errors.As(err, &cerr) {
				line = cerr.Line
			}
			return nil, &ParseError{Line: line, Reason: "reading CSV", Err: err}
		}
		line, _ := cr.FieldPos(0)
		if err := p.record(record, line); err != nil {
			return nil, err
		}
	}
	if len(p.file.Channels) == 0 {
		return nil, &ParseError{Line: 1, Reason: "no 200 records found"}
	}
	return p.file, nil
}

type nem12Parser struct {
	file    *File
	channel *Channel
	day     *Day
	started bool
	ended   bool
}

func (p *nem12Parser) record(rec []string, line int) error {
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}
	indicator := strings.TrimPrefix(rec[0], "\ufeff")
	if indicator == "" && len(rec) == 1 {
		return nil
	}
	if p.ended {
		return &ParseError{Line: line, Record: indicator, Reason: "record after 900 end of data"}
	}

	switch indicator {
	case recordHeader:
		return p.header(rec, line)
	case recordNMI:
		return p.nmi(rec, line)
	case recordInterval:
		return p.interval(rec, line)
	case recordEvent:
		return p.event(rec, line)
	case recordB2B:
		return nil
	case recordEnd:
		p.ended = true
		p.day = nil
		return nil
	default:
		return &ParseError{Line: line, Record: indicator, Reason: fmt.Sprintf("unknown record indicator %q", indicator)}
	}
}

func (p *nem12Parser) header(rec []string, line int) error {
	if p.started {
		return &ParseError{Line: line, Record: recordHeader, Reason: "header after data"}
	}
	if len(rec) < 2 {
		return &ParseError{Line: line, Record: recordHeader, Reason: fmt.Sprintf("expected at least 2 fields, got %d", len(rec))}
	}
	if rec[1] != nem12Version {
		return &ParseError{Line: line, Record: recordHeader, Reason: fmt.Sprintf("version %q is not %s", rec[1], nem12Version)}
	}
	h := Header{Version: rec[1]}
	if len(rec) > 2 && rec[2] != "" {
		created, err := parseTimestamp(rec[2])
		if err != nil {
			return &ParseError{Line: line, Record: recordHeader, Reason: "bad file creation time", Err: err}
		}
		h.Created = created
	}
	if len(rec) > 3 {
		h.FromParticipant = rec[3]
	}
	if len(rec) > 4 {
		h.ToParticipant = rec[4]
	}
	p.file.Header = h
	p.started = true
	return nil
}

func (p *nem12Parser) nmi(rec []string, line int) error {
	p.started = true
	if len(rec) < 9 {
		return &ParseError{Line: line, Record: recordNMI, Reason: fmt.Sprintf("expected at least 9 fields, got %d", len(rec))}
	}

	length, err := strconv.Atoi(rec[8])
	if err != nil {
		return &ParseError{Line: line, Record: recordNMI, Reason: fmt.Sprintf("interval length %q is not a number", rec[8]), Err: err}
	}
	if length <= 0 || minutesPerDay%length != 0 {
		return &ParseError{Line: line, Record: recordNMI, Reason: fmt.Sprintf("interval length %d does not divide a day", length)}
	}

	c := &Channel{
		NMI:            model.NormalizeNMI(rec[1]),
		Configuration:  rec[2],
		RegisterID:     rec[3],
		Suffix:         strings.ToUpper(rec[4]),
		StreamID:       rec[5],
		MeterSerial:    rec[6],
		UOM:            rec[7],
		IntervalLength: length,
		Line:           line,
	}
	if c.NMI == "" {
		return &ParseError{Line: line, Record: recordNMI, Reason: "empty NMI"}
	}
	if c.Suffix == "" {
		return &ParseError{Line: line, Record: recordNMI, Reason: "empty NMI suffix"}
	}
	if len(rec) > 9 && rec[9] != "" {
		next, err := time.Parse(nem12Date, rec[9])
		if err != nil {
			return &ParseError{Line: line, Record: recordNMI, Reason: "bad next scheduled read date", Err: err}
		}
		c.NextScheduledRead = next
	}

	p.file.Channels = append(p.file.Channels, c)
	p.channel = c
	p.day = nil
	return nil
}

func (p *nem12Parser) interval(rec []string, line int) error {
	if p.channel == nil {
		return &ParseError{Line: line, Record: recordInterval, Reason: "interval data before any 200 record"}
	}
	n := p.channel.Intervals()
	// date + values + quality method, then up to four optional fields
	if len(rec) < n+3 || len(rec) > n+7 {
		return &ParseError{Line: line, Record: recordInterval, Reason: fmt.Sprintf("expected %d fields for %d minute intervals, got %d", n+7, p.channel.IntervalLength, len(rec))}
	}

	date, err := time.Parse(nem12Date, rec[1])
	if err != nil {
		return &ParseError{Line: line, Record: recordInterval, Reason: fmt.Sprintf("bad interval date %q", rec[1]), Err: err}
	}

	d := Day{
		Date:          date,
		Values:        make([]decimal.Decimal, n),
		QualityMethod: rec[n+2],
		Quality:       make([]string, n),
		Line:          line,
	}
	for i := 0; i < n; i++ {
		v, err := decimal.NewFromString(rec[2+i])
		if err != nil {
			return &ParseError{Line: line, Record: recordInterval, Reason: fmt.Sprintf("interval %d value %q is not a number", i+1, rec[2+i])}
		}
		d.Values[i] = v
	}

	flag := qualityFlag(d.QualityMethod)
	for i := range d.Quality {
		d.Quality[i] = flag
	}

	optional := rec[n+3:]
	if len(optional) > 0 {
		d.ReasonCode = optional[0]
	}
	if len(optional) > 1 {
		d.ReasonDescription = optional[1]
	}
	if len(optional) > 2 && optional[2] != "" {
		if d.UpdatedAt, err = parseTimestamp(optional[2]); err != nil {
			return &ParseError{Line: line, Record: recordInterval, Reason: "bad update time", Err: err}
		}
	}
	if len(optional) > 3 && optional[3] != "" {
		if d.MSATSLoadedAt, err = parseTimestamp(optional[3]); err != nil {
			return &ParseError{Line: line, Record: recordInterval, Reason: "bad MSATS load time", Err: err}
		}
	}

	p.channel.Days = append(p.channel.Days, d)
	p.day = &p.channel.Days[len(p.channel.Days)-1]
	return nil
}

// event applies a 400 record to the preceding day.
//
// Expected format:
//
//	400,StartInterval,EndInterval,QualityMethod,ReasonCode,ReasonDescription
func (p *nem12Parser) event(rec []string, line int) error {
	if p.day == nil {
		return &ParseError{Line: line, Record: recordEvent, Reason: "interval event without a preceding 300 record"}
	}
	if len(rec) < 4 {
		return &ParseError{Line: line, Record: recordEvent, Reason: fmt.Sprintf("expected at least 4 fields, got %d", len(rec))}
	}
	from, err1 := strconv.Atoi(rec[1])
	to, err2 := strconv.Atoi(rec[2])
	n := len(p.day.Quality)
	if err1 != nil || err2 != nil || from < 1 || to < from || to > n {
		return &ParseError{Line: line, Record: recordEvent, Reason: fmt.Sprintf("bad interval range %s-%s for %d intervals", rec[1], rec[2], n)}
	}
	flag := qualityFlag(rec[3])
	for i := from - 1; i < to; i++ {
		p.day.Quality[i] = flag
	}
	return nil
}

// qualityFlag reduces a quality method such as "S14" to its flag.
func qualityFlag(method string) string {
	if method == "" {
		return model.DefaultQualityFlag
	}
	return strings.ToUpper(method[:1])
}

func parseTimestamp(s string) (time.Time, error) {
	switch len(s) {
	case len(nem12Second):
		return time.Parse(nem12Second, s)
	case len(nem12Minute):
		return time.Parse(nem12Minute, s)
	}
	return time.Time{}, fmt.Errorf("timestamp %q is neither YYYYMMDDHHMM nor YYYYMMDDHHMMSS", s)
}
