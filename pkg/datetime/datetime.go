// Package datetime normalizes loosely typed date/time values into zone-aware instants.
package datetime

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // zone database for minimal containers

	"github.com/araddon/dateparse"
	"github.com/ncruces/go-strftime"
)

const (
	// DefaultZone is the zone results are expressed in unless configured otherwise.
	DefaultZone = "Asia/Kolkata"
	// DefaultUnits is the strftime pattern used by NowString.
	DefaultUnits = "%Y-%m-%d %I:%M:%S %p %z"

	// naiveUnits renders Date and Clock values before they are parsed back as text.
	naiveUnits = "%Y-%m-%d %I:%M:%S %p"

	isoUTCLayout   = "2006-01-02T15:04:05.999999999Z"
	dayMonthDashes = "2-1-2006"
	dayMonthSlash  = "2/1/2006"
)

var (
	// ErrUnsupportedType is returned for Go types the normalizer does not understand.
	ErrUnsupportedType = errors.New("unsupported value type")
	// ErrNoUnitsMatched is returned when none of the explicit units match.
	ErrNoUnitsMatched = errors.New("no units matched")
	// ErrUnrecognized is returned when every parsing strategy failed.
	ErrUnrecognized = errors.New("unrecognized date format")

	nullSentinels = map[string]struct{}{
		"null":     {},
		"None":     {},
		"__NULL__": {},
	}

	shortYearFirst = regexp.MustCompile(`^(\d{2})[-/.](\d{1,2})[-/.](\d{1,2})$`)

	// 01.05.2021, 30-04-2021 11:45, 1/5/2021 10:00:30
	numericDate = regexp.MustCompile(`^(\d{1,2})[-./](\d{1,2})[-./](\d{4})(?:[ T](\d{1,2}):(\d{2})(?::(\d{2}))?)?$`)
)

// Epoch bounds: 0001-01-01T00:00:00Z through 9999-12-31T23:59:59Z.
const (
	minEpochSeconds = -62135596800
	maxEpochSeconds = 253402300799
)

// ParseError reports a value that could not be turned into an instant.
type ParseError struct {
	Value any
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse value %q to datetime: %v", fmt.Sprint(e.Value), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Date is a calendar date without a time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// Clock is a time of day without a date.
type Clock struct {
	Hour   int
	Minute int
	Second int
}

// Wall is a date and time of day that carries no zone. It is read as local
// time in the target zone.
type Wall struct {
	Date
	Clock
}

// Options configures a Normalizer.
type Options struct {
	DayFirst  bool
	YearFirst bool
	Zone      string
}

// Normalizer converts values to instants in a fixed zone. It is safe for
// concurrent use.
type Normalizer struct {
	dayFirst  bool
	yearFirst bool
	loc       *time.Location
	clock     func() time.Time
}

// New builds a Normalizer. An empty zone selects DefaultZone.
func New(opts Options) (*Normalizer, error) {
	loc, err := loadZone(opts.Zone)
	if err != nil {
		return nil, err
	}
	return &Normalizer{
		dayFirst:  opts.DayFirst,
		yearFirst: opts.YearFirst,
		loc:       loc,
		clock:     time.Now,
	}, nil
}

// Location returns the zone results are expressed in.
func (n *Normalizer) Location() *time.Location { return n.loc }

// Option tunes a single Normalize call.
type Option func(*params)

type params struct {
	units     []string
	dayFirst  bool
	yearFirst bool
	loc       *time.Location
	err       error
}

// Units restricts text parsing to the given strftime patterns, tried in
// order. Each argument may hold several comma-separated patterns.
func Units(units ...string) Option {
	return func(p *params) {
		for _, u := range units {
			for _, part := range strings.Split(u, ",") {
				if part = strings.TrimSpace(part); part != "" {
					p.units = append(p.units, part)
				}
			}
		}
	}
}

// DayFirst overrides the configured day-first preference for ambiguous dates.
func DayFirst(v bool) Option { return func(p *params) { p.dayFirst = v } }

// YearFirst overrides the configured year-first preference for ambiguous dates.
func YearFirst(v bool) Option { return func(p *params) { p.yearFirst = v } }

// In expresses the result in zone instead of the configured one.
func In(zone string) Option {
	return func(p *params) {
		loc, err := loadZone(zone)
		if err != nil {
			p.err = err
			return
		}
		p.loc = loc
	}
}

// Normalize converts value to an instant in the target zone.
//
// A nil value, a zero time or one of the null sentinels yields the zero Time
// and a nil error. Numbers and numeric strings are Unix epoch seconds.
func (n *Normalizer) Normalize(value any, opts ...Option) (time.Time, error) {
	p := params{dayFirst: n.dayFirst, yearFirst: n.yearFirst, loc: n.loc}
	for _, opt := range opts {
		opt(&p)
	}
	if p.err != nil {
		return time.Time{}, p.err
	}

	switch v := value.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		if v.IsZero() {
			return time.Time{}, nil
		}
		return v.In(p.loc), nil
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, nil
		}
		return v.In(p.loc), nil
	case Wall:
		return time.Date(v.Year, v.Month, v.Day, v.Hour, v.Minute, v.Second, 0, p.loc), nil
	case Date:
		text := strftime.Format(naiveUnits, time.Date(v.Year, v.Month, v.Day, 0, 0, 0, 0, time.UTC))
		return n.normalizeText(value, text, p)
	case Clock:
		text := strftime.Format(naiveUnits, time.Date(1900, time.January, 1, v.Hour, v.Minute, v.Second, 0, time.UTC))
		return n.normalizeText(value, text, p)
	case json.Number:
		return n.normalizeText(value, v.String(), p)
	case string:
		return n.normalizeText(value, v, p)
	}

	if f, ok := toFloat(value); ok {
		return fromEpoch(value, f, p.loc)
	}
	return time.Time{}, &ParseError{Value: value, Err: fmt.Errorf("%w %T", ErrUnsupportedType, value)}
}

// MustNormalize is like Normalize but panics on error. Intended for tests and
// constant inputs.
func (n *Normalizer) MustNormalize(value any, opts ...Option) time.Time {
	t, err := n.Normalize(value, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// Now returns the current instant in the target zone.
func (n *Normalizer) Now() time.Time {
	return n.clock().In(n.loc)
}

// NowString formats the current instant with a strftime pattern, DefaultUnits
// when units is empty.
func (n *Normalizer) NowString(units string) string {
	if strings.TrimSpace(units) == "" {
		units = DefaultUnits
	}
	return strftime.Format(units, n.Now())
}

func (n *Normalizer) normalizeText(orig any, text string, p params) (time.Time, error) {
	s := strings.TrimSpace(text)

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(orig, f, p.loc)
	}
	if _, ok := nullSentinels[s]; ok {
		return time.Time{}, nil
	}

	if len(p.units) > 0 {
		for _, u := range p.units {
			if t, err := parseUnits(u, s, p.loc); err == nil {
				return t, nil
			}
		}
		return time.Time{}, &ParseError{
			Value: orig,
			Err:   fmt.Errorf("%w: %s", ErrNoUnitsMatched, strings.Join(p.units, ", ")),
		}
	}

	if strings.HasSuffix(s, "Z") {
		if t, err := time.Parse(isoUTCLayout, s); err == nil {
			return t.In(p.loc), nil
		}
	}
	if t, err := time.ParseInLocation(dayMonthDashes, s, p.loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(dayMonthSlash, s, p.loc); err == nil {
		return t, nil
	}

	t, err := parseFree(s, p)
	if err != nil {
		return time.Time{}, &ParseError{Value: orig, Err: fmt.Errorf("%w: %v", ErrUnrecognized, err)}
	}
	return t.In(p.loc), nil
}

// parseFree handles free-form text. Two-digit leading years are only
// recognized when year-first is requested; everything else goes through
// dateparse with the day-first preference.
func parseFree(s string, p params) (time.Time, error) {
	if p.yearFirst {
		if m := shortYearFirst.FindStringSubmatch(s); m != nil {
			layout := "06-1-2"
			if p.dayFirst {
				layout = "06-2-1"
			}
			return time.ParseInLocation(layout, m[1]+"-"+m[2]+"-"+m[3], p.loc)
		}
	}
	if m := numericDate.FindStringSubmatch(s); m != nil {
		return parseNumericDate(m, p)
	}
	t, err := dateparse.ParseIn(s, p.loc, dateparse.PreferMonthFirst(!p.dayFirst))
	if err == nil {
		return t, nil
	}
	// 13/02/2021 with month-first preference: retry with the other order
	// instead of dateparse's own swap, which loses the location.
	if swapped, swapErr := dateparse.ParseIn(s, p.loc, dateparse.PreferMonthFirst(p.dayFirst)); swapErr == nil {
		return swapped, nil
	}
	return time.Time{}, err
}

// parseNumericDate reads an all-digit date in the preferred day/month order.
// When the preferred month field is over 12 the other order is used.
func parseNumericDate(m []string, p params) (time.Time, error) {
	first, _ := strconv.Atoi(m[1])
	second, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])

	day, month := second, first
	if p.dayFirst || first > 12 {
		day, month = first, second
	}
	if month > 12 && day <= 12 {
		day, month = month, day
	}

	var clock [3]int
	for i, part := range m[4:7] {
		if part != "" {
			clock[i], _ = strconv.Atoi(part)
		}
	}
	if month < 1 || month > 12 || clock[0] > 23 || clock[1] > 59 || clock[2] > 59 {
		return time.Time{}, fmt.Errorf("date %q out of range", m[0])
	}

	t := time.Date(year, time.Month(month), day, clock[0], clock[1], clock[2], 0, p.loc)
	if t.Day() != day {
		return time.Time{}, fmt.Errorf("day out of range in %q", m[0])
	}
	return t, nil
}

// parseUnits parses s with one strftime pattern. Patterns without a zone
// directive are read as wall-clock time in loc.
func parseUnits(units, s string, loc *time.Location) (time.Time, error) {
	t, err := strftime.Parse(units, s)
	if err != nil {
		return time.Time{}, err
	}
	if !hasZoneDirective(units) {
		t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
	}
	return t.In(loc), nil
}

func hasZoneDirective(units string) bool {
	for _, d := range []string{"%z", "%:z", "%Z", "%+"} {
		if strings.Contains(units, d) {
			return true
		}
	}
	return false
}

func fromEpoch(orig any, f float64, loc *time.Location) (time.Time, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, &ParseError{Value: orig, Err: errors.New("epoch is not a finite number")}
	}
	if f < minEpochSeconds || f > maxEpochSeconds {
		return time.Time{}, &ParseError{Value: orig, Err: fmt.Errorf("epoch %v is out of range", f)}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).In(loc), nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func loadZone(zone string) (*time.Location, error) {
	zone = strings.TrimSpace(zone)
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", zone, err)
	}
	return loc, nil
}
