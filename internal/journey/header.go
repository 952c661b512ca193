// Package journey models the metadata header attached to every journey and
// its protobuf wire form.
package journey

import (
	"fmt"
	"strings"
	"time"
)

// Type says how a journey's geometry is stored.
type Type int8

const (
	TypeVector Type = 0
	TypeBitmap Type = 1
)

// AllTypes lists every Type.
func AllTypes() []Type { return []Type{TypeVector, TypeBitmap} }

func (t Type) Int() int8 { return int8(t) }

// TypeOfInt is the inverse of Int. Values outside the enum are rejected.
func TypeOfInt(i int64) (Type, error) {
	switch i {
	case 0:
		return TypeVector, nil
	case 1:
		return TypeBitmap, nil
	}
	return 0, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown journey type %d", i)}
}

func (t Type) String() string {
	switch t {
	case TypeVector:
		return "vector"
	case TypeBitmap:
		return "bitmap"
	}
	return fmt.Sprintf("type(%d)", int8(t))
}

func (t Type) MarshalText() ([]byte, error) {
	if t != TypeVector && t != TypeBitmap {
		return nil, &ValidationError{Field: "type", Reason: t.String()}
	}
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "vector":
		*t = TypeVector
	case "bitmap":
		*t = TypeBitmap
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown journey type %q", b)}
	}
	return nil
}

// Kind is the closed set of built-in journey kinds. The wire form also allows
// a free-form custom kind, which has no in-memory value and is rejected with
// *UnsupportedKindError.
type Kind int8

const (
	KindDefault Kind = iota
	KindFlight
)

// AllKinds lists every Kind.
func AllKinds() []Kind { return []Kind{KindDefault, KindFlight} }

func (k Kind) String() string {
	switch k {
	case KindDefault:
		return "default"
	case KindFlight:
		return "flight"
	}
	return fmt.Sprintf("kind(%d)", int8(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	if k != KindDefault && k != KindFlight {
		return nil, &ValidationError{Field: "kind", Reason: k.String()}
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "default":
		*k = KindDefault
	case "flight":
		*k = KindFlight
	default:
		return &UnsupportedKindError{Custom: string(b)}
	}
	return nil
}

// Date is a calendar date without time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

var epochDay = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)

// DateOfDays converts days since 1970-01-01.
func DateOfDays(days int32) Date {
	t := epochDay.AddDate(0, 0, int(days))
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// DateOf takes the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// DaysSinceEpoch is the inverse of DateOfDays.
func (d Date) DaysSinceEpoch() int32 {
	t := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
	return int32(t.Unix() / 86400)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	t, err := time.Parse(time.DateOnly, string(b))
	if err != nil {
		return &ValidationError{Field: "journey_date", Reason: "expected YYYY-MM-DD", Err: err}
	}
	*d = DateOf(t)
	return nil
}

// Header is the metadata of one journey. Timestamps carry second precision
// in UTC once they have crossed the wire.
type Header struct {
	ID                string     `json:"id"`
	Revision          string     `json:"revision"`
	JourneyDate       Date       `json:"journey_date"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
	Start             *time.Time `json:"start,omitempty"`
	End               *time.Time `json:"end,omitempty"`
	Type              Type       `json:"type"`
	Kind              Kind       `json:"kind"`
	Note              *string    `json:"note,omitempty"`
	PostprocessorAlgo *string    `json:"postprocessor_algo,omitempty"`
}

// Truncated drops sub-second precision and normalises timestamps to UTC,
// which is exactly what a wire round trip preserves.
func (h Header) Truncated() Header {
	h.CreatedAt = truncate(h.CreatedAt)
	h.UpdatedAt = truncatePtr(h.UpdatedAt)
	h.Start = truncatePtr(h.Start)
	h.End = truncatePtr(h.End)
	return h
}

func truncate(t time.Time) time.Time {
	return time.Unix(t.Unix(), 0).UTC()
}

func truncatePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := truncate(*t)
	return &v
}

// Equal compares headers field by field, timestamps by instant.
func (h Header) Equal(o Header) bool {
	return h.ID == o.ID &&
		h.Revision == o.Revision &&
		h.JourneyDate == o.JourneyDate &&
		h.CreatedAt.Equal(o.CreatedAt) &&
		timePtrEqual(h.UpdatedAt, o.UpdatedAt) &&
		timePtrEqual(h.Start, o.Start) &&
		timePtrEqual(h.End, o.End) &&
		h.Type == o.Type &&
		h.Kind == o.Kind &&
		strPtrEqual(h.Note, o.Note) &&
		strPtrEqual(h.PostprocessorAlgo, o.PostprocessorAlgo)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Validate checks the fields a stored journey needs.
func (h Header) Validate() error {
	if strings.TrimSpace(h.ID) == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if _, err := TypeOfInt(int64(h.Type)); err != nil {
		return err
	}
	if h.Kind != KindDefault && h.Kind != KindFlight {
		return &ValidationError{Field: "kind", Reason: h.Kind.String()}
	}
	if h.Start != nil && h.End != nil && h.End.Before(*h.Start) {
		return &ValidationError{Field: "end", Reason: "before start"}
	}
	return nil
}
