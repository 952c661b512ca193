package journey

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Header message field numbers.
const (
	fieldID                protowire.Number = 1
	fieldRevision          protowire.Number = 2
	fieldJourneyDate       protowire.Number = 3
	fieldCreatedAt         protowire.Number = 4
	fieldUpdatedAt         protowire.Number = 5
	fieldEnd               protowire.Number = 6
	fieldStart             protowire.Number = 7
	fieldType              protowire.Number = 8
	fieldKind              protowire.Number = 9
	fieldNote              protowire.Number = 10
	fieldPostprocessorAlgo protowire.Number = 11
)

// Kind message: oneof { BuiltIn build_in = 1; string custom_kind = 2; }
const (
	fieldKindBuiltIn protowire.Number = 1
	fieldKindCustom  protowire.Number = 2
)

const (
	builtInDefault = 0
	builtInFlight  = 1
)

// MarshalHeader encodes h in protobuf wire format. Sub-second precision of
// the timestamps is dropped. A kind outside Default and Flight has no wire
// form and fails with *ValidationError.
func MarshalHeader(h Header) ([]byte, error) {
	kind, err := marshalKind(h.Kind)
	if err != nil {
		return nil, err
	}
	var b []byte
	if h.ID != "" {
		b = protowire.AppendTag(b, fieldID, protowire.BytesType)
		b = protowire.AppendString(b, h.ID)
	}
	if h.Revision != "" {
		b = protowire.AppendTag(b, fieldRevision, protowire.BytesType)
		b = protowire.AppendString(b, h.Revision)
	}
	if d := h.JourneyDate.DaysSinceEpoch(); d != 0 {
		b = appendInt(b, fieldJourneyDate, int64(d))
	}
	if s := h.CreatedAt.Unix(); s != 0 {
		b = appendInt(b, fieldCreatedAt, s)
	}
	b = appendOptTime(b, fieldUpdatedAt, h.UpdatedAt)
	b = appendOptTime(b, fieldEnd, h.End)
	b = appendOptTime(b, fieldStart, h.Start)
	if h.Type != TypeVector {
		b = appendInt(b, fieldType, int64(h.Type))
	}
	b = protowire.AppendTag(b, fieldKind, protowire.BytesType)
	b = protowire.AppendBytes(b, kind)
	if h.Note != nil {
		b = protowire.AppendTag(b, fieldNote, protowire.BytesType)
		b = protowire.AppendString(b, *h.Note)
	}
	if h.PostprocessorAlgo != nil {
		b = protowire.AppendTag(b, fieldPostprocessorAlgo, protowire.BytesType)
		b = protowire.AppendString(b, *h.PostprocessorAlgo)
	}
	return b, nil
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendOptTime(b []byte, num protowire.Number, t *time.Time) []byte {
	if t == nil {
		return b
	}
	return appendInt(b, num, t.Unix())
}

func marshalKind(k Kind) ([]byte, error) {
	var v uint64
	switch k {
	case KindDefault:
		v = builtInDefault
	case KindFlight:
		v = builtInFlight
	default:
		return nil, &ValidationError{Field: "kind", Reason: k.String()}
	}
	b := protowire.AppendTag(nil, fieldKindBuiltIn, protowire.VarintType)
	return protowire.AppendVarint(b, v), nil
}

// UnmarshalHeader decodes the wire form. It fails with *ValidationError for
// malformed bytes, an unknown type or a missing kind, and with
// *UnsupportedKindError when the kind is a custom string.
func UnmarshalHeader(b []byte) (Header, error) {
	var (
		kindRaw []byte
		hasKind bool
	)
	// proto3 omits zero scalars; absent means the epoch
	h := Header{JourneyDate: DateOfDays(0), CreatedAt: time.Unix(0, 0).UTC()}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Header{}, wireErr("tag", n)
		}
		b = b[n:]

		switch {
		case num == fieldID && typ == protowire.BytesType:
			h.ID, n = protowire.ConsumeString(b)
		case num == fieldRevision && typ == protowire.BytesType:
			h.Revision, n = protowire.ConsumeString(b)
		case num == fieldJourneyDate && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			h.JourneyDate = DateOfDays(int32(v))
		case num == fieldCreatedAt && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			h.CreatedAt = time.Unix(int64(v), 0).UTC()
		case (num == fieldUpdatedAt || num == fieldEnd || num == fieldStart) && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			t := time.Unix(int64(v), 0).UTC()
			switch num {
			case fieldUpdatedAt:
				h.UpdatedAt = &t
			case fieldEnd:
				h.End = &t
			default:
				h.Start = &t
			}
		case num == fieldType && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			if n >= 0 {
				t, err := TypeOfInt(int64(int32(v)))
				if err != nil {
					return Header{}, err
				}
				h.Type = t
			}
		case num == fieldKind && typ == protowire.BytesType:
			kindRaw, n = protowire.ConsumeBytes(b)
			hasKind = true
		case num == fieldNote && typ == protowire.BytesType:
			var s string
			s, n = protowire.ConsumeString(b)
			h.Note = &s
		case num == fieldPostprocessorAlgo && typ == protowire.BytesType:
			var s string
			s, n = protowire.ConsumeString(b)
			h.PostprocessorAlgo = &s
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return Header{}, wireErr(fmt.Sprintf("field %d", num), n)
		}
		b = b[n:]
	}

	if !hasKind {
		return Header{}, &ValidationError{Field: "kind", Reason: "missing"}
	}
	k, err := unmarshalKind(kindRaw)
	if err != nil {
		return Header{}, err
	}
	h.Kind = k
	return h, nil
}

func unmarshalKind(b []byte) (Kind, error) {
	// oneof: the last member on the wire wins
	var (
		builtIn  uint64
		custom   string
		isCustom bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, wireErr("kind tag", n)
		}
		b = b[n:]
		switch {
		case num == fieldKindBuiltIn && typ == protowire.VarintType:
			builtIn, n = protowire.ConsumeVarint(b)
			isCustom = false
		case num == fieldKindCustom && typ == protowire.BytesType:
			custom, n = protowire.ConsumeString(b)
			isCustom = true
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return 0, wireErr("kind", n)
		}
		b = b[n:]
	}

	if isCustom {
		return 0, &UnsupportedKindError{Custom: custom}
	}
	switch builtIn {
	case builtInDefault:
		return KindDefault, nil
	case builtInFlight:
		return KindFlight, nil
	}
	return 0, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown built-in kind %d", builtIn)}
}

func wireErr(where string, n int) error {
	return &ValidationError{Field: where, Reason: "malformed wire data", Err: protowire.ParseError(n)}
}
