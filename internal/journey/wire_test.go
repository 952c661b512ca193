package journey

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

func ptr[T any](v T) *T { return &v }

func encode(tb testing.TB, h Header) []byte {
	tb.Helper()
	b, err := MarshalHeader(h)
	if err != nil {
		tb.Fatalf("MarshalHeader: %v", err)
	}
	return b
}

func sampleHeader() Header {
	return Header{
		ID:                "a1b2c3",
		Revision:          "rev-7",
		JourneyDate:       Date{Year: 2024, Month: time.March, Day: 17},
		CreatedAt:         time.Date(2024, 3, 17, 8, 30, 5, 0, time.UTC),
		UpdatedAt:         ptr(time.Date(2024, 3, 18, 9, 0, 0, 0, time.UTC)),
		Start:             ptr(time.Date(2024, 3, 17, 7, 0, 0, 0, time.UTC)),
		End:               ptr(time.Date(2024, 3, 17, 8, 15, 0, 0, time.UTC)),
		Type:              TypeBitmap,
		Kind:              KindFlight,
		Note:              ptr("harbour loop"),
		PostprocessorAlgo: ptr("simplify-v2"),
	}
}

func TestType_IntRoundTrip(t *testing.T) {
	for _, ty := range AllTypes() {
		got, err := TypeOfInt(int64(ty.Int()))
		if err != nil {
			t.Fatalf("TypeOfInt(%d): %v", ty.Int(), err)
		}
		if got != ty {
			t.Fatalf("round trip %v -> %v", ty, got)
		}
	}
	for _, bad := range []int64{-1, 2, 127} {
		_, err := TypeOfInt(bad)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("TypeOfInt(%d): expected ValidationError, got %v", bad, err)
		}
	}
}

func TestHeader_WireRoundTrip(t *testing.T) {
	cases := map[string]Header{
		"full": sampleHeader(),
		"minimal": {
			ID:          "m",
			JourneyDate: Date{Year: 1970, Month: time.January, Day: 1},
			CreatedAt:   time.Unix(0, 0).UTC(),
		},
		"before epoch": {
			ID:          "old",
			JourneyDate: Date{Year: 1969, Month: time.July, Day: 20},
			CreatedAt:   time.Date(1969, 7, 20, 20, 17, 40, 0, time.UTC),
			Kind:        KindDefault,
			Type:        TypeVector,
			Note:        ptr(""),
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := UnmarshalHeader(encode(t, h))
			if err != nil {
				t.Fatalf("UnmarshalHeader: %v", err)
			}
			if !got.Equal(h) {
				t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, h)
			}
		})
	}
}

func TestHeader_KindRoundTrip(t *testing.T) {
	for _, k := range AllKinds() {
		h := sampleHeader()
		h.Kind = k
		got, err := UnmarshalHeader(encode(t, h))
		if err != nil {
			t.Fatalf("kind %v: %v", k, err)
		}
		if got.Kind != k {
			t.Fatalf("kind %v decoded as %v", k, got.Kind)
		}
	}
}

func TestHeader_SubSecondPrecisionDropped(t *testing.T) {
	h := sampleHeader()
	h.CreatedAt = time.Date(2024, 3, 17, 8, 30, 5, 987_654_321, time.FixedZone("CET", 3600))

	got, err := UnmarshalHeader(encode(t, h))
	if err != nil {
		t.Fatalf("UnmarshalHeader: %v", err)
	}
	if got.CreatedAt.Nanosecond() != 0 || got.CreatedAt.Location() != time.UTC {
		t.Fatalf("created_at=%v, want whole seconds in UTC", got.CreatedAt)
	}
	if !got.Equal(h.Truncated()) {
		t.Fatalf("decoded header differs from truncated input")
	}
}

// header bytes with the given kind payload appended
func withKind(kind []byte) []byte {
	h := sampleHeader()
	b, _ := MarshalHeader(h)
	// strip the encoded kind by re-encoding without it
	var out []byte
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		m := protowire.ConsumeFieldValue(num, typ, b[n:])
		if num != fieldKind {
			out = append(out, b[:n+m]...)
		}
		b = b[n+m:]
	}
	if kind != nil {
		out = protowire.AppendTag(out, fieldKind, protowire.BytesType)
		out = protowire.AppendBytes(out, kind)
	}
	return out
}

func TestUnmarshalHeader_CustomKindIsError(t *testing.T) {
	kind := protowire.AppendTag(nil, fieldKindCustom, protowire.BytesType)
	kind = protowire.AppendString(kind, "hot-air-balloon")

	_, err := UnmarshalHeader(withKind(kind))
	var uk *UnsupportedKindError
	if !errors.As(err, &uk) {
		t.Fatalf("expected UnsupportedKindError, got %v", err)
	}
	if uk.Custom != "hot-air-balloon" {
		t.Fatalf("custom=%q", uk.Custom)
	}
}

func TestUnmarshalHeader_OneofLastMemberWins(t *testing.T) {
	kind := protowire.AppendTag(nil, fieldKindCustom, protowire.BytesType)
	kind = protowire.AppendString(kind, "x")
	kind = protowire.AppendTag(kind, fieldKindBuiltIn, protowire.VarintType)
	kind = protowire.AppendVarint(kind, builtInFlight)

	h, err := UnmarshalHeader(withKind(kind))
	if err != nil {
		t.Fatalf("UnmarshalHeader: %v", err)
	}
	if h.Kind != KindFlight {
		t.Fatalf("kind=%v want flight", h.Kind)
	}
}

func TestUnmarshalHeader_ValidationErrors(t *testing.T) {
	defaultKind, err := marshalKind(KindDefault)
	if err != nil {
		t.Fatal(err)
	}
	badType := appendInt(withKind(defaultKind), fieldType, 5)
	unknownBuiltIn := protowire.AppendVarint(protowire.AppendTag(nil, fieldKindBuiltIn, protowire.VarintType), 9)

	cases := map[string][]byte{
		"missing kind":     withKind(nil),
		"unknown type":     badType,
		"unknown built-in": withKind(unknownBuiltIn),
		"truncated":        encode(t, sampleHeader())[:5],
		"garbage tag":      {0xff, 0xff, 0xff},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := UnmarshalHeader(raw)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestUnmarshalHeader_SkipsUnknownFields(t *testing.T) {
	b := encode(t, sampleHeader())
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future field")

	got, err := UnmarshalHeader(b)
	if err != nil {
		t.Fatalf("UnmarshalHeader: %v", err)
	}
	if !got.Equal(sampleHeader()) {
		t.Fatalf("unknown field changed decoded header")
	}
}

func TestDate_DaysSinceEpoch(t *testing.T) {
	for _, days := range []int32{-36500, -1, 0, 1, 19_799, 50_000} {
		d := DateOfDays(days)
		if got := d.DaysSinceEpoch(); got != days {
			t.Fatalf("DateOfDays(%d)=%v -> %d", days, d, got)
		}
	}
	if DateOfDays(0).String() != "1970-01-01" {
		t.Fatalf("epoch date=%s", DateOfDays(0))
	}
}

func TestHeader_JSON(t *testing.T) {
	h := sampleHeader()
	raw, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Header
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Equal(h) {
		t.Fatalf("json round trip mismatch: %s", raw)
	}

	var k Kind
	var uk *UnsupportedKindError
	if err := k.UnmarshalText([]byte("paraglide")); !errors.As(err, &uk) {
		t.Fatalf("expected UnsupportedKindError, got %v", err)
	}
}

func TestHeader_Validate(t *testing.T) {
	h := sampleHeader()
	if err := h.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	h.ID = " "
	if err := h.Validate(); err == nil {
		t.Fatalf("expected error for blank id")
	}
	h = sampleHeader()
	h.End = ptr(h.Start.Add(-time.Hour))
	if err := h.Validate(); err == nil {
		t.Fatalf("expected error for end before start")
	}
}

func TestMarshalHeader_RejectsKindWithoutWireForm(t *testing.T) {
	h := sampleHeader()
	h.Kind = Kind(7)

	_, err := MarshalHeader(h)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "kind" {
		t.Fatalf("MarshalHeader: expected kind ValidationError, got %v", err)
	}
	if _, textErr := h.Kind.MarshalText(); textErr == nil {
		t.Fatalf("MarshalText accepted a kind MarshalHeader rejects")
	}
}
