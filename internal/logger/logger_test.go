package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for ln := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		if ln == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(ln), &m); err != nil {
			t.Fatalf("bad json line %q: %v", ln, err)
		}
		out = append(out, m)
	}
	return out
}

func TestSlogBridge_ContextFieldsAndLevels(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info", Service: "fogmap-area"}, &buf)
	log := NewSlog(&zl)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithJourney(ctx, "trip-7")
	ctx = WithStrategy(ctx, "exact")

	log.DebugContext(ctx, "dropped")
	log.InfoContext(ctx, "area computed",
		"blocks", 71,
		"fingerprint", uint64(1)<<63,
		"took", 3*time.Millisecond,
		"err", errors.New("none"),
	)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected debug to be filtered, got %d lines", len(lines))
	}
	m := lines[0]
	for k, want := range map[string]any{
		"msg":        "area computed",
		"level":      "info",
		"service":    "fogmap-area",
		"request_id": "req-1",
		"journey_id": "trip-7",
		"strategy":   "exact",
		"err":        "none",
	} {
		if m[k] != want {
			t.Fatalf("%s=%v, want %v (line %v)", k, m[k], want, m)
		}
	}
	if m["blocks"] != float64(71) {
		t.Fatalf("blocks=%v", m["blocks"])
	}
}

func TestSlogBridge_GroupsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug"}, &buf)
	log := NewSlog(&zl).With("component", "importer").WithGroup("archive")

	log.Warn("entry skipped", "reason", "duplicate_tile", slog.Group("tile", "x", 3, "y", 4))

	m := decodeLines(t, &buf)[0]
	if m["component"] != "importer" || m["archive.reason"] != "duplicate_tile" {
		t.Fatalf("attrs not flattened: %v", m)
	}
	if m["archive.tile.x"] != float64(3) {
		t.Fatalf("nested group missing: %v", m)
	}
	if m["level"] != "warn" {
		t.Fatalf("level=%v", m["level"])
	}
}

func TestFromContext_NilParentDiscards(t *testing.T) {
	l := FromContext(WithComponent(context.Background(), "x"), nil)
	l.Info().Msg("ignored")
}

func TestWithRequestID_GeneratesWhenEmpty(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if id := RequestID(ctx); len(id) != 16 {
		t.Fatalf("generated id %q", id)
	}
	if WithJourney(ctx, "") != ctx {
		t.Fatalf("empty value should not wrap the context")
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		" DEBUG ": zerolog.DebugLevel,
		"warn":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"loud":    zerolog.InfoLevel,
	} {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestBuild_SamplingKeepsWarnings(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info", SampleN: 10}, &buf)
	for range 20 {
		zl.Info().Msg("tick")
		zl.Warn().Msg("slow")
	}
	var info, warn int
	for _, m := range decodeLines(t, &buf) {
		switch m["level"] {
		case "info":
			info++
		case "warn":
			warn++
		}
	}
	if warn != 20 || info != 2 {
		t.Fatalf("info=%d warn=%d, want 2 and 20", info, warn)
	}
}
