// Package logger builds the zerolog logger of the service and carries
// request-scoped fields through context.
package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level     string
	Console   bool
	SampleN   int
	Service   string
	Component string
}

type ctxKey string

const (
	ctxReqIDKey  ctxKey = "request_id"
	ctxComponent ctxKey = "component"
	ctxJourney   ctxKey = "journey_id"
	ctxStrategy  ctxKey = "strategy"
)

// ctxFields is the order in which context values are copied onto a logger.
var ctxFields = []ctxKey{ctxReqIDKey, ctxComponent, ctxJourney, ctxStrategy}

func WithRequestID(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		reqID = NewID()
	}
	return context.WithValue(ctx, ctxReqIDKey, reqID)
}

// RequestID returns the id set by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	s, _ := ctx.Value(ctxReqIDKey).(string)
	return s
}

func WithComponent(ctx context.Context, component string) context.Context {
	return withString(ctx, ctxComponent, component)
}

func WithJourney(ctx context.Context, id string) context.Context {
	return withString(ctx, ctxJourney, id)
}

func WithStrategy(ctx context.Context, strategy string) context.Context {
	return withString(ctx, ctxStrategy, strategy)
}

func withString(ctx context.Context, k ctxKey, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, k, v)
}

func NewID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// sampler keeps one in n debug and info events. Warnings and errors are
// never dropped.
func sampler(n int) zerolog.Sampler {
	if n <= 1 {
		return nil
	}
	every := uint32(min(uint64(n), math.MaxUint32))
	return zerolog.LevelSampler{
		DebugSampler: &zerolog.BasicSampler{N: every},
		InfoSampler:  &zerolog.BasicSampler{N: every},
	}
}

// Build returns the root logger. Output is JSON unless cfg.Console is set.
func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.MessageFieldName = "msg"

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	zl := zerolog.New(out).Level(ParseLevel(cfg.Level))
	if s := sampler(cfg.SampleN); s != nil {
		zl = zl.Sample(s)
	}

	fields := map[string]any{}
	if cfg.Service != "" {
		fields["service"] = cfg.Service
	}
	if cfg.Component != "" {
		fields["component"] = cfg.Component
	}
	return zl.With().Timestamp().Fields(fields).Logger()
}

// returns a child logger with context fields applied
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	var base zerolog.Logger
	if parent == nil {
		base = zerolog.New(io.Discard)
	} else {
		base = *parent
	}
	w := base.With()
	for _, k := range ctxFields {
		if s, ok := ctx.Value(k).(string); ok && s != "" {
			w = w.Str(string(k), s)
		}
	}
	l := w.Logger()
	return &l
}
