// Package health serves the liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Liveness answers 200 while the process can serve HTTP at all.
func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	}
}

// Pinger is the journey store backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessReporter is the invalidation consumer.
type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

type report struct {
	Status     string            `json:"status"`
	Checks     map[string]string `json:"checks,omitempty"`
	Partitions []int32           `json:"partitions,omitempty"`
}

func (r *report) fail(name, reason string) {
	r.Checks[name] = reason
	r.Status = "not_ready"
}

// Readiness answers 503 unless Redis answers a ping within timeout and the
// consumer holds partitions. A nil dependency is skipped.
func Readiness(p Pinger, rr ReadinessReporter, timeout time.Duration) http.HandlerFunc {
	if timeout <= 0 {
		timeout = time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		rep := report{Status: "ready", Checks: map[string]string{}}

		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			if err := p.Ping(ctx); err != nil {
				rep.fail("redis", err.Error())
			} else {
				rep.Checks["redis"] = "ok"
			}
			cancel()
		}
		if rr != nil {
			if ok, parts := rr.Readiness(); ok {
				rep.Checks["kafka"] = "ok"
				rep.Partitions = parts
			} else {
				rep.fail("kafka", "no partitions assigned")
			}
		}

		code := http.StatusOK
		if rep.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(rep)
	}
}
