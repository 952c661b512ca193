// Package invalidation defines the journey change events other replicas use
// to drop what they cache about a journey.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

// JourneyEvent announces that a stored journey changed. Version is the
// publisher's clock and identifies the event; it does not order events from
// different replicas, so consumers only use it to drop redeliveries.
type JourneyEvent struct {
	Version   uint64    `json:"version"`
	Op        Op        `json:"op"`
	JourneyID string    `json:"journey_id"`
	Revision  string    `json:"revision,omitempty"`
	TS        time.Time `json:"ts"`
}

// NewEvent stamps an event at ts, which also becomes its version.
func NewEvent(op Op, journeyID, revision string, ts time.Time) JourneyEvent {
	ts = ts.UTC()
	return JourneyEvent{
		Version:   uint64(ts.UnixNano()),
		Op:        op,
		JourneyID: journeyID,
		Revision:  revision,
		TS:        ts,
	}
}

func (e JourneyEvent) Validate() error {
	if e.Version == 0 {
		return fmt.Errorf("version is required")
	}
	switch e.Op {
	case OpPut, OpDelete:
	default:
		return fmt.Errorf("op must be put|delete, got %q", e.Op)
	}
	if strings.TrimSpace(e.JourneyID) == "" {
		return fmt.Errorf("journey_id is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}
