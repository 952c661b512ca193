package kafka

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// versionGate remembers, per journey, the version of the last event whose
// eviction went through, and drops redeliveries of exactly that event.
// Versions are wall-clock stamps from different replicas, so an older
// version is still applied: eviction is idempotent and skew must not hide a
// later write. Journeys pushed out of the LRU are evicted again on their
// next event.
type versionGate struct {
	mu   sync.Mutex
	last *lru.Cache[string, uint64]
}

func newVersionGate(journeys int) *versionGate {
	if journeys <= 0 {
		journeys = 4096
	}
	c, _ := lru.New[string, uint64](journeys)
	return &versionGate{last: c}
}

// admit reports whether the event is not a redelivery of the last applied
// one and, if so, records it. undo restores the previous state after a
// failed eviction so the redelivered event is admitted again.
func (g *versionGate) admit(id string, version uint64) (undo func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev, had := g.last.Peek(id)
	if had && version == prev {
		return nil, false
	}
	g.last.Add(id, version)
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if cur, ok := g.last.Peek(id); !ok || cur != version {
			return
		}
		if had {
			g.last.Add(id, prev)
		} else {
			g.last.Remove(id)
		}
	}, true
}
