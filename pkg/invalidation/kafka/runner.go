// Package kafka publishes journey change events and consumes them to evict
// what each replica caches about the journeys they name.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/fogmap-area/internal/invalidation"
)

// Evicter drops everything cached for a journey.
type Evicter interface {
	InvalidateJourney(ctx context.Context, id string) error
}

// Runner consumes journey events in a consumer group and evicts each
// journey they name.
type Runner struct {
	log   *slog.Logger
	cfg   InvalidationConfig
	evict Evicter
	ms    *metricSet
	gate  *versionGate

	// owned is nil while the group holds no partitions.
	mu    sync.RWMutex
	owned map[int32]struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
	// DedupeSize bounds the number of journeys whose last version is kept.
	DedupeSize int
}

func New(cfg InvalidationConfig, e Evicter, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DedupeSize <= 0 {
		opts.DedupeSize = 8192
	}
	return &Runner{
		log:   opts.Logger,
		cfg:   cfg,
		evict: e,
		ms:    newMetricSet(opts.Register),
		gate:  newVersionGate(opts.DedupeSize),
	}
}

// Start joins the consumer group in the background. It is a no-op when the
// config is not active.
func (r *Runner) Start(ctx context.Context) error {
	if !r.cfg.Active() {
		r.log.Info("journey invalidation disabled", "driver", r.cfg.Driver, "enabled", r.cfg.Enabled)
		return nil
	}
	if r.evict == nil {
		return errors.New("kafka runner: evicter dependency is required")
	}

	group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, r.cfg.consumerConfig())
	if err != nil {
		return fmt.Errorf("consumer group: %w", err)
	}
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(2)
	go r.consume(ctx, group)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error("kafka group error", "err", err)
		}
	}()

	r.log.Info("journey invalidation started",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.Brokers)
	return nil
}

// consume rejoins the group after every rebalance or error until ctx ends.
func (r *Runner) consume(ctx context.Context, group sarama.ConsumerGroup) {
	defer r.wg.Done()
	defer func() {
		if err := group.Close(); err != nil {
			r.log.Error("kafka consumer group close", "err", err)
		}
	}()

	h := r.handler()
	for ctx.Err() == nil {
		err := group.Consume(ctx, []string{r.cfg.Topic}, h)
		if err == nil {
			continue
		}
		r.log.Error("kafka consume error", "err", err)
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
		}
	}
}

func (r *Runner) handler() *groupHandler {
	return &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			owned := map[int32]struct{}{}
			for _, parts := range sess.Claims() {
				for _, p := range parts {
					owned[p] = struct{}{}
				}
			}
			r.mu.Lock()
			r.owned = owned
			r.mu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			r.mu.Lock()
			r.owned = nil
			r.mu.Unlock()
		},
		process: r.handleMessage,
	}
}

// Stop leaves the group and waits for the background goroutines.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("journey invalidation stopped")
}

// Readiness reports whether the group currently holds partitions. A disabled
// runner is always ready.
func (r *Runner) Readiness() (ready bool, partitions []int32) {
	if !r.cfg.Active() {
		return true, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.owned == nil {
		return false, nil
	}
	for p := range r.owned {
		partitions = append(partitions, p)
	}
	slices.Sort(partitions)
	return true, partitions
}

// handleMessage returns an error only when eviction failed, so the message
// is not marked and is redelivered. Undecodable messages are counted and
// skipped.
func (r *Runner) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	r.ms.lagged(msg.Partition, msg.Timestamp)

	ev, err := decodeEvent(msg.Value)
	if err != nil {
		r.ms.result(resultMalformed)
		r.log.Warn("journey event skipped", "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	return r.apply(ctx, ev)
}

func decodeEvent(b []byte) (invalidation.JourneyEvent, error) {
	var ev invalidation.JourneyEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return ev, fmt.Errorf("decode: %w", err)
	}
	return ev, ev.Validate()
}

func (r *Runner) apply(ctx context.Context, ev invalidation.JourneyEvent) error {
	undo, ok := r.gate.admit(ev.JourneyID, ev.Version)
	if !ok {
		r.ms.result(resultDuplicate)
		return nil
	}
	start := time.Now()
	err := r.evict.InvalidateJourney(ctx, ev.JourneyID)
	r.ms.evicted(string(ev.Op), time.Since(start))
	if err != nil {
		undo()
		r.ms.result(resultEvictFailed)
		return fmt.Errorf("evict journey %q: %w", ev.JourneyID, err)
	}
	r.ms.result(resultEvicted)
	r.log.Debug("journey cache evicted",
		"journey_id", ev.JourneyID, "op", ev.Op, "revision", ev.Revision, "version", ev.Version)
	return nil
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
