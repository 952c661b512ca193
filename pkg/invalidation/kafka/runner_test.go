package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/fogmap-area/internal/invalidation"
)

type fakeEvicter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeEvicter) InvalidateJourney(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	return f.err
}

func (f *fakeEvicter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSession struct {
	ctx    context.Context
	claims map[string][]int32
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return s.claims }
func (s *fakeSession) MemberID() string                         { return "m-1" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }
func (s *fakeSession) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}

type fakeClaim struct {
	ch chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "journey-changes" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.ch }

func newRunner(t *testing.T, e Evicter) (*Runner, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg := InvalidationConfig{Enabled: true, Driver: DriverKafka}
	return New(cfg, e, Options{Register: reg}), reg
}

func message(t *testing.T, off int64, ev invalidation.JourneyEvent) *sarama.ConsumerMessage {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return &sarama.ConsumerMessage{Topic: "journey-changes", Offset: off, Timestamp: ev.TS, Value: b}
}

func TestHandleMessage_EvictsAndDedupes(t *testing.T) {
	fe := &fakeEvicter{}
	r, _ := newRunner(t, fe)
	ctx := context.Background()
	ts := time.Now().UTC()

	ev := invalidation.NewEvent(invalidation.OpPut, "trip-1", "r2", ts)
	if err := r.handleMessage(ctx, message(t, 1, ev)); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	// redelivery of the same event is skipped
	if err := r.handleMessage(ctx, message(t, 1, ev)); err != nil {
		t.Fatalf("second handleMessage: %v", err)
	}
	if got := fe.count(); got != 1 {
		t.Fatalf("evictions=%d, want 1", got)
	}
	if got := testutil.ToFloat64(r.ms.events.WithLabelValues(resultDuplicate)); got != 1 {
		t.Fatalf("duplicate=%v, want 1", got)
	}

	del := invalidation.NewEvent(invalidation.OpDelete, "trip-1", "", ts.Add(time.Second))
	if err := r.handleMessage(ctx, message(t, 3, del)); err != nil {
		t.Fatal(err)
	}
	other := invalidation.NewEvent(invalidation.OpPut, "trip-2", "", ts)
	if err := r.handleMessage(ctx, message(t, 4, other)); err != nil {
		t.Fatal(err)
	}
	if got := fe.count(); got != 3 {
		t.Fatalf("evictions=%d, want 3", got)
	}
}

func TestHandleMessage_SkewedClockStillEvicts(t *testing.T) {
	fe := &fakeEvicter{}
	r, _ := newRunner(t, fe)
	ctx := context.Background()
	ts := time.Now().UTC()

	// replica A stamps its write ahead of replica B, whose later write
	// carries the lower version
	ahead := invalidation.NewEvent(invalidation.OpPut, "trip-1", "r1", ts.Add(time.Minute))
	behind := invalidation.NewEvent(invalidation.OpPut, "trip-1", "r2", ts)
	for i, ev := range []invalidation.JourneyEvent{ahead, behind} {
		if err := r.handleMessage(ctx, message(t, int64(i), ev)); err != nil {
			t.Fatal(err)
		}
	}
	if got := fe.count(); got != 2 {
		t.Fatalf("evictions=%d, want 2", got)
	}
	if got := testutil.ToFloat64(r.ms.events.WithLabelValues(resultDuplicate)); got != 0 {
		t.Fatalf("duplicate=%v, want 0", got)
	}
}

func TestHandleMessage_BadPayloadSkipped(t *testing.T) {
	fe := &fakeEvicter{}
	r, _ := newRunner(t, fe)
	ctx := context.Background()

	if err := r.handleMessage(ctx, &sarama.ConsumerMessage{Value: []byte("{nope")}); err != nil {
		t.Fatalf("decode failure should be skipped, got %v", err)
	}
	bad, _ := json.Marshal(invalidation.JourneyEvent{Version: 1, Op: "update", JourneyID: "x", TS: time.Now()})
	if err := r.handleMessage(ctx, &sarama.ConsumerMessage{Value: bad}); err != nil {
		t.Fatalf("invalid event should be skipped, got %v", err)
	}
	if fe.count() != 0 {
		t.Fatalf("nothing should be evicted")
	}
	if got := testutil.ToFloat64(r.ms.events.WithLabelValues(resultMalformed)); got != 2 {
		t.Fatalf("error count=%v", got)
	}
}

func TestHandleMessage_EvictFailureRetries(t *testing.T) {
	fe := &fakeEvicter{err: errors.New("redis down")}
	r, _ := newRunner(t, fe)
	ctx := context.Background()
	ev := invalidation.NewEvent(invalidation.OpPut, "trip-1", "", time.Now())

	if err := r.handleMessage(ctx, message(t, 1, ev)); err == nil {
		t.Fatalf("expected eviction error")
	}
	fe.mu.Lock()
	fe.err = nil
	fe.mu.Unlock()
	if err := r.handleMessage(ctx, message(t, 1, ev)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := fe.count(); got != 2 {
		t.Fatalf("retry was deduped away, calls=%d", got)
	}
	if got := testutil.ToFloat64(r.ms.events.WithLabelValues(resultEvictFailed)); got != 1 {
		t.Fatalf("evict_failed=%v", got)
	}
}

func TestVersionGate_UndoRestoresPrevious(t *testing.T) {
	g := newVersionGate(8)
	if _, ok := g.admit("a", 5); !ok {
		t.Fatalf("first version rejected")
	}
	undo, ok := g.admit("a", 9)
	if !ok {
		t.Fatalf("next version rejected")
	}
	undo()
	// 9 was rolled back to 5, so 9 is admitted again but 5 is a redelivery
	if _, ok := g.admit("a", 5); ok {
		t.Fatalf("redelivery of restored version admitted")
	}
	if _, ok := g.admit("a", 9); !ok {
		t.Fatalf("undone version rejected")
	}
	if _, ok := g.admit("a", 4); !ok {
		t.Fatalf("lower version rejected")
	}

	undoB, _ := g.admit("b", 1)
	if _, ok := g.admit("b", 2); !ok {
		t.Fatal("b@2 rejected")
	}
	undoB() // undo after a newer admit must not clobber it
	if _, ok := g.admit("b", 2); ok {
		t.Fatalf("undo rolled back a newer version")
	}
}

func TestGroupHandler_MarksProcessedAndTracksAssignment(t *testing.T) {
	fe := &fakeEvicter{}
	r, _ := newRunner(t, fe)
	h := r.handler()

	sess := &fakeSession{ctx: context.Background(), claims: map[string][]int32{"journey-changes": {0, 3}}}
	if ready, _ := r.Readiness(); ready {
		t.Fatalf("ready before assignment")
	}
	if err := h.Setup(sess); err != nil {
		t.Fatal(err)
	}
	ready, parts := r.Readiness()
	if !ready || len(parts) != 2 {
		t.Fatalf("readiness=%v parts=%v", ready, parts)
	}

	claim := &fakeClaim{ch: make(chan *sarama.ConsumerMessage, 3)}
	now := time.Now()
	claim.ch <- message(t, 10, invalidation.NewEvent(invalidation.OpPut, "a", "", now))
	claim.ch <- &sarama.ConsumerMessage{Offset: 11, Value: []byte("junk")}
	claim.ch <- message(t, 12, invalidation.NewEvent(invalidation.OpDelete, "b", "", now))
	close(claim.ch)

	if err := h.ConsumeClaim(sess, claim); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(sess.marked) != 3 {
		t.Fatalf("marked=%v, want all three offsets", sess.marked)
	}
	if fe.count() != 2 {
		t.Fatalf("evictions=%d", fe.count())
	}

	if err := h.Cleanup(sess); err != nil {
		t.Fatal(err)
	}
	if ready, _ := r.Readiness(); ready {
		t.Fatalf("ready after cleanup")
	}
}

func TestGroupHandler_StopsOnEvictError(t *testing.T) {
	fe := &fakeEvicter{err: errors.New("boom")}
	r, _ := newRunner(t, fe)
	h := r.handler()
	sess := &fakeSession{ctx: context.Background()}
	claim := &fakeClaim{ch: make(chan *sarama.ConsumerMessage, 1)}
	claim.ch <- message(t, 1, invalidation.NewEvent(invalidation.OpPut, "a", "", time.Now()))
	close(claim.ch)

	if err := h.ConsumeClaim(sess, claim); err == nil {
		t.Fatalf("expected error")
	}
	if len(sess.marked) != 0 {
		t.Fatalf("failed message must not be marked")
	}
}

func TestDisabledRunner(t *testing.T) {
	r := New(InvalidationConfig{Driver: DriverNone}, &fakeEvicter{}, Options{})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ready, _ := r.Readiness(); !ready {
		t.Fatalf("disabled runner should be ready")
	}
	r.Stop()
}

func TestFromEnv(t *testing.T) {
	t.Setenv("INVALIDATION_ENABLED", "TRUE")
	t.Setenv("INVALIDATION_DRIVER", "kafka")
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")
	t.Setenv("KAFKA_TOPIC", "")
	cfg := FromEnv()
	if !cfg.Active() {
		t.Fatalf("expected active config: %+v", cfg)
	}
	if len(cfg.Brokers) != 2 || cfg.Brokers[1] != "b:9092" {
		t.Fatalf("brokers=%v", cfg.Brokers)
	}
	if cfg.Topic != "journey-changes" {
		t.Fatalf("topic=%q", cfg.Topic)
	}
	if cfg.InitialOldest {
		t.Fatalf("consumer should start at the newest offset by default")
	}
	t.Setenv("KAFKA_INITIAL_OLDEST", "true")
	if !FromEnv().InitialOldest {
		t.Fatalf("KAFKA_INITIAL_OLDEST not honoured")
	}
}

func TestSaramaConfigs(t *testing.T) {
	cfg := InvalidationConfig{
		GroupID:          "fogmap-area",
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
	}
	cc := cfg.consumerConfig()
	if err := cc.Validate(); err != nil {
		t.Fatalf("consumer config: %v", err)
	}
	if cc.Consumer.Offsets.Initial != sarama.OffsetNewest || !cc.Consumer.Return.Errors {
		t.Fatalf("consumer offsets=%d errors=%v", cc.Consumer.Offsets.Initial, cc.Consumer.Return.Errors)
	}
	cfg.InitialOldest = true
	if got := cfg.consumerConfig().Consumer.Offsets.Initial; got != sarama.OffsetOldest {
		t.Fatalf("InitialOldest ignored: %d", got)
	}

	pc := cfg.producerConfig()
	if err := pc.Validate(); err != nil {
		t.Fatalf("producer config: %v", err)
	}
	if pc.Producer.RequiredAcks != sarama.WaitForAll || !pc.Producer.Return.Successes {
		t.Fatalf("producer acks=%v successes=%v", pc.Producer.RequiredAcks, pc.Producer.Return.Successes)
	}
}
