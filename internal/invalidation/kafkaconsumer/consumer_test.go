package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/tile-animator/internal/invalidation"
)

type fakeInvalidator struct {
	failFirst atomic.Bool
	mu        sync.Mutex
	seen      []string
}

func (f *fakeInvalidator) Invalidate(_ context.Context, collection string) (int, error) {
	f.mu.Lock()
	f.seen = append(f.seen, collection)
	f.mu.Unlock()
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return 0, errors.New("boom")
	}
	return 2, nil
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "catalog-item-updates" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

var clock atomic.Int64

// each call yields a strictly newer event
func eventBytes(collection string) []byte {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(clock.Add(1)) * time.Second)
	b, _ := json.Marshal(invalidation.Event{
		Version: 1, Op: "update", Collection: collection, Item: "i1", TS: ts,
	})
	return b
}

func newConsumerForTest(inv Invalidator) *Consumer {
	cfg := Config{Brokers: []string{"x"}, Topic: "catalog-item-updates", GroupID: "g"}
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), inv)
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	inv := &fakeInvalidator{}
	c := newConsumerForTest(inv)

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Partition: 0, Offset: 10, Value: eventBytes("naip")}
	ch <- &sarama.ConsumerMessage{Partition: 0, Offset: 11, Value: eventBytes("goes-cmi")}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	if len(inv.seen) != 2 || inv.seen[0] != "naip" || inv.seen[1] != "goes-cmi" {
		t.Fatalf("invalidated=%v", inv.seen)
	}
}

func TestPurgeFailure_NotMarked(t *testing.T) {
	inv := &fakeInvalidator{}
	inv.failFirst.Store(true)
	c := newConsumerForTest(inv)

	msg := &sarama.ConsumerMessage{Partition: 0, Offset: 5, Value: eventBytes("naip")}
	s := &sess{ctx: context.Background()}
	g := &groupHandler{process: c.ProcessOne}

	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err == nil {
		t.Fatal("expected error on first attempt")
	}
	if len(s.marked) != 0 {
		t.Fatalf("failed message was marked: %v", s.marked)
	}

	ch = make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
}

func TestPoisonMessages_Skipped(t *testing.T) {
	inv := &fakeInvalidator{}
	c := newConsumerForTest(inv)

	bad, _ := json.Marshal(invalidation.Event{Version: 9, Op: "update", Collection: "naip", TS: time.Now()})
	for _, v := range [][]byte{[]byte("{nope"), bad} {
		if err := c.ProcessOne(context.Background(), &sarama.ConsumerMessage{Value: v}); err != nil {
			t.Fatalf("ProcessOne: %v", err)
		}
	}
	if len(inv.seen) != 0 {
		t.Fatalf("invalid events reached the cache: %v", inv.seen)
	}
}

func TestReplayedEvent_Skipped(t *testing.T) {
	inv := &fakeInvalidator{}
	c := newConsumerForTest(inv)

	newer := eventBytes("naip")
	older := eventBytes("naip")
	// swap so the second delivery carries the older timestamp
	newer, older = older, newer

	for _, v := range [][]byte{newer, newer, older} {
		if err := c.ProcessOne(context.Background(), &sarama.ConsumerMessage{Value: v}); err != nil {
			t.Fatalf("ProcessOne: %v", err)
		}
	}
	if len(inv.seen) != 1 {
		t.Fatalf("invalidations=%d want 1", len(inv.seen))
	}

	other := eventBytes("goes-cmi")
	if err := c.ProcessOne(context.Background(), &sarama.ConsumerMessage{Value: other}); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if len(inv.seen) != 2 {
		t.Fatalf("invalidations=%d want 2", len(inv.seen))
	}
}

func TestMultiPartition_Parallel(t *testing.T) {
	inv := &fakeInvalidator{}
	c := newConsumerForTest(inv)
	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	for off := int64(1); off <= 2; off++ {
		p0 <- &sarama.ConsumerMessage{Partition: 0, Offset: off, Value: eventBytes("naip")}
		p1 <- &sarama.ConsumerMessage{Partition: 1, Offset: off, Value: eventBytes("naip")}
	}
	close(p0)
	close(p1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 0, msgs: p0}) }()
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 1, msgs: p1}) }()
	wg.Wait()

	if len(s.marked) != 4 {
		t.Fatalf("expected 4 marks total; got %v", s.marked)
	}
}

func TestStart_RequiresInvalidator(t *testing.T) {
	c := New(Config{}, nil, nil)
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
