package tilecache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/tile-animator/internal/cache/redisstore"
	"github.com/mohammed-shakir/tile-animator/internal/tiler"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type countingFetcher struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (f *countingFetcher) Fetch(ctx context.Context, q tiler.FrameQuery) ([]byte, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte("tile:" + q.Start.Format(time.RFC3339)), nil
}

func newMini(t *testing.T) *redisstore.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func query(start time.Time) tiler.FrameQuery {
	return tiler.FrameQuery{
		Collection:   "naip",
		BBox:         [4]float64{-122.5, 47.4, -122.2, 47.7},
		Zoom:         10,
		RenderParams: "collection=naip&tile_scale=2",
		Start:        start,
		End:          start.AddDate(0, 1, 0),
	}
}

var jan = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFetch_L1Hit(t *testing.T) {
	up := &countingFetcher{}
	c := New(discard(), up, Options{Size: 8, TTL: time.Minute})

	for range 3 {
		b, err := c.Fetch(context.Background(), query(jan))
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if string(b) != "tile:2024-01-01T00:00:00Z" {
			t.Fatalf("body=%q", b)
		}
	}
	if n := up.calls.Load(); n != 1 {
		t.Fatalf("upstream calls=%d want 1", n)
	}
	if c.Len() != 1 {
		t.Fatalf("l1 len=%d", c.Len())
	}
}

func TestFetch_DistinctWindowsMiss(t *testing.T) {
	up := &countingFetcher{}
	c := New(discard(), up, Options{Size: 8, TTL: time.Minute})

	_, _ = c.Fetch(context.Background(), query(jan))
	_, _ = c.Fetch(context.Background(), query(jan.AddDate(0, 1, 0)))
	if n := up.calls.Load(); n != 2 {
		t.Fatalf("upstream calls=%d want 2", n)
	}
}

func TestFetch_L2SharedAcrossInstances(t *testing.T) {
	rc := newMini(t)
	up := &countingFetcher{}

	a := New(discard(), up, Options{Size: 8, TTL: time.Minute, L2: rc})
	b := New(discard(), up, Options{Size: 8, TTL: time.Minute, L2: rc})

	if _, err := a.Fetch(context.Background(), query(jan)); err != nil {
		t.Fatalf("a.Fetch: %v", err)
	}
	got, err := b.Fetch(context.Background(), query(jan))
	if err != nil {
		t.Fatalf("b.Fetch: %v", err)
	}
	if string(got) != "tile:2024-01-01T00:00:00Z" {
		t.Fatalf("body=%q", got)
	}
	if n := up.calls.Load(); n != 1 {
		t.Fatalf("upstream calls=%d want 1", n)
	}
}

func TestFetch_ErrorsNotCached(t *testing.T) {
	up := &countingFetcher{err: errors.New("boom")}
	c := New(discard(), up, Options{Size: 8, TTL: time.Minute})

	for range 2 {
		if _, err := c.Fetch(context.Background(), query(jan)); err == nil {
			t.Fatal("expected error")
		}
	}
	if n := up.calls.Load(); n != 2 {
		t.Fatalf("upstream calls=%d want 2", n)
	}
}

func TestFetch_ConcurrentCollapsed(t *testing.T) {
	up := &countingFetcher{delay: 50 * time.Millisecond}
	c := New(discard(), up, Options{})

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Fetch(context.Background(), query(jan)); err != nil {
				t.Errorf("Fetch: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := up.calls.Load(); n != 1 {
		t.Fatalf("upstream calls=%d want 1", n)
	}
}

func TestKey_DependsOnParams(t *testing.T) {
	q1 := query(jan)
	q2 := query(jan)
	q2.RenderParams = "collection=naip&asset=image&tile_scale=2"
	k1, err := Key(q1)
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	k2, _ := Key(q2)
	if k1 == k2 {
		t.Fatal("different params must give different keys")
	}
}

func TestInvalidate_DropsCollectionFromBothTiers(t *testing.T) {
	rc := newMini(t)
	up := &countingFetcher{}
	c := New(discard(), up, Options{Size: 8, TTL: time.Minute, L2: rc})

	other := query(jan)
	other.Collection = "sentinel-2-l2a"
	_, _ = c.Fetch(context.Background(), query(jan))
	_, _ = c.Fetch(context.Background(), other)

	n, err := c.Invalidate(context.Background(), "naip")
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if n != 2 {
		t.Fatalf("removed=%d want 2 (l1 + l2)", n)
	}
	if c.Len() != 1 {
		t.Fatalf("l1 len=%d want 1", c.Len())
	}

	_, _ = c.Fetch(context.Background(), query(jan))
	_, _ = c.Fetch(context.Background(), other)
	if got := up.calls.Load(); got != 3 {
		t.Fatalf("upstream calls=%d want 3", got)
	}
}

type gatedFetcher struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (f *gatedFetcher) Fetch(ctx context.Context, q tiler.FrameQuery) ([]byte, error) {
	if f.calls.Add(1) == 1 {
		close(f.started)
	}
	select {
	case <-f.release:
		return []byte("tile"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestFetch_CancelledCallerDoesNotFailOthers(t *testing.T) {
	up := &gatedFetcher{started: make(chan struct{}), release: make(chan struct{})}
	c := New(discard(), up, Options{Size: 8, TTL: time.Minute})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctxA, query(jan))
		errA <- err
	}()
	<-up.started

	type result struct {
		b   []byte
		err error
	}
	resB := make(chan result, 1)
	go func() {
		b, err := c.Fetch(context.Background(), query(jan))
		resB <- result{b, err}
	}()
	// let B join the in-flight fetch
	time.Sleep(20 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller err=%v want context.Canceled", err)
	}

	close(up.release)
	r := <-resB
	if r.err != nil || string(r.b) != "tile" {
		t.Fatalf("other caller b=%q err=%v", r.b, r.err)
	}
	if c.Len() != 1 {
		t.Fatalf("shared fetch should still fill the cache; len=%d", c.Len())
	}
}

func TestFetch_SharedFetchBoundedByTimeout(t *testing.T) {
	up := &gatedFetcher{started: make(chan struct{}), release: make(chan struct{})}
	c := New(discard(), up, Options{FetchTimeout: 20 * time.Millisecond})

	_, err := c.Fetch(context.Background(), query(jan))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}
}
