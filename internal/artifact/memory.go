package artifact

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMemoryBytes bounds MemoryKV when no budget is given.
const DefaultMemoryBytes = 256 << 20

// ErrTooLarge is returned when one animation alone exceeds the memory budget.
var ErrTooLarge = errors.New("animation exceeds in-memory artifact budget")

// group holds every key of one animation so they are evicted together.
type group struct {
	vals map[string][]byte
	size int64
}

// MemoryKV keeps artifacts in process when no Redis is configured. Keys
// are grouped per animation ("anim:<id>") and a group is evicted as a
// whole, oldest first, once the byte budget is exceeded. Every entry shares
// the TTL given to NewMemoryKV; per call TTLs are ignored.
type MemoryKV struct {
	mu       sync.Mutex // serialises writers
	lru      *expirable.LRU[string, *group]
	bytes    atomic.Int64
	maxBytes int64
}

var _ KV = (*MemoryKV)(nil)

func NewMemoryKV(maxBytes int64, ttl time.Duration) *MemoryKV {
	if maxBytes <= 0 {
		maxBytes = DefaultMemoryBytes
	}
	m := &MemoryKV{maxBytes: maxBytes}
	// the entry count is left unbounded; bytes decide eviction
	m.lru = expirable.NewLRU[string, *group](0, func(_ string, g *group) {
		m.bytes.Add(-g.size)
	}, ttl)
	return m
}

// groupKey maps "anim:<id>:..." to "anim:<id>"; other keys stand alone.
func groupKey(key string) string {
	first := strings.IndexByte(key, ':')
	if first < 0 {
		return key
	}
	second := strings.IndexByte(key[first+1:], ':')
	if second < 0 {
		return key
	}
	return key[:first+1+second]
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	g, ok := m.lru.Get(groupKey(key))
	if !ok {
		return nil, false, nil
	}
	b, ok := g.vals[key]
	return b, ok, nil
}

func (m *MemoryKV) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return m.MSetWithTTL(ctx, map[string][]byte{key: val}, ttl)
}

func (m *MemoryKV) MSetWithTTL(ctx context.Context, kv map[string][]byte, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	byGroup := make(map[string]map[string][]byte)
	for k, v := range kv {
		gk := groupKey(k)
		if byGroup[gk] == nil {
			byGroup[gk] = make(map[string][]byte)
		}
		byGroup[gk][k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for gk, vals := range byGroup {
		if err := m.put(gk, vals); err != nil {
			return err
		}
	}
	return nil
}

// put merges vals into the group and evicts older groups over budget.
// Callers hold m.mu.
func (m *MemoryKV) put(gk string, vals map[string][]byte) error {
	next := &group{vals: make(map[string][]byte)}
	if old, ok := m.lru.Peek(gk); ok {
		maps.Copy(next.vals, old.vals)
	}
	maps.Copy(next.vals, vals)
	for k, v := range next.vals {
		next.size += int64(len(k) + len(v))
	}
	if next.size > m.maxBytes {
		return fmt.Errorf("%s: %d bytes: %w", gk, next.size, ErrTooLarge)
	}

	// Remove then Add so the eviction callback keeps the byte count exact
	// even when the old group expires concurrently.
	m.lru.Remove(gk)
	m.lru.Add(gk, next)
	m.bytes.Add(next.size)
	for m.bytes.Load() > m.maxBytes {
		oldest, _, ok := m.lru.GetOldest()
		if !ok || oldest == gk {
			break
		}
		m.lru.Remove(oldest)
	}
	return nil
}

func (m *MemoryKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		gk := groupKey(k)
		old, ok := m.lru.Peek(gk)
		if !ok {
			continue
		}
		if _, has := old.vals[k]; !has {
			continue
		}
		next := &group{vals: make(map[string][]byte, len(old.vals))}
		for kk, ov := range old.vals {
			if kk == k {
				continue
			}
			next.vals[kk] = ov
			next.size += int64(len(kk) + len(ov))
		}
		m.lru.Remove(gk)
		if len(next.vals) > 0 {
			m.lru.Add(gk, next)
			m.bytes.Add(next.size)
		}
	}
	return nil
}

// Bytes reports the memory held by stored values and keys.
func (m *MemoryKV) Bytes() int64 { return m.bytes.Load() }

func (m *MemoryKV) Ping(context.Context) error { return nil }
