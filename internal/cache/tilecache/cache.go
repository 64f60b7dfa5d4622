// Package tilecache puts a two tier cache in front of a tiler.Fetcher.
package tilecache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/tile-animator/internal/cache/keys"
	"github.com/mohammed-shakir/tile-animator/internal/core/observability"
	"github.com/mohammed-shakir/tile-animator/internal/tiler"
)

// Store is the shared second tier, usually a redisstore.Client.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// prefixDeleter is implemented by stores that can drop a key range.
type prefixDeleter interface {
	DelPrefix(ctx context.Context, prefix string) (int, error)
}

type Options struct {
	// L1 entries; <= 0 disables the in-process tier
	Size int
	TTL  time.Duration
	// optional
	L2 Store
	// bound on a shared upstream fetch, which runs detached from the
	// callers' cancellation
	FetchTimeout time.Duration
}

const DefaultFetchTimeout = 2 * time.Minute

type Cache struct {
	logger *slog.Logger
	next   tiler.Fetcher
	l1     *expirable.LRU[string, []byte]
	l2     Store
	ttl    time.Duration
	group  singleflight.Group

	fetchTimeout time.Duration
}

var _ tiler.Fetcher = (*Cache)(nil)

func New(logger *slog.Logger, next tiler.Fetcher, opts Options) *Cache {
	c := &Cache{
		logger: logger,
		next:   next,
		l2:     opts.L2,
		ttl:    opts.TTL,

		fetchTimeout: opts.FetchTimeout,
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = DefaultFetchTimeout
	}
	if opts.Size > 0 {
		c.l1 = expirable.NewLRU[string, []byte](opts.Size, nil, opts.TTL)
	}
	return c
}

// Fetch serves the frame from L1, then L2, then upstream. Cache failures
// are logged and treated as misses.
func (c *Cache) Fetch(ctx context.Context, q tiler.FrameQuery) ([]byte, error) {
	key, err := Key(q)
	if err != nil {
		c.logger.Warn("tile cache key", "frame", q.String(), "err", err)
		return c.next.Fetch(ctx, q)
	}

	if c.l1 != nil {
		if b, ok := c.l1.Get(key); ok {
			observability.ObserveTileCache("l1", true)
			return b, nil
		}
		observability.ObserveTileCache("l1", false)
	}

	// the shared fetch must outlive any single waiter; each caller gives up
	// on its own context instead
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return c.load(fctx, key, q)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]byte), nil
	}
}

func (c *Cache) load(ctx context.Context, key string, q tiler.FrameQuery) ([]byte, error) {
	if c.l2 != nil {
		b, ok, err := c.l2.Get(ctx, key)
		switch {
		case err != nil:
			c.logger.Warn("tile cache l2 get", "key", key, "err", err)
		case ok:
			observability.ObserveTileCache("l2", true)
			c.fillL1(key, b)
			return b, nil
		default:
			observability.ObserveTileCache("l2", false)
		}
	}

	b, err := c.next.Fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	c.fillL1(key, b)
	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, b, c.ttl); err != nil {
			c.logger.Warn("tile cache l2 set", "key", key, "err", err)
		}
	}
	return b, nil
}

// Len reports the number of L1 entries.
func (c *Cache) Len() int {
	if c.l1 == nil {
		return 0
	}
	return c.l1.Len()
}

// Invalidate drops every cached frame of collection from both tiers and
// reports how many entries were removed.
func (c *Cache) Invalidate(ctx context.Context, collection string) (int, error) {
	prefix := keys.CollectionPrefix(collection)
	n := 0
	if c.l1 != nil {
		for _, k := range c.l1.Keys() {
			if strings.HasPrefix(k, prefix) && c.l1.Remove(k) {
				n++
			}
		}
	}
	if pd, ok := c.l2.(prefixDeleter); ok {
		m, err := pd.DelPrefix(ctx, prefix)
		n += m
		if err != nil {
			return n, fmt.Errorf("invalidate %s: %w", collection, err)
		}
	}
	return n, nil
}

func (c *Cache) fillL1(key string, b []byte) {
	if c.l1 != nil {
		c.l1.Add(key, b)
	}
}

// Key derives the cache key for a frame query.
func Key(q tiler.FrameQuery) (string, error) {
	res := keys.ResForZoom(q.Zoom)
	cell, err := keys.CellForBBox(q.BBox, res)
	if err != nil {
		return "", err
	}
	cql, err := json.Marshal(q.CQL)
	if err != nil {
		return "", fmt.Errorf("encode cql: %w", err)
	}
	norm := q.BBoxPath() + "|z=" + strconv.Itoa(q.Zoom) +
		"|end=" + q.End.UTC().Format(time.RFC3339) +
		"|cql=" + string(cql) + "|" + q.RenderParams
	return keys.Key(q.Collection, res, cell, q.Start, norm), nil
}
