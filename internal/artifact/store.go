// Package artifact persists rendered animations in Redis so they can be
// served by id after the request that produced them returns.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/tile-animator/internal/animation"
)

var ErrNotFound = errors.New("animation not found")

const DefaultTTL = 24 * time.Hour

// KV is the subset of redisstore.Client the store needs.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	MSetWithTTL(ctx context.Context, kv map[string][]byte, ttl time.Duration) error
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Manifest describes a stored animation.
type Manifest struct {
	ID         string            `json:"id"`
	Collection string            `json:"collection"`
	Frames     int               `json:"frames"`
	Timestamps []time.Time       `json:"timestamps"`
	Request    animation.Request `json:"request"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

type Store struct {
	kv  KV
	ttl time.Duration
	now func() time.Time // for tests
}

func New(kv KV, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: kv, ttl: ttl, now: time.Now}
}

// NewID returns a fresh animation id.
func NewID() string {
	return uuid.NewString()
}

// Save writes the frames first and the manifest last, so a manifest is only
// visible once every frame is. On failure anything written is removed.
func (s *Store) Save(ctx context.Context, id string, job *animation.Job, frames []animation.Frame) (Manifest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Manifest{}, fmt.Errorf("animation id %q: %w", id, err)
	}
	if len(frames) == 0 {
		return Manifest{}, errors.New("no frames to save")
	}

	now := s.now().UTC()
	m := Manifest{
		ID:         id,
		Collection: job.Collection(),
		Frames:     len(frames),
		Timestamps: make([]time.Time, len(frames)),
		Request:    job.Request(),
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}

	kv := make(map[string][]byte, len(frames))
	for i, f := range frames {
		if f.Index != i {
			return Manifest{}, fmt.Errorf("frame %d out of order (index %d)", i, f.Index)
		}
		kv[frameKey(id, i)] = f.PNG
		m.Timestamps[i] = f.Timestamp.UTC()
	}
	body, err := json.Marshal(m)
	if err != nil {
		return Manifest{}, fmt.Errorf("encode manifest: %w", err)
	}

	if err := s.kv.MSetWithTTL(ctx, kv, s.ttl); err != nil {
		s.cleanup(id, len(frames))
		return Manifest{}, fmt.Errorf("save frames: %w", err)
	}
	if err := s.kv.Set(ctx, manifestKey(id), body, s.ttl); err != nil {
		s.cleanup(id, len(frames))
		return Manifest{}, fmt.Errorf("save manifest: %w", err)
	}
	return m, nil
}

func (s *Store) Manifest(ctx context.Context, id string) (Manifest, error) {
	b, ok, err := s.kv.Get(ctx, manifestKey(id))
	if err != nil {
		return Manifest{}, fmt.Errorf("load manifest %s: %w", id, err)
	}
	if !ok {
		return Manifest{}, ErrNotFound
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest %s: %w", id, err)
	}
	return m, nil
}

// Frame returns the PNG bytes of frame n. Frames of an animation whose
// manifest is gone are treated as missing.
func (s *Store) Frame(ctx context.Context, id string, n int) ([]byte, error) {
	m, err := s.Manifest(ctx, id)
	if err != nil {
		return nil, err
	}
	if n < 0 || n >= m.Frames {
		return nil, ErrNotFound
	}
	b, ok, err := s.kv.Get(ctx, frameKey(id, n))
	if err != nil {
		return nil, fmt.Errorf("load frame %s/%d: %w", id, n, err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

// cleanup runs on a fresh context since ctx may be the reason Save failed.
func (s *Store) cleanup(id string, frames int) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	keys := make([]string, 0, frames+1)
	for i := range frames {
		keys = append(keys, frameKey(id, i))
	}
	keys = append(keys, manifestKey(id))
	_ = s.kv.Del(ctx, keys...)
}

func manifestKey(id string) string { return "anim:" + id + ":manifest" }

func frameKey(id string, n int) string { return "anim:" + id + ":frame:" + strconv.Itoa(n) }
