// Package tiler talks to the external tile-rendering backend.
package tiler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FrameQuery is everything the backend needs to render one frame.
type FrameQuery struct {
	Collection string
	BBox       [4]float64 // west, south, east, north
	Zoom       int
	CQL        map[string]any
	// RenderParams is an already encoded query fragment.
	RenderParams string
	Start        time.Time
	End          time.Time
}

// Fetcher returns the raw image bytes for a frame.
type Fetcher interface {
	Fetch(ctx context.Context, q FrameQuery) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, q FrameQuery) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, q FrameQuery) ([]byte, error) {
	return f(ctx, q)
}

// Filter combines the caller's CQL2 JSON filter with the frame's time
// window [Start, End).
func (q FrameQuery) Filter() map[string]any {
	temporal := map[string]any{
		"op": "t_intersects",
		"args": []any{
			map[string]any{"property": "datetime"},
			map[string]any{"interval": []string{
				q.Start.UTC().Format(time.RFC3339),
				q.End.UTC().Format(time.RFC3339),
			}},
		},
	}
	if len(q.CQL) == 0 {
		return temporal
	}
	return map[string]any{
		"op":   "and",
		"args": []any{q.CQL, temporal},
	}
}

// BBoxPath renders the bbox as a path segment: w,s,e,n.
func (q FrameQuery) BBoxPath() string {
	parts := make([]string, len(q.BBox))
	for i, v := range q.BBox {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (q FrameQuery) String() string {
	return fmt.Sprintf("%s@%s z%d [%s]", q.Collection, q.Start.UTC().Format(time.RFC3339), q.Zoom, q.BBoxPath())
}
