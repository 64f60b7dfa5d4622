package animation

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // tiler may answer with jpeg
	"image/png"
	"iter"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/tile-animator/internal/core/observability"
	"github.com/mohammed-shakir/tile-animator/internal/logger"
	"github.com/mohammed-shakir/tile-animator/internal/stamps"
	"github.com/mohammed-shakir/tile-animator/internal/tiler"
)

const DefaultWorkers = 8

// Frame is one rendered, stamped animation frame encoded as PNG.
type Frame struct {
	Index     int
	Timestamp time.Time
	PNG       []byte
}

// Animator turns validated jobs into frames. The zero value is not usable:
// Fetcher must be set.
type Animator struct {
	Logger    *slog.Logger
	Fetcher   tiler.Fetcher
	Workers   int
	MaxFrames int
	// nil disables branding even when requested
	Brand *stamps.Branding
}

// Prepare validates req against the animator's frame cap.
func (a *Animator) Prepare(req Request) (*Job, error) {
	return req.Validate(a.MaxFrames)
}

// FrameQuery describes frame i to the tiler. The time window runs from the
// frame's timestamp up to the next one.
func (j *Job) FrameQuery(i int) tiler.FrameQuery {
	return tiler.FrameQuery{
		Collection:   j.Collection(),
		BBox:         [4]float64(j.req.BBox),
		Zoom:         j.req.Zoom,
		CQL:          j.req.CQL,
		RenderParams: j.EncodedRenderParams(),
		Start:        j.FrameTimestamp(i),
		End:          j.FrameTimestamp(i + 1),
	}
}

// RenderFrame fetches, stamps and encodes frame i. It depends only on the
// job and the index.
func (a *Animator) RenderFrame(ctx context.Context, job *Job, i int) (Frame, error) {
	n := job.ValidFrameCount()
	if i < 0 || i >= n {
		return Frame{}, fmt.Errorf("frame %d out of range [0,%d)", i, n)
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	f, err := a.renderFrame(ctx, job, i, n)
	observability.ObserveFrame(err)
	return f, err
}

func (a *Animator) renderFrame(ctx context.Context, job *Job, i, n int) (Frame, error) {
	q := job.FrameQuery(i)
	raw, err := a.Fetcher.Fetch(ctx, q)
	if err != nil {
		return Frame{}, fmt.Errorf("frame %d: %w", i, err)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Frame{}, fmt.Errorf("frame %d: decode tile: %w", i, err)
	}

	req := job.req
	pipe := stamps.ForRequest(req.ShowProgressBar, req.ShowBranding, a.Brand)
	out, err := pipe.Apply(img, stamps.Frame{Number: i, Count: n})
	if err != nil {
		return Frame{}, fmt.Errorf("frame %d: %w", i, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return Frame{}, fmt.Errorf("frame %d: encode png: %w", i, err)
	}

	a.logger().DebugContext(ctx, "frame rendered",
		"frame", i,
		"of", n,
		"timestamp", q.Start.Format(time.RFC3339),
		"source_format", format,
		"bytes", buf.Len())
	return Frame{Index: i, Timestamp: q.Start, PNG: buf.Bytes()}, nil
}

// Render produces every frame of job in index order. Frames are rendered
// concurrently with at most Workers in flight; the first failure cancels
// the rest and no frames are returned.
func (a *Animator) Render(ctx context.Context, job *Job) ([]Frame, error) {
	ctx = logger.WithCollection(ctx, job.Collection())
	start := time.Now()
	n := job.ValidFrameCount()
	out := make([]Frame, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers())
	for i := range n {
		g.Go(func() error {
			f, err := a.RenderFrame(gctx, job, i)
			if err != nil {
				return err
			}
			out[i] = f
			return nil
		})
	}
	err := g.Wait()
	// errgroup cancels gctx on the first error, so prefer the caller's
	// cancellation when that is what stopped us
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	observability.ObserveAnimation(err, time.Since(start))
	if err != nil {
		a.logger().WarnContext(ctx, "animation failed", "frames", n, "err", err)
		return nil, err
	}

	a.logger().InfoContext(ctx, "animation rendered",
		"frames", n,
		"duration", time.Since(start).String())
	return out, nil
}

// Frames yields the frames of job one at a time, rendering each on demand.
// Iteration stops after the first error. The sequence can be ranged over
// more than once.
func (a *Animator) Frames(ctx context.Context, job *Job) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for i := range job.ValidFrameCount() {
			f, err := a.RenderFrame(ctx, job, i)
			if !yield(f, err) || err != nil {
				return
			}
		}
	}
}

func (a *Animator) workers() int {
	if a.Workers > 0 {
		return a.Workers
	}
	return DefaultWorkers
}

func (a *Animator) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.New(slog.DiscardHandler)
}
