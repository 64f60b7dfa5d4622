package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/tile-animator/internal/animation"
	"github.com/mohammed-shakir/tile-animator/internal/artifact"
	"github.com/mohammed-shakir/tile-animator/internal/events"
	"github.com/mohammed-shakir/tile-animator/internal/logger"
)

const maxBodyBytes = 1 << 20

type animationResponse struct {
	URL string `json:"url"`
}

// HandleAnimation renders a whole animation, stores it and answers with
// the URL it can be fetched from.
func HandleAnimation(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req animation.Request
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		job, err := d.Renderer.Prepare(req)
		if err != nil {
			var ve *animation.ValidationError
			if errors.As(err, &ve) {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Error(), Field: ve.Field})
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		id := d.NewID()
		ctx := logger.WithAnimationID(r.Context(), id)
		ctx = logger.WithCollection(ctx, job.Collection())
		if d.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.Timeout)
			defer cancel()
		}

		ev := events.Event{
			AnimationID: id,
			Collection:  job.Collection(),
			Frames:      job.ValidFrameCount(),
			RequestID:   logger.RequestID(ctx),
		}
		fail := func(status int, err error) {
			d.Logger.WarnContext(ctx, "animation request failed", "status", status, "err", err)
			ev.Type = events.TypeFailed
			ev.Error = err.Error()
			ev.DurationMS = time.Since(start).Milliseconds()
			d.Events.Publish(ev)
			writeError(w, status, err.Error())
		}

		frames, err := d.Renderer.Render(ctx, job)
		if err != nil {
			fail(renderStatus(err), err)
			return
		}
		if _, err := d.Artifacts.Save(ctx, id, job, frames); err != nil {
			fail(http.StatusInternalServerError, fmt.Errorf("store animation: %w", err))
			return
		}

		ev.Type = events.TypeCompleted
		ev.DurationMS = time.Since(start).Milliseconds()
		d.Events.Publish(ev)
		d.Logger.InfoContext(ctx, "animation stored", "frames", len(frames), "duration_ms", ev.DurationMS)

		writeJSON(w, http.StatusOK, animationResponse{URL: d.PublicURL + "/animations/" + id})
	}
}

// renderStatus maps a render failure to the status the client sees:
// timeouts and cancellation are 504, everything else is the backend's
// fault and 502.
func renderStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

type manifestResponse struct {
	artifact.Manifest
	FrameURLs []string `json:"frame_urls"`
}

func HandleManifest(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		m, err := d.Artifacts.Manifest(r.Context(), id)
		if err != nil {
			artifactError(w, d, r, err)
			return
		}
		urls := make([]string, m.Frames)
		for i := range urls {
			urls[i] = fmt.Sprintf("%s/animations/%s/frames/%d", d.PublicURL, id, i)
		}
		writeJSON(w, http.StatusOK, manifestResponse{Manifest: m, FrameURLs: urls})
	}
}

func HandleFrame(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		n, err := strconv.Atoi(chi.URLParam(r, "n"))
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "frame number must be a non-negative integer")
			return
		}
		b, err := d.Artifacts.Frame(r.Context(), id, n)
		if err != nil {
			artifactError(w, d, r, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600, immutable")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	}
}

func artifactError(w http.ResponseWriter, d Deps, r *http.Request, err error) {
	if errors.Is(err, artifact.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	d.Logger.ErrorContext(r.Context(), "artifact lookup", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "artifact store unavailable")
}
