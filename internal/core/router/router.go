// Package router holds the HTTP handlers of the animation service.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/tile-animator/internal/animation"
	"github.com/mohammed-shakir/tile-animator/internal/artifact"
	"github.com/mohammed-shakir/tile-animator/internal/events"
	"github.com/mohammed-shakir/tile-animator/internal/render"
)

// Renderer validates and renders animation requests.
type Renderer interface {
	Prepare(req animation.Request) (*animation.Job, error)
	Render(ctx context.Context, job *animation.Job) ([]animation.Frame, error)
}

// Artifacts stores rendered animations.
type Artifacts interface {
	Save(ctx context.Context, id string, job *animation.Job, frames []animation.Frame) (artifact.Manifest, error)
	Manifest(ctx context.Context, id string) (artifact.Manifest, error)
	Frame(ctx context.Context, id string, n int) ([]byte, error)
}

type Deps struct {
	Logger    *slog.Logger
	PublicURL string
	StacURL   string
	Renderer  Renderer
	Artifacts Artifacts
	Registry  *render.Registry
	Linker    *render.Linker
	CDN       *render.CDNRewriter
	Events    events.Sink
	// upper bound on a single POST /animation; <= 0 means none
	Timeout time.Duration
	NewID   func() string
}

func (d *Deps) defaults() {
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.NewID == nil {
		d.NewID = artifact.NewID
	}
}

// Mount registers the service routes on r.
func Mount(r chi.Router, d Deps) {
	d.defaults()

	r.Post("/animation", HandleAnimation(d))
	r.Get("/animations/{id}", HandleManifest(d))
	r.Get("/animations/{id}/frames/{n}", HandleFrame(d))

	r.Get("/map", HandleMap(d))
	r.Get("/collections", HandleCollections(d))
	r.Get("/collections/{id}/render", HandleRenderConfig(d))
	r.Get("/collections/{id}/links", HandleLinks(d))
	r.Get("/cdn", HandleCDN(d))
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
