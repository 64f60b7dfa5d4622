package router

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/tile-animator/internal/animation"
	"github.com/mohammed-shakir/tile-animator/internal/artifact"
	"github.com/mohammed-shakir/tile-animator/internal/events"
	"github.com/mohammed-shakir/tile-animator/internal/render"
	"github.com/mohammed-shakir/tile-animator/internal/tiler"
)

const fixedID = "123e4567-e89b-12d3-a456-426614174000"

type sink struct {
	mu  sync.Mutex
	evs []events.Event
}

func (s *sink) Publish(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evs = append(s.evs, ev)
}

func (s *sink) last(t *testing.T) events.Event {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.evs) == 0 {
		t.Fatal("no events published")
	}
	return s.evs[len(s.evs)-1]
}

func tilePNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 32, 16))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func newTestRouter(t *testing.T, f tiler.Fetcher, timeout time.Duration) (http.Handler, *sink) {
	t.Helper()
	reg := render.DefaultRegistry()
	cdn := render.NewCDNRewriter(render.DefaultCDNAccounts...)
	s := &sink{}
	d := Deps{
		PublicURL: "https://anim.example.com",
		StacURL:   "https://stac.example.com",
		Renderer:  &animation.Animator{Fetcher: f, Workers: 2, MaxFrames: 10},
		Artifacts: artifact.New(artifact.NewMemoryKV(64<<20, time.Minute), time.Minute),
		Registry:  reg,
		Linker:    render.NewLinker(reg, cdn, "https://tiler.example.com/api/data/v1"),
		CDN:       cdn,
		Events:    s,
		Timeout:   timeout,
		NewID:     func() string { return fixedID },
	}
	r := chi.NewRouter()
	Mount(r, d)
	return r, s
}

const validBody = `{
  "bbox": [-122.5, 47.4, -122.2, 47.7],
  "zoom": 10,
  "render_params": "collection=naip&assets=image&asset_bidx=image|1,2,3",
  "start": "2020-01-01T00:00:00Z",
  "step": 1,
  "unit": "years",
  "frames": 3
}`

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAnimation_EndToEnd(t *testing.T) {
	tile := tilePNG(t)
	h, s := newTestRouter(t, tiler.FetcherFunc(func(context.Context, tiler.FrameQuery) ([]byte, error) {
		return tile, nil
	}), time.Second)

	rr := do(t, h, http.MethodPost, "/animation", validBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp animationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.URL != "https://anim.example.com/animations/"+fixedID {
		t.Fatalf("url=%q", resp.URL)
	}
	if ev := s.last(t); ev.Type != events.TypeCompleted || ev.Frames != 3 || ev.Collection != "naip" {
		t.Fatalf("event=%+v", ev)
	}

	rr = do(t, h, http.MethodGet, "/animations/"+fixedID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("manifest status=%d", rr.Code)
	}
	var m manifestResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if m.Frames != 3 || len(m.FrameURLs) != 3 {
		t.Fatalf("manifest=%+v", m)
	}
	if m.FrameURLs[2] != "https://anim.example.com/animations/"+fixedID+"/frames/2" {
		t.Fatalf("frame url=%q", m.FrameURLs[2])
	}
	if !m.Timestamps[1].Equal(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("timestamps=%v", m.Timestamps)
	}

	rr = do(t, h, http.MethodGet, "/animations/"+fixedID+"/frames/1", "")
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("frame status=%d ct=%q", rr.Code, rr.Header().Get("Content-Type"))
	}
	if _, err := png.Decode(rr.Body); err != nil {
		t.Fatalf("frame not png: %v", err)
	}

	if rr = do(t, h, http.MethodGet, "/animations/"+fixedID+"/frames/3", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("out of range frame status=%d", rr.Code)
	}
	if rr = do(t, h, http.MethodGet, "/animations/"+fixedID+"/frames/x", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad frame number status=%d", rr.Code)
	}
}

func TestAnimation_ValidationError(t *testing.T) {
	h, _ := newTestRouter(t, tiler.FetcherFunc(func(context.Context, tiler.FrameQuery) ([]byte, error) {
		t.Fatal("fetch must not run for invalid requests")
		return nil, nil
	}), time.Second)

	body := strings.Replace(validBody, `"years"`, `"fortnights"`, 1)
	rr := do(t, h, http.MethodPost, "/animation", body)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rr.Code)
	}
	var eb errorBody
	_ = json.Unmarshal(rr.Body.Bytes(), &eb)
	if eb.Field != "unit" || !strings.Contains(eb.Error, "mins, hours, days, weeks, months, years") {
		t.Fatalf("error body=%+v", eb)
	}

	if rr = do(t, h, http.MethodPost, "/animation", "{not json"); rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status=%d", rr.Code)
	}
}

func TestAnimation_UpstreamFailure(t *testing.T) {
	h, s := newTestRouter(t, tiler.FetcherFunc(func(context.Context, tiler.FrameQuery) ([]byte, error) {
		return nil, &tiler.UpstreamError{Op: "crop", Status: http.StatusInternalServerError, Body: "boom"}
	}), time.Second)

	rr := do(t, h, http.MethodPost, "/animation", validBody)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d", rr.Code)
	}
	if ev := s.last(t); ev.Type != events.TypeFailed || ev.Error == "" {
		t.Fatalf("event=%+v", ev)
	}
	if rr = do(t, h, http.MethodGet, "/animations/"+fixedID, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("failed animation must not be stored, status=%d", rr.Code)
	}
}

func TestAnimation_Timeout(t *testing.T) {
	h, _ := newTestRouter(t, tiler.FetcherFunc(func(ctx context.Context, _ tiler.FrameQuery) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), 20*time.Millisecond)

	if rr := do(t, h, http.MethodPost, "/animation", validBody); rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestManifest_NotFound(t *testing.T) {
	h, _ := newTestRouter(t, nil, 0)
	if rr := do(t, h, http.MethodGet, "/animations/"+fixedID, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestMap(t *testing.T) {
	h, _ := newTestRouter(t, nil, 0)

	rr := do(t, h, http.MethodGet, "/map?collection=naip&item=ca_m_3712213_ne_10_060_20200524", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	if !strings.Contains(body, "https://tiler.example.com/api/data/v1/item/tilejson.json?collection=naip") {
		t.Fatalf("tilejson url missing:\n%s", body)
	}
	if !strings.Contains(body, "https://stac.example.com/collections/naip/items/ca_m_3712213_ne_10_060_20200524") {
		t.Fatalf("item url missing:\n%s", body)
	}

	rr = do(t, h, http.MethodGet, "/map?collection=nope&item=x", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "No item map available for collection nope" {
		t.Fatalf("body=%q", got)
	}

	if rr = do(t, h, http.MethodGet, "/map?collection=naip", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing item status=%d", rr.Code)
	}
}

func TestRenderConfig(t *testing.T) {
	h, _ := newTestRouter(t, nil, 0)

	rr := do(t, h, http.MethodGet, "/collections/naip/render?item=i1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var got renderConfigResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.QueryString != "collection=naip&item=i1&assets=image&asset_bidx=image|1,2,3" {
		t.Fatalf("query_string=%q", got.QueryString)
	}
	if got.MinZoom != 11 || got.MaxZoom != 18 || !got.ItemLinks || got.CollectionLinks {
		t.Fatalf("config=%+v", got)
	}

	if rr = do(t, h, http.MethodGet, "/collections/nope/render", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown collection status=%d", rr.Code)
	}
}

func TestLinks(t *testing.T) {
	h, _ := newTestRouter(t, nil, 0)

	count := func(target string) int {
		t.Helper()
		rr := do(t, h, http.MethodGet, target, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", target, rr.Code)
		}
		var body struct {
			Links []render.Link `json:"links"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return len(body.Links)
	}

	if n := count("/collections/naip/links?item=i1"); n != 3 {
		t.Fatalf("naip item links=%d", n)
	}
	if n := count("/collections/naip/links"); n != 0 {
		t.Fatalf("naip collection links=%d", n)
	}
	if n := count("/collections/goes-cmi/links"); n != 1 {
		t.Fatalf("goes-cmi collection links=%d", n)
	}
	if n := count("/collections/mtbs/links?item=i1"); n != 0 {
		t.Fatalf("mtbs item links=%d", n)
	}
}

func TestCDN(t *testing.T) {
	h, _ := newTestRouter(t, nil, 0)

	rr := do(t, h, http.MethodGet, "/cdn?href=https://naipeuwest.blob.core.windows.net/naip/x.tif", "")
	var got map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	if got["href"] != "https://naipeuwest.azureedge.net/naip/x.tif" {
		t.Fatalf("href=%q", got["href"])
	}
	if rr = do(t, h, http.MethodGet, "/cdn", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestCollections_ListsVisibleIDs(t *testing.T) {
	h, _ := newTestRouter(t, nil, 0)
	rr := do(t, h, http.MethodGet, "/collections", "")
	var got struct {
		Collections []string `json:"collections"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	if len(got.Collections) != render.DefaultRegistry().Len() {
		t.Fatalf("collections=%v", got.Collections)
	}
}
