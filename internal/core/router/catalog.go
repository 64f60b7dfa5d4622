package router

import (
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/tile-animator/internal/render"
)

var mapPage = template.Must(template.New("item_map").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Collection}} / {{.Item}}</title>
<link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css">
<script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
<style>html, body, #map { height: 100%; margin: 0; }</style>
</head>
<body>
<div id="map" data-tilejson="{{.TileJSON}}" data-item="{{.ItemURL}}"></div>
<script>
const el = document.getElementById("map");
const map = L.map("map");
fetch(el.dataset.tilejson).then(r => r.json()).then(tj => {
  L.tileLayer(tj.tiles[0], {minZoom: tj.minzoom, maxZoom: tj.maxzoom}).addTo(map);
  const [w, s, e, n] = tj.bounds;
  map.fitBounds([[s, w], [n, e]]);
});
</script>
</body>
</html>
`))

type mapData struct {
	Collection string
	Item       string
	TileJSON   string
	ItemURL    string
}

// HandleMap serves an HTML preview of a single item using the collection's
// default rendering.
func HandleMap(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		collection := strings.TrimSpace(q.Get("collection"))
		item := strings.TrimSpace(q.Get("item"))
		if collection == "" || item == "" {
			http.Error(w, "collection and item are required", http.StatusBadRequest)
			return
		}

		tj, ok := d.Linker.TileJSONURL(collection, item)
		if !ok {
			http.Error(w, "No item map available for collection "+collection, http.StatusNotFound)
			return
		}

		data := mapData{
			Collection: collection,
			Item:       item,
			TileJSON:   tj,
			ItemURL:    d.StacURL + "/collections/" + url.PathEscape(collection) + "/items/" + url.PathEscape(item),
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := mapPage.Execute(w, data); err != nil {
			d.Logger.ErrorContext(r.Context(), "render map page", "err", err)
		}
	}
}

// HandleCollections lists the ids of collections with a visible render config.
func HandleCollections(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"collections": d.Registry.IDs()})
	}
}

type renderConfigResponse struct {
	Collection          string         `json:"collection"`
	RenderParams        render.Params  `json:"render_params"`
	Assets              []string       `json:"assets,omitempty"`
	MinZoom             int            `json:"minzoom"`
	MaxZoom             int            `json:"maxzoom"`
	HasMosaic           bool           `json:"has_mosaic"`
	MosaicPreviewZoom   *int           `json:"mosaic_preview_zoom,omitempty"`
	MosaicPreviewCoords *render.LatLng `json:"mosaic_preview_coords,omitempty"`
	RequiresToken       bool           `json:"requires_token"`
	Hidden              bool           `json:"hidden"`
	CollectionLinks     bool           `json:"should_add_collection_links"`
	ItemLinks           bool           `json:"should_add_item_links"`
	QueryString         string         `json:"query_string"`
}

func HandleRenderConfig(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		cfg, ok := d.Registry.Lookup(id)
		if !ok {
			writeError(w, http.StatusNotFound, "no render config for collection "+id)
			return
		}
		writeJSON(w, http.StatusOK, renderConfigResponse{
			Collection:          id,
			RenderParams:        cfg.RenderParams,
			Assets:              cfg.Assets,
			MinZoom:             cfg.MinZoom,
			MaxZoom:             cfg.MaxZoom,
			HasMosaic:           cfg.HasMosaic,
			MosaicPreviewZoom:   cfg.MosaicPreviewZoom,
			MosaicPreviewCoords: cfg.MosaicPreviewCoords,
			RequiresToken:       cfg.RequiresToken,
			Hidden:              cfg.Hidden,
			CollectionLinks:     cfg.ShouldAddCollectionLinks(),
			ItemLinks:           cfg.ShouldAddItemLinks(),
			QueryString:         cfg.QueryString(id, r.URL.Query().Get("item")),
		})
	}
}

// HandleLinks returns the preview links for a collection, or for one of its
// items when ?item= is given.
func HandleLinks(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, ok := d.Registry.Lookup(id); !ok {
			writeError(w, http.StatusNotFound, "no render config for collection "+id)
			return
		}
		var links []render.Link
		if item := strings.TrimSpace(r.URL.Query().Get("item")); item != "" {
			links = d.Linker.ItemLinks(id, item)
		} else {
			links = d.Linker.CollectionLinks(id)
		}
		if links == nil {
			links = []render.Link{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"links": links})
	}
}

// HandleCDN rewrites an asset href to its CDN form when the storage account
// is fronted by one.
func HandleCDN(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		href := r.URL.Query().Get("href")
		if href == "" {
			writeError(w, http.StatusBadRequest, "missing required parameter: href")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"href": d.CDN.Transform(href)})
	}
}
