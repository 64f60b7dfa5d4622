package render

import "strings"

type Link struct {
	Rel   string `json:"rel"`
	Href  string `json:"href"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

// Linker derives preview links for catalog entries from the registry.
type Linker struct {
	reg      *Registry
	cdn      *CDNRewriter
	tilerURL string
}

func NewLinker(reg *Registry, cdn *CDNRewriter, tilerURL string) *Linker {
	return &Linker{reg: reg, cdn: cdn, tilerURL: strings.TrimRight(tilerURL, "/")}
}

// ItemLinks returns the map, tilejson and rendered preview links for an item.
// Unknown collections and collections with links disabled get none.
func (l *Linker) ItemLinks(collection, item string) []Link {
	cfg, ok := l.reg.Lookup(collection)
	if !ok || !cfg.ShouldAddItemLinks() {
		return nil
	}
	qs := cfg.QueryString(collection, item)
	return []Link{
		{Rel: "preview", Href: l.tilerURL + "/item/map?" + qs, Type: "text/html", Title: "Map of item"},
		{Rel: "tilejson", Href: l.tilerURL + "/item/tilejson.json?" + qs, Type: "application/json", Title: "TileJSON with default rendering"},
		{Rel: "rendered_preview", Href: l.tilerURL + "/item/preview.png?" + qs, Type: "image/png", Title: "Rendered preview"},
	}
}

// CollectionLinks returns the mosaic tilejson link when the collection
// advertises a mosaic.
func (l *Linker) CollectionLinks(collection string) []Link {
	cfg, ok := l.reg.Lookup(collection)
	if !ok || !cfg.ShouldAddCollectionLinks() {
		return nil
	}
	qs := cfg.QueryString(collection, "")
	return []Link{
		{Rel: "tilejson", Href: l.tilerURL + "/mosaic/tilejson.json?" + qs, Type: "application/json", Title: "Mosaic TileJSON with default rendering"},
	}
}

// AssetHref is the href callers should display for a raw asset.
func (l *Linker) AssetHref(href string) string {
	return l.cdn.Transform(href)
}

// TileJSONURL is the item tilejson endpoint with the collection's default
// rendering applied. ok is false for unknown collections.
func (l *Linker) TileJSONURL(collection, item string) (url string, ok bool) {
	cfg, ok := l.reg.Lookup(collection)
	if !ok {
		return "", false
	}
	return l.tilerURL + "/item/tilejson.json?" + cfg.QueryString(collection, item), true
}
