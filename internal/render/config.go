// Package render holds the per-collection visualization recipes and the
// helpers that turn them into tiler query strings and preview links.
package render

import "strings"

const DefaultMaxZoom = 18

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Config describes the most convenient rendering of a collection for human
// preview. It is not the only way a collection can be rendered.
type Config struct {
	RenderParams Params
	Assets       []string
	MinZoom      int
	MaxZoom      int
	CreateLinks  bool

	// HasMosaic and the mosaic preview fields come from the retired mosaicjson
	// feature; HasMosaic still gates collection level links.
	HasMosaic           bool
	MosaicPreviewZoom   *int
	MosaicPreviewCoords *LatLng

	RequiresToken bool
	Hidden        bool
}

// Option tweaks a Config built by NewConfig.
type Option func(*Config)

// NewConfig applies the table defaults (maxzoom 18, links enabled) and then opts.
func NewConfig(minZoom int, params Params, opts ...Option) Config {
	c := Config{
		RenderParams: params,
		MinZoom:      minZoom,
		MaxZoom:      DefaultMaxZoom,
		CreateLinks:  true,
	}
	for _, o := range opts {
		o(&c)
	}
	return c
}

func WithAssets(assets ...string) Option {
	return func(c *Config) { c.Assets = assets }
}

func WithMaxZoom(z int) Option {
	return func(c *Config) { c.MaxZoom = z }
}

func WithoutLinks() Option {
	return func(c *Config) { c.CreateLinks = false }
}

func WithMosaic() Option {
	return func(c *Config) { c.HasMosaic = true }
}

func WithMosaicPreview(zoom int, lat, lng float64) Option {
	return func(c *Config) {
		z := zoom
		c.MosaicPreviewZoom = &z
		c.MosaicPreviewCoords = &LatLng{Lat: lat, Lng: lng}
	}
}

func RequiresToken() Option {
	return func(c *Config) { c.RequiresToken = true }
}

func Hidden() Option {
	return func(c *Config) { c.Hidden = true }
}

func (c Config) ShouldAddCollectionLinks() bool {
	return c.HasMosaic && c.CreateLinks && !c.Hidden
}

func (c Config) ShouldAddItemLinks() bool {
	return c.CreateLinks && !c.Hidden
}

// QueryString builds the full render query string for the tiler:
// collection, optional item, one assets entry per asset, then the recipe.
func (c Config) QueryString(collection, item string) string {
	var b strings.Builder
	if collection != "" {
		b.WriteString("collection=")
		b.WriteString(collection)
	}
	if item != "" {
		b.WriteString("&item=")
		b.WriteString(item)
	}
	b.WriteString(c.AssetsParams())
	b.WriteString(c.RenderParamsString())
	return b.String()
}

// AssetsParams renders "&assets=a" once per configured asset.
func (c Config) AssetsParams() string {
	var b strings.Builder
	for _, a := range c.Assets {
		b.WriteString("&assets=")
		b.WriteString(a)
	}
	return b.String()
}

func (c Config) RenderParamsString() string {
	return "&" + c.RenderParams.Encode()
}
