// Package animation turns animation requests into ordered, stamped frames.
package animation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultMaxFrames = 100
	tileScaleParam   = "tile_scale=2"
)

// ValidationError reports a client error in an animation request.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// RenderOptions is an ordered multimap of render parameters. Keys keep the
// order they were first seen in.
type RenderOptions struct {
	keys   []string
	values map[string][]string
}

// ParseRenderOptions splits an encoded fragment on '&' and '='. Every
// segment must hold exactly one '='; repeated keys accumulate values.
func ParseRenderOptions(s string) (RenderOptions, error) {
	opts := RenderOptions{values: map[string][]string{}}
	for _, seg := range strings.Split(s, "&") {
		kv := strings.Split(seg, "=")
		if len(kv) != 2 {
			return RenderOptions{}, fmt.Errorf("segment %q is not a single key=value pair", seg)
		}
		k, v := kv[0], kv[1]
		if _, seen := opts.values[k]; !seen {
			opts.keys = append(opts.keys, k)
		}
		opts.values[k] = append(opts.values[k], v)
	}
	return opts, nil
}

func (o RenderOptions) Keys() []string {
	return append([]string(nil), o.keys...)
}

func (o RenderOptions) Get(key string) []string {
	return append([]string(nil), o.values[key]...)
}

// Encode writes key=value pairs with each value percent-encoded, repeated
// keys expanded in place.
func (o RenderOptions) Encode() string {
	parts := make([]string, 0, len(o.keys))
	for _, k := range o.keys {
		for _, v := range o.values[k] {
			parts = append(parts, k+"="+percentEncode(v))
		}
	}
	return strings.Join(parts, "&")
}

// Request is the client payload for an animation.
type Request struct {
	BBox            []float64      `json:"bbox"`
	Zoom            int            `json:"zoom"`
	CQL             map[string]any `json:"cql"`
	RenderParams    string         `json:"render_params"`
	Start           time.Time      `json:"start"`
	Duration        int            `json:"duration"`
	Step            int            `json:"step"`
	Unit            Unit           `json:"unit"`
	Frames          int            `json:"frames"`
	ShowBranding    bool           `json:"showBranding"`
	ShowProgressBar bool           `json:"showProgressBar"`
}

// UnmarshalJSON defaults both stamp flags to true when absent.
func (r *Request) UnmarshalJSON(b []byte) error {
	type plain Request
	aux := struct {
		*plain
		ShowBranding    *bool `json:"showBranding"`
		ShowProgressBar *bool `json:"showProgressBar"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	r.ShowBranding = aux.ShowBranding == nil || *aux.ShowBranding
	r.ShowProgressBar = aux.ShowProgressBar == nil || *aux.ShowProgressBar
	return nil
}

// Validate checks every field and returns an immutable Job. Nothing is
// accepted partially: the first violation rejects the request.
func (r Request) Validate(maxFrames int) (*Job, error) {
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}

	opts, err := ParseRenderOptions(r.RenderParams)
	if err != nil {
		return nil, invalid("render_params", "%v", err)
	}
	switch n := len(opts.values["collection"]); {
	case n == 0:
		return nil, invalid("render_params", "missing collection")
	case n > 1:
		return nil, invalid("render_params", "multiple collections")
	}

	if !r.Unit.Valid() {
		names := make([]string, len(Units))
		for i, u := range Units {
			names[i] = string(u)
		}
		return nil, invalid("unit", "must be one of: %s", strings.Join(names, ", "))
	}
	if r.Step < 1 {
		return nil, invalid("step", "must be >= 1 (got %d)", r.Step)
	}
	if len(r.BBox) != 4 {
		return nil, invalid("bbox", "expected 4 values west,south,east,north (got %d)", len(r.BBox))
	}
	if r.Frames < 1 {
		return nil, invalid("frames", "must be >= 1 (got %d)", r.Frames)
	}
	if r.Zoom < 0 {
		return nil, invalid("zoom", "must be >= 0 (got %d)", r.Zoom)
	}
	if r.Duration < 0 {
		return nil, invalid("duration", "must be >= 0 (got %d)", r.Duration)
	}
	if r.Start.IsZero() {
		return nil, invalid("start", "required")
	}

	cp := r
	cp.BBox = append([]float64(nil), r.BBox...)
	return &Job{req: cp, opts: opts, maxFrames: maxFrames}, nil
}

// Job is a validated animation request.
type Job struct {
	req       Request
	opts      RenderOptions
	maxFrames int
}

func (j *Job) Request() Request {
	r := j.req
	r.BBox = append([]float64(nil), j.req.BBox...)
	return r
}

func (j *Job) Collection() string {
	return j.opts.values["collection"][0]
}

func (j *Job) RenderOptions() RenderOptions {
	return j.opts
}

// ValidFrameCount caps the requested frames at the configured maximum.
func (j *Job) ValidFrameCount() int {
	return min(j.req.Frames, j.maxFrames)
}

func (j *Job) RelativeDelta() Delta {
	return Delta{Unit: j.req.Unit, Step: j.req.Step}
}

// FrameTimestamp is start + i steps.
func (j *Job) FrameTimestamp(i int) time.Time {
	return j.RelativeDelta().Times(i).AddTo(j.req.Start)
}

// EncodedRenderParams re-encodes the render options for the tiler and
// always appends tile_scale=2.
func (j *Job) EncodedRenderParams() string {
	enc := j.opts.Encode()
	if enc == "" {
		return tileScaleParam
	}
	return enc + "&" + tileScaleParam
}

const upperhex = "0123456789ABCDEF"

// percentEncode escapes every byte except unreserved characters and '/'.
// Spaces become %20, unlike url.QueryEscape.
func percentEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) || c == '/' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}
