// Package keys builds deterministic cache keys for rendered frames.
package keys

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"
	h3 "github.com/uber/h3-go/v4"
)

const maxRes = 15

// ResForZoom maps a map zoom level to an H3 resolution of similar extent
// (each H3 level is ~4/3 of a zoom level).
func ResForZoom(zoom int) int {
	res := zoom * 3 / 4
	return min(max(res, 0), maxRes)
}

// CellForBBox returns the H3 cell holding the bbox centre at res.
func CellForBBox(bbox [4]float64, res int) (string, error) {
	if res < 0 || res > maxRes {
		return "", fmt.Errorf("h3 resolution %d out of range [0,%d]", res, maxRes)
	}
	ll := h3.LatLng{
		Lat: (bbox[1] + bbox[3]) / 2,
		Lng: (bbox[0] + bbox[2]) / 2,
	}
	c, err := h3.LatLngToCell(ll, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell for %v: %w", ll, err)
	}
	return c.String(), nil
}

// Key groups frames by collection and H3 cell so a keyspace scan per area
// is cheap; the xxhash suffix covers the exact bbox, window and params.
func Key(collection string, res int, cell string, window time.Time, query string) string {
	col := sanitize(strings.TrimSpace(collection))
	norm := strings.TrimSpace(query)
	sum := xxhash.Sum64String(norm)
	return fmt.Sprintf("frame:%s:%d:%s:t=%s:q=%016x", col, res, cell, window.UTC().Format("20060102T150405Z"), sum)
}

// CollectionPrefix is the key prefix shared by every frame of collection.
func CollectionPrefix(collection string) string {
	return "frame:" + sanitize(strings.TrimSpace(collection)) + ":"
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
