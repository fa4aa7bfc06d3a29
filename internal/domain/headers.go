package domain

import (
	"maps"
	"net/http"
	"slices"
	"strings"
)

// Header is a single request header.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers is an ordered set of request headers. Lookups are case-insensitive.
type Headers []Header

// HeadersFromMap builds Headers from a map, sorted by name
func HeadersFromMap(m map[string]string) Headers {
	h := make(Headers, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		h = append(h, Header{Name: k, Value: m[k]})
	}
	return h
}

// Get returns the value of the first header matching name
func (h Headers) Get(name string) (string, bool) {
	for _, hd := range h {
		if strings.EqualFold(hd.Name, name) {
			return hd.Value, true
		}
	}
	return "", false
}

// Has reports whether a header with name is present
func (h Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Clone returns a copy that shares no storage with h
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}

// WithDefaults returns h followed by every default whose name h does not already set.
func (h Headers) WithDefaults(defaults Headers) Headers {
	out := h.Clone()
	for _, d := range defaults {
		if !h.Has(d.Name) {
			out = append(out, d)
		}
	}
	return out
}

// Apply sets every header on an outgoing http.Header
func (h Headers) Apply(dst http.Header) {
	for _, hd := range h {
		dst.Set(hd.Name, hd.Value)
	}
}

// ResponseHeaders flattens an http.Header into a single-valued map.
func ResponseHeaders(src http.Header) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		if len(v) > 0 {
			out[k] = strings.Join(v, ", ")
		}
	}
	return out
}
