// Package httpclient implements the redirect-aware fetch client from
// spec.md §4.G, with request/response bodies bridged through
// internal/stream channels.
package httpclient

import "strings"

// Headers is an insertion-ordered, case-insensitive multimap, per
// spec.md §9 "Header storage": Append adds, Set replaces the first entry
// and deletes subsequent same-key entries, Get returns the first, GetAll
// returns all.
type Headers struct {
	keys   []string // original-case keys, in insertion order, one per entry
	values []string
}

// NewHeaders creates an empty header multimap.
func NewHeaders() *Headers { return &Headers{} }

func lower(s string) string { return strings.ToLower(s) }

// Append adds a new entry without disturbing existing ones.
func (h *Headers) Append(key, value string) {
	h.keys = append(h.keys, key)
	h.values = append(h.values, value)
}

// Set replaces the first entry for key and removes any subsequent
// entries sharing the same key (case-insensitively).
func (h *Headers) Set(key, value string) {
	lk := lower(key)
	replaced := false
	var newKeys, newValues []string
	for i, k := range h.keys {
		if lower(k) == lk {
			if !replaced {
				newKeys = append(newKeys, key)
				newValues = append(newValues, value)
				replaced = true
			}
			continue
		}
		newKeys = append(newKeys, k)
		newValues = append(newValues, h.values[i])
	}
	if !replaced {
		newKeys = append(newKeys, key)
		newValues = append(newValues, value)
	}
	h.keys, h.values = newKeys, newValues
}

// Get returns the first value for key, or "" with ok=false.
func (h *Headers) Get(key string) (string, bool) {
	lk := lower(key)
	for i, k := range h.keys {
		if lower(k) == lk {
			return h.values[i], true
		}
	}
	return "", false
}

// GetAll returns every value for key, in insertion order.
func (h *Headers) GetAll(key string) []string {
	lk := lower(key)
	var out []string
	for i, k := range h.keys {
		if lower(k) == lk {
			out = append(out, h.values[i])
		}
	}
	return out
}

// Delete removes every entry for key.
func (h *Headers) Delete(key string) {
	lk := lower(key)
	var newKeys, newValues []string
	for i, k := range h.keys {
		if lower(k) == lk {
			continue
		}
		newKeys = append(newKeys, k)
		newValues = append(newValues, h.values[i])
	}
	h.keys, h.values = newKeys, newValues
}

// Has reports whether key has at least one entry.
func (h *Headers) Has(key string) bool {
	_, ok := h.Get(key)
	return ok
}

// Entries returns all (key, value) pairs in insertion order.
func (h *Headers) Entries() [][2]string {
	out := make([][2]string, len(h.keys))
	for i := range h.keys {
		out[i] = [2]string{h.keys[i], h.values[i]}
	}
	return out
}

// Clone returns a deep copy.
func (h *Headers) Clone() *Headers {
	c := &Headers{}
	c.keys = append(c.keys, h.keys...)
	c.values = append(c.values, h.values...)
	return c
}
