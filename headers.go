package weir

import (
	"net/http"
	"strings"
)

// Headers is weir's own HTTP header map: always keyed by its lower-cased
// name, unlike net/http.Header's canonicalized capitalization. Request and
// Response both store one, converting to and from the stdlib's
// representation only at the net/http boundary.
type Headers map[string][]string

// headersFromHTTP copies h into a Headers, lower-casing every key.
func headersFromHTTP(h http.Header) Headers {
	hs := make(Headers, len(h))
	for k, v := range h {
		hs.Set(k, v)
	}
	return hs
}

// WriteTo copies every entry into h, canonicalizing each key the way
// net/http.Header.Add already does.
func (hs Headers) WriteTo(h http.Header) {
	for k, vs := range hs {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
}

// Get gets the values associated with the key.
//
// The key is case insensitive and will be canonicalized by the
// `strings.ToLower()`. To use non-canonical keys, access the map directly.
func (hs Headers) Get(key string) []string {
	return hs[strings.ToLower(key)]
}

// Set sets the entries associated with the key to the values.
//
// The key is case insensitive and will be canonicalized by the
// `strings.ToLower()`. To use non-canonical keys, access the map directly.
func (hs Headers) Set(key string, values []string) {
	hs[strings.ToLower(key)] = values
}

// Delete deletes the values associated with the key.
//
// The key is case insensitive and will be canonicalized by the
// `strings.ToLower()`. To use non-canonical keys, access the map directly.
func (hs Headers) Delete(key string) {
	delete(hs, strings.ToLower(key))
}

// First tries to return the first value associated with the key. It returns ""
// if there are no values associated with the key.
//
// The key is case insensitive and will be canonicalized by the
// `strings.ToLower()`. To use non-canonical keys, access the map directly.
func (hs Headers) First(key string) string {
	if vs := hs.Get(key); len(vs) > 0 {
		return vs[0]
	}

	return ""
}

// Append appends the value to the entries associated with the key.
//
// The key is case insensitive and will be canonicalized by the
// `strings.ToLower()`. To use non-canonical keys, access the map directly.
func (hs Headers) Append(key string, value string) {
	hs.Set(key, append(hs.Get(key), value))
}
