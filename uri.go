package weir

import "net/url"

// QueryParam returns the first value of the query string parameter name, or
// "" if it was never set.
func (r *Request) QueryParam(name string) string {
	return r.QueryParams().Get(name)
}

// QueryParams parses and returns the request's query string as url.Values.
// The parse is not cached per-request since most handlers touch at most one
// or two parameters; the URL Parse Cache in cache.go already spares the
// path/query split itself from being redone across requests.
func (r *Request) QueryParams() url.Values {
	v, _ := url.ParseQuery(r.Query())
	return v
}
