package weir

import (
	"io"
	"net"
	"net/http"
	"strings"
)

// Request is one in-flight HTTP request. Method and raw URL are fixed at
// feed() time; path, query and headers are computed lazily on first use,
// and Params is bound by the Dispatcher from a lookup that has already
// frozen it before any handler observes it.
type Request struct {
	Method        string
	RawURL        string
	Proto         string
	ContentLength int64
	RemoteAddr    string

	Params Params
	Locals *localsBag

	raw  *http.Request
	conn net.Conn

	path       string
	pathSet    bool
	query      string
	querySet   bool
	headers    Headers
	headersSet bool

	bodyCapped io.ReadCloser
}

// newRequest returns an empty Request, suitable for placing in a pool.
func newRequest() *Request {
	return &Request{Locals: newLocalsBag()}
}

// feed populates r from an inbound *http.Request. bodyCap is the read cap
// on the request body (default 10 MiB); a zero or negative value disables
// capping.
func (r *Request) feed(hr *http.Request, bodyCap int64) {
	r.Method = hr.Method
	r.RawURL = hr.RequestURI
	if r.RawURL == "" {
		r.RawURL = hr.URL.RequestURI()
	}
	r.Proto = hr.Proto
	r.ContentLength = hr.ContentLength
	r.RemoteAddr = hr.RemoteAddr
	r.raw = hr

	if bodyCap > 0 && hr.Body != nil {
		r.bodyCapped = http.MaxBytesReader(nil, hr.Body, bodyCap)
	} else {
		r.bodyCapped = hr.Body
	}
}

// reset clears r for reuse by the request pool.
func (r *Request) reset() {
	r.Method = ""
	r.RawURL = ""
	r.Proto = ""
	r.ContentLength = 0
	r.RemoteAddr = ""
	r.raw = nil
	r.conn = nil
	r.path = ""
	r.pathSet = false
	r.query = ""
	r.querySet = false
	r.headers = nil
	r.headersSet = false
	r.bodyCapped = nil
	r.Params = Params{}
	r.Locals.reset()
}

// Path returns the path portion of the request's URL, computed once and
// cached for the lifetime of the request. The URL Parse Cache caches this
// same split across requests; Path is the per-request memoization on top.
func (r *Request) Path() string {
	if !r.pathSet {
		r.path, r.query = splitPathQuery(r.RawURL)
		r.pathSet = true
		r.querySet = true
	}
	return r.path
}

// Query returns the raw query-string portion (without the leading '?').
func (r *Request) Query() string {
	if !r.querySet {
		r.path, r.query = splitPathQuery(r.RawURL)
		r.pathSet = true
		r.querySet = true
	}
	return r.query
}

// primePathQuery injects a path/query split already resolved by the
// Dispatcher's URLParseCache, skipping the per-request split entirely.
func (r *Request) primePathQuery(path, query string) {
	r.path = path
	r.query = query
	r.pathSet = true
	r.querySet = true
}

// splitPathQuery splits rawURL at its first '?'.
func splitPathQuery(rawURL string) (path, query string) {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i], rawURL[i+1:]
	}
	return rawURL, ""
}

// Header returns the first value of the lower-cased header name.
func (r *Request) Header(name string) string {
	return r.allHeaders().First(name)
}

// HeaderValues returns every value of the lower-cased header name.
func (r *Request) HeaderValues(name string) []string {
	return r.allHeaders().Get(name)
}

func (r *Request) allHeaders() Headers {
	if !r.headersSet {
		if r.raw != nil {
			r.headers = headersFromHTTP(r.raw.Header)
		} else {
			r.headers = Headers{}
		}
		r.headersSet = true
	}
	return r.headers
}

// Body returns the request body, capped at the configured read limit. A
// read past the cap fails with the *http.MaxBytesError that
// http.MaxBytesReader returns; it is not converted to ErrBodyTooLarge.
func (r *Request) Body() io.ReadCloser {
	return r.bodyCapped
}

// HijackConn returns the raw underlying net.Conn when the connection has
// been hijacked for a WebSocket upgrade (see Upgrade in handshake.go); nil
// otherwise.
func (r *Request) HijackConn() net.Conn {
	return r.conn
}

// HTTPRequest exposes the underlying *http.Request for interop with
// external collaborators ("addressed only via their
// interfaces").
func (r *Request) HTTPRequest() *http.Request {
	return r.raw
}
