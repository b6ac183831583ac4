package weir

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
)

// Response is the response being composed for one Request. Status is
// pending until the first byte is written or End is called explicitly;
// Written latches true exactly once a response has terminated, and the
// Dispatcher never terminates a response more than once per request.
type Response struct {
	Status  int
	Headers Headers
	Written bool
	Locals  *localsBag

	suppressBody bool // set for HEAD requests 

	raw     http.ResponseWriter
	req     *Request
	wroteHdr bool
}

func newResponse() *Response {
	return &Response{Headers: Headers{}, Locals: newLocalsBag(), Status: http.StatusOK}
}

func (res *Response) feed(req *Request, rw http.ResponseWriter) {
	res.req = req
	res.raw = rw
	res.Locals = req.Locals
	res.suppressBody = req.Method == http.MethodHead
}

func (res *Response) reset() {
	res.Status = http.StatusOK
	for k := range res.Headers {
		delete(res.Headers, k)
	}
	res.Written = false
	res.suppressBody = false
	res.raw = nil
	res.req = nil
	res.wroteHdr = false
}

// SetHeader sets header name to value, replacing any previous values.
func (res *Response) SetHeader(name, value string) {
	res.Headers.Set(name, []string{value})
}

// AddHeader appends value to header name.
func (res *Response) AddHeader(name, value string) {
	res.Headers.Append(name, value)
}

// Request returns the Request paired with res.
func (res *Response) Request() *Request { return res.req }

// flushHeader writes the status line and headers to the underlying
// http.ResponseWriter exactly once.
func (res *Response) flushHeader() {
	if res.wroteHdr {
		return
	}
	res.Headers.WriteTo(res.raw.Header())
	res.raw.WriteHeader(res.Status)
	res.wroteHdr = true
}

// Write implements io.Writer, composing the response body. A HEAD request's
// body is suppressed at this boundary but the byte count
// is still reported to the caller so handlers written against GET and HEAD
// alike don't need to special-case the method.
func (res *Response) Write(p []byte) (int, error) {
	res.flushHeader()
	res.Written = true
	if res.suppressBody {
		return len(p), nil
	}
	return res.raw.Write(p)
}

// WriteString writes s as the response body with a 200 default status.
func (res *Response) WriteString(s string) error {
	_, err := res.Write([]byte(s))
	return err
}

// WriteJSON marshals v and writes it as an application/json body.
func (res *Response) WriteJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	res.SetHeader("Content-Type", "application/json; charset=utf-8")
	_, err = res.Write(b)
	return err
}

// NoContent terminates the response with no body, preserving res.Status.
func (res *Response) NoContent() error {
	res.flushHeader()
	res.Written = true
	return nil
}

// Redirect terminates the response with a Location header and statusCode.
func (res *Response) Redirect(statusCode int, url string) error {
	res.Status = statusCode
	res.SetHeader("Location", url)
	return res.NoContent()
}

// End marks the response terminated without necessarily having written a
// body (e.g. a WebSocket upgrade that hijacked the connection).
func (res *Response) End() {
	res.Written = true
}

// Hijack takes over the underlying TCP connection, used by the WebSocket
// Engine's upgrade handshake.
func (res *Response) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := res.raw.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		res.Written = true
	}
	return conn, rw, err
}

// Flush flushes any buffered data to the client, when supported.
func (res *Response) Flush() {
	res.flushHeader()
	if f, ok := res.raw.(http.Flusher); ok {
		f.Flush()
	}
}

// HTTPResponseWriter exposes the underlying http.ResponseWriter for interop
// with external collaborators.
func (res *Response) HTTPResponseWriter() http.ResponseWriter {
	return res.raw
}
