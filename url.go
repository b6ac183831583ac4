package weir

import "bytes"

// URL is a reconstructible view of a request's URL, handed out by
// Request.URL for handlers that need the pieces assembled back into one
// string (e.g. building a Location header relative to the request).
type URL struct {
	Scheme string
	Host   string
	Path   string
	Query  string
}

// String serializes u back into a single URL string.
func (u URL) String() string {
	var buf bytes.Buffer

	if u.Scheme != "" {
		buf.WriteString(u.Scheme)
		buf.WriteByte(':')
	}

	if u.Scheme != "" || u.Host != "" {
		buf.WriteString("//")
		buf.WriteString(u.Host)
	}

	if u.Path != "" && u.Path[0] != '/' && u.Host != "" {
		buf.WriteByte('/')
	}
	buf.WriteString(u.Path)

	if u.Query != "" {
		buf.WriteByte('?')
		buf.WriteString(u.Query)
	}

	return buf.String()
}

// URL reconstructs the request's URL, inferring the scheme from whether the
// underlying connection was TLS-terminated and the host from the Host
// header.
func (r *Request) URL() URL {
	scheme := "http"
	if r.raw != nil && r.raw.TLS != nil {
		scheme = "https"
	}

	host := ""
	if r.raw != nil {
		host = r.raw.Host
	}

	return URL{
		Scheme: scheme,
		Host:   host,
		Path:   r.Path(),
		Query:  r.Query(),
	}
}
