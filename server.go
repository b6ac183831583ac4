package weir

import (
	"net"
	"net/http"
)

// newHTTPServer builds the *http.Server an App serves through, wiring its
// timeouts and header limits from app's Config.
func newHTTPServer(app *App) *http.Server {
	return &http.Server{
		Addr:           app.Config.Address,
		Handler:        app,
		ReadTimeout:    app.Config.ReadTimeout,
		WriteTimeout:   app.Config.WriteTimeout,
		IdleTimeout:    app.Config.IdleTimeout,
		MaxHeaderBytes: app.Config.MaxHeaderBytes,
	}
}

// listenAddress splits host/port out of addr. A port-only addr (e.g.
// ":8080") yields an empty host; no default host is filled in.
func listenAddress(addr string) (host, port string, err error) {
	return net.SplitHostPort(addr)
}
