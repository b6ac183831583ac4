package weir

import (
	"net"
	"time"
)

// keepAliveListener wraps a *net.TCPListener to enable TCP keep-alive on
// every accepted connection, matching ordinary production HTTP server
// behavior for long-lived client pools.
type keepAliveListener struct {
	*net.TCPListener
}

// listen opens a TCP listener on address.
func listen(address string) (*keepAliveListener, error) {
	nl, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &keepAliveListener{TCPListener: nl.(*net.TCPListener)}, nil
}

// Accept implements net.Listener, enabling TCP keep-alive on each
// connection before handing it to the server.
func (l *keepAliveListener) Accept() (net.Conn, error) {
	tc, err := l.AcceptTCP()
	if err != nil {
		return nil, err
	}

	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)

	return tc, nil
}
