package weir

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenAcceptsConnections(t *testing.T) {
	ln, err := listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.Addr().String()

	done := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
		done <- err
	}()

	client, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, <-done)
}

func TestNewHTTPServerUsesConfiguredAddress(t *testing.T) {
	a := newTestApp()
	a.Config.Address = "127.0.0.1:9999"
	srv := newHTTPServer(a)

	assert.Equal(t, "127.0.0.1:9999", srv.Addr)
	assert.Same(t, a, srv.Handler)
}

func TestListenAddressSplitsHostPort(t *testing.T) {
	host, port, err := listenAddress("127.0.0.1:8080")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, "8080", port)
}
