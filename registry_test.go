package weir

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnection(t *testing.T, id string, registry *Registry) (*Connection, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	rw := bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server))
	conn := newConnection(id, server, rw, "", WebSocketConfig{MaxPayloadSize: 1 << 20}, registry)
	return conn, client
}

func readFrameFromPeer(t *testing.T, peer net.Conn) wsFrame {
	t.Helper()
	peer.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1024)
	n, err := peer.Read(buf)
	require.NoError(t, err)

	frame, consumed, ok, maskErr, tooBig := decodeUnmaskedFrame(buf[:n])
	require.NoError(t, maskErr)
	require.NoError(t, tooBig)
	require.True(t, ok)
	assert.Equal(t, n, consumed)
	return frame
}

// readFrameAsync starts reading one frame from peer in the background,
// returning a channel that receives it once available. net.Pipe is
// synchronous, so a write-side caller (e.g. Registry.Register draining a
// queue) would otherwise deadlock waiting for a reader.
func readFrameAsync(t *testing.T, peer net.Conn) <-chan wsFrame {
	t.Helper()
	ch := make(chan wsFrame, 1)
	go func() {
		ch <- readFrameFromPeer(t, peer)
	}()
	return ch
}

// decodeUnmaskedFrame mirrors decodeFrame's length parsing for the
// unmasked server-to-client frames encodeFrame produces.
func decodeUnmaskedFrame(buf []byte) (wsFrame, int, bool, error, error) {
	if len(buf) < 2 {
		return wsFrame{}, 0, false, nil, nil
	}
	fin := buf[0]&0x80 != 0
	opcode := wsOpcode(buf[0] & 0x0F)
	lenField := int(buf[1] & 0x7F)
	offset := 2
	payloadLen := int64(lenField)
	if lenField == 126 {
		payloadLen = int64(buf[2])<<8 | int64(buf[3])
		offset = 4
	}
	payload := buf[offset : int64(offset)+payloadLen]
	return wsFrame{fin: fin, opcode: opcode, payload: payload}, offset + int(payloadLen), true, nil, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(false, 0)
	conn, _ := newTestConnection(t, "a", r)

	r.Register(conn)
	assert.Same(t, conn, r.Get("a"))
	assert.Nil(t, r.Get("missing"))
}

func TestRegistryJoinAndLeaveRoom(t *testing.T) {
	r := NewRegistry(false, 0)
	conn, _ := newTestConnection(t, "a", r)
	r.Register(conn)

	r.Join(conn, "lobby")
	assert.Contains(t, conn.Rooms(), "lobby")

	snapshot := r.roomSnapshot("lobby", nil)
	assert.Len(t, snapshot, 1)

	r.Leave(conn, "lobby")
	assert.Empty(t, conn.Rooms())
	assert.Empty(t, r.roomSnapshot("lobby", nil))
}

func TestRegistryRemoveDropsConnectionFromAllRooms(t *testing.T) {
	r := NewRegistry(false, 0)
	conn, _ := newTestConnection(t, "a", r)
	r.Register(conn)
	r.Join(conn, "room1")
	r.Join(conn, "room2")

	r.remove(conn)

	assert.Nil(t, r.Get("a"))
	assert.Empty(t, r.roomSnapshot("room1", nil))
	assert.Empty(t, r.roomSnapshot("room2", nil))
}

func TestRegistrySendToQueuesWhenOfflineAndDrainsOnRegister(t *testing.T) {
	r := NewRegistry(true, 4)

	r.SendTo("a", []byte("hi"), opText)
	assert.Nil(t, r.Get("a"))

	conn, peer := newTestConnection(t, "a", r)
	ch := readFrameAsync(t, peer)
	r.Register(conn)

	select {
	case frame := <-ch:
		assert.Equal(t, "hi", string(frame.payload))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued frame")
	}
}

func TestRegistrySendToDropsWhenQueueDisabled(t *testing.T) {
	r := NewRegistry(false, 4)
	r.SendTo("a", []byte("hi"), opText)

	conn, peer := newTestConnection(t, "a", r)
	r.Register(conn)

	peer.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	buf := make([]byte, 16)
	_, err := peer.Read(buf)
	netErr, ok := err.(net.Error)
	assert.True(t, ok && netErr.Timeout(), "expected a read timeout, got %v", err)
}

func TestOfflineQueueTailDropsOnOverflow(t *testing.T) {
	q := &offlineQueue{cap: 2}
	q.push([]byte("1"))
	q.push([]byte("2"))
	q.push([]byte("3"))

	assert.Len(t, q.frames, 2)
	assert.Equal(t, []byte("1"), q.frames[0])
	assert.Equal(t, []byte("2"), q.frames[1])
}

func TestRegistryBroadcastPropagatesWriteFailureAndWarns(t *testing.T) {
	r := NewRegistry(false, 0)
	l, buf := newTestLogger()
	r.SetLogger(l)

	conn, peer := newTestConnection(t, "a", r)
	r.Register(conn)
	conn.conn.Close() // sever the pipe under an otherwise-OPEN connection
	defer peer.Close()

	err := r.Broadcast("hello", nil)
	assert.Error(t, err)
	assert.Contains(t, buf.String(), "broadcast write failed")
}

func TestRegistrySendToLogsQueueOverflow(t *testing.T) {
	r := NewRegistry(true, 1)
	l, buf := newTestLogger()
	r.SetLogger(l)

	r.SendTo("a", []byte("1"), opText)
	r.SendTo("a", []byte("2"), opText)

	assert.Contains(t, buf.String(), "offline queue for a dropped a message at capacity 1")
}

func TestRegistryBroadcastReachesAllExceptExcluded(t *testing.T) {
	r := NewRegistry(false, 0)
	connA, peerA := newTestConnection(t, "a", r)
	connB, peerB := newTestConnection(t, "b", r)
	r.Register(connA)
	r.Register(connB)

	ch := readFrameAsync(t, peerA)
	err := r.Broadcast("hello", map[string]struct{}{"b": {}})
	require.NoError(t, err)

	select {
	case frame := <-ch:
		assert.Equal(t, "hello", string(frame.payload))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast frame")
	}

	peerB.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	buf := make([]byte, 16)
	_, err = peerB.Read(buf)
	netErr, ok := err.(net.Error)
	assert.True(t, ok && netErr.Timeout(), "excluded connection should not have received the broadcast")
}
