package weir

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/vmihailenco/msgpack/v5"
)

// ConnState is a WS Connection's lifecycle position: CONNECTING → OPEN →
// CLOSING → CLOSED, with CONNECTING able to jump directly to CLOSED on
// handshake failure.
type ConnState int32

const (
	ConnConnecting ConnState = iota
	ConnOpen
	ConnClosing
	ConnClosed
)

// Connection is one live WebSocket peer. Inbound frame processing happens
// on a single goroutine per connection (readLoop), so the reassembly
// buffer and accumulator never see concurrent writers; outbound frames are
// serialized through writeMu.
type Connection struct {
	ID          string
	Subprotocol string

	conn   net.Conn
	rw     *bufio.ReadWriter
	reader *frameReader

	writeMu sync.Mutex
	state   int32 // ConnState, accessed atomically

	maxPayload        int64
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	mu        sync.Mutex
	rooms     map[string]struct{}
	lastPong  time.Time
	metadata  *localsBag

	fragActive bool
	fragOpcode wsOpcode
	fragBuf    []byte

	registry *Registry

	// TextHandler, BinaryHandler, CloseHandler and ErrorHandler are the
	// per-connection callbacks the ws(path, ...) registration supplies.
	TextHandler   func(conn *Connection, text string)
	BinaryHandler func(conn *Connection, data []byte)
	CloseHandler  func(conn *Connection, code int, reason string)
	ErrorHandler  func(conn *Connection, err error)

	closeOnce sync.Once
	stopHeartbeat chan struct{}
}

func newConnection(id string, conn net.Conn, rw *bufio.ReadWriter, subprotocol string, cfg WebSocketConfig, registry *Registry) *Connection {
	return &Connection{
		ID:                id,
		Subprotocol:       subprotocol,
		conn:              conn,
		rw:                rw,
		reader:            newFrameReader(rw, cfg.MaxPayloadSize),
		maxPayload:        cfg.MaxPayloadSize,
		heartbeatInterval: cfg.HeartbeatInterval,
		heartbeatTimeout:  cfg.HeartbeatTimeout,
		rooms:             map[string]struct{}{},
		metadata:          newLocalsBag(),
		lastPong:          timeNow(),
		registry:          registry,
		stopHeartbeat:     make(chan struct{}),
		state:             int32(ConnOpen),
	}
}

// timeNow is time.Now wrapped for a single call site, kept separate so the
// heartbeat's "now - lastPongReceived" comparison reads as one idea.
func timeNow() time.Time { return time.Now() }

// State returns the connection's current lifecycle state.
func (c *Connection) State() ConnState {
	return ConnState(atomic.LoadInt32(&c.state))
}

func (c *Connection) setState(s ConnState) {
	atomic.StoreInt32(&c.state, int32(s))
}

// Metadata returns the connection's per-connection metadata bag.
func (c *Connection) Metadata() *localsBag {
	return c.metadata
}

// Rooms returns a snapshot of the room names this connection has joined.
func (c *Connection) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

func (c *Connection) hasRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

func (c *Connection) addRoom(room string) {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) removeRoom(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

// WriteText sends text as a single, unfragmented text frame.
func (c *Connection) WriteText(text string) error {
	return c.writeFrame(opText, []byte(text))
}

// WriteBinary sends data as a single, unfragmented binary frame.
func (c *Connection) WriteBinary(data []byte) error {
	return c.writeFrame(opBinary, data)
}

// SendJSON marshals v and sends it as a text frame.
func (c *Connection) SendJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.writeFrame(opText, b)
}

// SendMsgpack marshals v with MessagePack and sends it as a binary frame,
// for peers that opted into the denser wire format over JSON.
func (c *Connection) SendMsgpack(v interface{}) error {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return c.writeFrame(opBinary, b)
}

func (c *Connection) writeFrame(opcode wsOpcode, payload []byte) error {
	if c.State() != ConnOpen {
		return errConnNotOpen
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.rw.Write(encodeFrame(true, opcode, payload))
	if err != nil {
		return err
	}
	return c.rw.Flush()
}

// writeRaw writes an already-encoded frame verbatim, used by the Registry
// for broadcast and queued-message delivery so it never has to know a
// connection's opcode-encoding details.
func (c *Connection) writeRaw(frame []byte) error {
	if c.State() != ConnOpen {
		return errConnNotOpen
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.rw.Write(frame); err != nil {
		return err
	}
	return c.rw.Flush()
}

func (c *Connection) writePing(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.rw.Write(encodeFrame(true, opPing, payload)); err != nil {
		return err
	}
	return c.rw.Flush()
}

func (c *Connection) writePong(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.rw.Write(encodeFrame(true, opPong, payload)); err != nil {
		return err
	}
	return c.rw.Flush()
}

func (c *Connection) writeClose(code int, reason string) error {
	payload := closePayload(code, reason)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.rw.Write(encodeFrame(true, opClose, payload)); err != nil {
		return err
	}
	return c.rw.Flush()
}

func closePayload(code int, reason string) []byte {
	payload := make([]byte, 2+len(reason))
	payload[0] = byte(code >> 8)
	payload[1] = byte(code)
	copy(payload[2:], reason)
	return payload
}

var errConnNotOpen = &handshakeError{"weir: connection is not open"}

// run drives the connection's read loop and heartbeat timer until it
// closes. It is meant to be called from its own goroutine by the Upgrade
// Handler once the connection is registered.
func (c *Connection) run() {
	if c.heartbeatInterval > 0 {
		go c.heartbeatLoop()
	}
	c.readLoop()
}

func (c *Connection) heartbeatLoop() {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopHeartbeat:
			return
		case <-ticker.C:
			c.mu.Lock()
			lastPong := c.lastPong
			c.mu.Unlock()

			if timeNow().Sub(lastPong) > c.heartbeatTimeout {
				c.Close(CloseGoingAway, "Heartbeat timeout")
				return
			}
			if err := c.writePing(nil); err != nil {
				c.Close(CloseInternalError, "heartbeat write failed")
				return
			}
		}
	}
}

// logProtocolViolation reports, via the registry, a frame that broke the
// RFC 6455 framing rules just before the connection closes because of it.
func (c *Connection) logProtocolViolation(reason string) {
	if c.registry != nil {
		c.registry.logProtocolViolation(c.ID, reason)
	}
}

func (c *Connection) readLoop() {
	for {
		frame, err := c.reader.ReadFrame()
		if err != nil {
			if err == errProtocolViolation {
				c.logProtocolViolation("protocol violation")
				c.Close(CloseProtocolError, "protocol violation")
			} else if err == errPayloadTooBig {
				c.Close(CloseMessageTooBig, "payload too large")
			} else {
				c.emitError(err)
				c.Close(CloseInternalError, "read error")
			}
			return
		}

		if c.handleFrame(frame) {
			return
		}
	}
}

// handleFrame processes one decoded frame and reports whether the read loop
// should stop (the connection has closed).
func (c *Connection) handleFrame(frame wsFrame) bool {
	if frame.opcode.isControl() && !frame.fin {
		c.logProtocolViolation("fragmented control frame")
		c.Close(CloseProtocolError, "fragmented control frame")
		return true
	}

	switch frame.opcode {
	case opPing:
		c.writePong(frame.payload)
		return false

	case opPong:
		c.mu.Lock()
		c.lastPong = timeNow()
		c.mu.Unlock()
		return false

	case opClose:
		code, reason := CloseNoStatusReceived, ""
		if len(frame.payload) >= 2 {
			code = int(frame.payload[0])<<8 | int(frame.payload[1])
			reason = string(frame.payload[2:])
		}
		c.setState(ConnClosing)
		c.writeClose(code, "")
		c.finishClose(code, reason)
		return true

	case opText, opBinary:
		if c.fragActive {
			c.logProtocolViolation("new message while fragment active")
			c.Close(CloseProtocolError, "new message while fragment active")
			return true
		}
		if frame.fin {
			c.dispatchMessage(frame.opcode, frame.payload)
			return false
		}
		c.fragActive = true
		c.fragOpcode = frame.opcode
		c.fragBuf = append([]byte(nil), frame.payload...)
		return false

	case opContinuation:
		if !c.fragActive {
			c.logProtocolViolation("continuation without active fragment")
			c.Close(CloseProtocolError, "continuation without active fragment")
			return true
		}
		c.fragBuf = append(c.fragBuf, frame.payload...)
		if frame.fin {
			opcode := c.fragOpcode
			buf := c.fragBuf
			c.fragActive = false
			c.fragBuf = nil
			c.dispatchMessage(opcode, buf)
		}
		return false

	default:
		c.logProtocolViolation("unknown opcode")
		c.Close(CloseProtocolError, "unknown opcode")
		return true
	}
}

func (c *Connection) dispatchMessage(opcode wsOpcode, payload []byte) {
	if opcode == opText {
		if !utf8.Valid(payload) {
			c.Close(CloseInvalidPayload, "invalid utf-8")
			return
		}
		if c.TextHandler != nil {
			c.TextHandler(c, string(payload))
		}
		return
	}
	if c.BinaryHandler != nil {
		c.BinaryHandler(c, payload)
	}
}

func (c *Connection) emitError(err error) {
	if c.ErrorHandler != nil {
		c.ErrorHandler(c, err)
	}
}

// Close transitions the connection to CLOSING, sends a close frame, and
// tears it down. It is idempotent; concurrent callers (the heartbeat timer,
// the read loop, an application handler) collapse onto one teardown.
func (c *Connection) Close(code int, reason string) {
	if c.State() == ConnClosed {
		return
	}
	c.setState(ConnClosing)
	c.writeClose(code, reason)
	c.finishClose(code, reason)
}

func (c *Connection) finishClose(code int, reason string) {
	c.closeOnce.Do(func() {
		c.setState(ConnClosed)
		close(c.stopHeartbeat)
		c.conn.Close()
		if c.registry != nil {
			c.registry.remove(c)
			c.registry.logClosed(c.ID, code, reason)
		}
		if c.CloseHandler != nil {
			c.CloseHandler(c, code, reason)
		}
	})
}
