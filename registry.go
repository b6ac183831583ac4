package weir

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// offlineQueue is a bounded FIFO of payloads waiting for a connection id
// that is not currently registered, populated by SendTo's offline fallback.
type offlineQueue struct {
	frames [][]byte
	cap    int
}

// push appends frame to the queue, reporting false when the queue was
// already at capacity and the frame was tail-dropped instead.
func (q *offlineQueue) push(frame []byte) bool {
	if len(q.frames) >= q.cap {
		return false
	}
	q.frames = append(q.frames, frame)
	return true
}

// Registry is the Broadcast Registry: every live connection, room
// membership, and (optionally) each offline connection's pending-message
// queue. Membership changes are exclusive; broadcasts iterate a
// point-in-time snapshot so a concurrent join/leave never affects a
// broadcast already in flight.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	rooms       map[string]map[string]struct{}

	queueEnabled bool
	queueCap     int
	queues       map[string]*offlineQueue

	logger *Logger
}

// SetLogger attaches l so connection lifecycle and delivery failures get
// reported. Called once by the owning App; nil until then.
func (r *Registry) SetLogger(l *Logger) {
	r.logger = l
}

// NewRegistry returns an empty Registry. When enableQueue is true, sendTo
// buffers messages for connection ids that are not currently present, up to
// maxQueueSize messages each.
func NewRegistry(enableQueue bool, maxQueueSize int) *Registry {
	return &Registry{
		connections:  map[string]*Connection{},
		rooms:        map[string]map[string]struct{}{},
		queueEnabled: enableQueue,
		queueCap:     maxQueueSize,
		queues:       map[string]*offlineQueue{},
	}
}

// Register adds conn to the registry, draining any queued messages left
// over from a previous connection under the same id before returning.
func (r *Registry) Register(conn *Connection) {
	r.mu.Lock()
	r.connections[conn.ID] = conn
	queue := r.queues[conn.ID]
	delete(r.queues, conn.ID)
	r.mu.Unlock()

	if queue != nil {
		for _, frame := range queue.frames {
			conn.writeRaw(frame)
		}
	}
}

// remove unregisters conn and drops it from every room it had joined. It is
// called by Connection.finishClose exactly once per connection.
func (r *Registry) remove(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.connections, conn.ID)
	for room := range r.rooms {
		delete(r.rooms[room], conn.ID)
		if len(r.rooms[room]) == 0 {
			delete(r.rooms, room)
		}
	}
}

// Join adds conn's id to room's membership, creating the room lazily.
func (r *Registry) Join(conn *Connection, room string) {
	r.mu.Lock()
	if r.rooms[room] == nil {
		r.rooms[room] = map[string]struct{}{}
	}
	r.rooms[room][conn.ID] = struct{}{}
	r.mu.Unlock()
	conn.addRoom(room)
}

// Leave removes conn's id from room's membership, removing the room once it
// is empty.
func (r *Registry) Leave(conn *Connection, room string) {
	r.mu.Lock()
	if members, ok := r.rooms[room]; ok {
		delete(members, conn.ID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	r.mu.Unlock()
	conn.removeRoom(room)
}

// snapshot returns a point-in-time slice of open connections, excluding any
// id in except.
func (r *Registry) snapshot(except map[string]struct{}) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.connections))
	for id, c := range r.connections {
		if except != nil {
			if _, skip := except[id]; skip {
				continue
			}
		}
		if c.State() == ConnOpen {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) roomSnapshot(room string, except map[string]struct{}) []*Connection {
	r.mu.RLock()
	members := r.rooms[room]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if except != nil {
			if _, skip := except[id]; skip {
				continue
			}
		}
		if c := r.Get(id); c != nil && c.State() == ConnOpen {
			out = append(out, c)
		}
	}
	return out
}

// CloseAll closes every currently registered connection with code and
// reason, used by App.Shutdown to tear down open WebSocket connections a
// graceful HTTP shutdown would otherwise leave dangling.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, c := range r.connections {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.Close(code, reason)
	}
}

// Get returns the connection registered under id, or nil.
func (r *Registry) Get(id string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connections[id]
}

// Broadcast sends payload as a text frame to every OPEN connection not in
// except, fanning the writes out concurrently. It reports the first write
// failure encountered, if any, after every fan-out write has completed.
func (r *Registry) Broadcast(payload string, except map[string]struct{}) error {
	err := fanOutWrite(r.snapshot(except), opText, []byte(payload))
	if err != nil && r.logger != nil {
		r.logger.Warnf("broadcast write failed: %v", err)
	}
	return err
}

// BroadcastToRoom sends payload as a text frame to every OPEN member of
// room not in except.
func (r *Registry) BroadcastToRoom(room, payload string, except map[string]struct{}) error {
	err := fanOutWrite(r.roomSnapshot(room, except), opText, []byte(payload))
	if err != nil && r.logger != nil {
		r.logger.Warnf("broadcast to room %q write failed: %v", room, err)
	}
	return err
}

// fanOutWrite writes frame to every connection concurrently via errgroup,
// collecting the first write failure encountered rather than a plain
// WaitGroup's best-effort "did anything happen."
func fanOutWrite(conns []*Connection, opcode wsOpcode, payload []byte) error {
	g, _ := errgroup.WithContext(context.Background())
	frame := encodeFrame(true, opcode, payload)
	for _, c := range conns {
		c := c
		g.Go(func() error {
			return c.writeRaw(frame)
		})
	}
	return g.Wait()
}

// SendTo delivers payload to the connection registered under id. If id is
// not currently registered and the offline queue is enabled, payload is
// appended to its queue (tail-dropped past capacity) for delivery on the
// next Register under the same id.
func (r *Registry) SendTo(id string, payload []byte, opcode wsOpcode) {
	r.mu.RLock()
	conn, ok := r.connections[id]
	r.mu.RUnlock()

	if ok {
		conn.writeRaw(encodeFrame(true, opcode, payload))
		return
	}

	if !r.queueEnabled {
		return
	}

	r.mu.Lock()
	q, ok := r.queues[id]
	if !ok {
		q = &offlineQueue{cap: r.queueCap}
		r.queues[id] = q
	}
	delivered := q.push(encodeFrame(true, opcode, payload))
	r.mu.Unlock()

	if !delivered && r.logger != nil {
		r.logger.QueueOverflow(id, r.queueCap)
	}
}

// logClosed reports a connection's teardown, called once by
// Connection.finishClose.
func (r *Registry) logClosed(id string, code int, reason string) {
	if r.logger != nil {
		r.logger.ConnectionClosed(id, code, reason)
	}
}

// logProtocolViolation reports a connection closing because its peer broke
// the RFC 6455 framing rules.
func (r *Registry) logProtocolViolation(id, reason string) {
	if r.logger != nil {
		r.logger.FrameProtocolViolation(id, reason)
	}
}
