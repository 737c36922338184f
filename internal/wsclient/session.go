// Package wsclient implements the client-side WebSocket session: it owns a
// transport connection, dispatches inbound frames to a handler, and exposes
// a request/reply primitive built on top of an eventbus.Bus. Adapted from
// host-agent/internal/heartbeat/websocket.go's connect/dispatch loop and
// original_source/src/websocket-session.cpp's handle_raw_packet/stop.
package wsclient

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mojyack/padfabric/internal/eventbus"
	"github.com/mojyack/padfabric/internal/proto"
)

const writeTimeout = 10 * time.Second

// ErrNotConnected is returned by SendPacket when no transport is attached.
var ErrNotConnected = errors.New("wsclient: not connected")

// State enumerates the session lifecycle. Disconnected is terminal.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Conn is the subset of *websocket.Conn that Session depends on. Tests
// substitute a fake implementation; production code attaches a real
// *websocket.Conn, which satisfies this interface as-is.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Hooks are the capability record a layered session supplies at
// construction, per spec.md §9's "explicit capability record" design note.
type Hooks struct {
	// OnPacketReceived is given the parsed header and the full frame (header
	// included); it returns true if it consumed the frame. Returning false
	// causes Session to reply with an Error(header.ID).
	OnPacketReceived func(hdr proto.Header, frame []byte) bool

	// ErrorType is the packet type this layer uses for Error replies; each
	// protocol layer (peer-linker, channel-hub) defines its own.
	ErrorType uint16

	// OnDisconnected is invoked once, the first time Stop runs to completion.
	OnDisconnected func()
}

// Session is the client WebSocket session described in spec.md §4.3.
type Session struct {
	hooks  Hooks
	events *eventbus.Bus

	mu   sync.Mutex
	conn Conn

	disconnected atomic.Bool
	nextID       atomic.Uint32

	resultsMu sync.Mutex
	results   map[uint32][]byte

	wg sync.WaitGroup
}

// New creates a Session that is not yet attached to a transport.
func New(hooks Hooks) *Session {
	return &Session{
		hooks:   hooks,
		events:  eventbus.New(),
		results: make(map[uint32][]byte),
	}
}

// Events exposes the session's EventBus so that layers built on top can
// register their own handlers (e.g. PeerLinkerSession's Linked event).
func (s *Session) Events() *eventbus.Bus { return s.events }

// Dial connects to server speaking the given WebSocket subprotocol and
// starts the read loop. It blocks until the handshake completes or fails.
func (s *Session) Dial(ctx context.Context, url, protocol string) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		Subprotocols:     []string{protocol},
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	s.Attach(conn)
	return nil
}

// Attach wires an already-established connection into the session and
// starts its dedicated read-loop worker. Exposed separately from Dial so
// tests can attach a fake Conn.
func (s *Session) Attach(conn Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop()
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		_, frame, err := conn.ReadMessage()
		if err != nil {
			slog.Debug("wsclient: read loop ending", "error", err)
			s.Stop()
			return
		}
		s.dispatch(frame)
	}
}

func (s *Session) dispatch(frame []byte) {
	hdr, err := proto.ExtractHeader(frame)
	if err != nil {
		slog.Warn("wsclient: dropping unparseable frame", "error", err)
		_ = s.SendResult(s.hooks.ErrorType, 0)
		return
	}

	if s.hooks.OnPacketReceived != nil && s.hooks.OnPacketReceived(hdr, frame) {
		return
	}
	_ = s.SendResult(s.hooks.ErrorType, hdr.ID)
}

// IsConnected reports whether the session has not yet been stopped.
func (s *Session) IsConnected() bool { return !s.disconnected.Load() }

// State reports the coarse lifecycle state.
func (s *Session) State() State {
	if s.disconnected.Load() {
		return StateDisconnected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return StateConnecting
	}
	return StateConnected
}

// SendPacket frames and writes a packet to the transport.
func (s *Session) SendPacket(typ uint16, id uint32, payload []byte) error {
	if s.disconnected.Load() {
		return ErrNotConnected
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame := proto.BuildPacket(typ, id, payload)
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, frame)
}

// SendResult sends a header-only packet (Success or Error replies).
func (s *Session) SendResult(typ uint16, id uint32) error {
	return s.SendPacket(typ, id, nil)
}

// NextID allocates a fresh monotonic request id. IDs start at 1 so that 0
// is never mistaken for a real pending request.
func (s *Session) NextID() uint32 {
	return s.nextID.Add(1)
}

// StoreResult stashes payload bytes for a pending request id, to be
// retrieved by the waiting CallAndWait caller when the paired event fires.
// A layer's packet handler calls this just before invoking the matching
// (kind,id) event, since the EventBus itself only carries a uint32 value.
func (s *Session) StoreResult(id uint32, payload []byte) {
	s.resultsMu.Lock()
	s.results[id] = payload
	s.resultsMu.Unlock()
}

func (s *Session) takeResult(id uint32) []byte {
	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()
	p := s.results[id]
	delete(s.results, id)
	return p
}

// CallAndWait allocates a fresh id, registers a handler under
// (resultKind, id), sends the packet, and suspends until the handler fires
// or ctx is done. ok is the fired value interpreted as a status flag
// (nonzero = success); response is whatever bytes a packet handler stashed
// via StoreResult for this id before firing the event, or nil.
func (s *Session) CallAndWait(ctx context.Context, typ uint16, payload []byte, resultKind uint32) (ok bool, response []byte, err error) {
	id := s.NextID()
	done := make(chan uint32, 1)
	s.events.AddHandler(resultKind, id, func(v uint32) { done <- v })

	if err := s.SendPacket(typ, id, payload); err != nil {
		s.events.RemoveHandler(resultKind, id)
		return false, nil, err
	}

	select {
	case v := <-done:
		return v != 0, s.takeResult(id), nil
	case <-ctx.Done():
		s.events.RemoveHandler(resultKind, id)
		return false, nil, ctx.Err()
	}
}

// Stop drains the event bus (so any suspended CallAndWait unblocks with
// ok=false), closes the transport, and invokes OnDisconnected. Idempotent —
// only the first caller performs the teardown.
func (s *Session) Stop() {
	if s.disconnected.Swap(true) {
		return
	}
	s.events.Drain()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}

	if s.hooks.OnDisconnected != nil {
		s.hooks.OnDisconnected()
	}
}

// Wait blocks until the read-loop worker has exited.
func (s *Session) Wait() { s.wg.Wait() }
