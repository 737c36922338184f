package wsclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mojyack/padfabric/internal/proto"
)

// fakeConn is an in-memory Conn double: writes are recorded, reads are
// served from a queue that the test (or a simulated peer) pushes to.
type fakeConn struct {
	mu      sync.Mutex
	inbox   chan []byte
	written [][]byte
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	frame, ok := <-c.inbox
	if !ok {
		return 0, nil, errClosedFake
	}
	return 2, frame, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := append([]byte(nil), data...)
	c.written = append(c.written, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbox)
	}
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) lastWritten() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.written) == 0 {
		return nil
	}
	return c.written[len(c.written)-1]
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errClosedFake = fakeErr("fake conn closed")

func TestSendResultOnUnconsumedFrame(t *testing.T) {
	s := New(Hooks{
		OnPacketReceived: func(proto.Header, []byte) bool { return false },
		ErrorType:        99,
	})
	conn := newFakeConn()
	s.Attach(conn)
	defer s.Stop()

	conn.inbox <- proto.BuildPacket(5, 123, []byte("whatever"))

	waitFor(t, func() bool { return conn.lastWritten() != nil })

	hdr, err := proto.ExtractHeader(conn.lastWritten())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if hdr.Type != 99 || hdr.ID != 123 {
		t.Fatalf("got %+v, want Error(123)", hdr)
	}
}

func TestSendResultZeroIDOnTooShortFrame(t *testing.T) {
	s := New(Hooks{ErrorType: 99})
	conn := newFakeConn()
	s.Attach(conn)
	defer s.Stop()

	conn.inbox <- []byte{1, 2, 3} // shorter than HeaderSize

	waitFor(t, func() bool { return conn.lastWritten() != nil })

	hdr, _ := proto.ExtractHeader(conn.lastWritten())
	if hdr.Type != 99 || hdr.ID != 0 {
		t.Fatalf("got %+v, want Error(0)", hdr)
	}
}

func TestCallAndWaitResolvesOnMatchingEvent(t *testing.T) {
	const resultKind = 7
	var s *Session
	s = New(Hooks{
		ErrorType: 99,
		OnPacketReceived: func(hdr proto.Header, frame []byte) bool {
			if hdr.Type != 1 {
				return false
			}
			s.StoreResult(hdr.ID, []byte("pong"))
			s.Events().Invoke(resultKind, hdr.ID, 1)
			return true
		},
	})
	conn := newFakeConn()
	s.Attach(conn)
	defer s.Stop()

	// Simulate the server echoing a reply for whatever id gets allocated.
	go func() {
		for {
			c := conn
			c.mu.Lock()
			n := len(c.written)
			c.mu.Unlock()
			if n > 0 {
				hdr, err := proto.ExtractHeader(c.lastWritten())
				if err == nil {
					conn.inbox <- proto.BuildPacket(1, hdr.ID, nil)
					return
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ok, resp, err := s.CallAndWait(ctx, 10, []byte("ping"), resultKind)
	if err != nil {
		t.Fatalf("CallAndWait: %v", err)
	}
	if !ok || string(resp) != "pong" {
		t.Fatalf("ok=%v resp=%q", ok, resp)
	}
}

func TestCallAndWaitUnblocksOnStop(t *testing.T) {
	const resultKind = 7
	s := New(Hooks{ErrorType: 99})
	conn := newFakeConn()
	s.Attach(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	var ok bool
	go func() {
		ok, _, _ = s.CallAndWait(ctx, 10, nil, resultKind)
		close(done)
	}()

	waitFor(t, func() bool { return conn.lastWritten() != nil })
	s.Stop()

	select {
	case <-done:
		if ok {
			t.Fatal("expected ok=false after Stop drained the bus")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CallAndWait did not unblock after Stop")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}
