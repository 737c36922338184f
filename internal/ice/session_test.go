package ice

import (
	"sync"
	"testing"
	"time"

	"github.com/mojyack/padfabric/internal/eventbus"
	"github.com/mojyack/padfabric/internal/peerlinker"
	"github.com/mojyack/padfabric/internal/proto"
)

// fakeConn is an in-memory wsclient.Conn double, mirroring
// wsclient.fakeConn: reads are served from a queue the test pushes to,
// writes are recorded.
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
	c.written = append(c.written, append([]byte(nil), data...))
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

// newTestSession builds a Session with its peerlinker.Client attached to a
// fake transport, skipping Start's dial/register/ICE-gather sequence so
// onRelayPacket can be exercised directly.
func newTestSession() (*Session, *fakeConn) {
	s := &Session{agent: NewAgent(nil)}
	s.client = peerlinker.New(peerlinker.Hooks{OnPacketReceived: s.onRelayPacket})
	conn := newFakeConn()
	s.client.Session().Attach(conn)
	return s, conn
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

func TestSetCandidatesRepliesSuccessAndFiresSDPSet(t *testing.T) {
	s, conn := newTestSession()
	defer s.client.Stop()

	events := s.client.Session().Events()
	fired := make(chan uint32, 1)
	events.AddHandler(kindSDPSet, eventbus.NoID, func(v uint32) { fired <- v })

	cands := []Candidate{{Type: TypeHost, IP: "127.0.0.1", Port: 4000, Priority: 100, Foundation: "h1"}}
	conn.inbox <- proto.BuildPacket(peerlinker.TypeSetCandidates, 42, EncodeCandidates(cands))

	waitFor(t, func() bool { return conn.lastWritten() != nil })

	hdr, err := proto.ExtractHeader(conn.lastWritten())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if hdr.Type != proto.TypeSuccess || hdr.ID != 42 {
		t.Fatalf("got %+v, want Success(42)", hdr)
	}

	select {
	case v := <-fired:
		if v == 0 {
			t.Fatal("expected nonzero SDPSet value")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("kindSDPSet never fired")
	}

	if got := s.agent.remotes; len(got) != 1 || got[0].IP != "127.0.0.1" {
		t.Fatalf("remote candidates not applied: %+v", got)
	}
}

func TestAddCandidatesRepliesSuccess(t *testing.T) {
	s, conn := newTestSession()
	defer s.client.Stop()

	cands := []Candidate{{Type: TypeSrflx, IP: "10.0.0.1", Port: 5000, Priority: 50, Foundation: "s1"}}
	conn.inbox <- proto.BuildPacket(peerlinker.TypeAddCandidates, 7, EncodeCandidates(cands))

	waitFor(t, func() bool { return conn.lastWritten() != nil })

	hdr, err := proto.ExtractHeader(conn.lastWritten())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if hdr.Type != proto.TypeSuccess || hdr.ID != 7 {
		t.Fatalf("got %+v, want Success(7)", hdr)
	}
	if got := s.agent.remotes; len(got) != 1 || got[0].IP != "10.0.0.1" {
		t.Fatalf("remote candidate not appended: %+v", got)
	}
}

func TestGatheringDoneRepliesSuccessAndFiresRemoteGatheringDone(t *testing.T) {
	s, conn := newTestSession()
	defer s.client.Stop()

	events := s.client.Session().Events()
	fired := make(chan uint32, 1)
	events.AddHandler(kindRemoteGatheringDone, eventbus.NoID, func(v uint32) { fired <- v })

	conn.inbox <- proto.BuildPacket(peerlinker.TypeGatheringDone, 9, nil)

	waitFor(t, func() bool { return conn.lastWritten() != nil })

	hdr, err := proto.ExtractHeader(conn.lastWritten())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if hdr.Type != proto.TypeSuccess || hdr.ID != 9 {
		t.Fatalf("got %+v, want Success(9)", hdr)
	}

	select {
	case v := <-fired:
		if v == 0 {
			t.Fatal("expected nonzero RemoteGatheringDone value")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("kindRemoteGatheringDone never fired")
	}
}
