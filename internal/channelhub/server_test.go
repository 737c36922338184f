package channelhub

import (
	"sync"
	"testing"
	"time"

	"github.com/mojyack/padfabric/internal/proto"
)

type fakeWSConn struct {
	mu      sync.Mutex
	written [][]byte
}

func (c *fakeWSConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeWSConn) Close() error                      { return nil }
func (c *fakeWSConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeWSConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

func (c *fakeWSConn) last() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.written) == 0 {
		return nil
	}
	return c.written[len(c.written)-1]
}

func newTestSession(s *Server) (*channelSession, *fakeWSConn) {
	conn := &fakeWSConn{}
	return &channelSession{conn: conn, server: s, remote: "test"}, conn
}

// TestChannelBrokerage covers spec scenario 6: register a channel, request a
// pad from it, and confirm the round trip delivers the minted pad name back
// to the original requester.
func TestChannelBrokerage(t *testing.T) {
	s := NewServer(false, nil)

	owner, ownerConn := newTestSession(s)
	s.handleFrame(owner, proto.BuildPacket(TypeRegister, 1, []byte("lobby")))
	if hdr, _ := proto.ExtractHeader(ownerConn.last()); hdr.Type != proto.TypeSuccess {
		t.Fatalf("channel registration failed: %+v", hdr)
	}

	requester, reqConn := newTestSession(s)
	const reqID = 55
	s.handleFrame(requester, proto.BuildPacket(TypePadRequest, reqID, []byte("lobby")))
	if hdr, _ := proto.ExtractHeader(reqConn.last()); hdr.Type != proto.TypeSuccess {
		t.Fatalf("pad request ack failed: %+v", hdr)
	}

	ownerFrame := ownerConn.last()
	ownerHdr, err := proto.ExtractHeader(ownerFrame)
	if err != nil || ownerHdr.Type != TypePadRequest {
		t.Fatalf("owner never received PadRequest: %+v err=%v", ownerHdr, err)
	}
	if string(proto.Payload(ownerFrame)) != "lobby" {
		t.Fatalf("forwarded channel name mismatch: %q", proto.Payload(ownerFrame))
	}

	s.handleFrame(owner, proto.BuildPacket(TypePadRequestResponse, ownerHdr.ID, EncodePadRequestResponse(true, []byte("minted-pad-1"))))

	found := false
	for _, f := range reqConn.frames() {
		h, _ := proto.ExtractHeader(f)
		if h.Type == TypePadRequestResponse && h.ID == reqID {
			ok, padName, err := DecodePadRequestResponse(proto.Payload(f))
			if err != nil || !ok || string(padName) != "minted-pad-1" {
				t.Fatalf("bad PadRequestResponse payload: ok=%v name=%q err=%v", ok, padName, err)
			}
			found = true
		}
	}
	if !found {
		t.Fatal("requester never received PadRequestResponse with its original id")
	}
}

func TestPadRequestRejectsSecondPendingRequest(t *testing.T) {
	s := NewServer(false, nil)
	owner, _ := newTestSession(s)
	s.handleFrame(owner, proto.BuildPacket(TypeRegister, 1, []byte("lobby")))

	requester, reqConn := newTestSession(s)
	s.handleFrame(requester, proto.BuildPacket(TypePadRequest, 1, []byte("lobby")))
	s.handleFrame(requester, proto.BuildPacket(TypePadRequest, 2, []byte("lobby")))

	hdr, _ := proto.ExtractHeader(reqConn.last())
	if hdr.Type != proto.TypeError {
		t.Fatalf("expected Error for second pending request, got type %d", hdr.Type)
	}
}

func TestUnregisterRejectsNonOwner(t *testing.T) {
	s := NewServer(false, nil)
	owner, _ := newTestSession(s)
	s.handleFrame(owner, proto.BuildPacket(TypeRegister, 1, []byte("lobby")))

	other, otherConn := newTestSession(s)
	s.handleFrame(other, proto.BuildPacket(TypeUnregister, 1, []byte("lobby")))

	hdr, _ := proto.ExtractHeader(otherConn.last())
	if hdr.Type != proto.TypeError {
		t.Fatalf("expected Error for non-owner unregister, got type %d", hdr.Type)
	}
}

func TestDisconnectCleansUpChannelsAndPending(t *testing.T) {
	s := NewServer(false, nil)
	owner, _ := newTestSession(s)
	s.handleFrame(owner, proto.BuildPacket(TypeRegister, 1, []byte("lobby")))

	requester, _ := newTestSession(s)
	s.handleFrame(requester, proto.BuildPacket(TypePadRequest, 1, []byte("lobby")))

	s.onDisconnect(owner)

	s.mu.Lock()
	_, channelStillThere := s.channels["lobby"]
	pendingCount := len(s.pending)
	s.mu.Unlock()

	if channelStillThere {
		t.Fatal("channel should be removed when its owner disconnects")
	}
	if pendingCount != 0 {
		t.Fatalf("pending request should be cleaned up when the owner disconnects, got %d entries", pendingCount)
	}
}

func TestGetChannelsListsRegisteredNames(t *testing.T) {
	s := NewServer(false, nil)
	owner, _ := newTestSession(s)
	s.handleFrame(owner, proto.BuildPacket(TypeRegister, 1, []byte("lobby")))
	s.handleFrame(owner, proto.BuildPacket(TypeRegister, 2, []byte("arena")))

	client, clientConn := newTestSession(s)
	s.handleFrame(client, proto.BuildPacket(TypeGetChannels, 9, nil))

	hdr, err := proto.ExtractHeader(clientConn.last())
	if err != nil || hdr.Type != TypeGetChannelsResp || hdr.ID != 9 {
		t.Fatalf("bad GetChannelsResponse header: %+v err=%v", hdr, err)
	}
	names := DecodeChannelNames(proto.Payload(clientConn.last()))
	if len(names) != 2 {
		t.Fatalf("expected 2 channels, got %v", names)
	}
}
