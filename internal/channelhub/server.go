package channelhub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mojyack/padfabric/internal/proto"
	"github.com/mojyack/padfabric/internal/ratelimit"
)

const writeTimeout = 10 * time.Second

type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Channel is a named advertisement: a session (the owner) has declared it
// will mint pad names for clients that ask for one by channel name.
type Channel struct {
	Name  string
	owner *channelSession
}

// pendingRequest correlates an owner's eventual PadRequestResponse back to
// the requester waiting on it. Entries are keyed in Server.pending by the
// server-minted id (the PendingPadRequest of spec.md §3); requesterID is the original PadRequest
// call's own id, needed to reply to the requester's pending call with a
// correlatable id instead of the literal original's bare 0.
type pendingRequest struct {
	requester   *channelSession
	requesterID uint32
	owner       *channelSession
}

// Server is the channel-hub authority: a channel directory plus the
// id-keyed pending-request table that brokers PadRequest/PadRequestResponse
// round trips. Grounded on original_source/src/channel-hub.cpp.
type Server struct {
	mu       sync.Mutex
	channels map[string]*Channel
	pending  map[uint32]*pendingRequest
	nextID   uint32
	verbose  bool
	limiter  *ratelimit.Limiter
}

// NewServer creates an empty channel hub. limiter may be nil to disable
// rate limiting.
func NewServer(verbose bool, limiter *ratelimit.Limiter) *Server {
	return &Server{
		channels: make(map[string]*Channel),
		pending:  make(map[uint32]*pendingRequest),
		verbose:  verbose,
		limiter:  limiter,
	}
}

type channelSession struct {
	conn    wsConn
	writeMu sync.Mutex
	server  *Server
	remote  string
}

func (cs *channelSession) sendPacket(typ uint16, id uint32, payload []byte) {
	frame := proto.BuildPacket(typ, id, payload)
	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()
	if err := cs.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		slog.Warn("channelhub: set write deadline failed", "error", err, "remote", cs.remote)
		return
	}
	if err := cs.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		slog.Warn("channelhub: write failed", "error", err, "remote", cs.remote)
	}
}

func (cs *channelSession) sendSuccess(id uint32) { cs.sendPacket(proto.TypeSuccess, id, nil) }

func (cs *channelSession) sendError(id uint32, reason Error) {
	slog.Debug("channelhub: rejecting request", "id", id, "reason", reason.Message(), "remote", cs.remote)
	cs.sendPacket(proto.TypeError, id, nil)
}

// HandlePad drives one connection end to end. Matches netsvc.PadHandler.
func (s *Server) HandlePad(conn *websocket.Conn) {
	cs := &channelSession{conn: conn, server: s, remote: conn.RemoteAddr().String()}
	defer s.onDisconnect(cs)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleFrame(cs, frame)
	}
}

func (s *Server) handleFrame(cs *channelSession, frame []byte) {
	hdr, err := proto.ExtractHeader(frame)
	if err != nil {
		slog.Debug("channelhub: dropping malformed frame", "error", err, "remote", cs.remote)
		cs.sendPacket(proto.TypeError, 0, nil)
		return
	}
	if s.limiter != nil && !s.limiter.Allow(hdr.Type) {
		return
	}

	payload := proto.Payload(frame)
	if s.verbose {
		slog.Debug("channelhub: inbound", "type", hdr.Type, "id", hdr.ID, "remote", cs.remote)
	}

	switch hdr.Type {
	case TypeRegister:
		s.handleRegister(cs, hdr, payload)
	case TypeUnregister:
		s.handleUnregister(cs, hdr, payload)
	case TypeGetChannels:
		s.handleGetChannels(cs, hdr)
	case TypePadRequest:
		s.handlePadRequest(cs, hdr, payload)
	case TypePadRequestResponse:
		s.handlePadRequestResponse(cs, hdr, payload)
	default:
		cs.sendError(hdr.ID, ErrUnknownPacketType)
	}
}

func (s *Server) handleRegister(cs *channelSession, hdr proto.Header, payload []byte) {
	name := payload
	if len(name) == 0 {
		cs.sendError(hdr.ID, ErrEmptyChannelName)
		return
	}

	key := string(name)
	s.mu.Lock()
	if _, exists := s.channels[key]; exists {
		s.mu.Unlock()
		cs.sendError(hdr.ID, ErrChannelFound)
		return
	}
	s.channels[key] = &Channel{Name: key, owner: cs}
	s.mu.Unlock()

	cs.sendSuccess(hdr.ID)
}

func (s *Server) handleUnregister(cs *channelSession, hdr proto.Header, payload []byte) {
	key := string(payload)

	s.mu.Lock()
	ch, found := s.channels[key]
	if !found {
		s.mu.Unlock()
		cs.sendError(hdr.ID, ErrChannelNotFound)
		return
	}
	if ch.owner != cs {
		s.mu.Unlock()
		cs.sendError(hdr.ID, ErrSenderMismatch)
		return
	}
	delete(s.channels, key)
	s.mu.Unlock()

	cs.sendSuccess(hdr.ID)
}

func (s *Server) handleGetChannels(cs *channelSession, hdr proto.Header) {
	s.mu.Lock()
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	s.mu.Unlock()

	// GetChannelsResponse replies directly using the request's own id; it
	// is not followed by the common Success reply.
	cs.sendPacket(TypeGetChannelsResp, hdr.ID, EncodeChannelNames(names))
}

func (s *Server) handlePadRequest(cs *channelSession, hdr proto.Header, payload []byte) {
	s.mu.Lock()
	for _, pr := range s.pending {
		if pr.requester == cs {
			s.mu.Unlock()
			cs.sendError(hdr.ID, ErrAnotherRequestPending)
			return
		}
	}

	ch, found := s.channels[string(payload)]
	if !found {
		s.mu.Unlock()
		cs.sendError(hdr.ID, ErrChannelNotFound)
		return
	}

	s.nextID++
	mintedID := s.nextID
	s.pending[mintedID] = &pendingRequest{requester: cs, requesterID: hdr.ID, owner: ch.owner}
	owner := ch.owner
	s.mu.Unlock()

	owner.sendPacket(TypePadRequest, mintedID, EncodePadRequest(payload))
	cs.sendSuccess(hdr.ID)
}

func (s *Server) handlePadRequestResponse(cs *channelSession, hdr proto.Header, payload []byte) {
	ok, padName, err := DecodePadRequestResponse(payload)
	if err != nil {
		slog.Debug("channelhub: dropping malformed pad request response", "error", err, "remote", cs.remote)
		cs.sendPacket(proto.TypeError, 0, nil)
		return
	}

	s.mu.Lock()
	pr, found := s.pending[hdr.ID]
	if !found {
		s.mu.Unlock()
		cs.sendError(hdr.ID, ErrRequesterNotFound)
		return
	}
	delete(s.pending, hdr.ID)
	s.mu.Unlock()

	pr.requester.sendPacket(TypePadRequestResponse, pr.requesterID, EncodePadRequestResponse(ok, padName))
	cs.sendSuccess(hdr.ID)
}

// onDisconnect removes every channel cs owned and every pending request in
// which cs was either the requester or the responder. spec.md §4.7
// describes this broader cleanup; the literal original only erases entries
// where the requester matches, which would otherwise leak a pending entry
// (and the requester waiting on it, forever) when a channel owner vanishes
// mid-request.
func (s *Server) onDisconnect(cs *channelSession) {
	s.mu.Lock()
	for name, ch := range s.channels {
		if ch.owner == cs {
			delete(s.channels, name)
		}
	}
	for id, pr := range s.pending {
		if pr.requester == cs || pr.owner == cs {
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()
}
