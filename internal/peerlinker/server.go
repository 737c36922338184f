package peerlinker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mojyack/padfabric/internal/proto"
	"github.com/mojyack/padfabric/internal/ratelimit"
)

const writeTimeout = 10 * time.Second

// wsConn is the subset of *websocket.Conn a padSession needs. Tests
// substitute a fake implementation.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Server is the peer-linker authority: it owns the pad registry and
// brokers Register/Link/LinkAuth/passthrough traffic between pads. Grounded
// on original_source/src/peer-linker.cpp's Server/Session. Since net/http
// serves each connection on its own goroutine (unlike the single-threaded
// reactor the original assumes), mu serializes access to pads the same way
// that reactor's single thread did implicitly.
type Server struct {
	mu      sync.Mutex
	pads    map[string]*Pad
	verbose bool
	limiter *ratelimit.Limiter
}

// NewServer creates an empty peer-linker server. limiter may be nil to
// disable rate limiting.
func NewServer(verbose bool, limiter *ratelimit.Limiter) *Server {
	return &Server{
		pads:    make(map[string]*Pad),
		verbose: verbose,
		limiter: limiter,
	}
}

// padSession is the per-connection state: the socket, the serializing
// write lock (a connection can be written to both by its own read loop and
// by another pad's goroutine relaying/notifying across a link), and the pad
// this session owns, if any.
type padSession struct {
	conn    wsConn
	writeMu sync.Mutex
	server  *Server
	pad     *Pad
	remote  string
}

func (ps *padSession) sendPacket(typ uint16, id uint32, payload []byte) {
	frame := proto.BuildPacket(typ, id, payload)
	ps.writeMu.Lock()
	defer ps.writeMu.Unlock()
	if err := ps.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		slog.Warn("peerlinker: set write deadline failed", "error", err, "remote", ps.remote)
		return
	}
	if err := ps.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		slog.Warn("peerlinker: write failed", "error", err, "remote", ps.remote)
	}
}

func (ps *padSession) sendSuccess(id uint32) { ps.sendPacket(proto.TypeSuccess, id, nil) }

func (ps *padSession) sendError(id uint32, reason Error) {
	slog.Debug("peerlinker: rejecting request", "id", id, "reason", reason.Message(), "remote", ps.remote)
	ps.sendPacket(proto.TypeError, id, nil)
}

// HandlePad drives one connection end to end: it loops reading frames,
// dispatches each to the registry, and cleans up the owned pad (if any) on
// disconnect. Matches netsvc.PadHandler's signature.
func (s *Server) HandlePad(conn *websocket.Conn) {
	ps := &padSession{conn: conn, server: s, remote: conn.RemoteAddr().String()}
	defer s.onDisconnect(ps)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleFrame(ps, frame)
	}
}

func (s *Server) handleFrame(ps *padSession, frame []byte) {
	hdr, err := proto.ExtractHeader(frame)
	if err != nil {
		slog.Debug("peerlinker: dropping malformed frame", "error", err, "remote", ps.remote)
		ps.sendPacket(proto.TypeError, 0, nil)
		return
	}

	if s.limiter != nil && !s.limiter.Allow(hdr.Type) {
		return
	}

	payload := proto.Payload(frame)
	if s.verbose {
		slog.Debug("peerlinker: inbound", "type", hdr.Type, "id", hdr.ID, "remote", ps.remote)
	}

	switch hdr.Type {
	case TypeRegister:
		s.handleRegister(ps, hdr, payload)
	case TypeUnregister:
		s.handleUnregister(ps, hdr)
	case TypeLink:
		s.handleLink(ps, hdr, payload)
	case TypeUnlink:
		s.handleUnlink(ps, hdr)
	case TypeLinkAuthResp:
		s.handleLinkAuthResponse(ps, hdr, payload)
	default:
		s.handlePassthrough(ps, hdr, payload)
	}
}

func (s *Server) handleRegister(ps *padSession, hdr proto.Header, payload []byte) {
	name := payload
	if len(name) == 0 {
		ps.sendError(hdr.ID, ErrEmptyPadName)
		return
	}
	if ps.pad != nil {
		ps.sendError(hdr.ID, ErrAlreadyRegistered)
		return
	}

	key := string(name)
	s.mu.Lock()
	if _, exists := s.pads[key]; exists {
		s.mu.Unlock()
		ps.sendError(hdr.ID, ErrPadFound)
		return
	}
	pad := &Pad{Name: key, sess: ps}
	s.pads[key] = pad
	s.mu.Unlock()

	ps.pad = pad
	ps.sendSuccess(hdr.ID)
}

func (s *Server) handleUnregister(ps *padSession, hdr proto.Header) {
	if ps.pad == nil {
		ps.sendError(hdr.ID, ErrNotRegistered)
		return
	}
	s.removePad(ps.pad)
	ps.pad = nil
	ps.sendSuccess(hdr.ID)
}

func (s *Server) handleLink(ps *padSession, hdr proto.Header, payload []byte) {
	name, secret, err := DecodeLink(payload)
	if err != nil {
		slog.Debug("peerlinker: dropping malformed link payload", "error", err, "remote", ps.remote)
		ps.sendPacket(proto.TypeError, 0, nil)
		return
	}
	if ps.pad == nil {
		ps.sendError(hdr.ID, ErrNotRegistered)
		return
	}
	if ps.pad.Linked != nil {
		ps.sendError(hdr.ID, ErrAlreadyLinked)
		return
	}
	if ps.pad.AuthenticatorName != "" {
		ps.sendError(hdr.ID, ErrAuthInProgress)
		return
	}

	s.mu.Lock()
	target, ok := s.pads[string(name)]
	s.mu.Unlock()
	if !ok {
		ps.sendError(hdr.ID, ErrPadNotFound)
		return
	}

	ps.pad.AuthenticatorName = target.Name
	// The id threaded through LinkAuth is the requester's own Link-call
	// id; the authenticator's LinkAuthResponse echoes it back unchanged so
	// the server can later reply to the requester's own pending call with
	// a correlatable id.
	target.sess.sendPacket(TypeLinkAuth, hdr.ID, EncodeLink([]byte(ps.pad.Name), secret))
	ps.sendSuccess(hdr.ID)
}

func (s *Server) handleUnlink(ps *padSession, hdr proto.Header) {
	if ps.pad == nil {
		ps.sendError(hdr.ID, ErrNotRegistered)
		return
	}
	if ps.pad.Linked == nil {
		ps.sendError(hdr.ID, ErrNotLinked)
		return
	}

	peer := ps.pad.Linked
	s.mu.Lock()
	peer.Linked = nil
	ps.pad.Linked = nil
	s.mu.Unlock()

	peer.sess.sendPacket(TypeUnlinked, 0, nil)
	ps.sendSuccess(hdr.ID)
}

func (s *Server) handleLinkAuthResponse(ps *padSession, hdr proto.Header, payload []byte) {
	ok, requesterName, err := DecodeLinkAuthResponse(payload)
	if err != nil {
		slog.Debug("peerlinker: dropping malformed link auth response", "error", err, "remote", ps.remote)
		ps.sendPacket(proto.TypeError, 0, nil)
		return
	}
	if ps.pad == nil {
		ps.sendError(hdr.ID, ErrNotRegistered)
		return
	}

	s.mu.Lock()
	requester, found := s.pads[string(requesterName)]
	s.mu.Unlock()
	if !found {
		ps.sendError(hdr.ID, ErrPadNotFound)
		return
	}
	if requester.AuthenticatorName == "" {
		ps.sendError(hdr.ID, ErrAuthNotInProgress)
		return
	}
	if requester.AuthenticatorName != ps.pad.Name {
		ps.sendError(hdr.ID, ErrAutherMismatched)
		return
	}

	// Clear the REQUESTER's in-flight marker: it is the requester's pad
	// that recorded waiting on this authenticator, not the authenticator's
	// own pad (the authenticator never set its own field).
	s.mu.Lock()
	requester.AuthenticatorName = ""
	if ok {
		requester.Linked = ps.pad
		ps.pad.Linked = requester
	}
	s.mu.Unlock()

	if ok {
		requester.sess.sendPacket(TypeLinkSuccess, hdr.ID, EncodeName([]byte(ps.pad.Name)))
	} else {
		requester.sess.sendPacket(TypeLinkDenied, hdr.ID, nil)
	}
	ps.sendSuccess(hdr.ID)
}

// handlePassthrough relays any packet type this server does not interpret
// itself (ICE candidate exchange, application payloads) to the linked peer
// verbatim. This is the one case that must NOT also send the common
// Success reply back to the sender: a passthrough packet already gets its
// reply, if any, from the peer on the other end of the link.
func (s *Server) handlePassthrough(ps *padSession, hdr proto.Header, payload []byte) {
	if ps.pad == nil {
		ps.sendError(hdr.ID, ErrNotRegistered)
		return
	}
	if ps.pad.Linked == nil {
		ps.sendError(hdr.ID, ErrNotLinked)
		return
	}
	ps.pad.Linked.sess.sendPacket(hdr.Type, hdr.ID, payload)
}

func (s *Server) onDisconnect(ps *padSession) {
	if ps.pad != nil {
		s.removePad(ps.pad)
		ps.pad = nil
	}
}

// removePad unlinks pad from any peer (notifying it) and erases pad from
// the registry.
func (s *Server) removePad(pad *Pad) {
	s.mu.Lock()
	peer := pad.Linked
	if peer != nil {
		peer.Linked = nil
		pad.Linked = nil
	}
	delete(s.pads, pad.Name)
	s.mu.Unlock()

	if peer != nil {
		peer.sess.sendPacket(TypeUnlinked, 0, nil)
	}
}
