package ice

import (
	"context"
	"fmt"

	"github.com/mojyack/padfabric/internal/eventbus"
	"github.com/mojyack/padfabric/internal/peerlinker"
	"github.com/mojyack/padfabric/internal/proto"
)

// Event kinds fired on the session's eventbus. Unlike peerlinker/channelhub,
// these are session-wide, one-shot-per-session milestones rather than
// per-request replies, so they are registered under eventbus.NoID rather
// than a minted request id.
const (
	kindSDPSet uint32 = 1000 + iota
	kindRemoteGatheringDone
	kindConnected
)

// Hooks is the capability record a caller supplies, per spec.md §9.
type Hooks struct {
	// AuthPeer answers an inbound link request, as in peerlinker.Hooks.
	AuthPeer func(peerName string, secret []byte) bool

	// OnP2PPacketReceived receives application payloads that arrived over
	// the established direct UDP path (not the peer-linker relay).
	OnP2PPacketReceived func(payload []byte)

	OnUnlinked     func()
	OnDisconnected func()
}

// StartParams configures registration, an optional link, and ICE gathering.
type StartParams struct {
	PadName       string
	TargetPadName string
	Secret        []byte
	StunServers   []string
}

// Session layers ICE rendezvous on top of a peerlinker.Client by
// composition: it owns a peerlinker.Client and an Agent and intercepts
// SetCandidates/AddCandidates/GatheringDone on the relay; any other relay
// packet type is answered with Error(id). OnP2PPacketReceived receives the
// payloads that arrive directly over UDP. Grounded on
// original_source/src/ice-session.hpp.
type Session struct {
	client *peerlinker.Client
	agent  *Agent
	hooks  Hooks
}

// New creates a Session that is not yet connected.
func New(hooks Hooks) *Session {
	return &Session{hooks: hooks}
}

// Client exposes the underlying peer-linker client, e.g. for Unlink.
func (s *Session) Client() *peerlinker.Client { return s.client }

// Start registers params.PadName, optionally links to params.TargetPadName,
// and if a link was requested, drives the full ICE sequence: gather and
// send local candidates, await the peer's SetCandidates, await the peer's
// GatheringDone, then await the first received UDP packet marking the path
// connected.
func (s *Session) Start(ctx context.Context, url string, params StartParams) error {
	s.agent = NewAgent(params.StunServers)

	s.client = peerlinker.New(peerlinker.Hooks{
		AuthPeer:         s.hooks.AuthPeer,
		OnPacketReceived: s.onRelayPacket,
		OnUnlinked:       s.hooks.OnUnlinked,
		OnDisconnected:   s.onDisconnected,
	})

	events := s.client.Session().Events()
	s.agent.OnStateChange = func(connected bool) {
		if connected {
			events.Invoke(kindConnected, eventbus.NoID, 1)
		}
	}
	s.agent.OnRecv = func(data []byte) {
		if s.hooks.OnP2PPacketReceived != nil {
			s.hooks.OnP2PPacketReceived(data)
		}
	}

	if err := s.client.Start(ctx, url, peerlinker.StartParams{
		PadName:       params.PadName,
		TargetPadName: params.TargetPadName,
		Secret:        params.Secret,
	}); err != nil {
		return fmt.Errorf("ice: peer-linker start: %w", err)
	}

	if params.TargetPadName == "" {
		return nil
	}

	if err := s.startIce(); err != nil {
		return fmt.Errorf("ice: starting local gathering: %w", err)
	}

	if ok, err := awaitEvent(ctx, events, kindSDPSet); err != nil {
		return fmt.Errorf("ice: awaiting peer candidates: %w", err)
	} else if !ok {
		return fmt.Errorf("ice: session torn down while awaiting peer candidates")
	}

	if ok, err := awaitEvent(ctx, events, kindRemoteGatheringDone); err != nil {
		return fmt.Errorf("ice: awaiting peer gathering completion: %w", err)
	} else if !ok {
		return fmt.Errorf("ice: session torn down while awaiting peer gathering completion")
	}

	if ok, err := awaitEvent(ctx, events, kindConnected); err != nil {
		return fmt.Errorf("ice: awaiting connectivity: %w", err)
	} else if !ok {
		return fmt.Errorf("ice: session torn down before connectivity was established")
	}

	return nil
}

func (s *Session) startIce() error {
	if err := s.agent.Init(); err != nil {
		return err
	}
	if err := s.agent.GatherCandidates(); err != nil {
		return err
	}
	local := s.agent.LocalCandidates()
	if err := s.client.SendP2P(peerlinker.TypeSetCandidates, EncodeCandidates(local)); err != nil {
		return err
	}
	return s.client.SendP2P(peerlinker.TypeGatheringDone, nil)
}

func (s *Session) onRelayPacket(hdr proto.Header, frame []byte) bool {
	payload := proto.Payload(frame)
	switch hdr.Type {
	case peerlinker.TypeSetCandidates:
		cands, err := DecodeCandidates(payload)
		if err != nil {
			return false
		}
		s.agent.SetRemoteCandidates(cands)
		s.client.Session().Events().Invoke(kindSDPSet, eventbus.NoID, 1)
		_ = s.client.Session().SendPacket(proto.TypeSuccess, hdr.ID, nil)
		return true
	case peerlinker.TypeAddCandidates:
		cands, err := DecodeCandidates(payload)
		if err != nil {
			return false
		}
		for _, c := range cands {
			s.agent.AddRemoteCandidate(c)
		}
		_ = s.client.Session().SendPacket(proto.TypeSuccess, hdr.ID, nil)
		return true
	case peerlinker.TypeGatheringDone:
		s.client.Session().Events().Invoke(kindRemoteGatheringDone, eventbus.NoID, 1)
		_ = s.client.Session().SendPacket(proto.TypeSuccess, hdr.ID, nil)
		return true
	default:
		return false
	}
}

func (s *Session) onDisconnected() {
	if s.agent != nil {
		_ = s.agent.Close()
	}
	if s.hooks.OnDisconnected != nil {
		s.hooks.OnDisconnected()
	}
}

// SendPacketP2P sends payload directly to the peer over the established UDP
// path. Callers must wait for Start to return successfully first.
func (s *Session) SendPacketP2P(payload []byte) error {
	if s.agent == nil {
		return fmt.Errorf("ice: agent not started")
	}
	return s.agent.Send(payload)
}

// Stop tears down both the ICE agent and the peer-linker session.
func (s *Session) Stop() {
	if s.agent != nil {
		_ = s.agent.Close()
	}
	if s.client != nil {
		s.client.Stop()
	}
}

func awaitEvent(ctx context.Context, events *eventbus.Bus, kind uint32) (bool, error) {
	done := make(chan uint32, 1)
	events.AddHandler(kind, eventbus.NoID, func(v uint32) { done <- v })

	select {
	case v := <-done:
		return v != 0, nil
	case <-ctx.Done():
		events.RemoveHandler(kind, eventbus.NoID)
		return false, ctx.Err()
	}
}
