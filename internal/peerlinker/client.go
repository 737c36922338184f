package peerlinker

import (
	"context"
	"fmt"

	"github.com/mojyack/padfabric/internal/proto"
	"github.com/mojyack/padfabric/internal/wsclient"
)

// Event kinds used to key the underlying eventbus. kindResult is the
// generic Success/Error acknowledgement every request gets; kindLink is the
// later, asynchronous LinkSuccess/LinkDenied outcome of a Link call. They
// are deliberately distinct events threaded through the same request id, so
// that a Link call's immediate "request accepted" ack and its eventual
// link-or-denied outcome never collide in the bus.
const (
	kindResult uint32 = iota
	kindLink
)

// Hooks is the capability record a layer built on top of Client supplies,
// per spec.md §9: rather than overriding virtual methods, the caller
// provides plain callbacks.
type Hooks struct {
	// AuthPeer is invoked when another pad requests a link to this one,
	// naming the requester and offering a secret; returning true accepts
	// the link. A nil AuthPeer always denies.
	AuthPeer func(peerName string, secret []byte) bool

	// OnPacketReceived receives any packet type Client itself does not
	// interpret (ICE candidate exchange and other p2p payloads), so a
	// layer above (e.g. an ICE session) can consume it. Returning false
	// causes Client to reply with Error(id).
	OnPacketReceived func(hdr proto.Header, frame []byte) bool

	// OnUnlinked fires when the peer-linker server reports the link has
	// been torn down, whether by explicit Unlink or peer disconnect.
	OnUnlinked func()

	// OnDisconnected fires once the underlying session is stopped.
	OnDisconnected func()
}

// StartParams configures a pad registration and an optional immediate link
// attempt.
type StartParams struct {
	PadName       string
	TargetPadName string
	Secret        []byte
}

// Client is the client-side pad session: it registers a name with a
// peer-linker server and, once linked, exchanges arbitrary payloads with its
// peer via SendP2P. Built by composition on wsclient.Session rather than the
// original's inheritance chain, per spec.md §9.
type Client struct {
	session *wsclient.Session
	hooks   Hooks
	padName string
}

// New creates a Client that is not yet connected.
func New(hooks Hooks) *Client {
	c := &Client{hooks: hooks}
	c.session = wsclient.New(wsclient.Hooks{
		ErrorType:        proto.TypeError,
		OnPacketReceived: c.onPacketReceived,
		OnDisconnected:   hooks.OnDisconnected,
	})
	return c
}

// Session exposes the underlying wsclient.Session so that a layer built on
// top (e.g. an ICE session) can send its own packet types and reuse the
// same EventBus and transport.
func (c *Client) Session() *wsclient.Session { return c.session }

func (c *Client) onPacketReceived(hdr proto.Header, frame []byte) bool {
	payload := proto.Payload(frame)
	switch hdr.Type {
	case proto.TypeSuccess:
		c.session.Events().Invoke(kindResult, hdr.ID, 1)
		return true
	case proto.TypeError:
		c.session.StoreResult(hdr.ID, payload)
		c.session.Events().Invoke(kindResult, hdr.ID, 0)
		return true
	case TypeLinkSuccess:
		c.session.StoreResult(hdr.ID, payload)
		c.session.Events().Invoke(kindLink, hdr.ID, 1)
		return true
	case TypeLinkDenied:
		c.session.Events().Invoke(kindLink, hdr.ID, 0)
		return true
	case TypeUnlinked:
		if c.hooks.OnUnlinked != nil {
			c.hooks.OnUnlinked()
		}
		return true
	case TypeLinkAuth:
		return c.handleLinkAuth(hdr, payload)
	default:
		if c.hooks.OnPacketReceived != nil {
			return c.hooks.OnPacketReceived(hdr, frame)
		}
		return false
	}
}

func (c *Client) handleLinkAuth(hdr proto.Header, payload []byte) bool {
	requesterName, secret, err := DecodeLink(payload)
	if err != nil {
		return false
	}
	ok := false
	if c.hooks.AuthPeer != nil {
		ok = c.hooks.AuthPeer(string(requesterName), secret)
	}
	// requester_name is echoed back verbatim so the server can find the
	// pending requester pad by name.
	_ = c.session.SendPacket(TypeLinkAuthResp, hdr.ID, EncodeLinkAuthResponse(ok, requesterName))
	return true
}

// Start dials url, registers params.PadName, and, if params.TargetPadName
// is set, requests a link and waits for the LinkSuccess/LinkDenied outcome.
func (c *Client) Start(ctx context.Context, url string, params StartParams) error {
	c.padName = params.PadName

	if err := c.session.Dial(ctx, url, "peer-linker"); err != nil {
		return fmt.Errorf("peerlinker: dial: %w", err)
	}

	ok, resp, err := c.session.CallAndWait(ctx, TypeRegister, EncodeName([]byte(params.PadName)), kindResult)
	if err != nil {
		return fmt.Errorf("peerlinker: register: %w", err)
	}
	if !ok {
		return fmt.Errorf("peerlinker: register denied: %s", resp)
	}

	if params.TargetPadName == "" {
		return nil
	}

	ok, _, err = c.session.CallAndWait(ctx, TypeLink, EncodeLink([]byte(params.TargetPadName), params.Secret), kindLink)
	if err != nil {
		return fmt.Errorf("peerlinker: link: %w", err)
	}
	if !ok {
		return fmt.Errorf("peerlinker: link to %q denied", params.TargetPadName)
	}
	return nil
}

// Unlink tears down the current link, if any.
func (c *Client) Unlink(ctx context.Context) error {
	ok, resp, err := c.session.CallAndWait(ctx, TypeUnlink, nil, kindResult)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("peerlinker: unlink failed: %s", resp)
	}
	return nil
}

// SendP2P sends a payload of the given application-defined type to the
// linked peer via the server's passthrough relay.
func (c *Client) SendP2P(typ uint16, payload []byte) error {
	return c.session.SendPacket(typ, c.session.NextID(), payload)
}

// Stop disconnects the session.
func (c *Client) Stop() { c.session.Stop() }
