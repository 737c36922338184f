package channelhub

import (
	"context"
	"fmt"

	"github.com/mojyack/padfabric/internal/proto"
	"github.com/mojyack/padfabric/internal/wsclient"
)

// Event kinds used to key the underlying eventbus. kindResult is the
// generic Success/Error acknowledgement every request gets. GetChannels and
// PadRequest each also resolve via a distinct kind: GetChannelsResponse
// replies in place of the generic ack (never both), while PadRequest's
// generic ack ("forwarded to the owner") and its eventual
// PadRequestResponse arrive as two separate events on the same id, so they
// need two distinct kinds to avoid the first one consuming the single-shot
// handler the second was meant for.
const (
	kindResult uint32 = iota
	kindGetChannels
	kindPadRequest
)

// OwnerHooks lets a channel owner mint a pad name when a PadRequest arrives.
type OwnerHooks struct {
	// MintPad is called with the requested channel's name and returns the
	// pad name to hand back, or ok=false to deny the request.
	MintPad func(channelName string) (padName string, ok bool)
}

// Client is a thin channel-hub client used both by channel owners (to
// register a channel and mint pads on request) and by pad seekers (to list
// channels and request one). Built on wsclient.Session like peerlinker.Client.
type Client struct {
	session *wsclient.Session
	hooks   OwnerHooks
}

// New creates a Client that is not yet connected.
func New(hooks OwnerHooks) *Client {
	c := &Client{hooks: hooks}
	c.session = wsclient.New(wsclient.Hooks{
		ErrorType:        proto.TypeError,
		OnPacketReceived: c.onPacketReceived,
	})
	return c
}

// Session exposes the underlying transport session.
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
	case TypeGetChannelsResp:
		c.session.StoreResult(hdr.ID, payload)
		c.session.Events().Invoke(kindGetChannels, hdr.ID, 1)
		return true
	case TypePadRequestResponse:
		c.session.StoreResult(hdr.ID, payload)
		c.session.Events().Invoke(kindPadRequest, hdr.ID, 1)
		return true
	case TypePadRequest:
		return c.handlePadRequest(hdr, payload)
	default:
		return false
	}
}

func (c *Client) handlePadRequest(hdr proto.Header, payload []byte) bool {
	channelName := string(payload)
	ok := false
	var padName string
	if c.hooks.MintPad != nil {
		padName, ok = c.hooks.MintPad(channelName)
	}
	_ = c.session.SendPacket(TypePadRequestResponse, hdr.ID, EncodePadRequestResponse(ok, []byte(padName)))
	return true
}

// Dial connects to a channel-hub server.
func (c *Client) Dial(ctx context.Context, url string) error {
	return c.session.Dial(ctx, url, "channel-hub")
}

// Register advertises a channel name, whose PadRequests this client will
// mint pads for via OwnerHooks.MintPad.
func (c *Client) Register(ctx context.Context, channelName string) error {
	ok, resp, err := c.session.CallAndWait(ctx, TypeRegister, []byte(channelName), kindResult)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("channelhub: register %q: %s", channelName, resp)
	}
	return nil
}

// Unregister withdraws a previously registered channel.
func (c *Client) Unregister(ctx context.Context, channelName string) error {
	ok, resp, err := c.session.CallAndWait(ctx, TypeUnregister, []byte(channelName), kindResult)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("channelhub: unregister %q: %s", channelName, resp)
	}
	return nil
}

// GetChannels lists every currently registered channel name.
func (c *Client) GetChannels(ctx context.Context) ([]string, error) {
	ok, resp, err := c.session.CallAndWait(ctx, TypeGetChannels, nil, kindGetChannels)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("channelhub: get channels failed")
	}
	return DecodeChannelNames(resp), nil
}

// RequestPad asks a channel's owner to mint a pad name.
func (c *Client) RequestPad(ctx context.Context, channelName string) (string, error) {
	ok, resp, err := c.session.CallAndWait(ctx, TypePadRequest, []byte(channelName), kindPadRequest)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("channelhub: pad request for %q failed", channelName)
	}
	padOk, padName, err := DecodePadRequestResponse(resp)
	if err != nil {
		return "", err
	}
	if !padOk {
		return "", fmt.Errorf("channelhub: pad request for %q denied", channelName)
	}
	return string(padName), nil
}

// Stop disconnects the session.
func (c *Client) Stop() { c.session.Stop() }
