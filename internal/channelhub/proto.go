// Package channelhub implements the channel directory and pad-request
// brokerage protocol: an owner registers a named channel, other clients list
// channels and request a pad from a channel's owner, and the owner mints a
// pad name back through the hub. Grounded on
// original_source/src/channel-hub.cpp.
package channelhub

import (
	"fmt"

	"github.com/mojyack/padfabric/internal/proto"
)

// Packet type numbering, starting at 2 (0/1 are Success/Error).
const (
	TypeRegister           uint16 = 2
	TypeUnregister         uint16 = 3
	TypeGetChannels        uint16 = 4
	TypeGetChannelsResp    uint16 = 5
	TypePadRequest         uint16 = 6
	TypePadRequestResponse uint16 = 7
)

// Error is the closed enumeration of channel-hub failure reasons.
type Error int

const (
	ErrEmptyChannelName Error = iota
	ErrChannelFound
	ErrChannelNotFound
	ErrSenderMismatch
	ErrAnotherRequestPending
	ErrRequesterNotFound
	ErrUnknownPacketType
)

// Message returns the human-readable description of e.
func (e Error) Message() string {
	switch e {
	case ErrEmptyChannelName:
		return "channel name is empty"
	case ErrChannelFound:
		return "a channel with that name is already registered"
	case ErrChannelNotFound:
		return "no channel with that name is registered"
	case ErrSenderMismatch:
		return "unregister request did not come from the channel's owner"
	case ErrAnotherRequestPending:
		return "this session already has a pad request pending"
	case ErrRequesterNotFound:
		return "no pending request with that id"
	case ErrUnknownPacketType:
		return "unrecognized packet type"
	default:
		return fmt.Sprintf("channelhub: unknown error %d", int(e))
	}
}

// EncodeChannelNames concatenates names as NUL-terminated strings, the
// GetChannelsResponse payload layout.
func EncodeChannelNames(names []string) []byte {
	out := make([]byte, 0, 16*len(names))
	for _, n := range names {
		out = append(out, n...)
		out = append(out, 0)
	}
	return out
}

// DecodeChannelNames splits a NUL-terminated name concatenation back into
// individual names.
func DecodeChannelNames(payload []byte) []string {
	var names []string
	start := 0
	for i, b := range payload {
		if b == 0 {
			names = append(names, string(payload[start:i]))
			start = i + 1
		}
	}
	return names
}

// EncodePadRequest builds the `channel_name` payload PadRequest forwards to a
// channel's owner.
func EncodePadRequest(channelName []byte) []byte {
	return append([]byte(nil), channelName...)
}

// EncodePadRequestResponse builds the `ok:u16 | pad_name` payload layout.
func EncodePadRequestResponse(ok bool, padName []byte) []byte {
	return proto.EncodeOkAndString(ok, padName)
}

// DecodePadRequestResponse parses the `ok:u16 | pad_name` payload layout.
func DecodePadRequestResponse(payload []byte) (ok bool, padName []byte, err error) {
	return proto.DecodeOkAndString(payload)
}
