// Package peerlinker implements the pad registry and link-brokering
// protocol: named endpoints ("pads") register on a server, request to be
// linked to another pad by name, optionally authenticate that link, and once
// linked exchange arbitrary payloads through the server acting as a relay.
// Grounded on original_source/src/peer-linker.cpp and
// original_source/src/peer-linker-session.hpp.
package peerlinker

import (
	"fmt"

	"github.com/mojyack/padfabric/internal/proto"
)

// Packet type numbering. 0 and 1 (Success/Error) are defined in proto and
// reused as-is; peer-linker-specific types start at 2.
const (
	TypeRegister     uint16 = 2
	TypeUnregister   uint16 = 3
	TypeLink         uint16 = 4
	TypeUnlink       uint16 = 5
	TypeLinkAuth     uint16 = 6
	TypeLinkAuthResp uint16 = 7
	TypeLinkSuccess  uint16 = 8
	TypeLinkDenied   uint16 = 9
	TypeUnlinked     uint16 = 10

	TypeSetCandidates uint16 = 11
	TypeAddCandidates uint16 = 12
	TypeGatheringDone uint16 = 13
)

// Error is the closed enumeration of peer-linker failure reasons, replacing
// the original's global static error-string table with a pure Message
// method (spec.md §9).
type Error int

const (
	ErrEmptyPadName Error = iota
	ErrAlreadyRegistered
	ErrNotRegistered
	ErrPadFound
	ErrPadNotFound
	ErrAlreadyLinked
	ErrNotLinked
	ErrAuthInProgress
	ErrAuthNotInProgress
	ErrAutherMismatched
)

// Message returns the human-readable description of e. It is a pure
// function of e, carrying no side state, per spec.md §9's redesign note.
func (e Error) Message() string {
	switch e {
	case ErrEmptyPadName:
		return "pad name is empty"
	case ErrAlreadyRegistered:
		return "this session already has a registered pad"
	case ErrNotRegistered:
		return "this session has no registered pad"
	case ErrPadFound:
		return "a pad with that name is already registered"
	case ErrPadNotFound:
		return "no pad with that name is registered"
	case ErrAlreadyLinked:
		return "pad is already linked"
	case ErrNotLinked:
		return "pad is not linked"
	case ErrAuthInProgress:
		return "an authentication exchange is already in progress"
	case ErrAuthNotInProgress:
		return "no authentication exchange is in progress"
	case ErrAutherMismatched:
		return "authentication response came from the wrong pad"
	default:
		return fmt.Sprintf("peerlinker: unknown error %d", int(e))
	}
}

// EncodeLink builds the Link/LinkAuth payload: a target/requester name and a
// secret, both treated as opaque byte blobs rather than NUL-terminated
// strings (spec.md §9).
func EncodeLink(name, secret []byte) []byte {
	return proto.EncodeTwoLengthPrefixedStrings(name, secret)
}

// DecodeLink parses the Link/LinkAuth payload.
func DecodeLink(payload []byte) (name, secret []byte, err error) {
	return proto.TwoLengthPrefixedStrings(payload)
}

// EncodeLinkAuthResponse builds the `ok:u16 | requester_name` payload.
func EncodeLinkAuthResponse(ok bool, requesterName []byte) []byte {
	return proto.EncodeOkAndString(ok, requesterName)
}

// DecodeLinkAuthResponse parses the `ok:u16 | requester_name` payload.
func DecodeLinkAuthResponse(payload []byte) (ok bool, requesterName []byte, err error) {
	return proto.DecodeOkAndString(payload)
}

// EncodeName builds a bare-name payload (Register's pad name, and the
// authenticator's name carried by LinkSuccess). Unlinked's notification has
// no payload at all.
func EncodeName(name []byte) []byte {
	return append([]byte(nil), name...)
}
