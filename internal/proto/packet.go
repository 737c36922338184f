// Package proto implements the length-delimited binary packet framing shared
// by the peer-linker and channel-hub wire protocols. Every frame carries a
// 6-byte header (type, id) followed by a type-specific payload; the services
// built on top define their own type numbering starting at 2 (0 and 1 are
// reserved for Success/Error everywhere).
package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed size, in bytes, of a packet header: a uint16 type
// followed by a uint32 id. The transport (gorilla/websocket) already frames
// messages, so the length prefix the reference protocol carries on the wire
// is redundant here and intentionally omitted — both the client and server
// sides of this implementation agree on that convention.
const HeaderSize = 6

// ErrTooShort is returned when a frame has fewer than HeaderSize bytes.
var ErrTooShort = errors.New("proto: frame shorter than header")

// Universal type codes, shared by every service built on this package.
const (
	TypeSuccess uint16 = 0
	TypeError   uint16 = 1
)

// Header is the fixed portion of every packet.
type Header struct {
	Type uint16
	ID   uint32
}

// ExtractHeader parses the header from the front of a frame. It fails with
// ErrTooShort if fewer than HeaderSize bytes are present.
func ExtractHeader(frame []byte) (Header, error) {
	if len(frame) < HeaderSize {
		return Header{}, ErrTooShort
	}
	return Header{
		Type: binary.LittleEndian.Uint16(frame[0:2]),
		ID:   binary.LittleEndian.Uint32(frame[2:6]),
	}, nil
}

// EncodeHeader appends a header to dst and returns the extended slice.
func EncodeHeader(dst []byte, typ uint16, id uint32) []byte {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint16(buf[0:2], typ)
	binary.LittleEndian.PutUint32(buf[2:6], id)
	return append(dst, buf[:]...)
}

// BuildPacket assembles a full frame: header followed by payload.
func BuildPacket(typ uint16, id uint32, payload []byte) []byte {
	out := make([]byte, 0, HeaderSize+len(payload))
	out = EncodeHeader(out, typ, id)
	out = append(out, payload...)
	return out
}

// Payload returns the bytes of frame following the header. It does not
// validate frame's length; callers must have already called ExtractHeader.
func Payload(frame []byte) []byte {
	if len(frame) <= HeaderSize {
		return nil
	}
	return frame[HeaderSize:]
}

// ExtractLastString returns the tail of payload following a fixed-size
// sub-structure of fixedSize bytes, as an unterminated byte string. Used by
// DecodeOkAndString for the trailing name that follows the 2-byte ok field.
func ExtractLastString(payload []byte, fixedSize int) []byte {
	if len(payload) <= fixedSize {
		return nil
	}
	return payload[fixedSize:]
}

// PutUint16 appends a little-endian uint16 to dst.
func PutUint16(dst []byte, v uint16) []byte {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return append(dst, buf[:]...)
}

// Uint16 reads a little-endian uint16 from the front of b.
func Uint16(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("proto: need 2 bytes, got %d", len(b))
	}
	return binary.LittleEndian.Uint16(b), nil
}

// TwoLengthPrefixedStrings decodes the common `aLen:u16 | bLen:u16 | a | b`
// layout used by Link and LinkAuth: two fixed-size lengths followed by the
// two byte blobs concatenated. It requires the total payload length to equal
// exactly 4+aLen+bLen, rejecting the frame otherwise (spec.md §4.1).
func TwoLengthPrefixedStrings(payload []byte) (a, b []byte, err error) {
	if len(payload) < 4 {
		return nil, nil, fmt.Errorf("proto: payload too short for two-length header: %d bytes", len(payload))
	}
	aLen := binary.LittleEndian.Uint16(payload[0:2])
	bLen := binary.LittleEndian.Uint16(payload[2:4])
	want := 4 + int(aLen) + int(bLen)
	if len(payload) != want {
		return nil, nil, fmt.Errorf("proto: payload length %d does not match header-declared length %d", len(payload), want)
	}
	a = payload[4 : 4+aLen]
	b = payload[4+aLen : 4+aLen+bLen]
	return a, b, nil
}

// EncodeTwoLengthPrefixedStrings builds the `aLen:u16 | bLen:u16 | a | b`
// payload layout shared by Link and LinkAuth.
func EncodeTwoLengthPrefixedStrings(a, b []byte) []byte {
	out := make([]byte, 0, 4+len(a)+len(b))
	out = PutUint16(out, uint16(len(a)))
	out = PutUint16(out, uint16(len(b)))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

// EncodeOkAndString builds the `ok:u16 | tail` payload layout shared by
// LinkAuthResponse and PadRequestResponse, where tail is an unterminated,
// unprefixed trailing string.
func EncodeOkAndString(ok bool, s []byte) []byte {
	out := make([]byte, 0, 2+len(s))
	var okVal uint16
	if ok {
		okVal = 1
	}
	out = PutUint16(out, okVal)
	out = append(out, s...)
	return out
}

// DecodeOkAndString decodes the `ok:u16 | tail` payload layout. It fails if
// payload is shorter than the 2-byte ok field.
func DecodeOkAndString(payload []byte) (ok bool, s []byte, err error) {
	v, err := Uint16(payload)
	if err != nil {
		return false, nil, fmt.Errorf("proto: decoding ok field: %w", err)
	}
	return v != 0, ExtractLastString(payload, 2), nil
}
