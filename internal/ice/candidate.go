// Package ice implements a minimal, dependency-free ICE-style agent: host
// and server-reflexive UDP candidate gathering via STUN (RFC 5389), RFC
// 8445 §5.1.2 priority computation, and a connectivity-check-free "pick the
// highest-priority pair and send" data path. Adapted from
// host-agent/internal/p2p/ice.go.
package ice

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// CandidateType distinguishes how a candidate's address was discovered.
type CandidateType string

const (
	TypeHost  CandidateType = "host"
	TypeSrflx CandidateType = "srflx"
)

// Candidate is one address this agent can be reached at, or one it believes
// its peer can be reached at.
type Candidate struct {
	Type       CandidateType
	IP         string
	Port       int
	Priority   uint32
	Foundation string
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s:%s:%d:%d:%s", c.Type, c.IP, c.Port, c.Priority, c.Foundation)
}

func (c Candidate) udpAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", net.JoinHostPort(c.IP, strconv.Itoa(c.Port)))
}

// parseCandidate parses the wire form produced by String.
func parseCandidate(s string) (Candidate, error) {
	parts := strings.SplitN(s, ":", 5)
	if len(parts) != 5 {
		return Candidate{}, fmt.Errorf("ice: malformed candidate %q", s)
	}
	port, err := strconv.Atoi(parts[2])
	if err != nil {
		return Candidate{}, fmt.Errorf("ice: malformed candidate port %q: %w", parts[2], err)
	}
	var priority uint64
	if priority, err = strconv.ParseUint(parts[3], 10, 32); err != nil {
		return Candidate{}, fmt.Errorf("ice: malformed candidate priority %q: %w", parts[3], err)
	}
	return Candidate{
		Type:       CandidateType(parts[0]),
		IP:         parts[1],
		Port:       port,
		Priority:   uint32(priority),
		Foundation: parts[4],
	}, nil
}

// EncodeCandidates serializes a candidate list as newline-separated entries,
// the local-description/SDP-equivalent payload this implementation carries
// over SetCandidates/AddCandidates.
func EncodeCandidates(cands []Candidate) []byte {
	lines := make([]string, len(cands))
	for i, c := range cands {
		lines[i] = c.String()
	}
	return []byte(strings.Join(lines, "\n"))
}

// DecodeCandidates parses the payload EncodeCandidates produces.
func DecodeCandidates(payload []byte) ([]Candidate, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")
	cands := make([]Candidate, 0, len(lines))
	for _, line := range lines {
		c, err := parseCandidate(line)
		if err != nil {
			return nil, err
		}
		cands = append(cands, c)
	}
	return cands, nil
}

// typePreference implements the type part of RFC 8445 §5.1.2.1's formula.
func typePreference(t CandidateType) uint32 {
	switch t {
	case TypeHost:
		return 126
	case TypeSrflx:
		return 100
	default:
		return 0
	}
}

// computePriority implements RFC 8445 §5.1.2: priority = (2^24)*type_pref +
// (2^8)*local_pref + (2^0)*(256-component_id). component_id is always 1
// here, since this agent does not split RTP/RTCP components.
func computePriority(t CandidateType, localPref uint16) uint32 {
	return uint32(typePreference(t))<<24 | uint32(localPref)<<8 | (256 - 1)
}

// sortByPriorityDesc orders candidates highest-priority first, matching
// host-agent/internal/p2p/ice.go's GatherCandidates ordering so the first
// remote candidate tried is always the best one.
func sortByPriorityDesc(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Priority > cands[j].Priority })
}
