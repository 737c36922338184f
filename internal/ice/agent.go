package ice

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

const stunTimeout = 2 * time.Second

// Agent gathers local UDP candidates, accepts a remote candidate set, and
// relays payloads over whichever candidate pair it manages to reach. It is
// the concrete implementation behind spec.md §6's black-box ICE agent
// contract, adapted from host-agent/internal/p2p/ice.go's IceAgent.
type Agent struct {
	stunServers []string

	mu         sync.Mutex
	conn       *net.UDPConn
	candidates []Candidate
	remotes    []Candidate
	activeAddr *net.UDPAddr
	closed     bool

	OnLocalCandidate func(Candidate)
	OnGatheringDone  func()
	OnRecv           func([]byte)
	OnStateChange    func(connected bool)
}

// NewAgent creates an Agent that will query the given STUN servers
// ("host:port") during gathering.
func NewAgent(stunServers []string) *Agent {
	return &Agent{stunServers: stunServers}
}

// Init allocates the local UDP socket and starts the receive loop.
func (a *Agent) Init() error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return fmt.Errorf("ice: allocate udp socket: %w", err)
	}
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	go a.readLoop()
	return nil
}

func (a *Agent) readLoop() {
	buf := make([]byte, 1500)
	for {
		a.mu.Lock()
		conn := a.conn
		closed := a.closed
		a.mu.Unlock()
		if conn == nil || closed {
			return
		}

		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		a.mu.Lock()
		first := a.activeAddr == nil
		if first {
			a.activeAddr = from
		}
		a.mu.Unlock()
		if first && a.OnStateChange != nil {
			a.OnStateChange(true)
		}

		if a.OnRecv != nil {
			data := append([]byte(nil), buf[:n]...)
			a.OnRecv(data)
		}
	}
}

// GatherCandidates enumerates host candidates from local interfaces and
// server-reflexive candidates via each configured STUN server, invoking
// OnLocalCandidate for each and OnGatheringDone once all are collected.
func (a *Agent) GatherCandidates() error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("ice: agent not initialized")
	}

	localPort := conn.LocalAddr().(*net.UDPAddr).Port

	var cands []Candidate
	cands = append(cands, hostCandidates(localPort)...)
	cands = append(cands, a.reflexiveCandidates(conn)...)
	sortByPriorityDesc(cands)

	a.mu.Lock()
	a.candidates = cands
	a.mu.Unlock()

	for _, c := range cands {
		if a.OnLocalCandidate != nil {
			a.OnLocalCandidate(c)
		}
	}
	if a.OnGatheringDone != nil {
		a.OnGatheringDone()
	}
	return nil
}

func hostCandidates(port int) []Candidate {
	ifaces, err := net.Interfaces()
	if err != nil {
		slog.Warn("ice: enumerating interfaces failed", "error", err)
		return nil
	}

	var cands []Candidate
	foundation := 0
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP.To4()
			if ip == nil || ip.IsLinkLocalUnicast() {
				continue
			}
			foundation++
			cands = append(cands, Candidate{
				Type:       TypeHost,
				IP:         ip.String(),
				Port:       port,
				Priority:   computePriority(TypeHost, uint16(65535-foundation)),
				Foundation: fmt.Sprintf("h%d", foundation),
			})
		}
	}
	return cands
}

func (a *Agent) reflexiveCandidates(conn *net.UDPConn) []Candidate {
	seen := make(map[string]bool)
	var cands []Candidate
	foundation := 0
	for _, server := range a.stunServers {
		addr, err := net.ResolveUDPAddr("udp", server)
		if err != nil {
			slog.Warn("ice: resolving stun server failed", "server", server, "error", err)
			continue
		}
		mapped, err := stunBindingRequest(conn, addr, stunTimeout)
		if err != nil {
			slog.Warn("ice: stun binding request failed", "server", server, "error", err)
			continue
		}
		key := mapped.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		foundation++
		cands = append(cands, Candidate{
			Type:       TypeSrflx,
			IP:         mapped.IP.String(),
			Port:       mapped.Port,
			Priority:   computePriority(TypeSrflx, uint16(65535-foundation)),
			Foundation: fmt.Sprintf("s%d", foundation),
		})
	}
	return cands
}

// LocalCandidates returns the candidates gathered so far.
func (a *Agent) LocalCandidates() []Candidate {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Candidate(nil), a.candidates...)
}

// SetRemoteCandidates replaces the full remote candidate set.
func (a *Agent) SetRemoteCandidates(cands []Candidate) {
	sortByPriorityDesc(cands)
	a.mu.Lock()
	a.remotes = cands
	a.mu.Unlock()
}

// AddRemoteCandidate appends one remote candidate, e.g. one trickled in
// after the initial set.
func (a *Agent) AddRemoteCandidate(c Candidate) {
	a.mu.Lock()
	a.remotes = append(a.remotes, c)
	sortByPriorityDesc(a.remotes)
	a.mu.Unlock()
}

// Send writes payload to the best available remote candidate. Before any
// inbound packet has been observed (which would fix activeAddr), it targets
// the highest-priority remote candidate; this has no connectivity-check
// phase, so the first send is itself the check.
func (a *Agent) Send(payload []byte) error {
	a.mu.Lock()
	conn := a.conn
	target := a.activeAddr
	if target == nil && len(a.remotes) > 0 {
		addr, err := a.remotes[0].udpAddr()
		if err == nil {
			target = addr
		}
	}
	a.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("ice: agent not initialized")
	}
	if target == nil {
		return fmt.Errorf("ice: no remote candidate available")
	}
	_, err := conn.WriteToUDP(payload, target)
	return err
}

// Close releases the UDP socket.
func (a *Agent) Close() error {
	a.mu.Lock()
	conn := a.conn
	a.closed = true
	a.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
