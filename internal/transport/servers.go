package transport

import (
	"log/slog"
	"net/netip"
	"sync"
	"time"
)

// Per-server resend timeout bounds. The timeout starts at the minimum,
// grows from observed round trips and doubles on loss.
const (
	ServerResendTimeoutMin = 500 * time.Millisecond
	ServerResendTimeoutMax = 5 * time.Second
)

// serverState tracks one upstream server's health.
type serverState struct {
	addr          netip.AddrPort
	resendTimeout time.Duration
	maxRTT        time.Duration

	received uint64
	lost     uint64
	failed   uint64
}

// ServerStats is a point-in-time snapshot of one upstream server.
type ServerStats struct {
	Addr          netip.AddrPort `json:"addr"`
	ResendTimeout time.Duration  `json:"resend_timeout"`
	MaxRTT        time.Duration  `json:"max_rtt"`
	Received      uint64         `json:"received"`
	Lost          uint64         `json:"lost"`
	Failed        uint64         `json:"failed"`
}

// Registry is the upstream server rotation for unicast DNS scopes. The
// transaction machinery calls it on the loop goroutine; the stats API
// reads it from HTTP handlers, hence the lock.
type Registry struct {
	log *slog.Logger

	mu      sync.Mutex
	servers []*serverState
	current int
}

// NewRegistry creates a rotation over the given servers.
func NewRegistry(log *slog.Logger, addrs ...netip.AddrPort) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{log: log}
	for _, addr := range addrs {
		r.servers = append(r.servers, &serverState{
			addr:          addr,
			resendTimeout: ServerResendTimeoutMin,
		})
	}
	return r
}

// Current returns the server queries should go to.
func (r *Registry) Current() (netip.AddrPort, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.servers) == 0 {
		return netip.AddrPort{}, false
	}
	return r.servers[r.current%len(r.servers)].addr, true
}

// Next rotates to the next server after a failure or timeout.
func (r *Registry) Next() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.servers) < 2 {
		return
	}
	r.current = (r.current + 1) % len(r.servers)
	r.log.Debug("switched upstream server", "addr", r.servers[r.current].addr.String())
}

func (r *Registry) find(addr netip.AddrPort) *serverState {
	for _, s := range r.servers {
		if s.addr == addr {
			return s
		}
	}
	return nil
}

// PacketReceived records a successful round trip; the resend timeout
// tracks twice the worst RTT seen.
func (r *Registry) PacketReceived(addr netip.AddrPort, rtt time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.find(addr)
	if s == nil {
		return
	}
	s.received++
	if rtt > s.maxRTT {
		s.maxRTT = rtt
	}
	s.resendTimeout = min(max(ServerResendTimeoutMin, 2*s.maxRTT), ServerResendTimeoutMax)
}

// PacketLost doubles the resend timeout when a loss happened at or past
// the current timeout.
func (r *Registry) PacketLost(addr netip.AddrPort, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.find(addr)
	if s == nil {
		return
	}
	s.lost++
	if s.resendTimeout <= elapsed {
		s.resendTimeout = min(2*s.resendTimeout, ServerResendTimeoutMax)
	}
}

// PacketFailed records a protocol-level error reply.
func (r *Registry) PacketFailed(addr netip.AddrPort) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.find(addr); s != nil {
		s.failed++
	}
}

// ResendTimeout returns the adaptive resend timeout for addr.
func (r *Registry) ResendTimeout(addr netip.AddrPort) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.find(addr); s != nil {
		return s.resendTimeout
	}
	return ServerResendTimeoutMin
}

// Stats snapshots every server's counters for the introspection API.
func (r *Registry) Stats() []ServerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ServerStats, 0, len(r.servers))
	for _, s := range r.servers {
		out = append(out, ServerStats{
			Addr:          s.addr,
			ResendTimeout: s.resendTimeout,
			MaxRTT:        s.maxRTT,
			Received:      s.received,
			Lost:          s.lost,
			Failed:        s.failed,
		})
	}
	return out
}
