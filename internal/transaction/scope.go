package transaction

import (
	"errors"
	"log/slog"
	"math/rand"
	"net/netip"
	"time"

	"github.com/jroosing/lernadns/internal/cache"
	"github.com/jroosing/lernadns/internal/dns"
	"github.com/jroosing/lernadns/internal/event"
	"github.com/jroosing/lernadns/internal/trust"
	"github.com/jroosing/lernadns/internal/zone"
)

var (
	// ErrNoServers means no server is available to send to.
	ErrNoServers = errors.New("no servers available")

	// ErrMessageSize means the packet does not fit the datagram
	// transport and the caller should fall back to a stream.
	ErrMessageSize = errors.New("message too large for datagram")

	// ErrWrongProtocol means the key cannot be queried on this scope at
	// all (wrong address family for a link-local protocol, say).
	ErrWrongProtocol = errors.New("key not queryable on this scope")
)

// Multicast groups. LLMNR per RFC 4795 Section 2, mDNS per RFC 6762
// Section 3.
var (
	LLMNRIPv4Group = netip.AddrPortFrom(netip.AddrFrom4([4]byte{224, 0, 0, 252}), 5355)
	LLMNRIPv6Group = netip.AddrPortFrom(netip.MustParseAddr("ff02::1:3"), 5355)
	MDNSIPv4Group  = netip.AddrPortFrom(netip.AddrFrom4([4]byte{224, 0, 0, 251}), 5353)
	MDNSIPv6Group  = netip.AddrPortFrom(netip.MustParseAddr("ff02::fb"), 5353)
)

// Timing policy. The LLMNR jitter follows RFC 4795 Section 7, the mDNS
// jitter and probing interval RFC 6762 Sections 5.2 and 8.1.
const (
	LLMNRJitterInterval = 100 * time.Millisecond
	MDNSJitterMin       = 20 * time.Millisecond
	MDNSJitterRange     = 100 * time.Millisecond
	MDNSProbingInterval = 250 * time.Millisecond
	MulticastResendMin  = 100 * time.Millisecond
	MulticastResendMax  = 1 * time.Second
)

// Transport moves packets for a scope. The network implementation lives
// elsewhere; tests substitute fakes.
type Transport interface {
	// SendDatagram emits p over UDP to dest. It returns ErrMessageSize
	// (possibly wrapped) when p cannot fit a datagram.
	SendDatagram(s *Scope, dest netip.AddrPort, p *dns.Packet) error

	// OpenStream connects to dest over TCP, writes p, and later calls
	// done on the scope's event loop with the reply or an error.
	OpenStream(s *Scope, dest netip.AddrPort, p *dns.Packet, done func(*dns.Packet, error)) (Stream, error)
}

// Stream is an open TCP exchange owned by one transaction.
type Stream interface {
	Close()
}

// ServerPicker is the narrow contract for upstream unicast DNS server
// selection and health feedback. The scope treats it as opaque.
type ServerPicker interface {
	// Current returns the server to use, picking one if needed.
	Current() (netip.AddrPort, bool)

	// Next rotates to another server after a failure.
	Next()

	// PacketReceived reports a good reply and its round trip time.
	PacketReceived(addr netip.AddrPort, rtt time.Duration)

	// PacketLost reports a resend timeout hitting after elapsed.
	PacketLost(addr netip.AddrPort, elapsed time.Duration)

	// PacketFailed reports a protocol-level error reply (SERVFAIL and
	// friends); the picker may reduce advertised features.
	PacketFailed(addr netip.AddrPort)

	// ResendTimeout returns the adaptive resend timeout for addr.
	ResendTimeout(addr netip.AddrPort) time.Duration
}

// Scope binds one protocol and address family to its collaborators: the
// cache and zone it answers from, the trust anchor, the transport it
// sends on, and the event loop everything runs on.
type Scope struct {
	Protocol   dns.Protocol
	Family     dns.Family
	IfIndex    int
	DNSSECMode DNSSECMode

	Loop      *event.Loop
	Cache     *cache.Cache
	Zone      *zone.Zone
	Trust     *trust.Anchor
	Servers   ServerPicker
	Transport Transport
	Log       *slog.Logger

	// Rand drives jitter; tests seed it for determinism.
	Rand *rand.Rand

	manager      *Manager
	transactions []*Transaction
	byKey        map[dns.KeyID]*Transaction

	// Adaptive resend timeout for the multicast protocols, doubled on
	// loss and derived from observed RTT on success.
	resendTimeout time.Duration
	maxRTT        time.Duration
}

// NewScope attaches a scope to the manager.
func (m *Manager) NewScope(proto dns.Protocol, family dns.Family, ifindex int) *Scope {
	s := &Scope{
		Protocol:      proto,
		Family:        family,
		IfIndex:       ifindex,
		Loop:          m.Loop,
		Cache:         cache.New(m.Loop.Now),
		Zone:          zone.New(),
		Trust:         m.Trust,
		Log:           m.Log,
		Rand:          rand.New(rand.NewSource(time.Now().UnixNano())),
		manager:       m,
		byKey:         make(map[dns.KeyID]*Transaction),
		resendTimeout: MulticastResendMin,
	}
	m.scopes = append(m.scopes, s)
	return s
}

// PacketReceived feeds an observed multicast round trip time into the
// scope's resend timeout.
func (s *Scope) PacketReceived(rtt time.Duration) {
	if rtt > s.maxRTT {
		s.maxRTT = rtt
	}
	s.resendTimeout = min(max(MulticastResendMin, 2*s.maxRTT), MulticastResendMax)
}

// PacketLost doubles the resend timeout after a loss at or beyond it.
func (s *Scope) PacketLost(elapsed time.Duration) {
	if s.resendTimeout <= elapsed {
		s.resendTimeout = min(2*s.resendTimeout, MulticastResendMax)
	}
}

// ResendTimeout returns the scope's current multicast resend timeout.
func (s *Scope) ResendTimeout() time.Duration { return s.resendTimeout }

// Group returns the scope's multicast destination group address.
func (s *Scope) Group() (netip.AddrPort, bool) {
	switch {
	case s.Protocol == dns.ProtocolLLMNR && s.Family == dns.FamilyIPv4:
		return LLMNRIPv4Group, true
	case s.Protocol == dns.ProtocolLLMNR && s.Family == dns.FamilyIPv6:
		return LLMNRIPv6Group, true
	case s.Protocol == dns.ProtocolMDNS && s.Family == dns.FamilyIPv4:
		return MDNSIPv4Group, true
	case s.Protocol == dns.ProtocolMDNS && s.Family == dns.FamilyIPv6:
		return MDNSIPv6Group, true
	}
	return netip.AddrPort{}, false
}

// goodKey reports whether it makes sense to resolve key on this scope.
func (s *Scope) goodKey(key dns.ResourceKey) bool {
	if key.Class != dns.ClassIN && key.Class != dns.ClassANY {
		return false
	}

	if s.Protocol == dns.ProtocolDNS {
		// Non-address lookups are always fine on unicast DNS; DS and
		// DNSKEY lookups at the root and TLDs in particular.
		if key.Type != dns.TypeA && key.Type != dns.TypeAAAA {
			return true
		}
		// Address lookups on the root or single labels belong to the
		// link-local protocols, not the internet.
		if dns.IsRootName(key.Name) || dns.CountLabels(key.Name) < 2 {
			return false
		}
		return true
	}

	// On the link-local protocols an address query only makes sense on
	// the matching address family's scope.
	if key.Type == dns.TypeA && s.Family == dns.FamilyIPv6 {
		return false
	}
	if key.Type == dns.TypeAAAA && s.Family == dns.FamilyIPv4 {
		return false
	}
	return true
}

// FindTransaction returns a live transaction for key, if any.
func (s *Scope) FindTransaction(key dns.ResourceKey) *Transaction {
	return s.byKey[key.ID()]
}

func (s *Scope) attach(t *Transaction) {
	s.byKey[t.key.ID()] = t
	s.transactions = append(s.transactions, t)
}

func (s *Scope) detach(t *Transaction) {
	if s.byKey[t.key.ID()] == t {
		delete(s.byKey, t.key.ID())
	}
	for i, other := range s.transactions {
		if other == t {
			s.transactions = append(s.transactions[:i], s.transactions[i+1:]...)
			break
		}
	}
}

// emit sends the transaction's prepared packet over UDP.
func (s *Scope) emit(t *Transaction) error {
	if s.Transport == nil {
		return ErrNoServers
	}
	switch s.Protocol {
	case dns.ProtocolDNS:
		if s.Servers == nil {
			return ErrNoServers
		}
		addr, ok := s.Servers.Current()
		if !ok {
			return ErrNoServers
		}
		t.server = addr
		t.serverValid = true
		return s.Transport.SendDatagram(s, addr, t.sent)
	default:
		group, ok := s.Group()
		if !ok {
			return ErrNoServers
		}
		return s.Transport.SendDatagram(s, group, t.sent)
	}
}

// ProcessIncoming routes a received, unparsed reply packet to the
// transactions it answers. Must run on the loop goroutine.
func (s *Scope) ProcessIncoming(p *dns.Packet) {
	if !p.ValidateReply() {
		s.Log.Debug("dropping invalid reply packet", "protocol", s.Protocol.String())
		return
	}

	if s.Protocol == dns.ProtocolDNS {
		id := p.ID()
		if t, ok := s.manager.transactions[id]; ok && t.scope == s && t.state == StatePending {
			t.ProcessReply(p)
		}
		return
	}

	if err := p.Extract(); err != nil {
		s.Log.Debug("failed to extract reply", "err", err)
		return
	}

	// A multicast reply may answer several outstanding transactions.
	// Collect first: processing may mutate the transaction list.
	var matched []*Transaction
	for _, t := range s.transactions {
		if t.state != StatePending {
			continue
		}
		if p.IsReplyFor(t.id, t.key) {
			matched = append(matched, t)
		}
	}
	for _, t := range matched {
		if t.state == StatePending {
			t.ProcessReply(p)
		}
	}

	// mDNS answers are cached per packet, not per transaction, since
	// unsolicited announcements matter too.
	if s.Protocol == dns.ProtocolMDNS {
		s.cacheMDNSPacket(p)
	}
}

// cacheMDNSPacket caches every RRset of an mDNS message keyed by the
// records themselves (RFC 6762 has no query/response coupling for the
// cache).
func (s *Scope) cacheMDNSPacket(p *dns.Packet) {
	if s.Cache == nil || p.Answer == nil {
		return
	}
	for _, key := range p.Answer.Keys() {
		sub := p.Answer.CopyByKey(key)
		s.Cache.Put(key, dns.RCodeNoError, sub, cache.PutOptions{
			Owner:   p.Sender.Addr(),
			IfIndex: p.IfIndex,
		})
	}
}

// CheckConflicts handles an LLMNR conflict claim (C bit set) or an mDNS
// competing answer: every unique established item at the claimed names
// re-enters verification via a fresh probe transaction.
func (s *Scope) CheckConflicts(p *dns.Packet) {
	if err := p.Extract(); err != nil {
		return
	}
	if p.Answer == nil {
		return
	}
	for _, key := range p.Answer.Keys() {
		items := s.Zone.VerifyConflict(key.Name)
		if len(items) == 0 {
			continue
		}
		s.Log.Debug("conflict claimed, reverifying", "name", key.Name)
		probe, err := s.StartProbe(items...)
		if err != nil {
			// Reverification impossible; concede the name.
			for _, it := range items {
				s.Zone.ItemConflict(it)
			}
			continue
		}
		_ = probe
	}
}

// StartProbe launches a uniqueness probe transaction covering the given
// zone items (all sharing one owner name). The probe queries ANY at the
// name; an answered probe means somebody else holds the name.
func (s *Scope) StartProbe(items ...*zone.Item) (*Transaction, error) {
	if len(items) == 0 {
		return nil, ErrWrongProtocol
	}
	name := items[0].RR.Header().Name
	key := dns.NewKey(name, dns.TypeANY, dns.ClassIN)

	t, err := s.manager.NewTransaction(s, key)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		t.zoneItems[it] = struct{}{}
	}
	if err := t.Go(); err != nil {
		return nil, err
	}
	return t, nil
}

// notifyZoneItem resolves a probe outcome for one zone item: a positive
// answer from the network means the name is taken and the item loses;
// anything else establishes it.
func (s *Scope) notifyZoneItem(it *zone.Item, t *Transaction) {
	if t.state == StateSuccess && t.answer != nil && !t.answer.IsEmpty() {
		s.Log.Info("zone item lost uniqueness probe", "name", it.RR.Header().Name)
		s.Zone.ItemConflict(it)
		return
	}
	s.Zone.ItemEstablished(it)
}
