package transaction

import (
	"bytes"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/jroosing/lernadns/internal/cache"
	"github.com/jroosing/lernadns/internal/dns"
	"github.com/jroosing/lernadns/internal/event"
	"github.com/jroosing/lernadns/internal/zone"
)

// Attempt ceilings per protocol. Unicast DNS retries long enough to walk
// a full server rotation a few times; the link-local protocols give up
// after three sends (RFC 4795 Section 2.7, RFC 6762 Section 5.2).
const (
	AttemptsMaxDNS       = 24
	AttemptsMaxMulticast = 3
)

// Subscriber is notified exactly once when a transaction reaches a
// terminal state. Queries and zone probes implement it.
type Subscriber interface {
	TransactionCompleted(t *Transaction)
}

// Transaction is one in-flight question on one scope: a candidate answer
// being chased over the network, through the local zone, the cache, or
// the trust anchor. It lives on the event loop goroutine and stays alive
// while anything still references it.
type Transaction struct {
	id    uint16
	key   dns.ResourceKey
	scope *Scope
	state State

	sent     *dns.Packet
	received *dns.Packet

	answer              *dns.Answer
	answerRCode         dns.RCode
	answerSource        AnswerSource
	answerAuthenticated bool
	cacheable           Cacheable

	attempts int
	start    time.Time
	timer    *event.Timer
	stream   Stream

	// usedStream blocks LLMNR retries after a TCP exchange; a second
	// datagram round would race the answer we already forced.
	usedStream bool

	server      netip.AddrPort
	serverValid bool

	// Initial multicast sends are jittered to avoid synchronized bursts;
	// the first timer expiry is the jitter elapsing, not a loss.
	initialJitterScheduled bool
	initialJitterElapsed   bool

	// nextAttemptAfter lets mDNS queries piggyback on another
	// transaction's packet only once their own send is due.
	nextAttemptAfter time.Time

	// Reference holders. The transaction is garbage collected when all
	// three are empty and no notification is in flight.
	zoneItems          map[*zone.Item]struct{}
	notifySubscribers  map[Subscriber]struct{}
	notifyTransactions map[*Transaction]struct{}

	// dnssecTransactions are the auxiliary DNSKEY and DS lookups this
	// transaction is waiting for; each of them holds us in its
	// notifyTransactions set.
	dnssecTransactions map[*Transaction]struct{}
	validatedKeys      *dns.Answer
	dnssecResult       DNSSECResult

	blockGC int
}

// ID returns the wire id.
func (t *Transaction) ID() uint16 { return t.id }

// Key returns the question.
func (t *Transaction) Key() dns.ResourceKey { return t.key }

// Scope returns the scope the transaction runs on.
func (t *Transaction) Scope() *Scope { return t.scope }

// State returns the current lifecycle state.
func (t *Transaction) State() State { return t.state }

// Answer returns the installed answer, nil before one arrives.
func (t *Transaction) Answer() *dns.Answer { return t.answer }

// RCode returns the response code of the installed answer.
func (t *Transaction) RCode() dns.RCode { return t.answerRCode }

// Source reports where the answer came from.
func (t *Transaction) Source() AnswerSource { return t.answerSource }

// Authenticated reports whether the answer is DNSSEC authenticated.
func (t *Transaction) Authenticated() bool { return t.answerAuthenticated }

// DNSSECResult returns the validation outcome.
func (t *Transaction) DNSSECResult() DNSSECResult { return t.dnssecResult }

// Subscribe registers sub for the completion notification and pins the
// transaction alive until it unsubscribes.
func (t *Transaction) Subscribe(sub Subscriber) {
	t.notifySubscribers[sub] = struct{}{}
}

// Unsubscribe drops sub and collects the transaction if it was the last
// reference.
func (t *Transaction) Unsubscribe(sub Subscriber) {
	delete(t.notifySubscribers, sub)
	t.gc()
}

func (t *Transaction) maxAttempts() int {
	if t.scope.Protocol == dns.ProtocolDNS {
		return AttemptsMaxDNS
	}
	return AttemptsMaxMulticast
}

func (t *Transaction) stop() {
	if t.timer != nil {
		t.timer.Cancel()
		t.timer = nil
	}
	if t.stream != nil {
		t.stream.Close()
		t.stream = nil
	}
}

// gc destroys the transaction once nothing references it: no zone item,
// no subscriber, no sibling waiting on us, and no notification running.
func (t *Transaction) gc() {
	if t.blockGC > 0 {
		return
	}
	if len(t.zoneItems) > 0 || len(t.notifySubscribers) > 0 || len(t.notifyTransactions) > 0 {
		return
	}
	t.stop()

	// Release the auxiliary lookups we were waiting for; they may be
	// collectable now too.
	for aux := range t.dnssecTransactions {
		delete(t.dnssecTransactions, aux)
		delete(aux.notifyTransactions, t)
		aux.gc()
	}
	t.scope.manager.remove(t)
}

// Complete moves the transaction into a terminal state and notifies
// every reference holder. Notification may re-enter the machinery (a
// notified sibling may complete and notify us back), so collection is
// blocked for the duration.
func (t *Transaction) Complete(state State) {
	if !t.state.IsLive() {
		return
	}
	t.state = state
	t.stop()

	t.scope.Log.Debug("transaction complete",
		"id", t.id,
		"key", t.key.String(),
		"state", state.String(),
		"source", t.answerSource.String())

	t.blockGC++

	for sub := range t.notifySubscribers {
		sub.TransactionCompleted(t)
	}

	for it := range t.zoneItems {
		delete(t.zoneItems, it)
		t.scope.notifyZoneItem(it, t)
	}

	for sibling := range t.notifyTransactions {
		sibling.notifyAuxiliary(t)
	}

	t.blockGC--
	t.gc()
}

// Abort terminates a live transaction without an answer. The query layer
// uses it for its own deadline.
func (t *Transaction) Abort(state State) {
	if t.state.IsLive() {
		t.Complete(state)
	}
}

// resetAnswer clears per-attempt reply state.
func (t *Transaction) resetAnswer() {
	t.received = nil
	t.answer = nil
	t.answerRCode = 0
	t.answerSource = SourceNone
	t.answerAuthenticated = false
	t.cacheable = CacheableNone
}

// prepare runs the pre-send checks and local answer sources. It returns
// false when the transaction completed without touching the network.
func (t *Transaction) prepare(now time.Time) bool {
	usedStream := t.usedStream
	t.stop()

	if t.attempts >= t.maxAttempts() {
		t.Complete(StateAttemptsMaxReached)
		return false
	}
	if t.scope.Protocol == dns.ProtocolLLMNR && usedStream {
		// The TCP exchange was our answer path; there is nobody left to
		// resend to (RFC 4795 Section 2.7).
		t.Complete(StateAttemptsMaxReached)
		return false
	}

	t.attempts++
	t.start = now
	t.resetAnswer()

	// The trust anchor database may answer DS and DNSKEY lookups
	// outright; those never hit the network.
	if t.scope.Protocol == dns.ProtocolDNS && t.scope.Trust != nil {
		if ans, ok := t.scope.Trust.LookupPositive(t.key); ok {
			t.answer = ans
			t.answerRCode = dns.RCodeNoError
			t.answerSource = SourceTrustAnchor
			t.answerAuthenticated = true
			t.Complete(StateSuccess)
			return false
		}
	}

	// A probe must reach the network to learn about competing owners;
	// answering it from our own zone or cache would short-circuit the
	// very conflict it is looking for.
	if len(t.zoneItems) > 0 {
		return true
	}

	if t.scope.Zone != nil {
		if res, ok := t.scope.Zone.Lookup(t.key); ok && !res.Tentative && !res.NoData {
			t.answer = res.Answer
			t.answerRCode = dns.RCodeNoError
			t.answerSource = SourceZone
			t.answerAuthenticated = true
			t.Complete(StateSuccess)
			return false
		}
	}

	if t.scope.Cache != nil {
		if res, ok := t.scope.Cache.Lookup(t.key); ok {
			t.answer = res.Answer
			t.answerRCode = res.RCode
			t.answerSource = SourceCache
			t.answerAuthenticated = res.Authenticated
			if res.RCode == dns.RCodeNoError {
				t.Complete(StateSuccess)
			} else {
				t.Complete(StateFailure)
			}
			return false
		}
	}

	return true
}

// makePacket builds the query packet for the next send.
func (t *Transaction) makePacket(now time.Time) error {
	if t.scope.Protocol == dns.ProtocolMDNS {
		return t.makePacketMDNS(now)
	}
	if t.sent != nil {
		return nil
	}
	if !t.scope.goodKey(t.key) {
		return ErrWrongProtocol
	}

	p, err := dns.NewQueryPacket(t.scope.Protocol, t.key, 0, t.scope.Protocol == dns.ProtocolDNS)
	if err != nil {
		return err
	}
	if t.scope.Protocol == dns.ProtocolDNS {
		if err := p.AppendOPT(dns.EDNSDefaultUDPPayloadSize, t.scope.DNSSECMode == DNSSECYes); err != nil {
			return err
		}
	}
	p.SetID(t.id)
	t.sent = p
	return nil
}

// makePacketMDNS builds a fresh mDNS query every attempt, folding in the
// questions of any other transaction whose next send is already due
// (RFC 6762 Section 7.3) and a known-answer section for shared keys.
func (t *Transaction) makePacketMDNS(now time.Time) error {
	if !t.scope.goodKey(t.key) {
		return ErrWrongProtocol
	}

	p := dns.NewPacket(dns.ProtocolMDNS, dns.EDNSMaxUDPPayloadSize)
	if err := p.AppendQuestion(dns.QuestionFromKey(t.key)); err != nil {
		return err
	}
	addKnownAnswers := dns.SharedRecordType(t.key.Type)

	others := make([]*Transaction, len(t.scope.transactions))
	copy(others, t.scope.transactions)
	for _, other := range others {
		if other == t || other.state != StatePending {
			continue
		}
		if other.nextAttemptAfter.After(now) {
			continue
		}
		if err := p.AppendQuestion(dns.QuestionFromKey(other.key)); err != nil {
			if errors.Is(err, dns.ErrSizeExceeded) {
				break
			}
			return err
		}
		if !other.prepare(now) {
			continue
		}
		timeout := other.resendTimeout()
		other.armTimer(now.Add(timeout))
		other.nextAttemptAfter = now.Add(timeout)
		other.state = StatePending
		if dns.SharedRecordType(other.key.Type) {
			addKnownAnswers = true
		}
	}

	if addKnownAnswers && t.scope.Cache != nil {
		t.scope.Cache.ExportShared(p, t.scope.IfIndex)
	}

	t.sent = p
	return nil
}

func (t *Transaction) resendTimeout() time.Duration {
	switch t.scope.Protocol {
	case dns.ProtocolDNS:
		if t.serverValid && t.scope.Servers != nil {
			return t.scope.Servers.ResendTimeout(t.server)
		}
		return MulticastResendMax
	case dns.ProtocolMDNS:
		// Doubled each attempt, starting at one second (RFC 6762
		// Section 5.2), except probes which fire every 250ms.
		if len(t.zoneItems) > 0 {
			return MDNSProbingInterval
		}
		return (1 << (t.attempts - 1)) * time.Second
	default:
		return t.scope.ResendTimeout()
	}
}

func (t *Transaction) armTimer(deadline time.Time) {
	if t.timer != nil {
		t.timer.Cancel()
	}
	t.timer = t.scope.Loop.At(deadline, t.onTimeout)
}

// Go starts or restarts the transaction: local sources first, then the
// wire with the protocol's timing rules.
func (t *Transaction) Go() error {
	now := t.scope.Loop.Now()

	if !t.prepare(now) {
		return nil
	}

	// The first multicast send is delayed by a random jitter so that
	// hosts answering the same trigger do not all burst at once. The
	// jitter expiry does not count as an attempt.
	if !t.initialJitterScheduled && t.scope.Protocol != dns.ProtocolDNS {
		var jitter time.Duration
		switch t.scope.Protocol {
		case dns.ProtocolLLMNR:
			jitter = time.Duration(t.scope.Rand.Int63n(int64(LLMNRJitterInterval)))
		case dns.ProtocolMDNS:
			jitter = MDNSJitterMin + time.Duration(t.scope.Rand.Int63n(int64(MDNSJitterRange)))
		}
		t.initialJitterScheduled = true
		t.attempts = 0
		t.nextAttemptAfter = now
		t.armTimer(now.Add(jitter))
		t.state = StatePending
		return nil
	}

	if err := t.makePacket(now); err != nil {
		if errors.Is(err, ErrWrongProtocol) {
			t.Complete(StateNoServers)
			return nil
		}
		return err
	}

	var err error
	if t.scope.Protocol == dns.ProtocolLLMNR && dns.IsReverseName(t.key.Name) {
		// LLMNR PTR lookups for reverse names go straight to TCP on the
		// address being asked about (RFC 4795 Section 2.5).
		err = t.openTCP()
	} else {
		err = t.scope.emit(t)
		if errors.Is(err, ErrMessageSize) {
			err = t.openTCP()
		}
	}

	switch {
	case errors.Is(err, ErrNoServers):
		t.Complete(StateNoServers)
		return nil
	case err != nil && t.scope.Protocol != dns.ProtocolDNS:
		t.Complete(StateResources)
		return nil
	case err != nil:
		// Try the next server right away.
		if t.scope.Servers != nil {
			t.scope.Servers.Next()
		}
		t.serverValid = false
		return t.Go()
	}

	timeout := t.resendTimeout()
	t.armTimer(now.Add(timeout))
	t.nextAttemptAfter = now.Add(timeout)
	t.state = StatePending
	return nil
}

// onTimeout handles a resend timer expiry: either the initial jitter
// elapsing or a genuine loss.
func (t *Transaction) onTimeout() {
	t.timer = nil

	if t.initialJitterScheduled && !t.initialJitterElapsed {
		t.initialJitterElapsed = true
	} else {
		elapsed := t.scope.Loop.Now().Sub(t.start)
		if t.scope.Protocol == dns.ProtocolDNS {
			if t.serverValid && t.scope.Servers != nil {
				t.scope.Servers.PacketLost(t.server, elapsed)
			}
		} else {
			t.scope.PacketLost(elapsed)
		}
		if t.scope.Protocol == dns.ProtocolDNS && t.scope.Servers != nil {
			t.scope.Servers.Next()
			t.serverValid = false
		}
	}

	if err := t.Go(); err != nil {
		t.Complete(StateResources)
	}
}

// loseTentative concedes every probed name to a peer that holds it
// tentatively and sorted ahead of us (RFC 4795 Section 4.2.2).
func (t *Transaction) loseTentative() {
	t.blockGC++
	for it := range t.zoneItems {
		delete(t.zoneItems, it)
		t.scope.Log.Info("conceding name to tentative peer", "name", it.RR.Header().Name)
		t.scope.Zone.ItemConflict(it)
	}
	t.blockGC--
	t.gc()
}

// tentativeLoss decides an LLMNR tie: the numerically smaller source
// address wins the name.
func tentativeLoss(p *dns.Packet) bool {
	sender := p.Sender.Addr().AsSlice()
	self := p.Destination.Addr().AsSlice()
	return bytes.Compare(sender, self) < 0
}

// ProcessReply feeds a validated reply packet into the state machine.
// Must run on the loop goroutine.
func (t *Transaction) ProcessReply(p *dns.Packet) {
	if t.state != StatePending {
		return
	}

	if t.scope.Protocol != dns.ProtocolDNS {
		if p.IfIndex != 0 && t.scope.IfIndex != 0 && p.IfIndex != t.scope.IfIndex {
			return
		}
		if p.Family != dns.FamilyUnspec && t.scope.Family != dns.FamilyUnspec && p.Family != t.scope.Family {
			return
		}
	}

	if t.scope.Protocol == dns.ProtocolLLMNR && p.LLMNRTentative() {
		if tentativeLoss(p) {
			t.loseTentative()
		}
		return
	}

	t.received = p
	t.answerSource = SourceNetwork

	if p.IPProto == dns.ProtoTCP {
		if p.IsTruncated() {
			// TC over TCP means the answer does not exist in any size
			// we can carry.
			t.Complete(StateInvalidReply)
			return
		}
		if p.ID() != t.id {
			t.Complete(StateInvalidReply)
			return
		}
	}

	now := t.scope.Loop.Now()

	if t.scope.Protocol == dns.ProtocolDNS {
		switch dns.RCodeFromFlags(p.Flags()) {
		case dns.RCodeFormErr, dns.RCodeServFail, dns.RCodeNotImp:
			// The server choked on the query; degrade its feature level
			// and ask again.
			if t.serverValid && t.scope.Servers != nil {
				t.scope.Servers.PacketFailed(t.server)
			}
			if err := t.Go(); err != nil {
				t.Complete(StateResources)
			}
			return
		}
		if t.serverValid && t.scope.Servers != nil {
			t.scope.Servers.PacketReceived(t.server, now.Sub(t.start))
		}
	} else {
		t.scope.PacketReceived(now.Sub(t.start))
	}

	if p.IsTruncated() && p.IPProto != dns.ProtoTCP {
		if t.scope.Protocol == dns.ProtocolMDNS {
			// mDNS continuation is chained by the receiver, not retried
			// over TCP; a lone truncated reply is broken.
			t.Complete(StateInvalidReply)
			return
		}
		switch err := t.openTCP(); {
		case errors.Is(err, ErrNoServers):
			t.Complete(StateNoServers)
		case err != nil && t.scope.Protocol == dns.ProtocolLLMNR:
			t.Complete(StateResources)
		case err != nil:
			if t.scope.Servers != nil {
				t.scope.Servers.Next()
			}
			t.serverValid = false
			if err := t.Go(); err != nil {
				t.Complete(StateResources)
			}
		}
		return
	}

	if err := p.Extract(); err != nil {
		t.Complete(StateInvalidReply)
		return
	}

	if t.scope.Protocol == dns.ProtocolMDNS {
		t.installAnswerMDNS(p)
	} else {
		if !p.IsReplyFor(t.id, t.key) {
			t.Complete(StateInvalidReply)
			return
		}
		t.answer = p.Answer
		t.answerRCode = p.RCode()
		t.answerAuthenticated = t.scope.DNSSECMode == DNSSECTrust && p.Flags()&dns.ADFlag != 0
		if t.answerAuthenticated {
			t.cacheable = CacheableAll
		} else {
			t.cacheable = CacheableAnswerSection
		}
	}

	pending, err := t.requestDNSSECKeys()
	if err != nil {
		t.Complete(StateResources)
		return
	}
	if pending {
		t.state = StateValidating
		return
	}

	t.processDNSSEC()
}

// installAnswerMDNS picks this transaction's records out of a multicast
// reply that may answer several questions at once. Caching happens per
// packet on the scope.
func (t *Transaction) installAnswerMDNS(p *dns.Packet) {
	ans := dns.NewAnswer(0)
	if p.Answer != nil {
		for _, it := range p.Answer.Items() {
			if t.key.MatchesRecord(it.Record) || t.key.MatchesCNAMEOrDNAME(it.Record) {
				ans.AddItem(it)
			}
		}
	}
	t.answer = ans
	t.answerRCode = dns.RCodeNoError
	t.cacheable = CacheableNone
}

// openTCP falls back to a stream: after truncation, for oversized
// queries, or directly for LLMNR reverse lookups.
func (t *Transaction) openTCP() error {
	if t.scope.Transport == nil {
		return ErrNoServers
	}

	var dest netip.AddrPort
	switch t.scope.Protocol {
	case dns.ProtocolDNS:
		if t.scope.Servers == nil {
			return ErrNoServers
		}
		addr, ok := t.scope.Servers.Current()
		if !ok {
			return ErrNoServers
		}
		t.server = addr
		t.serverValid = true
		dest = addr
	case dns.ProtocolLLMNR:
		switch {
		case t.received != nil:
			dest = netip.AddrPortFrom(t.received.Sender.Addr(), LLMNRIPv4Group.Port())
		default:
			addr, ok := addrFromReverseName(t.key.Name)
			if !ok {
				return ErrWrongProtocol
			}
			if (addr.Is4() && t.scope.Family == dns.FamilyIPv6) ||
				(addr.Is6() && t.scope.Family == dns.FamilyIPv4) {
				return ErrWrongProtocol
			}
			dest = netip.AddrPortFrom(addr, LLMNRIPv4Group.Port())
		}
	default:
		return ErrWrongProtocol
	}

	stream, err := t.scope.Transport.OpenStream(t.scope, dest, t.sent, t.onStreamComplete)
	if err != nil {
		return err
	}
	if t.stream != nil {
		t.stream.Close()
	}
	t.stream = stream
	t.usedStream = true
	t.resetAnswer()
	return nil
}

// onStreamComplete receives the reply from a TCP exchange.
func (t *Transaction) onStreamComplete(p *dns.Packet, err error) {
	t.stream = nil
	if err != nil {
		t.scope.Log.Debug("stream failed", "id", t.id, "err", err)
		t.Complete(StateResources)
		return
	}
	if !p.ValidateReply() {
		t.Complete(StateInvalidReply)
		return
	}
	if t.scope.Protocol == dns.ProtocolLLMNR && p.LLMNRConflict() {
		t.scope.CheckConflicts(p)
	}

	t.blockGC++
	t.ProcessReply(p)
	t.blockGC--
	if t.state == StatePending {
		// The reply went through a stream we opened for it; if it did
		// not resolve the transaction nothing else will.
		t.Complete(StateInvalidReply)
		return
	}
	t.gc()
}

// cacheAnswer stores the network answer. Multicast DNS caches per packet
// on the scope instead, and local or unicast sources are never re-cached.
func (t *Transaction) cacheAnswer() {
	if t.scope.Cache == nil || t.received == nil || t.cacheable == CacheableNone {
		return
	}
	if t.scope.Protocol != dns.ProtocolDNS && t.scope.Protocol != dns.ProtocolLLMNR {
		return
	}
	if t.received.Sender.Addr().IsLoopback() {
		return
	}

	ans := t.answer
	if t.cacheable == CacheableAnswerSection && ans != nil {
		sub := dns.NewAnswer(0)
		for _, it := range ans.Items() {
			if it.Flags&dns.AnswerSectionAnswer != 0 {
				sub.AddItem(it)
			}
		}
		ans = sub
	}

	t.scope.Cache.Put(t.key, t.answerRCode, ans, cache.PutOptions{
		Authenticated: t.answerAuthenticated,
		Owner:         t.received.Sender.Addr(),
		IfIndex:       t.received.IfIndex,
	})
}

// addrFromReverseName recovers the address encoded in an in-addr.arpa or
// ip6.arpa PTR name.
func addrFromReverseName(name string) (netip.Addr, bool) {
	n := dns.NormalizeName(name)

	if rest, ok := strings.CutSuffix(n, ".in-addr.arpa"); ok {
		labels := strings.Split(rest, ".")
		if len(labels) != 4 {
			return netip.Addr{}, false
		}
		var b [4]byte
		for i, l := range labels {
			v, err := strconv.ParseUint(l, 10, 8)
			if err != nil {
				return netip.Addr{}, false
			}
			// Reverse names list octets least significant first.
			b[3-i] = byte(v)
		}
		return netip.AddrFrom4(b), true
	}

	if rest, ok := strings.CutSuffix(n, ".ip6.arpa"); ok {
		labels := strings.Split(rest, ".")
		if len(labels) != 32 {
			return netip.Addr{}, false
		}
		var b [16]byte
		for i, l := range labels {
			if len(l) != 1 {
				return netip.Addr{}, false
			}
			v, err := strconv.ParseUint(l, 16, 8)
			if err != nil {
				return netip.Addr{}, false
			}
			nibble := 31 - i
			if nibble%2 == 0 {
				b[nibble/2] |= byte(v) << 4
			} else {
				b[nibble/2] |= byte(v)
			}
		}
		return netip.AddrFrom16(b), true
	}

	return netip.Addr{}, false
}

// String identifies the transaction for logs.
func (t *Transaction) String() string {
	return fmt.Sprintf("transaction %d %s/%s", t.id, t.scope.Protocol, t.key)
}
