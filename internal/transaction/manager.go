package transaction

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/jroosing/lernadns/internal/dns"
	"github.com/jroosing/lernadns/internal/event"
	"github.com/jroosing/lernadns/internal/trust"
	"github.com/jroosing/lernadns/internal/zone"
)

// Manager owns every scope and indexes all live transactions by their
// wire id. It lives on the event loop goroutine.
type Manager struct {
	Loop  *event.Loop
	Trust *trust.Anchor
	Log   *slog.Logger

	scopes       []*Scope
	transactions map[uint16]*Transaction
	rand         *rand.Rand
}

// NewManager creates a manager bound to the loop.
func NewManager(loop *event.Loop, anchor *trust.Anchor, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		Loop:         loop,
		Trust:        anchor,
		Log:          log,
		transactions: make(map[uint16]*Transaction),
		rand:         rand.New(rand.NewSource(loop.Now().UnixNano())),
	}
}

// Scopes returns all attached scopes.
func (m *Manager) Scopes() []*Scope { return m.scopes }

// LiveTransactions returns the number of transactions currently indexed.
func (m *Manager) LiveTransactions() int { return len(m.transactions) }

// NewTransaction creates a transaction for key on scope s with a fresh,
// unused id. The key must be a valid query key of class IN or ANY.
func (m *Manager) NewTransaction(s *Scope, key dns.ResourceKey) (*Transaction, error) {
	if !dns.ValidQueryType(key.Type) {
		return nil, fmt.Errorf("%w: cannot query type %s", dns.ErrDNSError, key.Type.String())
	}
	if key.Class != dns.ClassIN && key.Class != dns.ClassANY {
		return nil, fmt.Errorf("%w: unsupported class %d", dns.ErrDNSError, key.Class)
	}

	t := &Transaction{
		key:                key,
		scope:              s,
		state:              StateNull,
		answerSource:       SourceNone,
		dnssecResult:       DNSSECIndeterminate,
		zoneItems:          make(map[*zone.Item]struct{}),
		notifySubscribers:  make(map[Subscriber]struct{}),
		dnssecTransactions: make(map[*Transaction]struct{}),
		notifyTransactions: make(map[*Transaction]struct{}),
	}

	// Find a fresh, unused wire id. Zero is reserved.
	for {
		id := uint16(m.rand.Intn(0xFFFF) + 1)
		if _, taken := m.transactions[id]; !taken {
			t.id = id
			break
		}
	}
	m.transactions[t.id] = t

	// An older transaction for the same key loses its index slot; it
	// keeps running for whoever subscribed to it.
	s.attach(t)
	return t, nil
}

func (m *Manager) remove(t *Transaction) {
	delete(m.transactions, t.id)
	t.scope.detach(t)
}

// Lookup finds the live transaction with the given wire id.
func (m *Manager) Lookup(id uint16) (*Transaction, bool) {
	t, ok := m.transactions[id]
	return t, ok
}
