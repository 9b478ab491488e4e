// Package zone keeps the records a scope announces itself: the local
// RRsets served over LLMNR and mDNS, plus statically configured data
// loaded from zone files or the database.
//
// Items move through a small lifecycle. Unique records start out probing
// (a uniqueness query is in flight, RFC 4795 Section 4 / RFC 6762
// Section 8.1) and only answer queries tentatively until established.
// Shared records (PTR and friends) skip probing. A conflict claim moves
// an item back to verifying; losing the verification withdraws it.
package zone

import (
	"github.com/jroosing/lernadns/internal/dns"
)

// ItemState is the lifecycle state of one zone item.
type ItemState int

const (
	StateProbing ItemState = iota
	StateEstablished
	StateVerifying
	StateWithdrawn
)

// String returns the lowercase state name.
func (s ItemState) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateEstablished:
		return "established"
	case StateVerifying:
		return "verifying"
	case StateWithdrawn:
		return "withdrawn"
	}
	return "unknown"
}

// Item is one record in the zone together with its announcement state.
type Item struct {
	RR      dns.Record
	State   ItemState
	IfIndex int

	// Shared marks RRsets that may legitimately exist on several hosts
	// at once; they never probe and never conflict.
	Shared bool
}

// Zone indexes items by resource key and by owner name. Like the cache
// it is owned by the event loop goroutine and carries no lock.
type Zone struct {
	byKey  map[dns.KeyID][]*Item
	byName map[string][]*Item
}

// New returns an empty zone.
func New() *Zone {
	return &Zone{
		byKey:  make(map[dns.KeyID][]*Item),
		byName: make(map[string][]*Item),
	}
}

// Size returns the number of items, withdrawn ones included.
func (z *Zone) Size() int {
	n := 0
	for _, items := range z.byKey {
		n += len(items)
	}
	return n
}

// IsEmpty reports whether the zone holds no items.
func (z *Zone) IsEmpty() bool { return len(z.byKey) == 0 }

// Put adds a record. Shared record types are established immediately;
// unique ones start probing when probe is set, otherwise they too are
// established (static zone data is trusted without probing). An existing
// item with equal RDATA is replaced.
func (z *Zone) Put(r dns.Record, ifindex int, probe bool) *Item {
	z.Remove(r)

	it := &Item{
		RR:      r,
		IfIndex: ifindex,
		Shared:  dns.SharedRecordType(r.Type()),
		State:   StateEstablished,
	}
	if probe && !it.Shared {
		it.State = StateProbing
	}

	key := dns.RecordKey(r)
	id := key.ID()
	z.byKey[id] = append(z.byKey[id], it)
	name := dns.NormalizeName(key.Name)
	z.byName[name] = append(z.byName[name], it)
	return it
}

// Remove drops the item whose record equals r (TTL ignored).
func (z *Zone) Remove(r dns.Record) {
	key := dns.RecordKey(r)
	id := key.ID()
	items := z.byKey[id]
	for i, it := range items {
		if dns.RecordsEqual(it.RR, r) {
			z.byKey[id] = append(items[:i], items[i+1:]...)
			if len(z.byKey[id]) == 0 {
				delete(z.byKey, id)
			}
			z.removeFromName(dns.NormalizeName(key.Name), it)
			return
		}
	}
}

func (z *Zone) removeFromName(name string, target *Item) {
	items := z.byName[name]
	for i, it := range items {
		if it == target {
			z.byName[name] = append(items[:i], items[i+1:]...)
			if len(z.byName[name]) == 0 {
				delete(z.byName, name)
			}
			return
		}
	}
}

// RemoveByName drops every item at name. Used on scope teardown and
// when losing a name conflict.
func (z *Zone) RemoveByName(name string) {
	for _, it := range z.byName[dns.NormalizeName(name)] {
		z.Remove(it.RR)
	}
}

// LookupResult is what a zone lookup produces for a query.
type LookupResult struct {
	Answer *dns.Answer

	// Tentative is set when every matching item is still probing; an
	// LLMNR responder signals this with the T bit instead of answering
	// authoritatively.
	Tentative bool

	// NoData is set when the owner name exists in the zone but holds no
	// record of the queried type.
	NoData bool
}

// Lookup answers key from the zone. ok is false when the zone knows
// nothing about the name at all. Withdrawn items never answer.
func (z *Zone) Lookup(key dns.ResourceKey) (LookupResult, bool) {
	name := dns.NormalizeName(key.Name)
	byName := z.byName[name]
	if len(byName) == 0 {
		return LookupResult{}, false
	}

	res := LookupResult{Answer: dns.NewAnswer(len(byName)), Tentative: true}
	for _, it := range byName {
		if it.State == StateWithdrawn {
			continue
		}
		if !key.MatchesRecord(it.RR) {
			continue
		}
		if it.State != StateProbing {
			res.Tentative = false
		}
		flags := dns.AnswerAuthenticated | dns.AnswerCacheable
		if it.Shared {
			flags |= dns.AnswerShared
		}
		res.Answer.Add(it.RR, it.IfIndex, flags)
	}

	if res.Answer.IsEmpty() {
		live := false
		for _, it := range byName {
			if it.State != StateWithdrawn {
				live = true
				break
			}
		}
		if !live {
			return LookupResult{}, false
		}
		return LookupResult{Answer: res.Answer, NoData: true}, true
	}
	return res, true
}

// VerifyConflict moves every established unique item at name to
// verifying and returns them. A conflict claim (LLMNR C bit, mDNS
// competing answer) triggers this; the scope then re-probes each item.
func (z *Zone) VerifyConflict(name string) []*Item {
	var out []*Item
	for _, it := range z.byName[dns.NormalizeName(name)] {
		if it.Shared || it.State != StateEstablished {
			continue
		}
		it.State = StateVerifying
		out = append(out, it)
	}
	return out
}

// ItemEstablished marks a probing or verifying item as established.
func (z *Zone) ItemEstablished(it *Item) {
	if it.State == StateProbing || it.State == StateVerifying {
		it.State = StateEstablished
	}
}

// ItemConflict withdraws an item that lost its uniqueness claim.
func (z *Zone) ItemConflict(it *Item) {
	it.State = StateWithdrawn
}

// ProbeItems returns all items currently probing or verifying at name.
func (z *Zone) ProbeItems(name string) []*Item {
	var out []*Item
	for _, it := range z.byName[dns.NormalizeName(name)] {
		if it.State == StateProbing || it.State == StateVerifying {
			out = append(out, it)
		}
	}
	return out
}

// ContainsName reports whether the zone has a live item at name.
func (z *Zone) ContainsName(name string) bool {
	for _, it := range z.byName[dns.NormalizeName(name)] {
		if it.State != StateWithdrawn {
			return true
		}
	}
	return false
}
