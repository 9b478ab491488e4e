// Package cache implements the record cache shared by all lookup scopes.
//
// The cache is two data structures over the same items: a map from RRset
// key to the items cached under it, and a min-heap ordered by expiry time.
// The map answers lookups, the heap makes pruning cheap. Every mutating
// operation prunes expired items first, so lookups never observe stale
// data (RFC 2181 Section 5.2 TTL semantics).
//
// Besides positive RRsets the cache stores negative entries (RFC 2308):
// an NXDOMAIN or NODATA response is remembered under the queried key with
// a TTL derived from the SOA record of the response.
package cache

import (
	"container/heap"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/jroosing/lernadns/internal/dns"
)

const (
	// MaxEntries caps the cache size; when full, the items closest to
	// expiry are evicted to make room.
	MaxEntries = 4096

	// MinTTL and MaxTTL clamp item lifetimes. Records advertising absurd
	// TTLs neither churn the cache nor pin entries for weeks.
	MinTTL = 1 * time.Second
	MaxTTL = 2 * time.Hour

	// NegativeTTLMax caps negative entries separately; RFC 2308
	// Section 5 recommends no more than a few hours.
	NegativeTTLMax = 30 * time.Minute
)

// itemKind distinguishes positive records from negative markers.
type itemKind int

const (
	itemPositive itemKind = iota
	itemNXDomain
	itemNoData
)

// item is a single cache entry: one resource record, or a negative marker
// for a whole key.
type item struct {
	kind itemKind
	key  dns.KeyID

	record dns.Record // nil for negative items
	orig   dns.ResourceKey

	until         time.Time
	since         time.Time
	authenticated bool
	shared        bool
	ifindex       int
	owner         netip.Addr // responder that sourced the record

	heapIdx int
}

// expiryQueue is a min-heap of items by expiry time.
type expiryQueue []*item

func (q expiryQueue) Len() int            { return len(q) }
func (q expiryQueue) Less(i, j int) bool  { return q[i].until.Before(q[j].until) }
func (q expiryQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].heapIdx = i; q[j].heapIdx = j }
func (q *expiryQueue) Push(x any)         { it := x.(*item); it.heapIdx = len(*q); *q = append(*q, it) }
func (q *expiryQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.heapIdx = -1
	*q = old[:n-1]
	return it
}

// Cache is the record cache. It is not safe for concurrent use; all
// access happens on the resolver's event loop.
type Cache struct {
	byKey    map[dns.KeyID][]*item
	byExpiry expiryQueue

	now func() time.Time

	nHit  uint64
	nMiss uint64
}

// New creates an empty cache. clock may be nil, in which case time.Now
// is used; tests inject their own.
func New(clock func() time.Time) *Cache {
	if clock == nil {
		clock = time.Now
	}
	return &Cache{
		byKey: make(map[dns.KeyID][]*item),
		now:   clock,
	}
}

// Size returns the number of cached items.
func (c *Cache) Size() int { return len(c.byExpiry) }

// IsEmpty reports whether the cache holds no items.
func (c *Cache) IsEmpty() bool { return c.Size() == 0 }

// Stats returns the hit and miss counters.
func (c *Cache) Stats() (hits, misses uint64) { return c.nHit, c.nMiss }

// Flush drops every item.
func (c *Cache) Flush() {
	c.byKey = make(map[dns.KeyID][]*item)
	c.byExpiry = nil
}

// remove unlinks one item from both structures.
func (c *Cache) remove(it *item) {
	items := c.byKey[it.key]
	for i, candidate := range items {
		if candidate == it {
			items = append(items[:i], items[i+1:]...)
			break
		}
	}
	if len(items) == 0 {
		delete(c.byKey, it.key)
	} else {
		c.byKey[it.key] = items
	}
	if it.heapIdx >= 0 {
		heap.Remove(&c.byExpiry, it.heapIdx)
	}
}

// RemoveByKey drops all items cached under the key.
func (c *Cache) RemoveByKey(key dns.ResourceKey) {
	id := key.ID()
	for len(c.byKey[id]) > 0 {
		c.remove(c.byKey[id][0])
	}
}

// Prune removes every item that has expired by now. Invariant: after
// Prune, either the cache is empty or its earliest expiry lies in the
// future.
func (c *Cache) Prune() {
	now := c.now()
	for len(c.byExpiry) > 0 && !c.byExpiry[0].until.After(now) {
		c.remove(c.byExpiry[0])
	}
}

// makeRoom evicts the items expiring soonest until at least n slots are
// free under MaxEntries.
func (c *Cache) makeRoom(n int) {
	for c.Size()+n > MaxEntries && len(c.byExpiry) > 0 {
		c.remove(c.byExpiry[0])
	}
}

func (c *Cache) insert(it *item) {
	c.makeRoom(1)
	c.byKey[it.key] = append(c.byKey[it.key], it)
	heap.Push(&c.byExpiry, it)
}

func clampTTL(ttl uint32, ceiling time.Duration) time.Duration {
	d := time.Duration(ttl) * time.Second
	if d < MinTTL {
		d = MinTTL
	}
	if d > ceiling {
		d = ceiling
	}
	return d
}

// PutOptions qualify a Put.
type PutOptions struct {
	// Authenticated marks the entry as DNSSEC validated; only
	// authenticated entries satisfy lookups that demand authenticity.
	Authenticated bool

	// Owner is the address of the responder the data came from, used for
	// conflict detection on multicast scopes.
	Owner netip.Addr

	// IfIndex is the interface the data arrived on.
	IfIndex int
}

// Put caches a response for the key. A response with rcode NXDOMAIN, or
// with no record matching the key, produces a negative entry whose TTL
// comes from the SOA in the answer; without an SOA nothing is cached.
// Positive records are cached one item each with their own TTLs.
//
// Lookups for localhost never hit the network, so answers for such names
// are never cached. Records announced with TTL zero are removals: any
// cached copy is dropped (RFC 6762 Section 10.1).
func (c *Cache) Put(key dns.ResourceKey, rcode dns.RCode, answer *dns.Answer, opts PutOptions) {
	c.Prune()

	if dns.IsLocalhostName(key.Name) {
		return
	}

	// Whatever we knew before is superseded.
	c.RemoveByKey(key)

	now := c.now()

	if rcode != dns.RCodeNoError {
		if rcode != dns.RCodeNXDomain {
			return // only NXDOMAIN is worth remembering
		}
		c.putNegative(key, itemNXDomain, answer, opts, now)
		return
	}

	positive := false
	for _, an := range answer.Items() {
		if key.MatchesRecord(an.Record) || key.MatchesCNAMEOrDNAME(an.Record) {
			positive = true
			break
		}
	}
	if !positive {
		c.putNegative(key, itemNoData, answer, opts, now)
		return
	}

	for _, an := range answer.Items() {
		rec := an.Record
		rh := rec.Header()
		recKey := dns.RecordKey(rec)
		if !key.MatchesRecord(rec) && !key.MatchesCNAMEOrDNAME(rec) {
			continue
		}
		if dns.IsLocalhostName(rh.Name) {
			continue
		}
		if rh.TTL == 0 {
			// Goodbye record: drop cached copies, cache nothing.
			c.RemoveByKey(recKey)
			continue
		}
		c.insert(&item{
			kind:          itemPositive,
			key:           recKey.ID(),
			record:        rec,
			orig:          recKey,
			since:         now,
			until:         now.Add(clampTTL(rh.TTL, MaxTTL)),
			authenticated: opts.Authenticated,
			shared:        an.Flags&dns.AnswerShared != 0,
			ifindex:       an.IfIndex,
			owner:         opts.Owner,
		})
	}
}

// putNegative caches an NXDOMAIN or NODATA marker if the response carries
// a usable SOA.
func (c *Cache) putNegative(key dns.ResourceKey, kind itemKind, answer *dns.Answer, opts PutOptions, now time.Time) {
	soa := answer.FindSOA(key)
	if soa == nil {
		return
	}
	c.insert(&item{
		kind:          kind,
		key:           key.ID(),
		orig:          key,
		since:         now,
		until:         now.Add(clampTTL(soa.NegativeTTL(), NegativeTTLMax)),
		authenticated: opts.Authenticated,
		owner:         opts.Owner,
	})
}

// Result is what a cache lookup returns.
type Result struct {
	RCode         dns.RCode
	Answer        *dns.Answer
	Authenticated bool
}

// Lookup consults the cache for the key. It prunes first, so a hit is
// always fresh; returned record TTLs are decayed by the entry's age.
// ok is false on a miss.
func (c *Cache) Lookup(key dns.ResourceKey) (Result, bool) {
	c.Prune()

	items := c.byKey[key.ID()]
	if len(items) == 0 {
		// A cached CNAME under the same name answers other type queries
		// too; check before declaring a miss.
		if key.Type != dns.TypeCNAME && key.Type != dns.TypeANY {
			items = c.byKey[dns.NewKey(key.Name, dns.TypeCNAME, key.Class).ID()]
		}
	}
	if len(items) == 0 {
		c.nMiss++
		return Result{}, false
	}

	now := c.now()
	res := Result{RCode: dns.RCodeNoError, Answer: dns.NewAnswer(len(items)), Authenticated: true}
	for _, it := range items {
		if !it.authenticated {
			res.Authenticated = false
		}
		switch it.kind {
		case itemNXDomain:
			res.RCode = dns.RCodeNXDomain
		case itemNoData:
			// empty answer, NOERROR
		case itemPositive:
			rec := decayTTL(it.record, now.Sub(it.since))
			flags := dns.AnswerCacheable
			if it.shared {
				flags |= dns.AnswerShared
			}
			if it.authenticated {
				flags |= dns.AnswerAuthenticated
			}
			res.Answer.Add(rec, it.ifindex, flags)
		}
	}
	c.nHit++
	return res, true
}

// decayTTL returns a copy of the record with its TTL reduced by age,
// never below 1 while the item is unexpired.
func decayTTL(rec dns.Record, age time.Duration) dns.Record {
	h := rec.Header()
	sub := uint32(age / time.Second)
	if sub >= h.TTL {
		h.TTL = 1
	} else {
		h.TTL -= sub
	}
	// Records are pointer-shaped; copy via reparse-free header swap on a
	// shallow clone so the cached original keeps its full TTL.
	cloned := cloneRecord(rec)
	cloned.SetHeader(h)
	return cloned
}

func cloneRecord(rec dns.Record) dns.Record {
	switch r := rec.(type) {
	case *dns.IPRecord:
		cp := *r
		return &cp
	case *dns.NameRecord:
		cp := *r
		return &cp
	case *dns.SOARecord:
		cp := *r
		return &cp
	case *dns.RRSIGRecord:
		cp := *r
		return &cp
	case *dns.DNSKEYRecord:
		cp := *r
		return &cp
	case *dns.DSRecord:
		cp := *r
		return &cp
	case *dns.NSECRecord:
		cp := *r
		return &cp
	case *dns.OpaqueRecord:
		cp := *r
		return &cp
	default:
		return rec
	}
}

// CheckConflict reports whether a record observed on the network clashes
// with a cached record: same unique (non-shared) RRset published by a
// different owner address (RFC 6762 Section 9, RFC 4795 Section 4.2).
// Cached copies from the conflicting owner are removed either way so the
// next probe sees fresh state.
func (c *Cache) CheckConflict(rec dns.Record, owner netip.Addr) bool {
	c.Prune()

	if dns.SharedRecordType(rec.Type()) {
		return false
	}

	conflict := false
	items := c.byKey[dns.RecordKey(rec).ID()]
	for _, it := range items {
		if it.kind != itemPositive || it.shared {
			continue
		}
		if it.owner.IsValid() && it.owner != owner {
			conflict = true
		}
	}
	if conflict {
		c.RemoveByKey(dns.RecordKey(rec))
	}
	return conflict
}

// ExportShared appends all shared (mDNS) items for the interface to the
// packet with decayed TTLs, for use in known-answer sections and
// announcements (RFC 6762 Section 7.1). Items whose remaining TTL is
// below half the original are skipped, matching the RFC's rule that such
// answers must not suppress a response. Returns the number appended;
// stops early without error when the packet is full.
func (c *Cache) ExportShared(p *dns.Packet, ifindex int) int {
	c.Prune()

	now := c.now()
	n := 0
	for _, it := range c.byExpiry {
		if it.kind != itemPositive || !it.shared {
			continue
		}
		if ifindex != 0 && it.ifindex != 0 && it.ifindex != ifindex {
			continue
		}
		orig := it.record.Header().TTL
		remaining := it.until.Sub(now)
		if remaining < time.Duration(orig)*time.Second/2 {
			continue
		}
		if err := p.AppendRecord(dns.SectionAnswer, it.record, int64(remaining/time.Second)); err != nil {
			break
		}
		n++
	}
	return n
}

// Dump writes the cache contents dig-style, one item per line.
func (c *Cache) Dump(w io.Writer) {
	now := c.now()
	for _, it := range c.byExpiry {
		left := it.until.Sub(now).Round(time.Second)
		switch it.kind {
		case itemNXDomain:
			fmt.Fprintf(w, "%s -- NXDOMAIN (expires in %s)\n", it.orig, left)
		case itemNoData:
			fmt.Fprintf(w, "%s -- NODATA (expires in %s)\n", it.orig, left)
		case itemPositive:
			fmt.Fprintf(w, "%s (ttl left %s, owner %s)\n", it.orig, left, it.owner)
		}
	}
}
