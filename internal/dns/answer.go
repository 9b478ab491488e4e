package dns

// AnswerFlags annotate a record inside an Answer with where it came from
// and how it may be used.
type AnswerFlags uint8

const (
	// AnswerCacheable marks an item that came from a source whose answers
	// may be written to the record cache.
	AnswerCacheable AnswerFlags = 1 << iota

	// AnswerShared marks an mDNS record without the cache-flush bit: other
	// hosts may publish records under the same name (RFC 6762 Section 10.2).
	AnswerShared

	// AnswerAuthenticated marks an item that passed DNSSEC validation.
	AnswerAuthenticated

	// AnswerGoodbye marks an mDNS record announced with TTL zero, asking
	// peers to flush it (RFC 6762 Section 10.1).
	AnswerGoodbye

	// AnswerSectionAnswer and AnswerSectionAuthority record which message
	// section the item was extracted from.
	AnswerSectionAnswer
	AnswerSectionAuthority
)

// AnswerItem is one record in an Answer, tagged with the interface it was
// received on (0 when it did not arrive over a link-scoped protocol) and
// usage flags.
type AnswerItem struct {
	Record  Record
	IfIndex int
	Flags   AnswerFlags
}

// Answer is an ordered collection of resource records with per-record
// metadata. It aggregates the answer and authority sections of a response,
// and is the unit the cache stores and transactions hand to their clients.
type Answer struct {
	items []AnswerItem
}

// NewAnswer creates an empty answer with room for n items.
func NewAnswer(n int) *Answer {
	return &Answer{items: make([]AnswerItem, 0, n)}
}

// Size returns the number of items.
func (a *Answer) Size() int {
	if a == nil {
		return 0
	}
	return len(a.items)
}

// IsEmpty reports whether the answer holds no items.
func (a *Answer) IsEmpty() bool { return a.Size() == 0 }

// Items returns the backing slice. Callers must not grow it.
func (a *Answer) Items() []AnswerItem {
	if a == nil {
		return nil
	}
	return a.items
}

// Add appends a record with the given metadata.
func (a *Answer) Add(r Record, ifindex int, flags AnswerFlags) {
	a.items = append(a.items, AnswerItem{Record: r, IfIndex: ifindex, Flags: flags})
}

// AddItem appends a prepared item.
func (a *Answer) AddItem(it AnswerItem) {
	a.items = append(a.items, it)
}

// Extend appends all items of other.
func (a *Answer) Extend(other *Answer) {
	if other == nil {
		return
	}
	a.items = append(a.items, other.items...)
}

// Contains reports whether any item matches the key.
func (a *Answer) Contains(k ResourceKey) bool {
	for _, it := range a.Items() {
		if k.MatchesRecord(it.Record) {
			return true
		}
	}
	return false
}

// ContainsRecord reports whether the answer holds a record equal to r in
// the RecordsEqual sense. Used for mDNS known-answer suppression.
func (a *Answer) ContainsRecord(r Record) bool {
	for _, it := range a.Items() {
		if RecordsEqual(it.Record, r) {
			return true
		}
	}
	return false
}

// FindSOA returns the first SOA item whose zone contains the key's name,
// or nil. Negative responses carry the relevant SOA in the authority
// section (RFC 2308 Section 3).
func (a *Answer) FindSOA(k ResourceKey) *SOARecord {
	for _, it := range a.Items() {
		soa, ok := it.Record.(*SOARecord)
		if !ok {
			continue
		}
		if NameEndsWith(k.Name, soa.H.Name) {
			return soa
		}
	}
	return nil
}

// CopyByKey returns a new answer holding the items matching the key,
// preserving order and metadata.
func (a *Answer) CopyByKey(k ResourceKey) *Answer {
	out := NewAnswer(0)
	for _, it := range a.Items() {
		if k.MatchesRecord(it.Record) {
			out.AddItem(it)
		}
	}
	return out
}

// RemoveByKey deletes all items matching the key in place.
func (a *Answer) RemoveByKey(k ResourceKey) {
	if a == nil {
		return
	}
	kept := a.items[:0]
	for _, it := range a.items {
		if !k.MatchesRecord(it.Record) {
			kept = append(kept, it)
		}
	}
	a.items = kept
}

// Keys returns the distinct RRset keys present, in first-seen order.
func (a *Answer) Keys() []ResourceKey {
	seen := make(map[KeyID]struct{}, a.Size())
	out := make([]ResourceKey, 0, a.Size())
	for _, it := range a.Items() {
		k := RecordKey(it.Record)
		id := k.ID()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, k)
	}
	return out
}

// MarkAuthenticated sets or clears AnswerAuthenticated on every item.
func (a *Answer) MarkAuthenticated(authenticated bool) {
	for i := range a.items {
		if authenticated {
			a.items[i].Flags |= AnswerAuthenticated
		} else {
			a.items[i].Flags &^= AnswerAuthenticated
		}
	}
}
