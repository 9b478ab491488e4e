package dns

import (
	"fmt"
	"strings"
)

// ResourceKey identifies a DNS RRset: the (name, type, class) triple that
// questions ask about and resource records belong to. Names compare
// case-insensitively per RFC 4343; the original spelling is preserved for
// wire encoding so mDNS and LLMNR queries go out exactly as the caller
// spelled them.
type ResourceKey struct {
	Name  string
	Type  RecordType
	Class RecordClass
}

// NewKey creates a resource key. The name keeps its spelling; comparisons
// normalize.
func NewKey(name string, t RecordType, c RecordClass) ResourceKey {
	return ResourceKey{Name: name, Type: t, Class: c}
}

// KeyID is the normalized, comparable form of a ResourceKey, suitable as a
// map key. Two keys that are equal per Equal produce the same KeyID.
type KeyID struct {
	Name  string
	Type  RecordType
	Class RecordClass
}

// ID returns the normalized comparable form of the key.
func (k ResourceKey) ID() KeyID {
	return KeyID{Name: NormalizeName(k.Name), Type: k.Type, Class: k.Class}
}

// Equal reports whether two keys refer to the same RRset. Name comparison
// is case-insensitive and ignores a trailing dot.
func (k ResourceKey) Equal(other ResourceKey) bool {
	return k.Type == other.Type &&
		k.Class == other.Class &&
		NamesEqual(k.Name, other.Name)
}

// MatchesRecord reports whether the record belongs to the RRset this key
// names. An ANY-type or ANY-class key matches any type or class.
func (k ResourceKey) MatchesRecord(r Record) bool {
	if k.Type != TypeANY && k.Type != r.Type() {
		return false
	}
	h := r.Header()
	if k.Class != ClassANY && uint16(k.Class) != h.Class {
		return false
	}
	return NamesEqual(k.Name, h.Name)
}

// MatchesCNAMEOrDNAME reports whether the record is a CNAME for this key's
// name, or a DNAME for a parent of it. These may redirect the lookup even
// though the types differ, so responses carrying them still count as
// answering the key (RFC 1034 Section 3.6.2, RFC 6672).
func (k ResourceKey) MatchesCNAMEOrDNAME(r Record) bool {
	if k.Type == TypeCNAME || k.Type == TypeDNAME {
		return false
	}
	h := r.Header()
	if k.Class != ClassANY && uint16(k.Class) != h.Class {
		return false
	}
	switch r.Type() {
	case TypeCNAME:
		return NamesEqual(k.Name, h.Name)
	case TypeDNAME:
		return NameEndsWith(k.Name, h.Name)
	default:
		return false
	}
}

// NamesEqual compares two DNS names case-insensitively, ignoring trailing
// dots (RFC 4343).
func NamesEqual(a, b string) bool {
	return NormalizeName(a) == NormalizeName(b)
}

// NameEndsWith reports whether name equals suffix or lies below it in the
// tree, on label boundaries. "www.example.com" ends with "example.com" but
// "notexample.com" does not.
func NameEndsWith(name, suffix string) bool {
	n := NormalizeName(name)
	s := NormalizeName(suffix)
	if s == "" {
		return true // everything is below the root
	}
	if n == s {
		return true
	}
	return strings.HasSuffix(n, "."+s)
}

// CountLabels returns the number of labels in the name. The root has zero.
func CountLabels(name string) int {
	n := NormalizeName(name)
	if n == "" {
		return 0
	}
	return strings.Count(n, ".") + 1
}

// ParentName strips the leftmost label. Returns ok=false at the root.
func ParentName(name string) (string, bool) {
	n := NormalizeName(name)
	if n == "" {
		return "", false
	}
	i := strings.IndexByte(n, '.')
	if i < 0 {
		return "", true // parent is the root
	}
	return n[i+1:], true
}

// IsReverseName reports whether the name lies under in-addr.arpa or
// ip6.arpa, i.e. is a PTR-style reverse lookup name. LLMNR handles these
// over TCP directly (RFC 4795 Section 2.5).
func IsReverseName(name string) bool {
	return NameEndsWith(name, "in-addr.arpa") || NameEndsWith(name, "ip6.arpa")
}

// IsLocalhostName reports whether the name is "localhost" or lies beneath
// it. Lookups for these never leave the host and answers for them are
// never cached.
func IsLocalhostName(name string) bool {
	n := NormalizeName(name)
	return n == "localhost" || strings.HasSuffix(n, ".localhost")
}

// IsRootName reports whether the name is the DNS root.
func IsRootName(name string) bool {
	return NormalizeName(name) == ""
}

// String formats the key dig-style: "example.com IN A".
func (k ResourceKey) String() string {
	name := k.Name
	if name == "" {
		name = "."
	}
	class := "IN"
	if k.Class == ClassANY {
		class = "ANY"
	} else if k.Class != ClassIN {
		class = fmt.Sprintf("CLASS%d", uint16(k.Class))
	}
	return fmt.Sprintf("%s %s %s", name, class, k.Type)
}
