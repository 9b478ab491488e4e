// Package dns provides DNS protocol parsing, encoding, and packet manipulation.
package dns

// DNS header flags and masks (RFC 1035 Section 4.1.1)
//
// The DNS header contains a 16-bit flags field with the following layout:
//
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|QR|   Opcode  |AA|TC|RD|RA| Z|AD|CD|   RCODE   |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	 15 14 13 12 11 10  9  8  7  6  5  4  3  2  1  0
//
// Bit positions (from MSB):
//   - Bit 15 (0x8000): QR - Query (0) or Response (1)
//   - Bits 14-11 (0x7800): OPCODE - Operation type (0=Query, 1=IQuery, 2=Status)
//   - Bit 10 (0x0400): AA - Authoritative Answer
//   - Bit 9 (0x0200): TC - Truncation (message was truncated)
//   - Bit 8 (0x0100): RD - Recursion Desired
//   - Bit 7 (0x0080): RA - Recursion Available
//   - Bit 6 (0x0040): Z - Reserved (must be zero)
//   - Bit 5 (0x0020): AD - Authenticated Data (DNSSEC)
//   - Bit 4 (0x0010): CD - Checking Disabled (DNSSEC)
//   - Bits 3-0 (0x000F): RCODE - Response code
//
// LLMNR (RFC 4795 Section 2.1.1) reuses two of these bit positions with a
// different meaning: the AA position carries the C (conflict) flag and the
// RD position carries the T (tentative) flag. The positions are identical
// on the wire; only the interpretation changes with the protocol.
const (
	QRFlag     uint16 = 0x8000 // Query/Response: 1 = response, 0 = query
	OpcodeMask uint16 = 0x7800 // Bits 14-11: operation type (use >> 11 to extract)
	AAFlag     uint16 = 0x0400 // Authoritative Answer (LLMNR: C, conflict)
	TCFlag     uint16 = 0x0200 // Truncation: message was truncated
	RDFlag     uint16 = 0x0100 // Recursion Desired (LLMNR: T, tentative)
	RAFlag     uint16 = 0x0080 // Recursion Available
	ZFlag      uint16 = 0x0040 // Reserved (must be zero in queries)
	ADFlag     uint16 = 0x0020 // Authenticated Data (DNSSEC)
	CDFlag     uint16 = 0x0010 // Checking Disabled (DNSSEC)
	RCodeMask  uint16 = 0x000F // Bits 3-0: response code
)

// MDNSCacheFlushBit is the top bit of the class field in mDNS resource
// records (RFC 6762 Section 10.2). It marks a record set as a full
// replacement for previously cached data and must be masked off before
// interpreting the class.
const MDNSCacheFlushBit uint16 = 0x8000

// RecordType represents DNS resource record types (RFC 1035, RFC 3596,
// RFC 4034, RFC 6891).
type RecordType uint16

const (
	TypeA      RecordType = 1   // IPv4 address
	TypeNS     RecordType = 2   // Authoritative name server
	TypeCNAME  RecordType = 5   // Canonical name (alias)
	TypeSOA    RecordType = 6   // Start of Authority
	TypePTR    RecordType = 12  // Domain name pointer (reverse DNS)
	TypeMX     RecordType = 15  // Mail exchange
	TypeTXT    RecordType = 16  // Text strings
	TypeAAAA   RecordType = 28  // IPv6 address (RFC 3596)
	TypeSRV    RecordType = 33  // Service locator (RFC 2782)
	TypeDNAME  RecordType = 39  // Subtree redirection (RFC 6672)
	TypeOPT    RecordType = 41  // EDNS pseudo-record (RFC 6891)
	TypeDS     RecordType = 43  // Delegation signer (RFC 4034)
	TypeRRSIG  RecordType = 46  // DNSSEC signature (RFC 4034)
	TypeNSEC   RecordType = 47  // Authenticated denial of existence (RFC 4034)
	TypeDNSKEY RecordType = 48  // DNSSEC public key (RFC 4034)
	TypeANY    RecordType = 255 // Query pseudo-type: all records
)

// String returns the RFC mnemonic for the record type, or TYPEnnn for
// unknown values (RFC 3597 style).
func (t RecordType) String() string {
	switch t {
	case TypeA:
		return "A"
	case TypeNS:
		return "NS"
	case TypeCNAME:
		return "CNAME"
	case TypeSOA:
		return "SOA"
	case TypePTR:
		return "PTR"
	case TypeMX:
		return "MX"
	case TypeTXT:
		return "TXT"
	case TypeAAAA:
		return "AAAA"
	case TypeSRV:
		return "SRV"
	case TypeDNAME:
		return "DNAME"
	case TypeOPT:
		return "OPT"
	case TypeDS:
		return "DS"
	case TypeRRSIG:
		return "RRSIG"
	case TypeNSEC:
		return "NSEC"
	case TypeDNSKEY:
		return "DNSKEY"
	case TypeANY:
		return "ANY"
	default:
		return "TYPE" + uitoa(uint32(t))
	}
}

// ValidQueryType reports whether t may appear in a question section.
// The zero type and pseudo-types that only make sense inside a message
// body (OPT) are rejected; ANY is allowed.
func ValidQueryType(t RecordType) bool {
	switch t {
	case 0, TypeOPT:
		return false
	default:
		return true
	}
}

// SharedRecordType reports whether records of this type are "shared" in
// the mDNS sense (RFC 6762 Section 2): many hosts may legitimately publish
// them for the same name, so responders must not treat a sighting from
// another host as a conflict.
func SharedRecordType(t RecordType) bool {
	// PTR is the canonical shared type (service enumeration). ANY covers
	// shared types by definition.
	return t == TypePTR || t == TypeANY
}

// RecordClass represents DNS resource record classes (RFC 1035).
type RecordClass uint16

const (
	ClassIN  RecordClass = 1   // Internet class
	ClassANY RecordClass = 255 // Query pseudo-class: any class
)

// RCode represents DNS response codes (RFC 1035, extended per RFC 6891).
//
// The header carries only 4 bits on the wire; values above 15 require the
// extended RCODE bits from an OPT record (see Packet.RCode).
type RCode uint16

const (
	RCodeNoError  RCode = 0  // No error
	RCodeFormErr  RCode = 1  // Format error: query malformed
	RCodeServFail RCode = 2  // Server failure: internal error
	RCodeNXDomain RCode = 3  // Non-existent domain
	RCodeNotImp   RCode = 4  // Not implemented: unsupported query type
	RCodeRefused  RCode = 5  // Query refused by policy
	RCodeBadVers  RCode = 16 // EDNS version not supported (RFC 6891)
)

// String returns the RCODE mnemonic.
func (r RCode) String() string {
	switch r {
	case RCodeNoError:
		return "NOERROR"
	case RCodeFormErr:
		return "FORMERR"
	case RCodeServFail:
		return "SERVFAIL"
	case RCodeNXDomain:
		return "NXDOMAIN"
	case RCodeNotImp:
		return "NOTIMP"
	case RCodeRefused:
		return "REFUSED"
	case RCodeBadVers:
		return "BADVERS"
	default:
		return "RCODE" + uitoa(uint32(r))
	}
}

// RCodeFromFlags extracts the 4-bit header response code from the DNS
// header flags. Callers that hold a full parsed packet should prefer
// Packet.RCode, which merges in the EDNS extended bits.
func RCodeFromFlags(flags uint16) RCode {
	return RCode(flags & RCodeMask)
}

// MergeRCode combines the 4-bit header RCODE with the upper 8 bits carried
// in an OPT record's TTL field (RFC 6891 Section 6.1.3):
//
//	merged = (extended << 4) | header
func MergeRCode(header RCode, extended uint8) RCode {
	return RCode(uint16(extended)<<4 | (uint16(header) & RCodeMask))
}

// Protocol identifies which naming protocol a packet or scope belongs to.
// The wire format is shared across all three; size limits, retry policy
// and caching rules differ per protocol.
type Protocol int

const (
	ProtocolDNS   Protocol = iota // Classic unicast DNS (RFC 1035)
	ProtocolMDNS                  // Multicast DNS (RFC 6762)
	ProtocolLLMNR                 // Link-Local Multicast Name Resolution (RFC 4795)
)

// String returns the protocol name.
func (p Protocol) String() string {
	switch p {
	case ProtocolDNS:
		return "dns"
	case ProtocolMDNS:
		return "mdns"
	case ProtocolLLMNR:
		return "llmnr"
	default:
		return "invalid"
	}
}

// Family identifies an address family for scopes and packet metadata.
type Family int

const (
	FamilyUnspec Family = iota
	FamilyIPv4
	FamilyIPv6
)

// String returns "ipv4", "ipv6" or "*" for unspecified.
func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "*"
	}
}

// IPProto distinguishes the transport a packet was carried over.
type IPProto int

const (
	ProtoUDP IPProto = iota
	ProtoTCP
)

// uitoa is a tiny allocation-free uint formatter for mnemonic fallbacks.
func uitoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
