package dns

import (
	"encoding/binary"
	"fmt"
)

// DNSSEC algorithm numbers (RFC 4034 Appendix A.1, RFC 5702, RFC 6605,
// RFC 8080). Only the algorithms the validator implements are listed.
const (
	AlgorithmRSASHA1         uint8 = 5
	AlgorithmRSASHA256       uint8 = 8
	AlgorithmRSASHA512       uint8 = 10
	AlgorithmECDSAP256SHA256 uint8 = 13
	AlgorithmECDSAP384SHA384 uint8 = 14
	AlgorithmED25519         uint8 = 15
)

// DS digest types (RFC 4034 Section 5.1.3, RFC 4509).
const (
	DigestSHA1   uint8 = 1
	DigestSHA256 uint8 = 2
	DigestSHA384 uint8 = 4
)

// DNSKEY flag bits (RFC 4034 Section 2.1.1).
const (
	DNSKEYFlagZoneKey uint16 = 0x0100 // ZK: key may sign zone data
	DNSKEYFlagSEP     uint16 = 0x0001 // SEP: secure entry point (KSK hint)
	DNSKEYFlagRevoked uint16 = 0x0080 // REVOKE (RFC 5011)
)

// DNSKEYProtocol is the only valid value of the DNSKEY protocol octet
// (RFC 4034 Section 2.1.2).
const DNSKEYProtocol uint8 = 3

// RRSIGRecord represents a DNSSEC signature record (RFC 4034 Section 3).
//
// An RRSIG covers exactly one RRset: all records sharing the RRSIG's owner
// name, class and the TypeCovered type.
type RRSIGRecord struct {
	H           RRHeader
	TypeCovered RecordType
	Algorithm   uint8
	Labels      uint8 // Label count of the owner, sans wildcard
	OriginalTTL uint32
	Expiration  uint32 // Seconds since epoch (serial arithmetic)
	Inception   uint32
	KeyTag      uint16
	SignerName  string // Zone apex owning the signing DNSKEY
	Signature   []byte
}

// Type returns TypeRRSIG.
func (r *RRSIGRecord) Type() RecordType { return TypeRRSIG }

// Header returns the record header.
func (r *RRSIGRecord) Header() RRHeader { return r.H }

// SetHeader sets the record header.
func (r *RRSIGRecord) SetHeader(h RRHeader) { r.H = h }

// MarshalRData marshals the RRSIG fields to wire format. The signer name
// is never compressed (RFC 4034 Section 3.1.7).
func (r *RRSIGRecord) MarshalRData() ([]byte, error) {
	signer, err := EncodeName(r.SignerName)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 18+len(signer)+len(r.Signature))
	fixed := make([]byte, 18)
	binary.BigEndian.PutUint16(fixed[0:2], uint16(r.TypeCovered))
	fixed[2] = r.Algorithm
	fixed[3] = r.Labels
	binary.BigEndian.PutUint32(fixed[4:8], r.OriginalTTL)
	binary.BigEndian.PutUint32(fixed[8:12], r.Expiration)
	binary.BigEndian.PutUint32(fixed[12:16], r.Inception)
	binary.BigEndian.PutUint16(fixed[16:18], r.KeyTag)
	out = append(out, fixed...)
	out = append(out, signer...)
	out = append(out, r.Signature...)
	return out, nil
}

// ValidAt reports whether t (seconds since epoch) falls inside the
// inception..expiration window, using RFC 1982 serial number arithmetic as
// required by RFC 4034 Section 3.1.5.
func (r *RRSIGRecord) ValidAt(t uint32) bool {
	// RFC 1982 serial comparison: a <= b iff (b - a) < 2^31
	return (t-r.Inception) < 0x80000000 && (r.Expiration-t) < 0x80000000
}

// ParseRRSIGRData parses RRSIG record RDATA from wire format.
func ParseRRSIGRData(msg []byte, off *int, start, rdlen int) (*RRSIGRecord, error) {
	if rdlen < 18 || *off+18 > len(msg) {
		return nil, fmt.Errorf("%w: RRSIG record RDATA too short (RFC 4034 §3.1)", ErrDNSError)
	}
	r := &RRSIGRecord{
		TypeCovered: RecordType(binary.BigEndian.Uint16(msg[*off : *off+2])),
		Algorithm:   msg[*off+2],
		Labels:      msg[*off+3],
		OriginalTTL: binary.BigEndian.Uint32(msg[*off+4 : *off+8]),
		Expiration:  binary.BigEndian.Uint32(msg[*off+8 : *off+12]),
		Inception:   binary.BigEndian.Uint32(msg[*off+12 : *off+16]),
		KeyTag:      binary.BigEndian.Uint16(msg[*off+16 : *off+18]),
	}
	*off += 18
	signer, err := DecodeName(msg, off)
	if err != nil {
		return nil, err
	}
	r.SignerName = signer
	sigLen := start + rdlen - *off
	if sigLen < 0 || *off+sigLen > len(msg) {
		return nil, fmt.Errorf("%w: RRSIG record RDATA length mismatch (RFC 4034 §3.1)", ErrDNSError)
	}
	r.Signature = make([]byte, sigLen)
	copy(r.Signature, msg[*off:*off+sigLen])
	*off += sigLen
	return r, nil
}

// DNSKEYRecord represents a DNSSEC public key record (RFC 4034 Section 2).
type DNSKEYRecord struct {
	H         RRHeader
	Flags     uint16
	Protocol  uint8 // Must be 3
	Algorithm uint8
	PublicKey []byte
}

// Type returns TypeDNSKEY.
func (r *DNSKEYRecord) Type() RecordType { return TypeDNSKEY }

// Header returns the record header.
func (r *DNSKEYRecord) Header() RRHeader { return r.H }

// SetHeader sets the record header.
func (r *DNSKEYRecord) SetHeader(h RRHeader) { r.H = h }

// IsZoneKey reports whether the ZK flag is set. Keys without it must not
// be used to verify RRsets (RFC 4034 Section 2.1.1).
func (r *DNSKEYRecord) IsZoneKey() bool {
	return r.Flags&DNSKEYFlagZoneKey != 0
}

// IsRevoked reports whether the REVOKE flag is set (RFC 5011).
func (r *DNSKEYRecord) IsRevoked() bool {
	return r.Flags&DNSKEYFlagRevoked != 0
}

// MarshalRData marshals the DNSKEY fields to wire format.
func (r *DNSKEYRecord) MarshalRData() ([]byte, error) {
	out := make([]byte, 4, 4+len(r.PublicKey))
	binary.BigEndian.PutUint16(out[0:2], r.Flags)
	out[2] = r.Protocol
	out[3] = r.Algorithm
	out = append(out, r.PublicKey...)
	return out, nil
}

// ParseDNSKEYRData parses DNSKEY record RDATA from wire format.
func ParseDNSKEYRData(msg []byte, off *int, rdlen int) (*DNSKEYRecord, error) {
	if rdlen < 4 || *off+rdlen > len(msg) {
		return nil, fmt.Errorf("%w: DNSKEY record RDATA too short (RFC 4034 §2.1)", ErrDNSError)
	}
	r := &DNSKEYRecord{
		Flags:     binary.BigEndian.Uint16(msg[*off : *off+2]),
		Protocol:  msg[*off+2],
		Algorithm: msg[*off+3],
	}
	r.PublicKey = make([]byte, rdlen-4)
	copy(r.PublicKey, msg[*off+4:*off+rdlen])
	*off += rdlen
	return r, nil
}

// DSRecord represents a delegation signer record (RFC 4034 Section 5).
// A DS in the parent zone commits to a DNSKEY in the child zone by digest.
type DSRecord struct {
	H          RRHeader
	KeyTag     uint16
	Algorithm  uint8
	DigestType uint8
	Digest     []byte
}

// Type returns TypeDS.
func (r *DSRecord) Type() RecordType { return TypeDS }

// Header returns the record header.
func (r *DSRecord) Header() RRHeader { return r.H }

// SetHeader sets the record header.
func (r *DSRecord) SetHeader(h RRHeader) { r.H = h }

// MarshalRData marshals the DS fields to wire format.
func (r *DSRecord) MarshalRData() ([]byte, error) {
	out := make([]byte, 4, 4+len(r.Digest))
	binary.BigEndian.PutUint16(out[0:2], r.KeyTag)
	out[2] = r.Algorithm
	out[3] = r.DigestType
	out = append(out, r.Digest...)
	return out, nil
}

// ParseDSRData parses DS record RDATA from wire format.
func ParseDSRData(msg []byte, off *int, rdlen int) (*DSRecord, error) {
	if rdlen < 4 || *off+rdlen > len(msg) {
		return nil, fmt.Errorf("%w: DS record RDATA too short (RFC 4034 §5.1)", ErrDNSError)
	}
	r := &DSRecord{
		KeyTag:     binary.BigEndian.Uint16(msg[*off : *off+2]),
		Algorithm:  msg[*off+2],
		DigestType: msg[*off+3],
	}
	r.Digest = make([]byte, rdlen-4)
	copy(r.Digest, msg[*off+4:*off+rdlen])
	*off += rdlen
	return r, nil
}

// NSECRecord represents an authenticated denial record (RFC 4034 Section 4).
// The type bitmap is kept in wire form; Covers answers membership queries.
type NSECRecord struct {
	H          RRHeader
	NextDomain string
	TypeBitmap []byte
}

// Type returns TypeNSEC.
func (r *NSECRecord) Type() RecordType { return TypeNSEC }

// Header returns the record header.
func (r *NSECRecord) Header() RRHeader { return r.H }

// SetHeader sets the record header.
func (r *NSECRecord) SetHeader(h RRHeader) { r.H = h }

// Covers reports whether the type bitmap includes t.
//
// The bitmap is a sequence of (window, length, bits...) blocks; window
// selects the high byte of the type, each bit one type within the window,
// MSB first (RFC 4034 Section 4.1.2).
func (r *NSECRecord) Covers(t RecordType) bool {
	window := byte(uint16(t) >> 8)
	bit := int(uint16(t) & 0xFF)
	for i := 0; i+2 <= len(r.TypeBitmap); {
		w := r.TypeBitmap[i]
		ln := int(r.TypeBitmap[i+1])
		i += 2
		if i+ln > len(r.TypeBitmap) {
			return false
		}
		if w == window {
			byteIdx := bit / 8
			if byteIdx >= ln {
				return false
			}
			return r.TypeBitmap[i+byteIdx]&(0x80>>(bit%8)) != 0
		}
		i += ln
	}
	return false
}

// MarshalRData marshals the NSEC fields to wire format. The next domain
// name is never compressed (RFC 4034 Section 4.1.1).
func (r *NSECRecord) MarshalRData() ([]byte, error) {
	next, err := EncodeName(r.NextDomain)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(next)+len(r.TypeBitmap))
	out = append(out, next...)
	out = append(out, r.TypeBitmap...)
	return out, nil
}

// ParseNSECRData parses NSEC record RDATA from wire format.
func ParseNSECRData(msg []byte, off *int, start, rdlen int) (*NSECRecord, error) {
	next, err := DecodeName(msg, off)
	if err != nil {
		return nil, err
	}
	bitmapLen := start + rdlen - *off
	if bitmapLen < 0 || *off+bitmapLen > len(msg) {
		return nil, fmt.Errorf("%w: NSEC record RDATA length mismatch (RFC 4034 §4.1)", ErrDNSError)
	}
	r := &NSECRecord{NextDomain: next}
	r.TypeBitmap = make([]byte, bitmapLen)
	copy(r.TypeBitmap, msg[*off:*off+bitmapLen])
	*off += bitmapLen
	return r, nil
}
