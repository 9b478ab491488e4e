package dns

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/jroosing/lernadns/internal/helpers"
)

// RRHeader contains common metadata for DNS resource records.
// This is distinct from Header which is the DNS message header.
//
// CacheFlush carries the mDNS cache-flush bit (RFC 6762 Section 10.2),
// which travels in the top bit of the class field for every type except
// OPT. It is masked off during parsing and restored during marshaling.
type RRHeader struct {
	Name       string
	Class      uint16
	TTL        uint32
	CacheFlush bool
}

// NewRRHeader creates a new resource record header.
func NewRRHeader(name string, class RecordClass, ttl uint32) RRHeader {
	return RRHeader{Name: name, Class: uint16(class), TTL: ttl}
}

// Record is the interface for DNS resource records.
// All DNS records implement this interface for type-safe handling.
type Record interface {
	// Type returns the DNS record type.
	Type() RecordType

	// Header returns the record's metadata.
	Header() RRHeader

	// SetHeader sets the record's metadata.
	SetHeader(h RRHeader)

	// MarshalRData marshals the record-specific data (RDATA) to wire format.
	MarshalRData() ([]byte, error)
}

// ParseRecord parses a resource record from wire format.
// It advances *off past the parsed record on success.
func ParseRecord(msg []byte, off *int) (Record, error) {
	name, err := DecodeName(msg, off)
	if err != nil {
		return nil, err
	}
	if *off+10 > len(msg) {
		return nil, fmt.Errorf("%w: unexpected EOF while reading DNS record", ErrDNSError)
	}
	rrType := RecordType(binary.BigEndian.Uint16(msg[*off : *off+2]))
	rrClass := binary.BigEndian.Uint16(msg[*off+2 : *off+4])
	ttl := binary.BigEndian.Uint32(msg[*off+4 : *off+8])
	rdlen := binary.BigEndian.Uint16(msg[*off+8 : *off+10])
	*off += 10
	start := *off
	if start+int(rdlen) > len(msg) {
		return nil, fmt.Errorf("%w: unexpected EOF while reading DNS record rdata", ErrDNSError)
	}

	cacheFlush := false
	if rrType != TypeOPT && rrClass&MDNSCacheFlushBit != 0 {
		cacheFlush = true
		rrClass &^= MDNSCacheFlushBit
	}

	tr, err := parseRData(rrType, msg, off, start, int(rdlen))
	if err != nil {
		return nil, err
	}
	tr.SetHeader(RRHeader{Name: name, Class: rrClass, TTL: ttl, CacheFlush: cacheFlush})

	return tr, nil
}

// parseRData parses RDATA into a Record based on record type.
//
// Types the resolver inspects get a dedicated parse; everything else is
// kept as an OpaqueRecord and round-trips byte for byte.
func parseRData(rt RecordType, msg []byte, off *int, start, rdlen int) (Record, error) {
	switch rt {
	case TypeA, TypeAAAA:
		return ParseIPRData(msg, off, rdlen)
	case TypeCNAME, TypeNS, TypePTR, TypeDNAME:
		return ParseNameRData(msg, off, start, rdlen, rt)
	case TypeSOA:
		return ParseSOARData(msg, off, start, rdlen)
	case TypeRRSIG:
		return ParseRRSIGRData(msg, off, start, rdlen)
	case TypeDNSKEY:
		return ParseDNSKEYRData(msg, off, rdlen)
	case TypeDS:
		return ParseDSRData(msg, off, rdlen)
	case TypeNSEC:
		return ParseNSECRData(msg, off, start, rdlen)
	default:
		// MX, SRV, TXT, OPT, CAA and unknown types pass through opaquely.
		return ParseOpaqueRData(msg, off, rdlen, rt)
	}
}

// MarshalRecord converts a Record to wire-format bytes.
func MarshalRecord(r Record) ([]byte, error) {
	rdata, err := r.MarshalRData()
	if err != nil {
		return nil, err
	}
	h := r.Header()
	return marshalRecordWithRData(h, r.Type(), rdata)
}

// marshalRecordWithRData marshals a Record using pre-computed RDATA.
func marshalRecordWithRData(h RRHeader, rt RecordType, rdata []byte) ([]byte, error) {
	nameWire := []byte{0}
	if rt != TypeOPT {
		b, err := EncodeName(h.Name)
		if err != nil {
			return nil, err
		}
		nameWire = b
	}

	class := h.Class
	if h.CacheFlush && rt != TypeOPT {
		class |= MDNSCacheFlushBit
	}

	out := make([]byte, 0, len(nameWire)+10+len(rdata))
	if len(rdata) > 65535 {
		return nil, fmt.Errorf("rdata too large: %d bytes (max 65535)", len(rdata))
	}
	out = append(out, nameWire...)
	fixed := make([]byte, 10)
	binary.BigEndian.PutUint16(fixed[0:2], uint16(rt))
	binary.BigEndian.PutUint16(fixed[2:4], class)
	binary.BigEndian.PutUint32(fixed[4:8], h.TTL)
	binary.BigEndian.PutUint16(fixed[8:10], helpers.ClampIntToUint16(len(rdata)))
	out = append(out, fixed...)
	out = append(out, rdata...)
	return out, nil
}

// RecordKey returns the RRset key the record belongs to.
func RecordKey(r Record) ResourceKey {
	h := r.Header()
	return ResourceKey{Name: h.Name, Type: r.Type(), Class: RecordClass(h.Class)}
}

// RecordsEqual reports whether two records carry the same data: same type,
// class, owner name (case-insensitive) and identical RDATA. TTL and the
// cache-flush bit are metadata and do not participate (RFC 2181 Section 5,
// RFC 6762 Section 7.1 known-answer comparison).
func RecordsEqual(a, b Record) bool {
	if a.Type() != b.Type() {
		return false
	}
	ha, hb := a.Header(), b.Header()
	if ha.Class != hb.Class || !NamesEqual(ha.Name, hb.Name) {
		return false
	}
	da, err := a.MarshalRData()
	if err != nil {
		return false
	}
	db, err := b.MarshalRData()
	if err != nil {
		return false
	}
	return bytes.Equal(da, db)
}
