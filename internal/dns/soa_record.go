package dns

import (
	"encoding/binary"
	"fmt"
)

// SOARecord represents a Start of Authority record (RFC 1035 Section 3.3.13).
//
// The resolver parses SOA explicitly because negative caching (RFC 2308)
// derives the negative TTL from min(SOA.TTL, SOA.Minimum) of the SOA found
// in the authority section of NXDOMAIN and NODATA responses.
type SOARecord struct {
	H       RRHeader
	MName   string // Primary name server
	RName   string // Responsible mailbox, encoded as a name
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32 // Negative caching TTL (RFC 2308 Section 4)
}

// NewSOARecord creates a new SOA record.
func NewSOARecord(h RRHeader, mname, rname string, serial, refresh, retry, expire, minimum uint32) *SOARecord {
	return &SOARecord{
		H: h, MName: mname, RName: rname,
		Serial: serial, Refresh: refresh, Retry: retry,
		Expire: expire, Minimum: minimum,
	}
}

// Type returns TypeSOA.
func (r *SOARecord) Type() RecordType { return TypeSOA }

// Header returns the record header.
func (r *SOARecord) Header() RRHeader { return r.H }

// SetHeader sets the record header.
func (r *SOARecord) SetHeader(h RRHeader) { r.H = h }

// NegativeTTL returns the TTL to apply to negative cache entries derived
// from this SOA: the smaller of the record TTL and the Minimum field
// (RFC 2308 Section 5).
func (r *SOARecord) NegativeTTL() uint32 {
	return min(r.H.TTL, r.Minimum)
}

// MarshalRData marshals the SOA fields to wire format.
func (r *SOARecord) MarshalRData() ([]byte, error) {
	mname, err := EncodeName(r.MName)
	if err != nil {
		return nil, err
	}
	rname, err := EncodeName(r.RName)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(mname)+len(rname)+20)
	out = append(out, mname...)
	out = append(out, rname...)
	fixed := make([]byte, 20)
	binary.BigEndian.PutUint32(fixed[0:4], r.Serial)
	binary.BigEndian.PutUint32(fixed[4:8], r.Refresh)
	binary.BigEndian.PutUint32(fixed[8:12], r.Retry)
	binary.BigEndian.PutUint32(fixed[12:16], r.Expire)
	binary.BigEndian.PutUint32(fixed[16:20], r.Minimum)
	out = append(out, fixed...)
	return out, nil
}

// ParseSOARData parses SOA record RDATA from wire format.
func ParseSOARData(msg []byte, off *int, start, rdlen int) (*SOARecord, error) {
	mname, err := DecodeName(msg, off)
	if err != nil {
		return nil, err
	}
	rname, err := DecodeName(msg, off)
	if err != nil {
		return nil, err
	}
	if *off+20 > len(msg) || *off+20 > start+rdlen {
		return nil, fmt.Errorf("%w: SOA record RDATA too short (RFC 1035 §3.3.13)", ErrDNSError)
	}
	r := &SOARecord{
		MName:   mname,
		RName:   rname,
		Serial:  binary.BigEndian.Uint32(msg[*off : *off+4]),
		Refresh: binary.BigEndian.Uint32(msg[*off+4 : *off+8]),
		Retry:   binary.BigEndian.Uint32(msg[*off+8 : *off+12]),
		Expire:  binary.BigEndian.Uint32(msg[*off+12 : *off+16]),
		Minimum: binary.BigEndian.Uint32(msg[*off+16 : *off+20]),
	}
	*off += 20
	if *off-start != rdlen {
		return nil, fmt.Errorf("%w: SOA record RDATA length mismatch (RFC 1035 §3.3.13)", ErrDNSError)
	}
	return r, nil
}
