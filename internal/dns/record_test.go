package dns

import (
	"net"
	"testing"
)

func TestParseRecordA(t *testing.T) {
	// Name: example.com, Type A, Class IN, TTL 300, RDATA 192.0.2.1
	msg := []byte{
		7, 'e', 'x', 'a', 'm', 'p', 'l', 'e',
		3, 'c', 'o', 'm',
		0, // End of name
		0, 1, // Type A
		0, 1, // Class IN
		0, 0, 1, 44, // TTL 300
		0, 4, // RDLEN
		192, 0, 2, 1, // RDATA
	}

	off := 0
	rr, err := ParseRecord(msg, &off)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h := rr.Header()
	if h.Name != "example.com" {
		t.Errorf("expected name example.com, got %s", h.Name)
	}
	if rr.Type() != TypeA {
		t.Errorf("expected type A, got %d", rr.Type())
	}
	if h.Class != 1 {
		t.Errorf("expected class 1, got %d", h.Class)
	}
	if h.TTL != 300 {
		t.Errorf("expected TTL 300, got %d", h.TTL)
	}

	ipRec, ok := rr.(*IPRecord)
	if !ok {
		t.Fatalf("expected *IPRecord, got %T", rr)
	}
	if !ipRec.Addr.Equal(net.ParseIP("192.0.2.1")) {
		t.Errorf("expected 192.0.2.1, got %s", ipRec.Addr)
	}
	if off != len(msg) {
		t.Errorf("expected offset %d, got %d", len(msg), off)
	}
}

func TestRecordRoundTripCNAME(t *testing.T) {
	rr := NewCNAMERecord(NewRRHeader("www.example.com", ClassIN, 3600), "target.example.com")

	b, err := MarshalRecord(rr)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	off := 0
	parsed, err := ParseRecord(b, &off)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if parsed.Type() != TypeCNAME {
		t.Errorf("expected type CNAME, got %d", parsed.Type())
	}
	target, ok := parsed.(*NameRecord)
	if !ok {
		t.Fatalf("expected *NameRecord, got %T", parsed)
	}
	if target.Target != "target.example.com" {
		t.Errorf("expected target.example.com, got %s", target.Target)
	}
}

func TestParseRecordCacheFlushBit(t *testing.T) {
	// mDNS record with the cache-flush bit in the class field
	msg := []byte{
		4, 'h', 'o', 's', 't',
		5, 'l', 'o', 'c', 'a', 'l',
		0,
		0, 1, // Type A
		0x80, 1, // Class IN with cache-flush bit
		0, 0, 0, 120, // TTL 120
		0, 4,
		192, 0, 2, 7,
	}

	off := 0
	rr, err := ParseRecord(msg, &off)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h := rr.Header()
	if !h.CacheFlush {
		t.Error("expected cache-flush bit to be parsed")
	}
	if h.Class != 1 {
		t.Errorf("expected class stripped to 1, got %d", h.Class)
	}

	// Marshal must restore the bit
	b, err := MarshalRecord(rr)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	off = 0
	again, err := ParseRecord(b, &off)
	if err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	if !again.Header().CacheFlush {
		t.Error("cache-flush bit lost in round trip")
	}
}

func TestParseRecordTruncated(t *testing.T) {
	// Truncated record (missing RDATA)
	msg := []byte{
		7, 'e', 'x', 'a', 'm', 'p', 'l', 'e',
		3, 'c', 'o', 'm',
		0, // End of name
		0, 1, // Type A
		0, 1, // Class IN
		0, 0, 1, 44, // TTL 300
		0, 4, // RDLEN says 4 bytes
		// But no RDATA follows
	}

	off := 0
	_, err := ParseRecord(msg, &off)
	if err == nil {
		t.Error("expected error for truncated record")
	}
}

func TestRecordsEqual(t *testing.T) {
	a1 := NewIPRecord(NewRRHeader("Example.com", ClassIN, 300), net.ParseIP("192.0.2.1"))
	a2 := NewIPRecord(NewRRHeader("example.COM", ClassIN, 60), net.ParseIP("192.0.2.1"))
	a3 := NewIPRecord(NewRRHeader("example.com", ClassIN, 300), net.ParseIP("192.0.2.2"))

	if !RecordsEqual(a1, a2) {
		t.Error("records differing only in TTL and name case should be equal")
	}
	if RecordsEqual(a1, a3) {
		t.Error("records with different RDATA should not be equal")
	}

	c := NewCNAMERecord(NewRRHeader("example.com", ClassIN, 300), "other.example")
	if RecordsEqual(a1, c) {
		t.Error("records of different types should not be equal")
	}
}

func TestRecordKey(t *testing.T) {
	rr := NewIPRecord(NewRRHeader("example.com", ClassIN, 300), net.ParseIP("192.0.2.1"))
	k := RecordKey(rr)
	if k.Type != TypeA || k.Class != ClassIN || k.Name != "example.com" {
		t.Errorf("unexpected key: %v", k)
	}
}
