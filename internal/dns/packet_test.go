package dns

import (
	"bytes"
	"errors"
	"net"
	"testing"
)

func TestNewQueryPacket(t *testing.T) {
	p, err := NewQueryPacket(ProtocolDNS, NewKey("example.com", TypeA, ClassIN), 512, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p.QDCount() != 1 {
		t.Errorf("expected QDCOUNT 1, got %d", p.QDCount())
	}
	if p.Flags()&RDFlag == 0 {
		t.Error("expected RD flag set for DNS query")
	}
	if p.IsResponse() {
		t.Error("query must not have QR set")
	}

	p.SetID(0x1234)
	if p.Data()[0] != 0x12 || p.Data()[1] != 0x34 {
		t.Error("SetID did not write into the wire image")
	}
}

func TestNewQueryPacketLLMNRNoRD(t *testing.T) {
	p, err := NewQueryPacket(ProtocolLLMNR, NewKey("host", TypeA, ClassIN), 512, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The RD bit position is the LLMNR T flag and must stay clear in queries.
	if p.Flags()&RDFlag != 0 {
		t.Error("LLMNR query must not set the RD bit position")
	}
}

func TestPacketNameCompression(t *testing.T) {
	p := NewPacket(ProtocolDNS, PacketSizeMax)
	rr := NewIPRecord(NewRRHeader("a.example.com", ClassIN, 300), net.ParseIP("192.0.2.1"))

	if err := p.AppendRecord(SectionAnswer, rr, -1); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	first := p.Len()
	if err := p.AppendRecord(SectionAnswer, rr, -1); err != nil {
		t.Fatalf("second append failed: %v", err)
	}
	second := p.Len() - first

	// The second owner name must compress to a 2-byte pointer.
	wantSecond := 2 + 10 + 4
	if second != wantSecond {
		t.Errorf("expected compressed record of %d bytes, got %d", wantSecond, second)
	}
	if p.ANCount() != 2 {
		t.Errorf("expected ANCOUNT 2, got %d", p.ANCount())
	}

	// Compressed form must still decode correctly.
	off := HeaderSize + (first - HeaderSize)
	got, err := ParseRecord(p.Data(), &off)
	if err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	if got.Header().Name != "a.example.com" {
		t.Errorf("pointer decoded to %q", got.Header().Name)
	}
}

func TestPacketRefuseCompression(t *testing.T) {
	p := NewPacket(ProtocolDNS, PacketSizeMax)
	p.RefuseCompression = true
	rr := NewIPRecord(NewRRHeader("a.example.com", ClassIN, 300), net.ParseIP("192.0.2.1"))

	if err := p.AppendRecord(SectionAnswer, rr, -1); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	first := p.Len()
	if err := p.AppendRecord(SectionAnswer, rr, -1); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if p.Len()-first != first-HeaderSize {
		t.Error("expected both records encoded without pointers")
	}
}

func TestPacketCanonicalForm(t *testing.T) {
	p := NewPacket(ProtocolDNS, PacketSizeMax)
	p.CanonicalForm = true
	rr := NewIPRecord(NewRRHeader("WWW.Example.COM", ClassIN, 300), net.ParseIP("192.0.2.1"))

	if err := p.AppendRecord(SectionAnswer, rr, -1); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if !bytes.Contains(p.Data(), []byte("www")) || bytes.Contains(p.Data(), []byte("WWW")) {
		t.Error("canonical form must lowercase owner names")
	}
}

func TestPacketSizeExceededLeavesPacketUnchanged(t *testing.T) {
	p, err := NewQueryPacket(ProtocolDNS, NewKey("example.com", TypeA, ClassIN), 50, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := append([]byte(nil), p.Data()...)

	rr := NewIPRecord(NewRRHeader("some.other.name.example.org", ClassIN, 300), net.ParseIP("192.0.2.1"))
	err = p.AppendRecord(SectionAnswer, rr, -1)
	if !errors.Is(err, ErrSizeExceeded) {
		t.Fatalf("expected ErrSizeExceeded, got %v", err)
	}

	if !bytes.Equal(before, p.Data()) {
		t.Error("failed append must leave the wire image unchanged")
	}
	if p.ANCount() != 0 {
		t.Error("failed append must not bump ANCOUNT")
	}

	// A later append that fits must still work, without pointers into the
	// rolled-back region.
	small := NewIPRecord(NewRRHeader("x", ClassIN, 1), net.ParseIP("192.0.2.2"))
	if err := p.AppendRecord(SectionAnswer, small, -1); err != nil {
		t.Fatalf("small append after rollback failed: %v", err)
	}
}

func TestPacketExtract(t *testing.T) {
	p, err := NewQueryPacket(ProtocolDNS, NewKey("example.com", TypeA, ClassIN), PacketSizeMax, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.SetID(0xBEEF)
	p.SetFlag(QRFlag, true)
	rr := NewIPRecord(NewRRHeader("example.com", ClassIN, 300), net.ParseIP("192.0.2.1"))
	if err := p.AppendRecord(SectionAnswer, rr, -1); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	soa := NewSOARecord(NewRRHeader("com", ClassIN, 900), "ns1.com", "hostmaster.com", 1, 2, 3, 4, 600)
	if err := p.AppendRecord(SectionAuthority, soa, -1); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	got, err := PacketFromWire(ProtocolDNS, p.Data())
	if err != nil {
		t.Fatalf("wrap failed: %v", err)
	}
	if err := got.Extract(); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	q, ok := got.Question()
	if !ok || q.Name != "example.com" || q.Type != TypeA {
		t.Errorf("unexpected question: %+v ok=%v", q, ok)
	}
	if got.Answer.Size() != 2 {
		t.Fatalf("expected 2 answer items, got %d", got.Answer.Size())
	}
	items := got.Answer.Items()
	if items[0].Flags&AnswerSectionAnswer == 0 {
		t.Error("first item should be tagged as answer section")
	}
	if items[1].Flags&AnswerSectionAuthority == 0 {
		t.Error("second item should be tagged as authority section")
	}
	if _, ok := items[1].Record.(*SOARecord); !ok {
		t.Errorf("expected SOA in authority, got %T", items[1].Record)
	}
}

func TestPacketRCodeMergesExtendedBits(t *testing.T) {
	p, err := NewQueryPacket(ProtocolDNS, NewKey("example.com", TypeA, ClassIN), PacketSizeMax, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.SetFlag(QRFlag, true)
	p.SetFlags(p.Flags() | uint16(RCodeServFail))

	// OPT with extended RCODE 0x01: merged = (0x01 << 4) | 2 = 18
	opt := OPTRecord{UDPPayloadSize: 4096, ExtendedRCode: 0x01}
	b := opt.Marshal()
	p.data = append(p.data, b...)
	p.bumpCount(SectionAdditional)

	got, err := PacketFromWire(ProtocolDNS, p.Data())
	if err != nil {
		t.Fatalf("wrap failed: %v", err)
	}
	if err := got.Extract(); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got.Opt == nil {
		t.Fatal("expected OPT record")
	}
	if got.RCode() != 18 {
		t.Errorf("expected merged RCODE 18, got %d", got.RCode())
	}
	if got.UDPSize() != 4096 {
		t.Errorf("expected advertised UDP size 4096, got %d", got.UDPSize())
	}
}

func TestPacketIsReplyFor(t *testing.T) {
	key := NewKey("example.com", TypeA, ClassIN)

	reply, err := NewQueryPacket(ProtocolDNS, NewKey("EXAMPLE.com", TypeA, ClassIN), PacketSizeMax, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reply.SetID(42)
	reply.SetFlag(QRFlag, true)

	if !reply.IsReplyFor(42, key) {
		t.Error("expected match despite name case difference")
	}
	if reply.IsReplyFor(43, key) {
		t.Error("ID mismatch must not match")
	}
	if reply.IsReplyFor(42, NewKey("other.com", TypeA, ClassIN)) {
		t.Error("question mismatch must not match")
	}

	query, _ := NewQueryPacket(ProtocolDNS, key, PacketSizeMax, false)
	query.SetID(42)
	if query.IsReplyFor(42, key) {
		t.Error("a query is not a reply")
	}
}

func TestPacketIsReplyForMDNSNoQuestion(t *testing.T) {
	key := NewKey("host.local", TypeA, ClassIN)

	reply := NewPacket(ProtocolMDNS, PacketSizeMax)
	reply.SetFlag(QRFlag, true)
	rr := NewIPRecord(NewRRHeader("host.local", ClassIN, 120), net.ParseIP("192.0.2.9"))
	if err := reply.AppendRecord(SectionAnswer, rr, -1); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	// mDNS responses repeat no question; matching goes via the answer.
	if !reply.IsReplyFor(0, key) {
		t.Error("expected mDNS reply to match by answer record")
	}
	if reply.IsReplyFor(0, NewKey("other.local", TypeA, ClassIN)) {
		t.Error("unrelated mDNS reply must not match")
	}
}

func TestPacketValidate(t *testing.T) {
	q, _ := NewQueryPacket(ProtocolLLMNR, NewKey("host", TypeA, ClassIN), PacketSizeMax, false)
	if !q.ValidateQuery() {
		t.Error("expected valid LLMNR query")
	}
	if q.ValidateReply() {
		t.Error("query must not validate as reply")
	}

	q.SetFlag(QRFlag, true)
	if !q.ValidateReply() {
		t.Error("expected valid LLMNR reply")
	}

	// LLMNR replies require exactly one question.
	bare := NewPacket(ProtocolLLMNR, PacketSizeMax)
	bare.SetFlag(QRFlag, true)
	if bare.ValidateReply() {
		t.Error("LLMNR reply without question must not validate")
	}
}
