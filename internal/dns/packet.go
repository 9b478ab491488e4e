package dns

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// PacketSizeMax is the absolute ceiling for a DNS message (16-bit length).
const PacketSizeMax = 65535

// Packet represents a DNS message (RFC 1035 Section 4.1) as a wire-format
// buffer plus metadata.
//
// The buffer is authoritative: append operations write directly into it,
// maintaining the header section counts and a name compression map, and
// fail with ErrSizeExceeded (leaving the packet unchanged) when the
// configured size ceiling would be crossed. Received packets are parsed
// lazily: Extract populates the Questions, Answer and Opt views from the
// buffer.
//
// A packet also carries reception metadata (interface, transport,
// addresses, timestamp) so protocol rules that depend on where a message
// arrived can be applied after the fact.
type Packet struct {
	Protocol Protocol

	data    []byte
	maxSize int
	rindex  int
	names   map[string]int // encoded name -> buffer offset, for compression

	// RefuseCompression disables compression pointers for this packet.
	RefuseCompression bool

	// CanonicalForm lowercases appended names and implies no compression,
	// producing RFC 4034 Section 6 canonical wire form for signature data.
	CanonicalForm bool

	// Reception metadata. Zero values mean locally generated.
	IfIndex     int
	Family      Family
	IPProto     IPProto
	Sender      netip.AddrPort
	Destination netip.AddrPort
	Timestamp   time.Time

	// Extracted views, populated by Extract.
	Questions []Question
	Answer    *Answer
	Opt       *OPTRecord
	extracted bool

	// More chains packets belonging to the same logical response: TCP
	// streams may carry several messages, and mDNS queries with the TC
	// bit continue in follow-up packets (RFC 6762 Section 7.2).
	More *Packet
}

// NewPacket creates an empty packet with a zeroed header. maxSize bounds
// append operations; values outside (HeaderSize, PacketSizeMax] are
// clamped to PacketSizeMax.
func NewPacket(proto Protocol, maxSize int) *Packet {
	if maxSize <= HeaderSize || maxSize > PacketSizeMax {
		maxSize = PacketSizeMax
	}
	return &Packet{
		Protocol: proto,
		data:     make([]byte, HeaderSize, HeaderSize+64),
		maxSize:  maxSize,
	}
}

// NewQueryPacket creates a query packet for the given RRset with a fresh
// question section. rd sets the Recursion Desired flag; LLMNR and mDNS
// queries must leave it unset (RFC 4795 Section 2.1.1, RFC 6762
// Section 18.6).
func NewQueryPacket(proto Protocol, key ResourceKey, maxSize int, rd bool) (*Packet, error) {
	p := NewPacket(proto, maxSize)
	var flags uint16
	if rd && proto == ProtocolDNS {
		flags |= RDFlag
	}
	p.SetFlags(flags)
	if err := p.AppendQuestion(QuestionFromKey(key)); err != nil {
		return nil, err
	}
	return p, nil
}

// PacketFromWire wraps a received wire image. The buffer is not copied.
func PacketFromWire(proto Protocol, wire []byte) (*Packet, error) {
	if len(wire) < HeaderSize {
		return nil, fmt.Errorf("%w: message shorter than header", ErrDNSError)
	}
	if len(wire) > PacketSizeMax {
		return nil, fmt.Errorf("%w: message larger than %d bytes", ErrDNSError, PacketSizeMax)
	}
	return &Packet{Protocol: proto, data: wire, maxSize: PacketSizeMax}, nil
}

// Data returns the wire image.
func (p *Packet) Data() []byte { return p.data }

// Len returns the current wire size.
func (p *Packet) Len() int { return len(p.data) }

// --- Header accessors (the buffer holds the authoritative header) ---

// ID returns the transaction ID.
func (p *Packet) ID() uint16 { return binary.BigEndian.Uint16(p.data[0:2]) }

// SetID sets the transaction ID.
func (p *Packet) SetID(id uint16) { binary.BigEndian.PutUint16(p.data[0:2], id) }

// Flags returns the header flags field.
func (p *Packet) Flags() uint16 { return binary.BigEndian.Uint16(p.data[2:4]) }

// SetFlags replaces the header flags field.
func (p *Packet) SetFlags(f uint16) { binary.BigEndian.PutUint16(p.data[2:4], f) }

// SetFlag sets or clears individual flag bits.
func (p *Packet) SetFlag(mask uint16, on bool) {
	f := p.Flags()
	if on {
		f |= mask
	} else {
		f &^= mask
	}
	p.SetFlags(f)
}

// Header returns the parsed message header.
func (p *Packet) Header() Header {
	off := 0
	h, _ := ParseHeader(p.data, &off)
	return h
}

// QDCount returns the question count.
func (p *Packet) QDCount() uint16 { return binary.BigEndian.Uint16(p.data[4:6]) }

// ANCount returns the answer count.
func (p *Packet) ANCount() uint16 { return binary.BigEndian.Uint16(p.data[6:8]) }

// NSCount returns the authority count.
func (p *Packet) NSCount() uint16 { return binary.BigEndian.Uint16(p.data[8:10]) }

// ARCount returns the additional count.
func (p *Packet) ARCount() uint16 { return binary.BigEndian.Uint16(p.data[10:12]) }

func (p *Packet) bumpCount(off int) {
	binary.BigEndian.PutUint16(p.data[off:off+2], binary.BigEndian.Uint16(p.data[off:off+2])+1)
}

// IsResponse reports whether the QR flag is set.
func (p *Packet) IsResponse() bool { return p.Flags()&QRFlag != 0 }

// IsTruncated reports whether the TC flag is set.
func (p *Packet) IsTruncated() bool { return p.Flags()&TCFlag != 0 }

// LLMNRConflict reports the LLMNR C flag (AA bit position).
func (p *Packet) LLMNRConflict() bool { return p.Flags()&AAFlag != 0 }

// LLMNRTentative reports the LLMNR T flag (RD bit position).
func (p *Packet) LLMNRTentative() bool { return p.Flags()&RDFlag != 0 }

// --- Append operations ---

// checkSize verifies n more bytes fit under the ceiling.
func (p *Packet) checkSize(n int) error {
	if len(p.data)+n > p.maxSize {
		return fmt.Errorf("%w: %d + %d > %d", ErrSizeExceeded, len(p.data), n, p.maxSize)
	}
	return nil
}

// truncateTo rolls the buffer back to size n and forgets compression
// offsets that pointed past it.
func (p *Packet) truncateTo(n int) {
	p.data = p.data[:n]
	for name, off := range p.names {
		if off >= n {
			delete(p.names, name)
		}
	}
}

// appendName writes a domain name at the end of the buffer, compressing
// against previously appended names unless compression is refused. In
// canonical form the name is lowercased and never compressed.
func (p *Packet) appendName(name string) error {
	name = trimDot(name)
	if p.CanonicalForm {
		name = strings.ToLower(name)
	}
	compress := !p.RefuseCompression && !p.CanonicalForm

	rest := name
	for rest != "" {
		if compress {
			if off, ok := p.names[strings.ToLower(rest)]; ok && off < 0x4000 {
				if err := p.checkSize(2); err != nil {
					return err
				}
				ptr := make([]byte, 2)
				binary.BigEndian.PutUint16(ptr, 0xC000|uint16(off))
				p.data = append(p.data, ptr...)
				return nil
			}
		}

		label := rest
		if i := strings.IndexByte(rest, '.'); i >= 0 {
			label = rest[:i]
		}
		if len(label) == 0 || len(label) > 63 {
			return fmt.Errorf("%w: invalid DNS label %q", ErrDNSError, label)
		}
		for j := 0; j < len(label); j++ {
			if label[j] > 0x7F {
				return fmt.Errorf("%w: domain_name must be ASCII", ErrDNSError)
			}
		}
		if err := p.checkSize(1 + len(label)); err != nil {
			return err
		}
		if compress && len(p.data) < 0x4000 {
			if p.names == nil {
				p.names = make(map[string]int)
			}
			p.names[strings.ToLower(rest)] = len(p.data)
		}
		p.data = append(p.data, byte(len(label)))
		p.data = append(p.data, label...)

		if len(label) == len(rest) {
			break
		}
		rest = rest[len(label)+1:]
	}

	if err := p.checkSize(1); err != nil {
		return err
	}
	p.data = append(p.data, 0)
	return nil
}

// AppendQuestion appends a question and bumps QDCOUNT. On ErrSizeExceeded
// the packet is unchanged.
func (p *Packet) AppendQuestion(q Question) error {
	saved := len(p.data)
	if err := p.appendQuestionInner(q); err != nil {
		p.truncateTo(saved)
		return err
	}
	p.bumpCount(4)
	return nil
}

func (p *Packet) appendQuestionInner(q Question) error {
	if err := p.appendName(q.Name); err != nil {
		return err
	}
	if err := p.checkSize(4); err != nil {
		return err
	}
	class := uint16(q.Class)
	if q.UnicastResponse {
		class |= MDNSCacheFlushBit
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], uint16(q.Type))
	binary.BigEndian.PutUint16(buf[2:4], class)
	p.data = append(p.data, buf...)
	return nil
}

// Message sections for AppendRecord.
const (
	SectionAnswer     = 6  // header offset of ANCOUNT
	SectionAuthority  = 8  // header offset of NSCOUNT
	SectionAdditional = 10 // header offset of ARCOUNT
)

// AppendRecord appends a resource record to the given section and bumps
// its count. ttlOverride, when non-negative, replaces the record's TTL;
// mDNS known-answer sections use this to send the decayed remaining TTL
// (RFC 6762 Section 7.1). On ErrSizeExceeded the packet is unchanged.
func (p *Packet) AppendRecord(section int, r Record, ttlOverride int64) error {
	saved := len(p.data)
	if err := p.appendRecordInner(r, ttlOverride); err != nil {
		p.truncateTo(saved)
		return err
	}
	p.bumpCount(section)
	return nil
}

func (p *Packet) appendRecordInner(r Record, ttlOverride int64) error {
	h := r.Header()
	if err := p.appendName(h.Name); err != nil {
		return err
	}
	rdata, err := r.MarshalRData()
	if err != nil {
		return err
	}
	if len(rdata) > 65535 {
		return fmt.Errorf("%w: rdata too large: %d bytes", ErrDNSError, len(rdata))
	}
	if err := p.checkSize(10 + len(rdata)); err != nil {
		return err
	}
	ttl := h.TTL
	if ttlOverride >= 0 {
		ttl = uint32(min(ttlOverride, 0xFFFFFFFF))
	}
	class := h.Class
	if h.CacheFlush {
		class |= MDNSCacheFlushBit
	}
	fixed := make([]byte, 10)
	binary.BigEndian.PutUint16(fixed[0:2], uint16(r.Type()))
	binary.BigEndian.PutUint16(fixed[2:4], class)
	binary.BigEndian.PutUint32(fixed[4:8], ttl)
	binary.BigEndian.PutUint16(fixed[8:10], uint16(len(rdata)))
	p.data = append(p.data, fixed...)
	p.data = append(p.data, rdata...)
	return nil
}

// AppendOPT appends an EDNS OPT pseudo-record to the additional section
// (RFC 6891). Queries advertise the given UDP payload size and, when do
// is set, request DNSSEC records.
func (p *Packet) AppendOPT(udpSize int, do bool) error {
	opt := CreateOPT(udpSize)
	opt.DNSSECOk = do
	b := opt.Marshal()
	if err := p.checkSize(len(b)); err != nil {
		return err
	}
	p.data = append(p.data, b...)
	p.bumpCount(SectionAdditional)
	return nil
}

// --- Extraction ---

// Extract parses the buffer into the Questions, Answer and Opt views.
// It is idempotent; subsequent calls are no-ops. The answer and authority
// sections land in Answer tagged with their section; additional records
// are scanned for the OPT pseudo-record and otherwise ignored.
func (p *Packet) Extract() error {
	if p.extracted {
		return nil
	}
	off := 0
	h, err := ParseHeader(p.data, &off)
	if err != nil {
		return err
	}

	questions := make([]Question, 0, min(int(h.QDCount), MaxQuestions))
	for range h.QDCount {
		q, err := ParseQuestion(p.data, &off)
		if err != nil {
			return err
		}
		questions = append(questions, q)
	}

	answer := NewAnswer(min(int(h.ANCount)+int(h.NSCount), MaxTotalRR))
	for _, sec := range []struct {
		count uint16
		flags AnswerFlags
	}{
		{h.ANCount, AnswerSectionAnswer},
		{h.NSCount, AnswerSectionAuthority},
	} {
		for range sec.count {
			r, err := ParseRecord(p.data, &off)
			if err != nil {
				return err
			}
			flags := sec.flags
			if p.Protocol == ProtocolMDNS {
				rh := r.Header()
				if !rh.CacheFlush {
					flags |= AnswerShared
				}
				if rh.TTL == 0 {
					flags |= AnswerGoodbye
				}
			}
			answer.Add(r, p.IfIndex, flags)
		}
	}

	var opt *OPTRecord
	for range h.ARCount {
		r, err := ParseRecord(p.data, &off)
		if err != nil {
			return err
		}
		if r.Type() != TypeOPT {
			continue
		}
		if opt != nil {
			return fmt.Errorf("%w: multiple OPT records (RFC 6891 §6.1.1)", ErrDNSError)
		}
		opt = ExtractOPT([]Record{r})
	}

	p.Questions = questions
	p.Answer = answer
	p.Opt = opt
	p.rindex = off
	p.extracted = true
	return nil
}

// Question returns the single question of an extracted packet, or false
// when the question count is not exactly one.
func (p *Packet) Question() (Question, bool) {
	if len(p.Questions) != 1 {
		return Question{}, false
	}
	return p.Questions[0], true
}

// RCode returns the response code with the EDNS extended bits merged in
// (RFC 6891 Section 6.1.3). Extract must have run for the extended bits
// to be available.
func (p *Packet) RCode() RCode {
	header := RCodeFromFlags(p.Flags())
	if p.Opt != nil {
		return MergeRCode(header, p.Opt.ExtendedRCode)
	}
	return header
}

// UDPSize returns the UDP payload size advertised by the sender, never
// below the classic 512-byte minimum (RFC 6891 Section 6.2.3).
func (p *Packet) UDPSize() int {
	if p.Opt != nil && int(p.Opt.UDPPayloadSize) > DefaultUDPPayloadSize {
		return int(p.Opt.UDPPayloadSize)
	}
	return DefaultUDPPayloadSize
}

// ValidateReply reports whether the packet is a plausible reply: QR set
// and opcode zero. LLMNR replies must carry exactly one question
// (RFC 4795 Section 2.1.1); mDNS replies usually carry none (RFC 6762
// Section 6).
func (p *Packet) ValidateReply() bool {
	h := p.Header()
	if !h.IsResponse() || h.Opcode() != 0 {
		return false
	}
	if p.Protocol == ProtocolLLMNR && h.QDCount != 1 {
		return false
	}
	return true
}

// ValidateQuery reports whether the packet is a plausible query: QR clear
// and opcode zero. LLMNR queries must carry exactly one question and no
// answers (RFC 4795 Section 2.1.1).
func (p *Packet) ValidateQuery() bool {
	h := p.Header()
	if h.IsResponse() || h.Opcode() != 0 {
		return false
	}
	if p.Protocol == ProtocolLLMNR && (h.QDCount != 1 || h.ANCount != 0) {
		return false
	}
	return true
}

// IsReplyFor reports whether an extracted packet answers a query with the
// given transaction ID and question key. A reply matches when it repeats
// the question verbatim, or when it carries a CNAME or DNAME that
// redirects the queried name (RFC 1034 Section 3.6.2).
func (p *Packet) IsReplyFor(id uint16, key ResourceKey) bool {
	if !p.ValidateReply() || p.ID() != id {
		return false
	}
	if err := p.Extract(); err != nil {
		return false
	}
	if q, ok := p.Question(); ok {
		return key.Equal(q.Key())
	}
	// mDNS replies repeat no question; match against the answer instead.
	if p.Protocol == ProtocolMDNS {
		for _, it := range p.Answer.Items() {
			if key.MatchesRecord(it.Record) || key.MatchesCNAMEOrDNAME(it.Record) {
				return true
			}
		}
	}
	return false
}
