package dns

import (
	"errors"
	"fmt"
)

// Limits for incoming DNS messages to prevent resource exhaustion attacks.
const (
	MaxIncomingDNSMessageSize = 4096 // Maximum size of incoming datagram message
	MaxQuestions              = 4    // Maximum questions per query (RFC allows 1 typically)
	MaxRRPerSection           = 100  // Maximum resource records per section
	MaxTotalRR                = 200  // Maximum total resource records
)

// ParseQueryBounded parses an incoming DNS query with security bounds
// checking. It validates that the message is a standard query (not a
// response), uses opcode 0 (QUERY), and doesn't exceed resource limits.
//
// Returns an error if:
//   - Message exceeds MaxIncomingDNSMessageSize
//   - QR flag is set (packet is a response, not a query)
//   - Opcode is not 0 (only standard queries are supported)
//   - Question or RR counts exceed limits
func ParseQueryBounded(proto Protocol, msg []byte) (*Packet, error) {
	if len(msg) > MaxIncomingDNSMessageSize {
		return nil, errors.New("dns message too large")
	}
	p, err := PacketFromWire(proto, msg)
	if err != nil {
		return nil, err
	}

	h := p.Header()
	if h.IsResponse() {
		return nil, errors.New("invalid packet: QR flag set (response packet received)")
	}
	if h.Opcode() != 0 {
		return nil, fmt.Errorf("unsupported OpCode: %d", h.Opcode())
	}
	if err := validateSectionCounts(h, proto); err != nil {
		return nil, err
	}
	if err := p.Extract(); err != nil {
		return nil, err
	}
	return p, nil
}

// validateSectionCounts checks that section counts don't exceed limits.
// mDNS queries legitimately carry zero questions (continuation packets)
// and answers (known-answer sections), everything else requires exactly
// one question.
func validateSectionCounts(h Header, proto Protocol) error {
	qd := int(h.QDCount)
	an := int(h.ANCount)
	ns := int(h.NSCount)
	ar := int(h.ARCount)

	if qd > MaxQuestions {
		return errors.New("too many questions")
	}
	if proto != ProtocolMDNS && qd != 1 {
		return errors.New("unsupported question count")
	}
	if an > MaxRRPerSection || ns > MaxRRPerSection || ar > MaxRRPerSection {
		return errors.New("too many resource records")
	}
	if (an + ns + ar) > MaxTotalRR {
		return errors.New("too many total resource records")
	}
	return nil
}

// BuildErrorResponse constructs a DNS error response packet for a query.
// It preserves the transaction ID and RD flag from the request, sets the
// QR flag, repeats the question section, and applies the response code.
func BuildErrorResponse(req *Packet, rcode RCode) (*Packet, error) {
	resp := NewPacket(req.Protocol, PacketSizeMax)
	resp.SetID(req.ID())
	resp.SetFlags(buildResponseFlags(req.Flags(), uint16(rcode)))
	for _, q := range req.Questions {
		if err := resp.AppendQuestion(q); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// buildResponseFlags constructs the flags field for an error response.
//
// Flag construction:
//  1. Set QR flag (bit 15) to mark as response
//  2. Preserve RD flag (bit 8) from request if set
//  3. Clear existing RCODE and set new rcode in bits 3-0
func buildResponseFlags(reqFlags uint16, rcode uint16) uint16 {
	// Start with QR flag set (this is a response)
	flags := QRFlag

	// Preserve RD (Recursion Desired) from the request
	flags |= (reqFlags & RDFlag)

	// Clear RCODE bits and set new response code (low 4 bits)
	rcode &= RCodeMask
	flags = (flags &^ RCodeMask) | rcode

	return flags
}
