package dns

import (
	"encoding/binary"
	"fmt"
)

// Question represents a DNS question section entry (RFC 1035 Section 4.1.2).
//
// Each question specifies what the sender is asking for:
//   - Name: The domain name being queried
//   - Type: The record type requested (A, AAAA, MX, etc.)
//   - Class: Usually ClassIN (Internet)
//
// In mDNS queries the top bit of the class field requests a unicast reply
// (RFC 6762 Section 5.4); it is masked off during parsing and exposed as
// UnicastResponse.
type Question struct {
	Name            string
	Type            RecordType
	Class           RecordClass
	UnicastResponse bool
}

// Key returns the RRset key of this question.
func (q Question) Key() ResourceKey {
	return ResourceKey{Name: q.Name, Type: q.Type, Class: q.Class}
}

// QuestionFromKey builds a question asking for the given RRset.
func QuestionFromKey(k ResourceKey) Question {
	return Question{Name: k.Name, Type: k.Type, Class: k.Class}
}

// Marshal serializes the question to DNS wire format.
func (q Question) Marshal() ([]byte, error) {
	name, err := EncodeName(q.Name)
	if err != nil {
		return nil, err
	}
	class := uint16(q.Class)
	if q.UnicastResponse {
		class |= MDNSCacheFlushBit
	}
	b := make([]byte, 0, len(name)+4)
	b = append(b, name...)
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], uint16(q.Type))
	binary.BigEndian.PutUint16(buf[2:4], class)
	b = append(b, buf...)
	return b, nil
}

// ParseQuestion parses a question from the message at the given offset.
// It advances *off past the parsed question on success.
func ParseQuestion(msg []byte, off *int) (Question, error) {
	name, err := DecodeName(msg, off)
	if err != nil {
		return Question{}, err
	}
	if *off+4 > len(msg) {
		return Question{}, fmt.Errorf("%w: unexpected EOF while reading DNS question", ErrDNSError)
	}
	class := binary.BigEndian.Uint16(msg[*off+2 : *off+4])
	q := Question{
		Name:            name,
		Type:            RecordType(binary.BigEndian.Uint16(msg[*off : *off+2])),
		Class:           RecordClass(class &^ MDNSCacheFlushBit),
		UnicastResponse: class&MDNSCacheFlushBit != 0,
	}
	*off += 4
	return q, nil
}
