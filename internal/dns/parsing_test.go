package dns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildValidQuery(t *testing.T) []byte {
	t.Helper()
	p, err := NewQueryPacket(ProtocolDNS, NewKey("example.com", TypeA, ClassIN), PacketSizeMax, true)
	require.NoError(t, err)
	p.SetID(0x1234)
	return p.Data()
}

func TestParseQueryBounded(t *testing.T) {
	p, err := ParseQueryBounded(ProtocolDNS, buildValidQuery(t))
	require.NoError(t, err)

	q, ok := p.Question()
	require.True(t, ok)
	assert.Equal(t, "example.com", q.Name)
	assert.Equal(t, TypeA, q.Type)
	assert.Equal(t, uint16(0x1234), p.ID())
}

func TestParseQueryBoundedRejectsResponse(t *testing.T) {
	msg := buildValidQuery(t)
	msg[2] |= 0x80 // QR=1
	_, err := ParseQueryBounded(ProtocolDNS, msg)
	assert.Error(t, err)
}

func TestParseQueryBounded_TooLarge(t *testing.T) {
	msg := make([]byte, MaxIncomingDNSMessageSize+1)
	_, err := ParseQueryBounded(ProtocolDNS, msg)
	require.Error(t, err, "expected error for oversized message")
	assert.Contains(t, err.Error(), "too large")
}

func TestParseQueryBounded_UnsupportedOpcode(t *testing.T) {
	msg := buildValidQuery(t)
	msg[2] |= 0x08 // opcode 1 (IQUERY), bits 14-11

	_, err := ParseQueryBounded(ProtocolDNS, msg)
	require.Error(t, err, "expected error for unsupported opcode")
	assert.Contains(t, err.Error(), "OpCode")
}

func TestParseQueryBounded_QuestionCount(t *testing.T) {
	msg := append([]byte(nil), buildValidQuery(t)...)
	msg[5] = 2 // lie about QDCOUNT
	_, err := ParseQueryBounded(ProtocolDNS, msg)
	assert.Error(t, err, "non-mDNS queries must carry exactly one question")

	// mDNS continuation packets legitimately carry zero questions.
	bare := NewPacket(ProtocolMDNS, PacketSizeMax)
	_, err = ParseQueryBounded(ProtocolMDNS, bare.Data())
	assert.NoError(t, err)
}

func TestParseQueryBounded_TooManyRecords(t *testing.T) {
	msg := append([]byte(nil), buildValidQuery(t)...)
	msg[6] = 0xFF // ANCOUNT 65280
	msg[7] = 0
	_, err := ParseQueryBounded(ProtocolDNS, msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resource records")
}

func TestBuildErrorResponse(t *testing.T) {
	req, err := ParseQueryBounded(ProtocolDNS, buildValidQuery(t))
	require.NoError(t, err)

	resp, err := BuildErrorResponse(req, RCodeServFail)
	require.NoError(t, err)

	assert.Equal(t, req.ID(), resp.ID())
	assert.True(t, resp.IsResponse())
	assert.Equal(t, RCodeServFail, RCodeFromFlags(resp.Flags()))
	assert.NotZero(t, resp.Flags()&RDFlag, "RD must be preserved from the request")
	assert.Equal(t, uint16(1), resp.QDCount())
}
