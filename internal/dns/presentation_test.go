package dns

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecordType(t *testing.T) {
	for in, want := range map[string]RecordType{
		"a":       TypeA,
		"AAAA":    TypeAAAA,
		"ptr":     TypePTR,
		"TYPE257": RecordType(257),
	} {
		got, err := ParseRecordType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseRecordType("bogus")
	assert.Error(t, err)
}

func TestFormatRecord(t *testing.T) {
	a := NewIPRecord(NewRRHeader("host.example.com", ClassIN, 60), net.IPv4(192, 0, 2, 1))
	assert.Equal(t, "host.example.com 60 IN A 192.0.2.1", FormatRecord(a))

	cname := NewCNAMERecord(NewRRHeader("www.example.com", ClassIN, 300), "example.com")
	assert.Equal(t, "www.example.com 300 IN CNAME example.com.", FormatRecord(cname))

	txt := NewOpaqueRecord(NewRRHeader("example.com", ClassIN, 30), TypeTXT, []byte{5, 'h', 'e', 'l', 'l', 'o'})
	assert.Equal(t, `example.com 30 IN TXT "hello"`, FormatRecord(txt))
}
