package trust

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/lernadns/internal/dns"
	"github.com/jroosing/lernadns/internal/dnssec"
)

func TestBuiltinRootAnchor(t *testing.T) {
	a := New(nil)

	ans, ok := a.LookupPositive(dns.NewKey(".", dns.TypeDS, dns.ClassIN))
	require.True(t, ok)
	require.Equal(t, 2, ans.Size())

	tags := map[uint16]bool{}
	for _, it := range ans.Items() {
		ds := it.Record.(*dns.DSRecord)
		tags[ds.KeyTag] = true
		assert.Equal(t, dns.AlgorithmRSASHA256, ds.Algorithm)
		assert.Equal(t, dns.DigestSHA256, ds.DigestType)
		assert.Len(t, ds.Digest, sha256.Size)
		assert.NotZero(t, it.Flags&dns.AnswerAuthenticated)
	}
	assert.True(t, tags[19036])
	assert.True(t, tags[20326])
}

func TestLookupPositiveOnlyServesKeyMaterial(t *testing.T) {
	a := New(nil)
	_, ok := a.LookupPositive(dns.NewKey(".", dns.TypeA, dns.ClassIN))
	assert.False(t, ok)
}

func TestBuiltinNegativeAnchors(t *testing.T) {
	a := New(nil)

	assert.True(t, a.LookupNegative("local"))
	assert.True(t, a.LookupNegative("printer.local"))
	assert.True(t, a.LookupNegative("1.0.0.10.in-addr.arpa"))
	assert.True(t, a.LookupNegative("Foo.CORP"))
	assert.False(t, a.LookupNegative("example.com"))
	assert.False(t, a.LookupNegative("."))
}

func TestPositiveAnchorShadowsNegativeParent(t *testing.T) {
	a := New(nil)
	a.AddNegative("example.com")

	ans := dns.NewAnswer(1)
	ans.Add(&dns.DSRecord{
		H:          dns.RRHeader{Name: "signed.example.com", Class: uint16(dns.ClassIN)},
		KeyTag:     1,
		Algorithm:  dns.AlgorithmRSASHA256,
		DigestType: dns.DigestSHA256,
		Digest:     make([]byte, sha256.Size),
	}, 0, 0)
	a.AddPositive(dns.NewKey("signed.example.com", dns.TypeDS, dns.ClassIN), ans)

	assert.True(t, a.LookupNegative("example.com"))
	assert.False(t, a.LookupNegative("signed.example.com"))
	assert.False(t, a.LookupNegative("www.signed.example.com"))
}

func TestAddPositiveMarksAuthenticated(t *testing.T) {
	a := New(nil)

	ans := dns.NewAnswer(1)
	ans.Add(&dns.DSRecord{
		H:      dns.RRHeader{Name: "example.org", Class: uint16(dns.ClassIN)},
		KeyTag: 7, Algorithm: dns.AlgorithmRSASHA256, DigestType: dns.DigestSHA256,
		Digest: make([]byte, sha256.Size),
	}, 0, 0)
	a.AddPositive(dns.NewKey("example.org", dns.TypeDS, dns.ClassIN), ans)

	got, ok := a.LookupPositive(dns.NewKey("Example.ORG", dns.TypeDS, dns.ClassIN))
	require.True(t, ok)
	assert.NotZero(t, got.Items()[0].Flags&dns.AnswerAuthenticated)
}

func TestCheckRevokedDropsDSAnchor(t *testing.T) {
	a := New(nil)

	// Build a DNSKEY and install a DS anchor derived from it.
	key := &dns.DNSKEYRecord{
		H:         dns.RRHeader{Name: "example.org", Class: uint16(dns.ClassIN)},
		Flags:     dns.DNSKEYFlagZoneKey | dns.DNSKEYFlagSEP,
		Protocol:  dns.DNSKEYProtocol,
		Algorithm: dns.AlgorithmED25519,
		PublicKey: make([]byte, 32),
	}
	owner, err := dns.EncodeName("example.org")
	require.NoError(t, err)
	rdata, err := key.MarshalRData()
	require.NoError(t, err)
	sum := sha256.Sum256(append(owner, rdata...))

	ans := dns.NewAnswer(1)
	ans.Add(&dns.DSRecord{
		H:          dns.RRHeader{Name: "example.org", Class: uint16(dns.ClassIN)},
		KeyTag:     dnssec.KeyTag(key),
		Algorithm:  key.Algorithm,
		DigestType: dns.DigestSHA256,
		Digest:     sum[:],
	}, 0, 0)
	dsKey := dns.NewKey("example.org", dns.TypeDS, dns.ClassIN)
	a.AddPositive(dsKey, ans)

	// A revoked copy of the same key removes the anchor.
	revoked := *key
	revoked.Flags |= dns.DNSKEYFlagRevoked
	a.CheckRevoked(&revoked)

	_, ok := a.LookupPositive(dsKey)
	assert.False(t, ok)

	// The built-in root anchor is untouched.
	_, ok = a.LookupPositive(dns.NewKey(".", dns.TypeDS, dns.ClassIN))
	assert.True(t, ok)
}

func TestCheckRevokedIgnoresUnrevokedKey(t *testing.T) {
	a := New(nil)
	key := &dns.DNSKEYRecord{
		H:         dns.RRHeader{Name: "example.org", Class: uint16(dns.ClassIN)},
		Flags:     dns.DNSKEYFlagZoneKey,
		Protocol:  dns.DNSKEYProtocol,
		Algorithm: dns.AlgorithmED25519,
		PublicKey: make([]byte, 32),
	}
	a.CheckRevoked(key)
	assert.False(t, a.IsEmpty())
}
