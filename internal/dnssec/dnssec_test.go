package dnssec

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/lernadns/internal/dns"
)

func testTime() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestKeyTag(t *testing.T) {
	key := &dns.DNSKEYRecord{
		Flags:     0x0101,
		Protocol:  3,
		Algorithm: dns.AlgorithmED25519,
		PublicKey: []byte{0x01, 0x02},
	}
	// RDATA is 01 01 03 0f 01 02; pairwise 16-bit sum is 0x0512.
	assert.Equal(t, uint16(0x0512), KeyTag(key))
}

// newEd25519Key returns a zone-signing DNSKEY at owner plus its private key.
func newEd25519Key(t *testing.T, owner string) (*dns.DNSKEYRecord, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key := &dns.DNSKEYRecord{
		H:         dns.RRHeader{Name: owner, Class: uint16(dns.ClassIN), TTL: 3600},
		Flags:     dns.DNSKEYFlagZoneKey,
		Protocol:  dns.DNSKEYProtocol,
		Algorithm: dns.AlgorithmED25519,
		PublicKey: pub,
	}
	return key, priv
}

func aRecord(name string, ttl uint32, ip string) dns.Record {
	return dns.NewIPRecord(
		dns.RRHeader{Name: name, Class: uint16(dns.ClassIN), TTL: ttl},
		net.ParseIP(ip).To4(),
	)
}

// signRRSet builds an RRSIG over rrset and signs it with the Ed25519 key.
func signRRSet(t *testing.T, rrset []dns.Record, key *dns.DNSKEYRecord, priv ed25519.PrivateKey, labels uint8) *dns.RRSIGRecord {
	t.Helper()
	now := uint32(testTime().Unix())
	sig := &dns.RRSIGRecord{
		H:           dns.RRHeader{Name: rrset[0].Header().Name, Class: uint16(dns.ClassIN), TTL: rrset[0].Header().TTL},
		TypeCovered: rrset[0].Type(),
		Algorithm:   key.Algorithm,
		Labels:      labels,
		OriginalTTL: rrset[0].Header().TTL,
		Inception:   now - 3600,
		Expiration:  now + 3600,
		KeyTag:      KeyTag(key),
		SignerName:  key.H.Name,
	}
	data, err := signedData(sig, rrset)
	require.NoError(t, err)
	sig.Signature = ed25519.Sign(priv, data)
	return sig
}

func TestVerifyRRSetEd25519(t *testing.T) {
	key, priv := newEd25519Key(t, "example.org")
	rrset := []dns.Record{
		aRecord("www.example.org", 300, "192.0.2.1"),
		aRecord("www.example.org", 300, "192.0.2.2"),
	}
	sig := signRRSet(t, rrset, key, priv, 3)

	require.NoError(t, VerifyRRSet(testTime(), rrset, sig, key))

	// Owner case must not matter.
	rrset[0].SetHeader(dns.RRHeader{Name: "WWW.Example.ORG", Class: uint16(dns.ClassIN), TTL: 300})
	require.NoError(t, VerifyRRSet(testTime(), rrset, sig, key))

	// Tampered RDATA fails.
	tampered := []dns.Record{
		aRecord("www.example.org", 300, "192.0.2.1"),
		aRecord("www.example.org", 300, "192.0.2.99"),
	}
	assert.ErrorIs(t, VerifyRRSet(testTime(), tampered, sig, key), ErrSignatureInvalid)
}

func TestVerifyRRSetChecksKeyEligibility(t *testing.T) {
	key, priv := newEd25519Key(t, "example.org")
	rrset := []dns.Record{aRecord("www.example.org", 300, "192.0.2.1")}
	sig := signRRSet(t, rrset, key, priv, 3)

	revoked := *key
	revoked.Flags |= dns.DNSKEYFlagRevoked
	assert.ErrorIs(t, VerifyRRSet(testTime(), rrset, sig, &revoked), ErrKeyMismatch)

	notZone := *key
	notZone.Flags = 0
	assert.ErrorIs(t, VerifyRRSet(testTime(), rrset, sig, &notZone), ErrKeyMismatch)

	wrongTag := *sig
	wrongTag.KeyTag++
	assert.ErrorIs(t, VerifyRRSet(testTime(), rrset, &wrongTag, key), ErrKeyMismatch)

	// Signer that is not above the owner.
	outside, outsidePriv := newEd25519Key(t, "other.test")
	badSig := signRRSet(t, rrset, outside, outsidePriv, 3)
	assert.ErrorIs(t, VerifyRRSet(testTime(), rrset, badSig, outside), ErrKeyMismatch)
}

func TestVerifyRRSetValidityWindow(t *testing.T) {
	key, priv := newEd25519Key(t, "example.org")
	rrset := []dns.Record{aRecord("www.example.org", 300, "192.0.2.1")}
	sig := signRRSet(t, rrset, key, priv, 3)

	assert.ErrorIs(t, VerifyRRSet(testTime().Add(2*time.Hour), rrset, sig, key), ErrSignatureExpired)
	assert.ErrorIs(t, VerifyRRSet(testTime().Add(-2*time.Hour), rrset, sig, key), ErrSignatureExpired)
}

func TestVerifyRRSetWildcard(t *testing.T) {
	key, priv := newEd25519Key(t, "example.org")
	rrset := []dns.Record{aRecord("host.example.org", 300, "192.0.2.7")}

	// Labels=2 means the signature covers *.example.org, and the signed
	// data is built over the wildcard owner rather than the expansion.
	sig := signRRSet(t, rrset, key, priv, 2)
	require.NoError(t, VerifyRRSet(testTime(), rrset, sig, key))

	// A deeper expansion of the same wildcard verifies with the same key.
	deeper := []dns.Record{aRecord("a.b.example.org", 300, "192.0.2.7")}
	deepSig := signRRSet(t, deeper, key, priv, 2)
	require.NoError(t, VerifyRRSet(testTime(), deeper, deepSig, key))
}

func TestVerifyRRSetECDSAP256(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	pub := make([]byte, 64)
	priv.PublicKey.X.FillBytes(pub[:32])
	priv.PublicKey.Y.FillBytes(pub[32:])
	key := &dns.DNSKEYRecord{
		H:         dns.RRHeader{Name: "example.org", Class: uint16(dns.ClassIN), TTL: 3600},
		Flags:     dns.DNSKEYFlagZoneKey,
		Protocol:  dns.DNSKEYProtocol,
		Algorithm: dns.AlgorithmECDSAP256SHA256,
		PublicKey: pub,
	}

	rrset := []dns.Record{aRecord("www.example.org", 300, "192.0.2.1")}
	now := uint32(testTime().Unix())
	sig := &dns.RRSIGRecord{
		H:           dns.RRHeader{Name: "www.example.org", Class: uint16(dns.ClassIN), TTL: 300},
		TypeCovered: dns.TypeA,
		Algorithm:   dns.AlgorithmECDSAP256SHA256,
		Labels:      3,
		OriginalTTL: 300,
		Inception:   now - 3600,
		Expiration:  now + 3600,
		KeyTag:      KeyTag(key),
		SignerName:  "example.org",
	}
	data, err := signedData(sig, rrset)
	require.NoError(t, err)
	digest := sha256.Sum256(data)
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	require.NoError(t, err)
	sig.Signature = make([]byte, 64)
	r.FillBytes(sig.Signature[:32])
	s.FillBytes(sig.Signature[32:])

	require.NoError(t, VerifyRRSet(testTime(), rrset, sig, key))
}

func TestVerifyRRSetRSASHA256(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	// RFC 3110 key form: exponent length, exponent, modulus.
	exp := []byte{0x01, 0x00, 0x01} // 65537
	pub := append([]byte{byte(len(exp))}, exp...)
	pub = append(pub, priv.PublicKey.N.Bytes()...)
	key := &dns.DNSKEYRecord{
		H:         dns.RRHeader{Name: "example.org", Class: uint16(dns.ClassIN), TTL: 3600},
		Flags:     dns.DNSKEYFlagZoneKey,
		Protocol:  dns.DNSKEYProtocol,
		Algorithm: dns.AlgorithmRSASHA256,
		PublicKey: pub,
	}

	rrset := []dns.Record{aRecord("www.example.org", 300, "192.0.2.1")}
	now := uint32(testTime().Unix())
	sig := &dns.RRSIGRecord{
		H:           dns.RRHeader{Name: "www.example.org", Class: uint16(dns.ClassIN), TTL: 300},
		TypeCovered: dns.TypeA,
		Algorithm:   dns.AlgorithmRSASHA256,
		Labels:      3,
		OriginalTTL: 300,
		Inception:   now - 3600,
		Expiration:  now + 3600,
		KeyTag:      KeyTag(key),
		SignerName:  "example.org",
	}
	data, err := signedData(sig, rrset)
	require.NoError(t, err)
	digest := sha256.Sum256(data)
	sig.Signature, err = rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	require.NoError(t, err)

	require.NoError(t, VerifyRRSet(testTime(), rrset, sig, key))
}

func TestMatchesDS(t *testing.T) {
	key, _ := newEd25519Key(t, "example.org")

	ds := &dns.DSRecord{
		H:          dns.RRHeader{Name: "example.org", Class: uint16(dns.ClassIN), TTL: 3600},
		KeyTag:     KeyTag(key),
		Algorithm:  key.Algorithm,
		DigestType: dns.DigestSHA256,
	}
	// digest(canonical owner | DNSKEY RDATA)
	owner, err := dns.EncodeName("example.org")
	require.NoError(t, err)
	rdata, err := key.MarshalRData()
	require.NoError(t, err)
	sum := sha256.Sum256(append(owner, rdata...))
	ds.Digest = sum[:]

	ok, err := MatchesDS(ds, key, "Example.ORG")
	require.NoError(t, err)
	assert.True(t, ok)

	ds.Digest[0] ^= 0xFF
	ok, err = MatchesDS(ds, key, "example.org")
	require.NoError(t, err)
	assert.False(t, ok)

	ds.KeyTag++
	ok, err = MatchesDS(ds, key, "example.org")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyRRSetSearch(t *testing.T) {
	key, priv := newEd25519Key(t, "example.org")
	decoy, _ := newEd25519Key(t, "example.org")
	rrset := []dns.Record{aRecord("www.example.org", 300, "192.0.2.1")}
	sig := signRRSet(t, rrset, key, priv, 3)

	foundSig, foundKey, err := VerifyRRSetSearch(testTime(), rrset, []*dns.RRSIGRecord{sig}, []*dns.DNSKEYRecord{decoy, key})
	require.NoError(t, err)
	assert.Same(t, sig, foundSig)
	assert.Same(t, key, foundKey)

	_, _, err = VerifyRRSetSearch(testTime(), rrset, []*dns.RRSIGRecord{sig}, []*dns.DNSKEYRecord{decoy})
	assert.ErrorIs(t, err, ErrNoMatchingKey)

	// A signature covering some other type is never tried.
	other := *sig
	other.TypeCovered = dns.TypeAAAA
	_, _, err = VerifyRRSetSearch(testTime(), rrset, []*dns.RRSIGRecord{&other}, []*dns.DNSKEYRecord{key})
	assert.ErrorIs(t, err, ErrNoMatchingKey)
}
