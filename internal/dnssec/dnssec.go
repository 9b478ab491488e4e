// Package dnssec implements the cryptographic half of DNSSEC validation
// (RFC 4034/4035): DNSKEY key tags, DS digest matching, and RRSIG
// verification over the canonical wire form of an RRset.
//
// The package is deliberately free of any resolver state. The transaction
// layer decides WHICH keys to trust and WHEN to verify; this package only
// answers whether a given signature checks out against a given key.
package dnssec

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/jroosing/lernadns/internal/dns"
)

var (
	// ErrUnsupportedAlgorithm marks algorithms or digest types this
	// validator does not implement. Per RFC 4035 Section 5.2 the caller
	// should treat affected RRsets as insecure, not bogus.
	ErrUnsupportedAlgorithm = errors.New("unsupported DNSSEC algorithm")

	// ErrSignatureInvalid means the signature was checked and failed.
	ErrSignatureInvalid = errors.New("DNSSEC signature invalid")

	// ErrKeyMismatch means the key cannot have produced this signature
	// (key tag, algorithm, signer name or flags rule it out).
	ErrKeyMismatch = errors.New("DNSKEY does not match RRSIG")

	// ErrSignatureExpired means the RRSIG validity window excludes now.
	ErrSignatureExpired = errors.New("RRSIG outside validity window")

	// ErrNoMatchingKey means no supplied key verified any supplied RRSIG.
	ErrNoMatchingKey = errors.New("no DNSKEY verified the RRset")
)

// KeyTag computes the RFC 4034 Appendix B key tag over the DNSKEY RDATA.
// Key tags are a hint, not an identifier: distinct keys may share one.
func KeyTag(key *dns.DNSKEYRecord) uint16 {
	rdata, err := key.MarshalRData()
	if err != nil {
		return 0
	}
	var acc uint32
	for i, b := range rdata {
		if i&1 == 0 {
			acc += uint32(b) << 8
		} else {
			acc += uint32(b)
		}
	}
	acc += acc >> 16 & 0xFFFF
	return uint16(acc & 0xFFFF)
}

// dsDigest computes the DS digest input digest(owner | DNSKEY RDATA) with
// the owner name in canonical (lowercased, uncompressed) wire form.
func dsDigest(ownerName string, key *dns.DNSKEYRecord, digestType uint8) ([]byte, error) {
	owner, err := dns.EncodeName(strings.ToLower(ownerName))
	if err != nil {
		return nil, err
	}
	rdata, err := key.MarshalRData()
	if err != nil {
		return nil, err
	}
	switch digestType {
	case dns.DigestSHA1:
		h := sha1.Sum(append(owner, rdata...))
		return h[:], nil
	case dns.DigestSHA256:
		h := sha256.Sum256(append(owner, rdata...))
		return h[:], nil
	case dns.DigestSHA384:
		h := sha512.Sum384(append(owner, rdata...))
		return h[:], nil
	}
	return nil, fmt.Errorf("%w: DS digest type %d", ErrUnsupportedAlgorithm, digestType)
}

// MatchesDS reports whether the DNSKEY at ownerName is the key the DS
// record delegates to: same key tag and algorithm, and a matching digest.
func MatchesDS(ds *dns.DSRecord, key *dns.DNSKEYRecord, ownerName string) (bool, error) {
	if ds.KeyTag != KeyTag(key) || ds.Algorithm != key.Algorithm {
		return false, nil
	}
	digest, err := dsDigest(ownerName, key, ds.DigestType)
	if err != nil {
		return false, err
	}
	return bytes.Equal(digest, ds.Digest), nil
}

// canonicalRData returns the record's RDATA with embedded domain names
// lowercased, per RFC 4034 Section 6.2. Only the record types this
// resolver parses into name-carrying forms need rewriting; everything
// else is already canonical as raw bytes.
func canonicalRData(r dns.Record) ([]byte, error) {
	switch rec := r.(type) {
	case *dns.NameRecord:
		c := *rec
		c.Target = strings.ToLower(c.Target)
		return c.MarshalRData()
	case *dns.SOARecord:
		c := *rec
		c.MName = strings.ToLower(c.MName)
		c.RName = strings.ToLower(c.RName)
		return c.MarshalRData()
	}
	return r.MarshalRData()
}

// signedData builds the RFC 4034 Section 3.1.8.1 signature input:
// the RRSIG RDATA with the signature field empty, followed by each RR of
// the covered set in canonical form, sorted by canonical RDATA.
func signedData(sig *dns.RRSIGRecord, rrset []dns.Record) ([]byte, error) {
	stub := *sig
	stub.Signature = nil
	stub.SignerName = strings.ToLower(stub.SignerName)
	buf, err := stub.MarshalRData()
	if err != nil {
		return nil, err
	}

	owner := strings.ToLower(rrset[0].Header().Name)
	if int(sig.Labels) < dns.CountLabels(owner) {
		// Wildcard expansion: the signature was made over the wildcard
		// owner, "*" plus the rightmost Labels labels (RFC 4035 §5.3.2).
		labels := strings.Split(strings.TrimSuffix(owner, "."), ".")
		owner = "*." + strings.Join(labels[len(labels)-int(sig.Labels):], ".")
	}
	ownerWire, err := dns.EncodeName(owner)
	if err != nil {
		return nil, err
	}

	rdatas := make([][]byte, 0, len(rrset))
	for _, r := range rrset {
		rd, err := canonicalRData(r)
		if err != nil {
			return nil, err
		}
		rdatas = append(rdatas, rd)
	}
	sort.Slice(rdatas, func(i, j int) bool { return bytes.Compare(rdatas[i], rdatas[j]) < 0 })

	for _, rd := range rdatas {
		buf = append(buf, ownerWire...)
		var fixed [10]byte
		binary.BigEndian.PutUint16(fixed[0:2], uint16(sig.TypeCovered))
		binary.BigEndian.PutUint16(fixed[2:4], rrset[0].Header().Class)
		binary.BigEndian.PutUint32(fixed[4:8], sig.OriginalTTL)
		binary.BigEndian.PutUint16(fixed[8:10], uint16(len(rd)))
		buf = append(buf, fixed[:]...)
		buf = append(buf, rd...)
	}
	return buf, nil
}

// verifySignature checks sig over data with the given key's public key
// material, dispatching on the DNSSEC algorithm number.
func verifySignature(key *dns.DNSKEYRecord, data, sig []byte) error {
	switch key.Algorithm {
	case dns.AlgorithmRSASHA1:
		return verifyRSA(key.PublicKey, crypto.SHA1, sha1sum(data), sig)
	case dns.AlgorithmRSASHA256:
		sum := sha256.Sum256(data)
		return verifyRSA(key.PublicKey, crypto.SHA256, sum[:], sig)
	case dns.AlgorithmRSASHA512:
		sum := sha512.Sum512(data)
		return verifyRSA(key.PublicKey, crypto.SHA512, sum[:], sig)
	case dns.AlgorithmECDSAP256SHA256:
		sum := sha256.Sum256(data)
		return verifyECDSA(key.PublicKey, elliptic.P256(), sum[:], sig, 32)
	case dns.AlgorithmECDSAP384SHA384:
		sum := sha512.Sum384(data)
		return verifyECDSA(key.PublicKey, elliptic.P384(), sum[:], sig, 48)
	case dns.AlgorithmED25519:
		if len(key.PublicKey) != ed25519.PublicKeySize {
			return fmt.Errorf("%w: Ed25519 key length %d", ErrSignatureInvalid, len(key.PublicKey))
		}
		if !ed25519.Verify(ed25519.PublicKey(key.PublicKey), data, sig) {
			return ErrSignatureInvalid
		}
		return nil
	}
	return fmt.Errorf("%w: algorithm %d", ErrUnsupportedAlgorithm, key.Algorithm)
}

func sha1sum(data []byte) []byte {
	h := sha1.Sum(data)
	return h[:]
}

// verifyRSA parses the RFC 3110 exponent-length-prefixed key form and
// checks a PKCS#1 v1.5 signature.
func verifyRSA(pub []byte, hash crypto.Hash, digest, sig []byte) error {
	if len(pub) < 3 {
		return fmt.Errorf("%w: RSA key too short", ErrSignatureInvalid)
	}
	expLen := int(pub[0])
	off := 1
	if expLen == 0 {
		// Three-byte length form for exponents over 255 bytes.
		if len(pub) < 3 {
			return fmt.Errorf("%w: RSA key too short", ErrSignatureInvalid)
		}
		expLen = int(binary.BigEndian.Uint16(pub[1:3]))
		off = 3
	}
	if off+expLen >= len(pub) {
		return fmt.Errorf("%w: RSA exponent overruns key", ErrSignatureInvalid)
	}
	e := new(big.Int).SetBytes(pub[off : off+expLen])
	if !e.IsInt64() || e.Int64() > 1<<31-1 || e.Int64() < 3 {
		return fmt.Errorf("%w: RSA exponent out of range", ErrSignatureInvalid)
	}
	key := &rsa.PublicKey{
		E: int(e.Int64()),
		N: new(big.Int).SetBytes(pub[off+expLen:]),
	}
	if err := rsa.VerifyPKCS1v15(key, hash, digest, sig); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

// verifyECDSA checks an ECDSA signature in the DNSSEC raw r|s form
// (RFC 6605) against an uncompressed x|y public key.
func verifyECDSA(pub []byte, curve elliptic.Curve, digest, sig []byte, fieldLen int) error {
	if len(pub) != 2*fieldLen || len(sig) != 2*fieldLen {
		return fmt.Errorf("%w: ECDSA key/signature length", ErrSignatureInvalid)
	}
	key := &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(pub[:fieldLen]),
		Y:     new(big.Int).SetBytes(pub[fieldLen:]),
	}
	r := new(big.Int).SetBytes(sig[:fieldLen])
	s := new(big.Int).SetBytes(sig[fieldLen:])
	if !ecdsa.Verify(key, digest, r, s) {
		return ErrSignatureInvalid
	}
	return nil
}

// VerifyRRSet verifies one RRSIG over one RRset with one DNSKEY at the
// given time. The rrset must be non-empty and homogeneous: every record
// shares the owner name, class and the RRSIG's covered type.
func VerifyRRSet(now time.Time, rrset []dns.Record, sig *dns.RRSIGRecord, key *dns.DNSKEYRecord) error {
	if len(rrset) == 0 {
		return fmt.Errorf("%w: empty RRset", ErrSignatureInvalid)
	}
	if !key.IsZoneKey() || key.IsRevoked() || key.Protocol != dns.DNSKEYProtocol {
		return ErrKeyMismatch
	}
	if key.Algorithm != sig.Algorithm || KeyTag(key) != sig.KeyTag {
		return ErrKeyMismatch
	}
	if !dns.NamesEqual(sig.SignerName, key.H.Name) {
		return ErrKeyMismatch
	}
	owner := rrset[0].Header().Name
	// The signer must be the owner itself or a zone above it.
	if !dns.NamesEqual(owner, sig.SignerName) && !dns.NameEndsWith(owner, sig.SignerName) {
		return ErrKeyMismatch
	}
	if int(sig.Labels) > dns.CountLabels(owner) {
		return fmt.Errorf("%w: RRSIG labels exceed owner labels", ErrSignatureInvalid)
	}
	if !sig.ValidAt(uint32(now.Unix())) {
		return ErrSignatureExpired
	}

	data, err := signedData(sig, rrset)
	if err != nil {
		return err
	}
	return verifySignature(key, data, sig.Signature)
}

// VerifyRRSetSearch tries every supplied signature against every supplied
// key and returns the first pair that validates the RRset. Unsupported
// algorithms are skipped; if nothing verifies, the returned error is
// ErrNoMatchingKey unless every attempt was unsupported, in which case
// ErrUnsupportedAlgorithm surfaces so the caller can treat the RRset as
// insecure rather than bogus.
func VerifyRRSetSearch(now time.Time, rrset []dns.Record, sigs []*dns.RRSIGRecord, keys []*dns.DNSKEYRecord) (*dns.RRSIGRecord, *dns.DNSKEYRecord, error) {
	tried := false
	unsupported := false
	for _, sig := range sigs {
		if len(rrset) > 0 && sig.TypeCovered != rrset[0].Type() {
			continue
		}
		for _, key := range keys {
			err := VerifyRRSet(now, rrset, sig, key)
			if err == nil {
				return sig, key, nil
			}
			if errors.Is(err, ErrUnsupportedAlgorithm) {
				unsupported = true
				continue
			}
			if !errors.Is(err, ErrKeyMismatch) {
				tried = true
			}
		}
	}
	if !tried && unsupported {
		return nil, nil, ErrUnsupportedAlgorithm
	}
	return nil, nil, ErrNoMatchingKey
}
