// Package trust holds the DNSSEC trust anchor database: positive anchors
// (DS/DNSKEY RRsets trusted out of band, seeded with the IANA root KSKs)
// and negative anchors (names under which validation is not attempted,
// seeded with the private and special-use domains of RFC 6761/6762).
package trust

import (
	"encoding/hex"
	"log/slog"

	"github.com/jroosing/lernadns/internal/dns"
	"github.com/jroosing/lernadns/internal/dnssec"
)

// Root KSK DS digests from https://data.iana.org/root-anchors/root-anchors.xml.
const (
	rootDigest2015 = "49AAC11D7B6F6446702E54A1607371607A1A41855200FD2CE1CDDE32F24E8FB5" // key tag 19036
	rootDigest2017 = "E06D44B80B8F1D39A95C0B0D7C65D08458E880409BBC683457104237C7F8EC8D" // key tag 20326
)

// Domains that can never be delegated from the root zone: private reverse
// ranges, mDNS's .local, and well-known private TLDs. Validation below
// these names is pointless, so they ship as negative anchors.
var builtinNegative = []string{
	"test",
	"10.in-addr.arpa",
	"16.172.in-addr.arpa", "17.172.in-addr.arpa", "18.172.in-addr.arpa",
	"19.172.in-addr.arpa", "20.172.in-addr.arpa", "21.172.in-addr.arpa",
	"22.172.in-addr.arpa", "23.172.in-addr.arpa", "24.172.in-addr.arpa",
	"25.172.in-addr.arpa", "26.172.in-addr.arpa", "27.172.in-addr.arpa",
	"28.172.in-addr.arpa", "29.172.in-addr.arpa", "30.172.in-addr.arpa",
	"31.172.in-addr.arpa",
	"168.192.in-addr.arpa",
	"d.f.ip6.arpa",
	"local",
	"home", "corp",
	"lan", "intranet", "internal", "private",
}

// Anchor is the trust anchor store. It is owned by the event loop
// goroutine like the rest of the resolver state and is not locked.
type Anchor struct {
	log      *slog.Logger
	positive map[dns.KeyID]*dns.Answer
	negative map[string]struct{}
}

// New returns an anchor store with the built-in root DS RRset and the
// built-in negative anchors installed.
func New(log *slog.Logger) *Anchor {
	if log == nil {
		log = slog.Default()
	}
	a := &Anchor{
		log:      log,
		positive: make(map[dns.KeyID]*dns.Answer),
		negative: make(map[string]struct{}),
	}
	a.addBuiltinPositive()
	a.addBuiltinNegative()
	return a
}

func (a *Anchor) addBuiltinPositive() {
	// User-provided root anchors override the built-in ones.
	if a.knowsPositive(".") {
		return
	}
	key := dns.NewKey(".", dns.TypeDS, dns.ClassIN)
	ans := dns.NewAnswer(2)
	for _, ksk := range []struct {
		tag    uint16
		digest string
	}{
		{19036, rootDigest2015},
		{20326, rootDigest2017},
	} {
		digest, err := hex.DecodeString(ksk.digest)
		if err != nil {
			continue
		}
		ans.Add(&dns.DSRecord{
			H:          dns.RRHeader{Name: ".", Class: uint16(dns.ClassIN)},
			KeyTag:     ksk.tag,
			Algorithm:  dns.AlgorithmRSASHA256,
			DigestType: dns.DigestSHA256,
			Digest:     digest,
		}, 0, dns.AnswerAuthenticated)
	}
	a.positive[key.ID()] = ans
}

func (a *Anchor) addBuiltinNegative() {
	if len(a.negative) > 0 {
		return
	}
	for _, name := range builtinNegative {
		if a.knowsPositive(name) {
			continue
		}
		a.negative[dns.NormalizeName(name)] = struct{}{}
	}
}

// knowsPositive reports whether a DS or DNSKEY anchor exists at name.
func (a *Anchor) knowsPositive(name string) bool {
	_, ds := a.positive[dns.NewKey(name, dns.TypeDS, dns.ClassIN).ID()]
	_, key := a.positive[dns.NewKey(name, dns.TypeDNSKEY, dns.ClassIN).ID()]
	return ds || key
}

// AddPositive installs an anchor answer for the key. Must be called
// before resolution starts; typically fed from the database at startup.
func (a *Anchor) AddPositive(key dns.ResourceKey, ans *dns.Answer) {
	if key.Type != dns.TypeDS && key.Type != dns.TypeDNSKEY {
		return
	}
	ans.MarkAuthenticated(true)
	a.positive[key.ID()] = ans
	a.log.Debug("trust anchor installed", "key", key.String())
}

// AddNegative installs a negative anchor at name.
func (a *Anchor) AddNegative(name string) {
	a.negative[dns.NormalizeName(name)] = struct{}{}
}

// LookupPositive returns the anchored answer for key. Only DS and DNSKEY
// keys are ever served.
func (a *Anchor) LookupPositive(key dns.ResourceKey) (*dns.Answer, bool) {
	if key.Type != dns.TypeDS && key.Type != dns.TypeDNSKEY {
		return nil, false
	}
	ans, ok := a.positive[key.ID()]
	return ans, ok
}

// LookupNegative reports whether name, or any parent of it, carries a
// negative anchor. A positive anchor at a closer name shadows a negative
// anchor above it (RFC 7646 Section 1.1).
func (a *Anchor) LookupNegative(name string) bool {
	for n := dns.NormalizeName(name); ; {
		if _, ok := a.negative[n]; ok {
			return true
		}
		if a.knowsPositive(n) {
			return false
		}
		parent, ok := dns.ParentName(n)
		if !ok {
			return false
		}
		n = parent
	}
}

// CheckRevoked drops every positive anchor matched by the revoked DNSKEY:
// DS anchors whose digest the key satisfies, and DNSKEY anchors equal to
// the key modulo the REVOKE bit (RFC 5011 Section 2.1).
func (a *Anchor) CheckRevoked(revoked *dns.DNSKEYRecord) {
	if !revoked.IsRevoked() {
		return
	}
	name := revoked.H.Name

	if ans, ok := a.LookupPositive(dns.NewKey(name, dns.TypeDS, dns.ClassIN)); ok {
		for _, it := range ans.Items() {
			ds, isDS := it.Record.(*dns.DSRecord)
			if !isDS {
				continue
			}
			// The revoked key's tag includes the REVOKE bit, the
			// anchor's does not. Compare against the unrevoked form.
			plain := *revoked
			plain.Flags &^= dns.DNSKEYFlagRevoked
			if match, err := dnssec.MatchesDS(ds, &plain, name); err == nil && match {
				a.removePositive(dns.NewKey(name, dns.TypeDS, dns.ClassIN))
				break
			}
		}
	}

	if ans, ok := a.LookupPositive(dns.NewKey(name, dns.TypeDNSKEY, dns.ClassIN)); ok {
		for _, it := range ans.Items() {
			key, isKey := it.Record.(*dns.DNSKEYRecord)
			if !isKey {
				continue
			}
			if key.Algorithm == revoked.Algorithm && string(key.PublicKey) == string(revoked.PublicKey) {
				a.removePositive(dns.NewKey(name, dns.TypeDNSKEY, dns.ClassIN))
				break
			}
		}
	}
}

func (a *Anchor) removePositive(key dns.ResourceKey) {
	delete(a.positive, key.ID())
	a.log.Info("trust anchor revoked", "key", key.String())
}

// RemoveName drops every anchor at name: positive DS and DNSKEY
// anchors and a negative anchor alike.
func (a *Anchor) RemoveName(name string) {
	delete(a.positive, dns.NewKey(name, dns.TypeDS, dns.ClassIN).ID())
	delete(a.positive, dns.NewKey(name, dns.TypeDNSKEY, dns.ClassIN).ID())
	delete(a.negative, dns.NormalizeName(name))
}

// IsEmpty reports whether no positive anchors remain.
func (a *Anchor) IsEmpty() bool { return len(a.positive) == 0 }

// PositiveKeys returns the keys of all installed positive anchors.
func (a *Anchor) PositiveKeys() []dns.ResourceKey {
	keys := make([]dns.ResourceKey, 0, len(a.positive))
	for _, ans := range a.positive {
		keys = append(keys, ans.Keys()...)
	}
	return keys
}
