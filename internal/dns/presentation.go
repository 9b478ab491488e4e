package dns

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ParseRecordType maps a textual type ("A", "AAAA", "TYPE257") onto the
// numeric record type.
func ParseRecordType(s string) (RecordType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return TypeA, nil
	case "NS":
		return TypeNS, nil
	case "CNAME":
		return TypeCNAME, nil
	case "SOA":
		return TypeSOA, nil
	case "PTR":
		return TypePTR, nil
	case "MX":
		return TypeMX, nil
	case "TXT":
		return TypeTXT, nil
	case "AAAA":
		return TypeAAAA, nil
	case "SRV":
		return TypeSRV, nil
	case "DS":
		return TypeDS, nil
	case "RRSIG":
		return TypeRRSIG, nil
	case "NSEC":
		return TypeNSEC, nil
	case "DNSKEY":
		return TypeDNSKEY, nil
	case "ANY":
		return TypeANY, nil
	}
	if t, ok := strings.CutPrefix(strings.ToUpper(strings.TrimSpace(s)), "TYPE"); ok {
		n, err := strconv.ParseUint(t, 10, 16)
		if err == nil {
			return RecordType(n), nil
		}
	}
	return 0, fmt.Errorf("unknown record type %q", s)
}

// FormatRecord renders a record in zone-file presentation form.
func FormatRecord(r Record) string {
	h := r.Header()
	name := h.Name
	if name == "" {
		name = "."
	}
	return fmt.Sprintf("%s %d IN %s %s", name, h.TTL, r.Type(), formatRData(r))
}

func formatRData(r Record) string {
	switch rec := r.(type) {
	case *IPRecord:
		return rec.Addr.String()
	case *NameRecord:
		return presentName(rec.Target)
	case *SOARecord:
		return fmt.Sprintf("%s %s %d %d %d %d %d",
			presentName(rec.MName), presentName(rec.RName),
			rec.Serial, rec.Refresh, rec.Retry, rec.Expire, rec.Minimum)
	case *DSRecord:
		return fmt.Sprintf("%d %d %d %s",
			rec.KeyTag, rec.Algorithm, rec.DigestType,
			strings.ToUpper(hex.EncodeToString(rec.Digest)))
	case *DNSKEYRecord:
		return fmt.Sprintf("%d %d %d %s",
			rec.Flags, rec.Protocol, rec.Algorithm,
			base64.StdEncoding.EncodeToString(rec.PublicKey))
	case *RRSIGRecord:
		return fmt.Sprintf("%s %d %d %d %d %d %d %s %s",
			rec.TypeCovered, rec.Algorithm, rec.Labels, rec.OriginalTTL,
			rec.Expiration, rec.Inception, rec.KeyTag,
			presentName(rec.SignerName),
			base64.StdEncoding.EncodeToString(rec.Signature))
	case *NSECRecord:
		return presentName(rec.NextDomain)
	case *OpaqueRecord:
		if b, ok := rec.Data.([]byte); ok {
			if rec.T == TypeTXT {
				return formatTXT(b)
			}
			return fmt.Sprintf(`\# %d %s`, len(b), hex.EncodeToString(b))
		}
		return fmt.Sprintf("%v", rec.Data)
	}
	return "(unprintable)"
}

// presentName renders a stored name absolute.
func presentName(name string) string {
	if name == "" {
		return "."
	}
	return name + "."
}

// formatTXT decodes the character-string chunks of TXT RDATA.
func formatTXT(b []byte) string {
	var parts []string
	for len(b) > 0 {
		n := int(b[0])
		b = b[1:]
		if n > len(b) {
			break
		}
		parts = append(parts, strconv.Quote(string(b[:n])))
		b = b[n:]
	}
	if len(parts) == 0 {
		return `""`
	}
	return strings.Join(parts, " ")
}
