package zone

import (
	"bufio"
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jroosing/lernadns/internal/dns"
)

// File holds the records parsed from one master-format zone file
// (RFC 1035 Section 5): $ORIGIN/$TTL directives, parentheses
// continuation, ';' comments, owner inheritance from the previous RR.
type File struct {
	Origin     string
	DefaultTTL uint32
	Records    []dns.Record
}

// LoadFile parses the zone file at path.
func LoadFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseText(string(b))
}

// ParseText parses master-format zone text.
func ParseText(text string) (*File, error) {
	origin := ""
	originSet := false
	defaultTTL := uint32(3600)
	lastOwner := ""
	recs := make([]dns.Record, 0)

	for _, line := range logicalLines(text) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		upper := strings.ToUpper(line)
		if strings.HasPrefix(upper, "$ORIGIN") {
			parts := strings.Fields(line)
			if len(parts) != 2 {
				return nil, errors.New("invalid $ORIGIN directive")
			}
			origin = normalizeFQDN(parts[1], "")
			originSet = true
			continue
		}
		if strings.HasPrefix(upper, "$TTL") {
			parts := strings.Fields(line)
			if len(parts) != 2 {
				return nil, errors.New("invalid $TTL directive")
			}
			ttl, err := parseTTL(parts[1])
			if err != nil {
				return nil, err
			}
			defaultTTL = ttl
			continue
		}
		if !originSet {
			return nil, errors.New("zone file missing $ORIGIN")
		}

		tokens := strings.Fields(line)
		owner, rest, err := parseOwner(tokens, origin, lastOwner)
		if err != nil {
			return nil, err
		}
		lastOwner = owner
		ttl, class, typ, rdata, err := parseRRFields(rest, defaultTTL)
		if err != nil {
			return nil, err
		}
		rt, ok := rrType(typ)
		if !ok {
			continue // ignore unsupported types
		}
		h := dns.RRHeader{Name: owner, Class: class, TTL: ttl}
		rec, err := buildRecord(h, rt, rdata, origin)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	return &File{Origin: origin, DefaultTTL: defaultTTL, Records: recs}, nil
}

// InstallInto puts every parsed record into the zone as established
// (static data needs no uniqueness probing).
func (f *File) InstallInto(z *Zone, ifindex int) {
	for _, r := range f.Records {
		z.Put(r, ifindex, false)
	}
}

// --- parsing helpers ---

func logicalLines(text string) []string {
	// Join parentheses blocks and strip ';' comments per-line before joining.
	var (
		buf     []string
		depth   int
		out     []string
		scanner = bufio.NewScanner(strings.NewReader(text))
	)
	for scanner.Scan() {
		raw := scanner.Text()
		line := stripComment(raw)
		line = strings.TrimRight(line, " \t\r\n")
		if strings.TrimSpace(line) == "" && depth == 0 {
			continue
		}
		depth += strings.Count(line, "(")
		depth -= strings.Count(line, ")")
		buf = append(buf, line)
		if depth <= 0 {
			joined := strings.Join(compactFields(buf), " ")
			buf = buf[:0]
			depth = 0
			joined = strings.ReplaceAll(joined, "(", " ")
			joined = strings.ReplaceAll(joined, ")", " ")
			joined = strings.TrimSpace(joined)
			if joined != "" {
				out = append(out, joined)
			}
		}
	}
	if len(buf) > 0 {
		return append(out, "") // force later error
	}
	return out
}

func compactFields(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, s := range lines {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		return line[:i]
	}
	return line
}

func normalizeFQDN(name string, origin string) string {
	name = strings.TrimSpace(name)
	if name == "@" {
		return strings.TrimSuffix(origin, ".")
	}
	if strings.HasSuffix(name, ".") {
		return strings.TrimSuffix(name, ".")
	}
	if name == "" || origin == "" {
		return name
	}
	return name + "." + strings.TrimSuffix(origin, ".")
}

var ttlRE = regexp.MustCompile(`^(?:\d+[wdhmsWDHMS]?)+$`)

func looksLikeTTL(tok string) bool { return ttlRE.MatchString(strings.TrimSpace(tok)) }

func parseTTL(tok string) (uint32, error) {
	tok = strings.TrimSpace(tok)
	if !ttlRE.MatchString(tok) {
		return 0, errors.New("TTL must be an integer seconds or use suffixes (w/d/h/m/s)")
	}
	// parse repeated number+unit
	total := uint32(0)
	num := ""
	for i := range len(tok) {
		c := tok[i]
		if c >= '0' && c <= '9' {
			num += string(c)
			continue
		}
		unit := strings.ToLower(string(c))[0]
		if num == "" {
			continue
		}
		n, err := strconv.ParseUint(num, 10, 64)
		if err != nil {
			return 0, errors.New("TTL must be an integer seconds or use suffixes (w/d/h/m/s)")
		}
		num = ""
		mul := uint64(1)
		switch unit {
		case 's':
			mul = 1
		case 'm':
			mul = 60
		case 'h':
			mul = 3600
		case 'd':
			mul = 86400
		case 'w':
			mul = 604800
		default:
			return 0, errors.New("TTL must be an integer seconds or use suffixes (w/d/h/m/s)")
		}
		if n > (uint64(^uint32(0)) / mul) {
			return 0, errors.New("TTL too large")
		}
		add := uint32(n * mul)
		if add > (^uint32(0) - total) {
			return 0, errors.New("TTL too large")
		}
		total += add
	}
	if num != "" {
		n, err := strconv.ParseUint(num, 10, 64)
		if err != nil || n > uint64(^uint32(0)) {
			return 0, errors.New("TTL too large")
		}
		add := uint32(n)
		if add > (^uint32(0) - total) {
			return 0, errors.New("TTL too large")
		}
		total += add
	}
	return total, nil
}

func looksLikeClass(tok string) bool { return strings.ToUpper(tok) == "IN" }

func looksLikeType(tok string) bool {
	_, ok := rrType(tok)
	return ok
}

func parseOwner(tokens []string, origin, lastOwner string) (string, []string, error) {
	if len(tokens) == 0 {
		return "", nil, errors.New("invalid empty RR")
	}
	first := tokens[0]
	if looksLikeTTL(first) || looksLikeClass(first) || looksLikeType(first) {
		if lastOwner == "" {
			return "", nil, errors.New("owner name omitted on first RR")
		}
		return lastOwner, tokens, nil
	}
	return normalizeFQDN(first, origin), tokens[1:], nil
}

func parseRRFields(rest []string, defaultTTL uint32) (uint32, uint16, string, string, error) {
	var (
		haveTTL   bool
		haveClass bool
		idx       int
	)
	ttl := defaultTTL
	class := uint16(dns.ClassIN)
	for idx < len(rest) {
		tok := rest[idx]
		if !haveTTL && looksLikeTTL(tok) {
			n, e := parseTTL(tok)
			if e != nil {
				return 0, 0, "", "", e
			}
			ttl = n
			haveTTL = true
			idx++
			continue
		}
		if !haveClass && looksLikeClass(tok) {
			haveClass = true
			idx++
			continue
		}
		break
	}
	if idx >= len(rest) {
		return 0, 0, "", "", errors.New("missing RR type")
	}
	typ := strings.ToUpper(rest[idx])
	idx++
	if idx >= len(rest) {
		return 0, 0, "", "", errors.New("missing RR rdata")
	}
	rdata := strings.Join(rest[idx:], " ")
	return ttl, class, typ, rdata, nil
}

func rrType(typ string) (dns.RecordType, bool) {
	switch strings.ToUpper(typ) {
	case "A":
		return dns.TypeA, true
	case "AAAA":
		return dns.TypeAAAA, true
	case "CNAME":
		return dns.TypeCNAME, true
	case "NS":
		return dns.TypeNS, true
	case "MX":
		return dns.TypeMX, true
	case "TXT":
		return dns.TypeTXT, true
	case "PTR":
		return dns.TypePTR, true
	case "SOA":
		return dns.TypeSOA, true
	default:
		return 0, false
	}
}

// buildRecord turns one textual RDATA into a typed record.
func buildRecord(h dns.RRHeader, rt dns.RecordType, rdata, origin string) (dns.Record, error) {
	switch rt {
	case dns.TypeA, dns.TypeAAAA:
		addr, err := netip.ParseAddr(strings.TrimSpace(rdata))
		if err != nil {
			return nil, errors.New("invalid IP address")
		}
		if (rt == dns.TypeA) != addr.Is4() {
			return nil, errors.New("address family does not match record type")
		}
		return dns.NewIPRecord(h, net.IP(addr.AsSlice())), nil
	case dns.TypeCNAME, dns.TypeNS, dns.TypePTR:
		return dns.NewNameRecord(h, rt, normalizeFQDN(rdata, origin)), nil
	case dns.TypeMX:
		return buildMX(h, rdata, origin)
	case dns.TypeTXT:
		return dns.NewOpaqueRecord(h, dns.TypeTXT, txtWire(rdata)), nil
	case dns.TypeSOA:
		return buildSOA(h, rdata, origin)
	}
	return nil, errors.New("unsupported record type")
}

func buildMX(h dns.RRHeader, rdata, origin string) (dns.Record, error) {
	parts := strings.Fields(rdata)
	if len(parts) != 2 {
		return nil, errors.New("MX rdata must be: <preference> <exchange>")
	}
	pref, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return nil, errors.New("MX preference must be 0..65535")
	}
	exchange, err := dns.EncodeName(normalizeFQDN(parts[1], origin))
	if err != nil {
		return nil, err
	}
	wire := make([]byte, 2, 2+len(exchange))
	binary.BigEndian.PutUint16(wire, uint16(pref))
	wire = append(wire, exchange...)
	return dns.NewOpaqueRecord(h, dns.TypeMX, wire), nil
}

// txtWire encodes text as DNS character-strings, 255 bytes per chunk.
func txtWire(s string) []byte {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	out := make([]byte, 0, len(s)+1+len(s)/255)
	for len(s) > 255 {
		out = append(out, 255)
		out = append(out, s[:255]...)
		s = s[255:]
	}
	out = append(out, byte(len(s)))
	out = append(out, s...)
	return out
}

func buildSOA(h dns.RRHeader, rdata, origin string) (dns.Record, error) {
	// MNAME RNAME SERIAL REFRESH RETRY EXPIRE MINIMUM
	parts := strings.Fields(rdata)
	if len(parts) != 7 {
		return nil, errors.New("SOA rdata must be: MNAME RNAME SERIAL REFRESH RETRY EXPIRE MINIMUM")
	}
	serial, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return nil, errors.New("invalid SOA serial")
	}
	nums := make([]uint32, 4)
	for i, fld := range []string{"refresh", "retry", "expire", "minimum"} {
		v, err := parseTTL(parts[3+i])
		if err != nil {
			return nil, errors.New("invalid SOA " + fld)
		}
		nums[i] = v
	}
	return dns.NewSOARecord(h,
		normalizeFQDN(parts[0], origin), normalizeFQDN(parts[1], origin),
		uint32(serial), nums[0], nums[1], nums[2], nums[3]), nil
}

// DiscoverZoneFiles returns the sorted list of files in dir.
func DiscoverZoneFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, dir+"/"+e.Name())
	}
	sort.Strings(files)
	return files, nil
}
