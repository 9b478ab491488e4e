package zone

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/lernadns/internal/dns"
)

func a(name, ip string) dns.Record {
	return dns.NewIPRecord(
		dns.RRHeader{Name: name, Class: uint16(dns.ClassIN), TTL: 120},
		net.ParseIP(ip).To4(),
	)
}

func ptr(name, target string) dns.Record {
	return dns.NewPTRRecord(
		dns.RRHeader{Name: name, Class: uint16(dns.ClassIN), TTL: 120},
		target,
	)
}

func TestZonePutAndLookup(t *testing.T) {
	z := New()
	z.Put(a("host.local", "192.0.2.1"), 2, false)

	res, ok := z.Lookup(dns.NewKey("host.local", dns.TypeA, dns.ClassIN))
	require.True(t, ok)
	assert.False(t, res.Tentative)
	assert.False(t, res.NoData)
	require.Equal(t, 1, res.Answer.Size())

	it := res.Answer.Items()[0]
	assert.Equal(t, 2, it.IfIndex)
	assert.NotZero(t, it.Flags&dns.AnswerAuthenticated)
	assert.Zero(t, it.Flags&dns.AnswerShared)
}

func TestZoneLookupUnknownName(t *testing.T) {
	z := New()
	_, ok := z.Lookup(dns.NewKey("nope.local", dns.TypeA, dns.ClassIN))
	assert.False(t, ok)
}

func TestZoneLookupNoData(t *testing.T) {
	z := New()
	z.Put(a("host.local", "192.0.2.1"), 1, false)

	res, ok := z.Lookup(dns.NewKey("host.local", dns.TypeAAAA, dns.ClassIN))
	require.True(t, ok)
	assert.True(t, res.NoData)
	assert.True(t, res.Answer.IsEmpty())
}

func TestZoneProbingIsTentative(t *testing.T) {
	z := New()
	it := z.Put(a("host.local", "192.0.2.1"), 1, true)
	require.Equal(t, StateProbing, it.State)

	res, ok := z.Lookup(dns.NewKey("host.local", dns.TypeA, dns.ClassIN))
	require.True(t, ok)
	assert.True(t, res.Tentative)

	z.ItemEstablished(it)
	res, _ = z.Lookup(dns.NewKey("host.local", dns.TypeA, dns.ClassIN))
	assert.False(t, res.Tentative)
}

func TestZoneSharedRecordsSkipProbing(t *testing.T) {
	z := New()
	it := z.Put(ptr("_http._tcp.local", "printer._http._tcp.local"), 1, true)
	assert.Equal(t, StateEstablished, it.State)
	assert.True(t, it.Shared)

	res, ok := z.Lookup(dns.NewKey("_http._tcp.local", dns.TypePTR, dns.ClassIN))
	require.True(t, ok)
	assert.NotZero(t, res.Answer.Items()[0].Flags&dns.AnswerShared)
}

func TestZoneConflictLifecycle(t *testing.T) {
	z := New()
	it := z.Put(a("host.local", "192.0.2.1"), 1, false)
	z.Put(ptr("host.local", "somewhere.local"), 1, false)

	verifying := z.VerifyConflict("host.local")
	require.Len(t, verifying, 1, "shared items never verify")
	assert.Same(t, it, verifying[0])
	assert.Equal(t, StateVerifying, it.State)
	assert.Len(t, z.ProbeItems("host.local"), 1)

	z.ItemConflict(it)
	assert.Equal(t, StateWithdrawn, it.State)

	// The withdrawn A record no longer answers, the shared PTR does.
	res, ok := z.Lookup(dns.NewKey("host.local", dns.TypeA, dns.ClassIN))
	require.True(t, ok)
	assert.True(t, res.NoData)
	res, ok = z.Lookup(dns.NewKey("host.local", dns.TypePTR, dns.ClassIN))
	require.True(t, ok)
	assert.Equal(t, 1, res.Answer.Size())
}

func TestZonePutReplacesEqualRecord(t *testing.T) {
	z := New()
	z.Put(a("host.local", "192.0.2.1"), 1, false)
	z.Put(a("host.local", "192.0.2.1"), 1, false)
	assert.Equal(t, 1, z.Size())

	z.Put(a("host.local", "192.0.2.2"), 1, false)
	assert.Equal(t, 2, z.Size())
}

func TestZoneRemoveByName(t *testing.T) {
	z := New()
	z.Put(a("host.local", "192.0.2.1"), 1, false)
	z.Put(a("host.local", "192.0.2.2"), 1, false)
	require.True(t, z.ContainsName("HOST.local"))

	z.RemoveByName("host.local")
	assert.False(t, z.ContainsName("host.local"))
	assert.True(t, z.IsEmpty())
}

func TestParseZoneBasic(t *testing.T) {
	f, err := ParseText("$ORIGIN example.com.\n$TTL 3600\n@ IN A 1.2.3.4\n")
	require.NoError(t, err)
	assert.Equal(t, "example.com", f.Origin)
	require.Len(t, f.Records, 1)
	assert.Equal(t, dns.TypeA, f.Records[0].Type())
	assert.Equal(t, "example.com", f.Records[0].Header().Name)
	assert.Equal(t, uint32(3600), f.Records[0].Header().TTL)
}

func TestParseZoneRootOrigin(t *testing.T) {
	// "$ORIGIN ." roots the file at the zone apex; absolute owner names
	// below it must parse, this is the form the record store emits.
	f, err := ParseText("$ORIGIN .\nhost.example.com. 600 IN A 192.0.2.7\n")
	require.NoError(t, err)
	assert.Equal(t, "", f.Origin)
	require.Len(t, f.Records, 1)
	assert.Equal(t, "host.example.com", f.Records[0].Header().Name)

	z := New()
	f.InstallInto(z, 0)
	_, ok := z.Lookup(dns.NewKey("host.example.com", dns.TypeA, dns.ClassIN))
	assert.True(t, ok)
}

func TestParseZoneMultipleRecords(t *testing.T) {
	f, err := ParseText(`
$ORIGIN example.com.
$TTL 3600
@    IN  A     192.0.2.1
@    IN  A     192.0.2.2
www  IN  A     192.0.2.3
mail IN  MX    10 mail.example.com.
www  IN  TXT   "hello world"
`)
	require.NoError(t, err)
	require.Len(t, f.Records, 5)

	z := New()
	f.InstallInto(z, 0)

	res, ok := z.Lookup(dns.NewKey("example.com", dns.TypeA, dns.ClassIN))
	require.True(t, ok)
	assert.Equal(t, 2, res.Answer.Size())

	res, ok = z.Lookup(dns.NewKey("mail.example.com", dns.TypeMX, dns.ClassIN))
	require.True(t, ok)
	require.Equal(t, 1, res.Answer.Size())
	rdata, err := res.Answer.Items()[0].Record.MarshalRData()
	require.NoError(t, err)
	// preference 10, then "mail.example.com" in wire form
	assert.Equal(t, []byte{0, 10, 4, 'm', 'a', 'i', 'l'}, rdata[:7])

	res, ok = z.Lookup(dns.NewKey("www.example.com", dns.TypeTXT, dns.ClassIN))
	require.True(t, ok)
	rdata, err = res.Answer.Items()[0].Record.MarshalRData()
	require.NoError(t, err)
	assert.Equal(t, append([]byte{11}, []byte("hello world")...), rdata)
}

func TestParseZoneSOAWithParentheses(t *testing.T) {
	f, err := ParseText(`
$ORIGIN example.com.
$TTL 1h
@ IN SOA ns1 hostmaster (
	2024060101 ; serial
	4h         ; refresh
	30m        ; retry
	1w         ; expire
	5m )       ; minimum
`)
	require.NoError(t, err)
	require.Len(t, f.Records, 1)

	soa, ok := f.Records[0].(*dns.SOARecord)
	require.True(t, ok)
	assert.Equal(t, "ns1.example.com", soa.MName)
	assert.Equal(t, uint32(2024060101), soa.Serial)
	assert.Equal(t, uint32(4*3600), soa.Refresh)
	assert.Equal(t, uint32(30*60), soa.Retry)
	assert.Equal(t, uint32(7*24*3600), soa.Expire)
	assert.Equal(t, uint32(300), soa.Minimum)
	assert.Equal(t, uint32(3600), soa.H.TTL)
}

func TestParseZoneOwnerInheritance(t *testing.T) {
	f, err := ParseText(`
$ORIGIN example.com.
$TTL 600
www IN A    192.0.2.3
    IN AAAA 2001:db8::3
`)
	require.NoError(t, err)
	require.Len(t, f.Records, 2)
	assert.Equal(t, "www.example.com", f.Records[1].Header().Name)
	assert.Equal(t, dns.TypeAAAA, f.Records[1].Type())
}

func TestParseZoneErrors(t *testing.T) {
	cases := map[string]string{
		"missing origin":  "@ IN A 1.2.3.4\n",
		"bad ip":          "$ORIGIN e.com.\n@ IN A not-an-ip\n",
		"family mismatch": "$ORIGIN e.com.\n@ IN A 2001:db8::1\n",
		"bad mx":          "$ORIGIN e.com.\n@ IN MX banana mail\n",
		"missing rdata":   "$ORIGIN e.com.\n@ IN A\n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseText(text)
			assert.Error(t, err)
		})
	}
}

func TestLoadFileAndDiscover(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "example.zone")
	require.NoError(t, os.WriteFile(path, []byte("$ORIGIN example.com.\n$TTL 60\n@ IN A 192.0.2.1\n"), 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Records, 1)

	files, err := DiscoverZoneFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, files)
}
