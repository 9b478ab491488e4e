// Command dnsquery resolves one name and prints the result. It drives
// the full transaction machinery, so it exercises the same retry, cache
// and validation paths as the daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/jroosing/lernadns/internal/config"
	"github.com/jroosing/lernadns/internal/dns"
	"github.com/jroosing/lernadns/internal/event"
	"github.com/jroosing/lernadns/internal/logging"
	"github.com/jroosing/lernadns/internal/transaction"
	"github.com/jroosing/lernadns/internal/transport"
	"github.com/jroosing/lernadns/internal/trust"
)

type resultPrinter struct {
	cancel context.CancelFunc
	failed bool
}

func (p *resultPrinter) TransactionCompleted(t *transaction.Transaction) {
	defer p.cancel()

	if t.State() != transaction.StateSuccess {
		fmt.Fprintf(os.Stderr, "lookup failed: %s\n", t.State())
		p.failed = true
		return
	}

	fmt.Printf("rcode=%s source=%s authenticated=%v\n",
		t.RCode(), t.Source(), t.Authenticated())
	for _, it := range t.Answer().Items() {
		fmt.Println(dns.FormatRecord(it.Record))
	}
}

func main() {
	var (
		servers = flag.String("server", "9.9.9.9:53", "Comma-separated upstream servers (unicast DNS only)")
		name    = flag.String("name", "example.com", "Query name")
		qtype   = flag.String("type", "A", "Query type (A, AAAA, TXT, ...)")
		proto   = flag.String("proto", "dns", "Lookup protocol: dns, llmnr or mdns")
		iface   = flag.String("interface", "", "Interface for the multicast protocols")
		dnssec  = flag.String("dnssec", "no", "DNSSEC mode: no, trust or yes")
		timeout = flag.Duration("timeout", 5*time.Second, "Overall timeout")
		debug   = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	level := "WARN"
	if *debug {
		level = "DEBUG"
	}
	logger := logging.Configure(logging.Config{Level: level})

	if err := query(logger, *servers, *name, *qtype, *proto, *iface, *dnssec, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "dnsquery error: %v\n", err)
		os.Exit(1)
	}
}

func query(logger *slog.Logger, servers, name, qtype, proto, iface, dnssec string, timeout time.Duration) error {
	rtype, err := dns.ParseRecordType(qtype)
	if err != nil {
		return err
	}

	loop := event.New()
	anchor := trust.New(logger)
	manager := transaction.NewManager(loop, anchor, logger)
	client := transport.NewClient(loop, logger)
	defer client.Close()

	var scope *transaction.Scope
	switch strings.ToLower(proto) {
	case "dns":
		var addrs []netip.AddrPort
		for _, s := range strings.Split(servers, ",") {
			addr, err := config.NormalizeServer(s)
			if err != nil {
				return err
			}
			addrs = append(addrs, addr)
		}
		scope = manager.NewScope(dns.ProtocolDNS, dns.FamilyUnspec, 0)
		scope.Servers = transport.NewRegistry(logger, addrs...)

		mode, err := config.DNSSECConfig{Mode: dnssec}.ParseMode()
		if err != nil {
			return err
		}
		scope.DNSSECMode = mode
	case "llmnr", "mdns":
		ifi, err := pickInterface(iface)
		if err != nil {
			return err
		}
		p := dns.ProtocolLLMNR
		if strings.ToLower(proto) == "mdns" {
			p = dns.ProtocolMDNS
		}
		scope = manager.NewScope(p, dns.FamilyIPv4, ifi)
	default:
		return fmt.Errorf("unknown protocol %q", proto)
	}
	scope.Transport = client

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	printer := &resultPrinter{cancel: cancel}
	var startErr error
	loop.Post(func() {
		t, err := manager.NewTransaction(scope, dns.NewKey(name, rtype, dns.ClassIN))
		if err != nil {
			startErr = err
			cancel()
			return
		}
		t.Subscribe(printer)
		if err := t.Go(); err != nil {
			startErr = err
			t.Unsubscribe(printer)
			cancel()
		}
	})

	_ = loop.Run(ctx)
	if startErr != nil {
		return startErr
	}
	if printer.failed {
		os.Exit(1)
	}
	return nil
}

func pickInterface(name string) (int, error) {
	if name != "" {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return 0, err
		}
		return ifi.Index, nil
	}
	ifis, err := net.Interfaces()
	if err != nil {
		return 0, err
	}
	for _, ifi := range ifis {
		if ifi.Flags&net.FlagUp != 0 && ifi.Flags&net.FlagMulticast != 0 && ifi.Flags&net.FlagLoopback == 0 {
			return ifi.Index, nil
		}
	}
	return 0, fmt.Errorf("no multicast-capable interface found")
}
