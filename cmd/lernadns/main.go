package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jroosing/lernadns/internal/api"
	"github.com/jroosing/lernadns/internal/api/handlers"
	"github.com/jroosing/lernadns/internal/config"
	"github.com/jroosing/lernadns/internal/database"
	"github.com/jroosing/lernadns/internal/dns"
	"github.com/jroosing/lernadns/internal/event"
	"github.com/jroosing/lernadns/internal/logging"
	"github.com/jroosing/lernadns/internal/transaction"
	"github.com/jroosing/lernadns/internal/transport"
	"github.com/jroosing/lernadns/internal/trust"
	"github.com/jroosing/lernadns/internal/zone"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to JSON configuration file (or set LERNADNS_CONFIG)")
		jsonLogs   = flag.Bool("json-logs", false, "Enable JSON structured logging")
		debug      = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg, err := config.Load(config.ResolveConfigPath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}
	if *debug {
		cfg.Logging.Level = "DEBUG"
	}

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
	})
	logger.Info("lernadns starting",
		"upstreams", cfg.Upstream.Servers,
		"llmnr", cfg.Resolver.EnableLLMNR,
		"mdns", cfg.Resolver.EnableMDNS,
		"dnssec", cfg.DNSSEC.Mode,
	)

	if err := run(cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "resolver exited with error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	loop := event.New()

	anchor := trust.New(logger)
	if err := db.LoadTrustAnchors(anchor); err != nil {
		return err
	}

	manager := transaction.NewManager(loop, anchor, logger)
	client := transport.NewClient(loop, logger)
	defer client.Close()

	dnssecMode, err := cfg.DNSSEC.ParseMode()
	if err != nil {
		return err
	}

	upstreams := make([]netip.AddrPort, 0, len(cfg.Upstream.Servers))
	for _, s := range cfg.Upstream.Servers {
		addr, err := config.NormalizeServer(s)
		if err != nil {
			return err
		}
		upstreams = append(upstreams, addr)
	}
	registry := transport.NewRegistry(logger, upstreams...)

	dnsScope := manager.NewScope(dns.ProtocolDNS, dns.FamilyUnspec, 0)
	dnsScope.Transport = client
	dnsScope.Servers = registry
	dnsScope.DNSSECMode = dnssecMode

	ifindex, err := multicastIfIndex(cfg.Resolver.Interface)
	if err != nil {
		logger.Warn("no multicast interface, link-local protocols disabled", "error", err)
	} else {
		var multicast []*transaction.Scope
		if cfg.Resolver.EnableLLMNR {
			if cfg.WantsFamily("ipv4") {
				multicast = append(multicast, manager.NewScope(dns.ProtocolLLMNR, dns.FamilyIPv4, ifindex))
			}
			if cfg.WantsFamily("ipv6") {
				multicast = append(multicast, manager.NewScope(dns.ProtocolLLMNR, dns.FamilyIPv6, ifindex))
			}
		}
		if cfg.Resolver.EnableMDNS {
			if cfg.WantsFamily("ipv4") {
				multicast = append(multicast, manager.NewScope(dns.ProtocolMDNS, dns.FamilyIPv4, ifindex))
			}
			if cfg.WantsFamily("ipv6") {
				multicast = append(multicast, manager.NewScope(dns.ProtocolMDNS, dns.FamilyIPv6, ifindex))
			}
		}
		for _, s := range multicast {
			s.Transport = client
			if err := loadLocalData(cfg, db, s.Zone, s.IfIndex); err != nil {
				return err
			}
		}
	}

	if cfg.API.Enabled {
		h := handlers.New(cfg, db, logger, loop, manager, anchor, registry)
		srv := api.New(cfg, h, logger)
		go func() {
			logger.Info("management API listening", "addr", srv.Addr())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("management API failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("resolver running", "scopes", len(manager.Scopes()))
	return loop.Run(ctx)
}

// multicastIfIndex resolves the interface the link-local protocols use:
// the named one, or the first multicast-capable interface that is up.
func multicastIfIndex(name string) (int, error) {
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
		up := ifi.Flags&net.FlagUp != 0
		multicast := ifi.Flags&net.FlagMulticast != 0
		loopback := ifi.Flags&net.FlagLoopback != 0
		if up && multicast && !loopback {
			return ifi.Index, nil
		}
	}
	return 0, fmt.Errorf("no multicast-capable interface found")
}

// loadLocalData fills a multicast scope's zone with the configured zone
// files and the records stored in the database.
func loadLocalData(cfg *config.Config, db *database.DB, z *zone.Zone, ifindex int) error {
	if dir := cfg.Zone.Directory; dir != "" {
		files, err := zone.DiscoverZoneFiles(dir)
		if err != nil {
			return fmt.Errorf("failed to list zone files: %w", err)
		}
		for _, path := range files {
			f, err := zone.LoadFile(path)
			if err != nil {
				return fmt.Errorf("failed to load zone file %s: %w", path, err)
			}
			f.InstallInto(z, ifindex)
		}
	}
	return db.LoadZoneRecords(z, ifindex)
}
