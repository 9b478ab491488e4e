// Package config provides configuration loading and validation.
//
// Configuration lives in a JSON file; a missing file yields the
// defaults. The resolver reads the result once at startup.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
)

// EnvConfigPath overrides the config file location when set.
const EnvConfigPath = "LERNADNS_CONFIG"

// ResolveConfigPath picks the config file path: the flag wins, then the
// environment, then empty (defaults).
func ResolveConfigPath(flag string) string {
	if p := strings.TrimSpace(flag); p != "" {
		return p
	}
	return strings.TrimSpace(os.Getenv(EnvConfigPath))
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Resolver: ResolverConfig{
			EnableLLMNR: true,
			EnableMDNS:  true,
		},
		Upstream: UpstreamConfig{
			Servers: []string{"9.9.9.9", "149.112.112.112"},
		},
		DNSSEC: DNSSECConfig{Mode: "trust"},
		Logging: LoggingConfig{
			Level:            "INFO",
			Structured:       true,
			StructuredFormat: "json",
		},
		Database: DatabaseConfig{Path: "lernadns.db"},
		API: APIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8080,
		},
	}
}

// Load reads the config file at path, or returns the defaults when path
// is empty. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := json.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates and normalizes the configuration.
func (cfg *Config) Validate() error {
	if len(cfg.Upstream.Servers) == 0 {
		cfg.Upstream.Servers = Default().Upstream.Servers
	}
	for i, s := range cfg.Upstream.Servers {
		addr, err := NormalizeServer(s)
		if err != nil {
			return err
		}
		cfg.Upstream.Servers[i] = addr.String()
	}

	if _, err := cfg.DNSSEC.ParseMode(); err != nil {
		return err
	}

	for _, fam := range cfg.Resolver.Families {
		switch strings.ToLower(fam) {
		case "ipv4", "ipv6":
		default:
			return fmt.Errorf("unknown address family %q", fam)
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}
	if cfg.Logging.ExtraFields == nil {
		cfg.Logging.ExtraFields = map[string]string{}
	}

	if cfg.Database.Path == "" {
		return errors.New("database.path must be set")
	}

	if cfg.API.Host == "" {
		cfg.API.Host = "127.0.0.1"
	}
	if cfg.API.Enabled {
		if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
			return errors.New("api.port must be 1..65535")
		}
	}

	return nil
}

// NormalizeServer parses an upstream server entry, applying the default
// DNS port when none is given.
func NormalizeServer(s string) (netip.AddrPort, error) {
	s = strings.TrimSpace(s)
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid upstream server %q", s)
	}
	return netip.AddrPortFrom(addr, 53), nil
}

// WantsFamily reports whether the configuration allows the family.
func (cfg *Config) WantsFamily(name string) bool {
	if len(cfg.Resolver.Families) == 0 {
		return true
	}
	for _, fam := range cfg.Resolver.Families {
		if strings.EqualFold(fam, name) {
			return true
		}
	}
	return false
}
