package config

import (
	"fmt"
	"strings"

	"github.com/jroosing/lernadns/internal/transaction"
)

// ResolverConfig selects which lookup protocols run and where.
type ResolverConfig struct {
	// Interface is the network interface multicast protocols bind to.
	Interface string `json:"interface"`

	EnableLLMNR bool `json:"enable_llmnr"`
	EnableMDNS  bool `json:"enable_mdns"`

	// Families limits the address families in use ("ipv4", "ipv6").
	// Empty means both.
	Families []string `json:"families,omitempty"`
}

// UpstreamConfig holds the unicast DNS servers queried for ordinary
// domains.
type UpstreamConfig struct {
	// Servers are "ip" or "ip:port" entries; the port defaults to 53.
	Servers []string `json:"servers"`
}

// DNSSECConfig controls validation.
type DNSSECConfig struct {
	// Mode is "no", "trust" (believe the upstream's AD bit) or "yes"
	// (validate locally via the chain of trust).
	Mode string `json:"mode"`
}

// ParseMode maps the configured string onto the resolver's mode.
func (d DNSSECConfig) ParseMode() (transaction.DNSSECMode, error) {
	switch strings.ToLower(strings.TrimSpace(d.Mode)) {
	case "", "no", "off":
		return transaction.DNSSECNo, nil
	case "trust", "allow-downgrade":
		return transaction.DNSSECTrust, nil
	case "yes", "strict":
		return transaction.DNSSECYes, nil
	}
	return transaction.DNSSECNo, fmt.Errorf("unknown dnssec mode %q", d.Mode)
}

// ZoneConfig points at locally served data.
type ZoneConfig struct {
	// Directory holds master-format zone files loaded at startup.
	Directory string `json:"directory,omitempty"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string            `json:"level"`
	Structured       bool              `json:"structured"`
	StructuredFormat string            `json:"structured_format"`
	IncludePID       bool              `json:"include_pid"`
	ExtraFields      map[string]string `json:"extra_fields,omitempty"`
}

// DatabaseConfig locates the persistence layer.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// APIConfig contains management API settings.
//
// Note: APIKey is a secret and is never returned by API endpoints.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	APIKey  string `json:"api_key,omitempty"`
}

// Config is the root configuration structure.
type Config struct {
	Resolver ResolverConfig `json:"resolver"`
	Upstream UpstreamConfig `json:"upstream"`
	DNSSEC   DNSSECConfig   `json:"dnssec"`
	Zone     ZoneConfig     `json:"zone"`
	Logging  LoggingConfig  `json:"logging"`
	Database DatabaseConfig `json:"database"`
	API      APIConfig      `json:"api"`
}
