package models

import "time"

// ServerStatsResponse contains resolver runtime statistics.
type ServerStatsResponse struct {
	Uptime        string    `json:"uptime"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	StartTime     time.Time `json:"start_time"`
	GoRoutines    int       `json:"goroutines"`
	MemoryAllocMB float64   `json:"memory_alloc_mb"`
	NumCPU        int       `json:"num_cpu"`

	System   *SystemStatsResponse    `json:"system,omitempty"`
	Resolver ResolverStatsResponse   `json:"resolver"`
	Upstream []UpstreamStatsResponse `json:"upstream,omitempty"`
}

// SystemStatsResponse contains host-level statistics.
type SystemStatsResponse struct {
	MemoryTotalMB   float64 `json:"memory_total_mb"`
	MemoryUsedMB    float64 `json:"memory_used_mb"`
	MemoryUsedPct   float64 `json:"memory_used_pct"`
	HostUptimeHours float64 `json:"host_uptime_hours"`
}

// ResolverStatsResponse contains lookup statistics.
type ResolverStatsResponse struct {
	LiveTransactions int                  `json:"live_transactions"`
	Scopes           []ScopeStatsResponse `json:"scopes"`
}

// ScopeStatsResponse contains per-scope cache statistics.
type ScopeStatsResponse struct {
	Protocol    string `json:"protocol"`
	Family      string `json:"family"`
	CacheSize   int    `json:"cache_size"`
	CacheHits   uint64 `json:"cache_hits"`
	CacheMisses uint64 `json:"cache_misses"`
}

// UpstreamStatsResponse mirrors the per-server view of the transport
// registry.
type UpstreamStatsResponse struct {
	Address         string  `json:"address"`
	PacketsReceived uint64  `json:"packets_received"`
	PacketsLost     uint64  `json:"packets_lost"`
	Failures        uint64  `json:"failures"`
	ResendTimeoutMs int64   `json:"resend_timeout_ms"`
	MaxRTTMs        float64 `json:"max_rtt_ms"`
}
