package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jroosing/lernadns/internal/api/models"
)

// Health reports whether the resolver and its database are reachable.
func (h *Handler) Health(c *gin.Context) {
	if err := h.db.Health(); err != nil {
		h.logger.Error("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "database unreachable"})
		return
	}
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}

// Stats returns resolver, cache and host statistics.
func (h *Handler) Stats(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(h.startTime)
	resp := models.ServerStatsResponse{
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     h.startTime,
		GoRoutines:    runtime.NumGoroutine(),
		MemoryAllocMB: float64(m.Alloc) / 1024 / 1024,
		NumCPU:        runtime.NumCPU(),
		System:        systemStats(),
	}

	err := h.onLoop(func() {
		resp.Resolver.LiveTransactions = h.manager.LiveTransactions()
		for _, s := range h.manager.Scopes() {
			hits, misses := s.Cache.Stats()
			resp.Resolver.Scopes = append(resp.Resolver.Scopes, models.ScopeStatsResponse{
				Protocol:    s.Protocol.String(),
				Family:      s.Family.String(),
				CacheSize:   s.Cache.Size(),
				CacheHits:   hits,
				CacheMisses: misses,
			})
		}
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: err.Error()})
		return
	}

	if h.registry != nil {
		for _, s := range h.registry.Stats() {
			resp.Upstream = append(resp.Upstream, models.UpstreamStatsResponse{
				Address:         s.Addr.String(),
				PacketsReceived: s.Received,
				PacketsLost:     s.Lost,
				Failures:        s.Failed,
				ResendTimeoutMs: s.ResendTimeout.Milliseconds(),
				MaxRTTMs:        float64(s.MaxRTT.Microseconds()) / 1000,
			})
		}
	}

	c.JSON(http.StatusOK, resp)
}

// systemStats collects host-level numbers, best effort.
func systemStats() *models.SystemStatsResponse {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil
	}
	out := &models.SystemStatsResponse{
		MemoryTotalMB: float64(vm.Total) / 1024 / 1024,
		MemoryUsedMB:  float64(vm.Used) / 1024 / 1024,
		MemoryUsedPct: vm.UsedPercent,
	}
	if up, err := host.Uptime(); err == nil {
		out.HostUptimeHours = float64(up) / 3600
	}
	return out
}
