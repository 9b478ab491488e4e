package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/lernadns/internal/api/models"
	"github.com/jroosing/lernadns/internal/cache"
)

// FlushCache drops every cached record across all scopes.
func (h *Handler) FlushCache(c *gin.Context) {
	flushed := 0
	err := h.onLoop(func() {
		// Scopes may share a cache instance.
		seen := map[*cache.Cache]struct{}{}
		for _, s := range h.manager.Scopes() {
			if _, dup := seen[s.Cache]; dup {
				continue
			}
			seen[s.Cache] = struct{}{}
			flushed += s.Cache.Size()
			s.Cache.Flush()
		}
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: err.Error()})
		return
	}

	h.logger.Info("cache flushed", "records", flushed)
	c.JSON(http.StatusOK, models.CacheFlushResponse{Flushed: flushed})
}
