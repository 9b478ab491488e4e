// Package handlers implements the REST API endpoint handlers.
//
// REST API Endpoints:
//
// System Health:
//   - GET /api/v1/health - Health check status
//   - GET /api/v1/stats - Resolver statistics (uptime, memory, cache, transactions, upstreams)
//
// Cache:
//   - POST /api/v1/cache/flush - Drop every cached record
//
// Trust Anchors (DNSSEC):
//   - GET /api/v1/trustanchors - List configured anchors
//   - POST /api/v1/trustanchors - Add a DS, DNSKEY or negative anchor
//   - DELETE /api/v1/trustanchors/:name - Remove every anchor at a name
//
// Records (locally served data):
//   - GET /api/v1/records - List locally authored records
//   - POST /api/v1/records - Add a record
//   - DELETE /api/v1/records/:name - Remove every record at a name
//
// Authentication:
//
// All endpoints except /health support optional API key authentication
// via the X-API-Key header.
//
// The resolver state (caches, zones, trust anchors) is owned by the
// event loop goroutine; handlers touch it only through posted closures.
package handlers

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jroosing/lernadns/internal/config"
	"github.com/jroosing/lernadns/internal/database"
	"github.com/jroosing/lernadns/internal/event"
	"github.com/jroosing/lernadns/internal/transaction"
	"github.com/jroosing/lernadns/internal/transport"
	"github.com/jroosing/lernadns/internal/trust"
)

// ErrResolverBusy means the event loop did not service a posted request
// in time.
var ErrResolverBusy = errors.New("resolver busy")

const loopWait = 2 * time.Second

// Handler contains dependencies for API handlers.
type Handler struct {
	cfg       *config.Config
	db        *database.DB
	logger    *slog.Logger
	loop      *event.Loop
	manager   *transaction.Manager
	anchor    *trust.Anchor
	registry  *transport.Registry
	startTime time.Time
}

// New creates a Handler. The registry may be nil when no unicast DNS
// scope is configured.
func New(cfg *config.Config, db *database.DB, logger *slog.Logger,
	loop *event.Loop, manager *transaction.Manager, anchor *trust.Anchor,
	registry *transport.Registry) *Handler {
	return &Handler{
		cfg:       cfg,
		db:        db,
		logger:    logger,
		loop:      loop,
		manager:   manager,
		anchor:    anchor,
		registry:  registry,
		startTime: time.Now(),
	}
}

// onLoop runs fn on the event loop and waits for it.
func (h *Handler) onLoop(fn func()) error {
	done := make(chan struct{})
	h.loop.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-time.After(loopWait):
		return ErrResolverBusy
	}
}
