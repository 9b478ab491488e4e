package handlers

import (
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/lernadns/internal/api/models"
	"github.com/jroosing/lernadns/internal/dns"
)

// ListTrustAnchors returns the configured trust anchors. The built-in
// root anchors are not listed; only user configuration is.
func (h *Handler) ListTrustAnchors(c *gin.Context) {
	rows, err := h.db.TrustAnchors()
	if err != nil {
		h.logger.Error("failed to list trust anchors", "error", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to list trust anchors"})
		return
	}

	out := make([]models.TrustAnchorResponse, 0, len(rows))
	for _, r := range rows {
		resp := models.TrustAnchorResponse{
			Name:       r.Name,
			Kind:       r.Kind,
			KeyTag:     r.KeyTag,
			Algorithm:  r.Algorithm,
			DigestType: r.DigestType,
			Flags:      r.Flags,
		}
		if len(r.Digest) > 0 {
			resp.Digest = hex.EncodeToString(r.Digest)
		}
		if len(r.PublicKey) > 0 {
			resp.PublicKey = base64.StdEncoding.EncodeToString(r.PublicKey)
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, out)
}

// AddTrustAnchor stores an anchor and installs it into the running
// resolver.
func (h *Handler) AddTrustAnchor(c *gin.Context) {
	var req models.AddTrustAnchorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	name := dns.NormalizeName(req.Name)
	switch strings.ToUpper(req.Kind) {
	case "DS":
		digest, err := hex.DecodeString(req.Digest)
		if err != nil || len(digest) == 0 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "digest must be non-empty hex"})
			return
		}
		if err := h.db.AddDSAnchor(name, req.KeyTag, req.Algorithm, req.DigestType, digest); err != nil {
			h.logger.Error("failed to store DS anchor", "name", name, "error", err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to store anchor"})
			return
		}
	case "DNSKEY":
		pub, err := base64.StdEncoding.DecodeString(req.PublicKey)
		if err != nil || len(pub) == 0 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "public_key must be non-empty base64"})
			return
		}
		if err := h.db.AddDNSKEYAnchor(name, req.Flags, req.Algorithm, pub); err != nil {
			h.logger.Error("failed to store DNSKEY anchor", "name", name, "error", err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to store anchor"})
			return
		}
	case "NEGATIVE":
		if err := h.db.AddNegativeAnchor(name); err != nil {
			h.logger.Error("failed to store negative anchor", "name", name, "error", err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to store anchor"})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "kind must be DS, DNSKEY or NEGATIVE"})
		return
	}

	if err := h.reinstallAnchors(); err != nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: err.Error()})
		return
	}

	h.logger.Info("trust anchor added", "name", name, "kind", strings.ToUpper(req.Kind))
	c.JSON(http.StatusCreated, models.StatusResponse{Status: "created"})
}

// DeleteTrustAnchor removes every anchor at a name, both from the
// database and the running resolver.
func (h *Handler) DeleteTrustAnchor(c *gin.Context) {
	name := dns.NormalizeName(c.Param("name"))
	if err := h.db.RemoveAnchor(name); err != nil {
		h.logger.Error("failed to remove trust anchors", "name", name, "error", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to remove anchors"})
		return
	}

	err := h.onLoop(func() {
		h.anchor.RemoveName(name)
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: err.Error()})
		return
	}

	h.logger.Info("trust anchors removed", "name", name)
	c.JSON(http.StatusOK, models.StatusResponse{Status: "deleted"})
}

// reinstallAnchors replays stored anchors into the live store. Positive
// anchors replace whole RRsets per name, so replaying after an insert
// converges.
func (h *Handler) reinstallAnchors() error {
	var loadErr error
	err := h.onLoop(func() {
		loadErr = h.db.LoadTrustAnchors(h.anchor)
	})
	if err != nil {
		return err
	}
	return loadErr
}
