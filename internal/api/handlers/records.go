package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/lernadns/internal/api/models"
	"github.com/jroosing/lernadns/internal/dns"
	"github.com/jroosing/lernadns/internal/zone"
)

const defaultRecordTTL = 3600

// ListRecords returns all locally authored records.
func (h *Handler) ListRecords(c *gin.Context) {
	rows, err := h.db.ZoneRecords()
	if err != nil {
		h.logger.Error("failed to list records", "error", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to list records"})
		return
	}

	out := make([]models.RecordResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.RecordResponse{Name: r.Name, TTL: r.TTL, Type: r.Type, RData: r.RData})
	}
	c.JSON(http.StatusOK, out)
}

// AddRecord stores a record and announces it on the multicast scopes.
func (h *Handler) AddRecord(c *gin.Context) {
	var req models.AddRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	if req.TTL == 0 {
		req.TTL = defaultRecordTTL
	}

	rec, err := parseRecord(req.Name, req.TTL, req.Type, req.RData)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	if err := h.db.AddZoneRecord(req.Name, req.TTL, req.Type, req.RData); err != nil {
		h.logger.Error("failed to store record", "name", req.Name, "error", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to store record"})
		return
	}

	err = h.onLoop(func() {
		for _, s := range h.manager.Scopes() {
			if s.Protocol == dns.ProtocolDNS {
				continue
			}
			s.Zone.Put(rec, s.IfIndex, false)
		}
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: err.Error()})
		return
	}

	h.logger.Info("record added", "name", req.Name, "type", strings.ToUpper(req.Type))
	c.JSON(http.StatusCreated, models.StatusResponse{Status: "created"})
}

// DeleteRecords removes every record at a name.
func (h *Handler) DeleteRecords(c *gin.Context) {
	name := dns.NormalizeName(c.Param("name"))
	if err := h.db.RemoveZoneRecords(name); err != nil {
		h.logger.Error("failed to remove records", "name", name, "error", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to remove records"})
		return
	}

	err := h.onLoop(func() {
		for _, s := range h.manager.Scopes() {
			if s.Protocol == dns.ProtocolDNS {
				continue
			}
			s.Zone.RemoveByName(name)
		}
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: err.Error()})
		return
	}

	h.logger.Info("records removed", "name", name)
	c.JSON(http.StatusOK, models.StatusResponse{Status: "deleted"})
}

// parseRecord pushes one record through the zone-file grammar, which is
// also how stored records are replayed at startup.
func parseRecord(name string, ttl uint32, rtype, rdata string) (dns.Record, error) {
	owner := dns.NormalizeName(name)
	if owner == "" {
		owner = "."
	} else {
		owner += "."
	}
	text := fmt.Sprintf("$ORIGIN .\n%s %d IN %s %s\n", owner, ttl, strings.ToUpper(rtype), rdata)
	f, err := zone.ParseText(text)
	if err != nil {
		return nil, err
	}
	if len(f.Records) != 1 {
		return nil, fmt.Errorf("unsupported record type %q", rtype)
	}
	return f.Records[0], nil
}
