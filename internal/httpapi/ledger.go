package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/reliefops/incidenttrust/internal/auth"
	"github.com/reliefops/incidenttrust/internal/ledger"
	"go.uber.org/zap"
)

// LedgerHandler exposes the incident audit ledger over HTTP.
type LedgerHandler struct {
	ledger *ledger.Service
	logger *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(svc *ledger.Service, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: svc, logger: logger}
}

// Register mounts the incident routes. Reads go on the public group so any
// UI can verify, export, and browse timelines without a session; writes go
// on the protected group.
func (h *LedgerHandler) Register(public, protected *gin.RouterGroup) {
	ro := public.Group("/incidents")
	{
		ro.GET("", h.ListIncidents)
		ro.GET("/:id", h.GetTimeline)
		ro.GET("/:id/events", h.ListEvents)
		ro.GET("/:id/verify", h.Verify)
		ro.GET("/:id/export", h.Export)
	}
	rw := protected.Group("/incidents")
	{
		rw.POST("", h.InitIncident)
		rw.POST("/:id/events", h.AppendEvent)
		rw.POST("/:id/anchor", h.Anchor)
	}
}

type initIncidentRequest struct {
	IncidentID string `json:"incident_id" binding:"required"`
}

type appendEventRequest struct {
	Actor   string `json:"actor"`
	Action  string `json:"action" binding:"required"`
	Details string `json:"details"`
}

// ListIncidents handles GET /incidents — lists known incident IDs.
func (h *LedgerHandler) ListIncidents(c *gin.Context) {
	ids, err := h.ledger.Incidents(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": ids})
}

// InitIncident handles POST /incidents — explicitly creates a timeline.
func (h *LedgerHandler) InitIncident(c *gin.Context) {
	var req initIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tl, err := h.ledger.Init(c.Request.Context(), req.IncidentID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, tl)
}

// GetTimeline handles GET /incidents/:id — returns the full timeline.
func (h *LedgerHandler) GetTimeline(c *gin.Context) {
	tl, err := h.ledger.Timeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, tl)
}

// AppendEvent handles POST /incidents/:id/events — records a signed event.
// The acting operator comes from the session token; the body's actor field is
// honoured only on unauthenticated deployments.
func (h *LedgerHandler) AppendEvent(c *gin.Context) {
	var req appendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor := auth.ActorFromCtx(c)
	if actor == "" {
		actor = req.Actor
	}

	event, err := h.ledger.Append(c.Request.Context(), c.Param("id"), actor, ledger.Action(req.Action), req.Details)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	RecordEventAppend(req.Action)
	c.JSON(http.StatusCreated, event)
}

// ListEvents handles GET /incidents/:id/events. Supports optional filters:
// ?actor=<handle> and ?start=<RFC3339>&end=<RFC3339>.
func (h *LedgerHandler) ListEvents(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if actor := c.Query("actor"); actor != "" {
		events, err := h.ledger.EventsByActor(ctx, id, actor)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
		return
	}

	if startStr, endStr := c.Query("start"), c.Query("end"); startStr != "" || endStr != "" {
		start, end, err := parseRange(startStr, endStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events, err := h.ledger.EventsInRange(ctx, id, start, end)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
		return
	}

	events, err := h.ledger.Events(ctx, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Verify handles GET /incidents/:id/verify — recomputes the Merkle root and
// reports integrity. Always 200: an invalid ledger is a result, not an error.
func (h *LedgerHandler) Verify(c *gin.Context) {
	valid := h.ledger.Verify(c.Request.Context(), c.Param("id"))
	RecordVerification(valid)
	c.JSON(http.StatusOK, gin.H{
		"incident_id": c.Param("id"),
		"valid":       valid,
	})
}

// Export handles GET /incidents/:id/export — returns the audit report.
func (h *LedgerHandler) Export(c *gin.Context) {
	report, err := h.ledger.Export(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="audit-`+report.IncidentID+`.json"`)
	c.JSON(http.StatusOK, report)
}

// Anchor handles POST /incidents/:id/anchor — commits the current root to the
// external anchor and returns the receipt.
func (h *LedgerHandler) Anchor(c *gin.Context) {
	receipt, err := h.ledger.Anchor(c.Request.Context(), c.Param("id"))
	if err != nil {
		RecordAnchor(false)
		respondError(c, h.logger, err)
		return
	}
	RecordAnchor(true)
	c.JSON(http.StatusOK, receipt)
}

// parseRange parses the start/end query parameters, defaulting missing ends
// to an open window.
func parseRange(startStr, endStr string) (time.Time, time.Time, error) {
	start := time.Time{}
	end := time.Now().UTC().Add(24 * time.Hour)
	var err error
	if startStr != "" {
		if start, err = time.Parse(time.RFC3339, startStr); err != nil {
			return start, end, err
		}
	}
	if endStr != "" {
		if end, err = time.Parse(time.RFC3339, endStr); err != nil {
			return start, end, err
		}
	}
	return start, end, nil
}
