package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/reliefops/incidenttrust/internal/auth"
	"github.com/reliefops/incidenttrust/internal/multisig"
	"go.uber.org/zap"
)

// ProposalHandler exposes the multi-signature proposal workflow over HTTP.
type ProposalHandler struct {
	registry *multisig.Registry
	logger   *zap.Logger
}

// NewProposalHandler creates a ProposalHandler.
func NewProposalHandler(registry *multisig.Registry, logger *zap.Logger) *ProposalHandler {
	return &ProposalHandler{registry: registry, logger: logger}
}

// Register mounts the proposal routes. Queries are public; creating,
// signing, and rejecting require a session.
func (h *ProposalHandler) Register(public, protected *gin.RouterGroup) {
	ro := public.Group("/proposals")
	{
		ro.GET("", h.List)
		ro.GET("/:id", h.Get)
	}
	rw := protected.Group("/proposals")
	{
		rw.POST("", h.Propose)
		rw.POST("/:id/sign", h.Sign)
		rw.POST("/:id/reject", h.Reject)
	}
}

type proposeRequest struct {
	Type        string `json:"type" binding:"required"`
	Description string `json:"description" binding:"required"`
	ProposedBy  string `json:"proposed_by"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	IncidentID  string `json:"incident_id"`
	Required    int    `json:"required"`
}

type rejectRequest struct {
	Reason     string `json:"reason"`
	RejectedBy string `json:"rejected_by"`
}

type signRequest struct {
	Actor string `json:"actor"`
}

// Propose handles POST /proposals — creates a new proposal. The proposer is
// the authenticated operator; the body field is honoured only on
// unauthenticated deployments.
func (h *ProposalHandler) Propose(c *gin.Context) {
	var req proposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	proposedBy := auth.ActorFromCtx(c)
	if proposedBy == "" {
		proposedBy = req.ProposedBy
	}

	p, err := h.registry.Propose(c.Request.Context(), multisig.ProposeRequest{
		Type:        multisig.Type(req.Type),
		Description: req.Description,
		ProposedBy:  proposedBy,
		Amount:      req.Amount,
		Currency:    req.Currency,
		IncidentID:  req.IncidentID,
		Required:    req.Required,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	RecordProposalOutcome("created")
	c.JSON(http.StatusCreated, p)
}

// List handles GET /proposals. Supports ?incident_id=, ?status=, ?critical=true.
func (h *ProposalHandler) List(c *gin.Context) {
	f := multisig.Filter{
		IncidentID:   c.Query("incident_id"),
		Status:       multisig.Status(c.Query("status")),
		CriticalOnly: c.Query("critical") == "true",
	}
	out, err := h.registry.List(c.Request.Context(), f)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": out})
}

// Get handles GET /proposals/:id.
func (h *ProposalHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proposal id"})
		return
	}
	p, err := h.registry.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Sign handles POST /proposals/:id/sign — records the operator's signature.
func (h *ProposalHandler) Sign(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proposal id"})
		return
	}

	actor := auth.ActorFromCtx(c)
	if actor == "" {
		var req signRequest
		if err := c.ShouldBindJSON(&req); err == nil {
			actor = req.Actor
		}
	}

	p, err := h.registry.Sign(c.Request.Context(), id, actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if p.Status == multisig.StatusApproved {
		RecordProposalOutcome("approved")
	} else {
		RecordProposalOutcome("signed")
	}
	c.JSON(http.StatusOK, p)
}

// Reject handles POST /proposals/:id/reject — closes a pending proposal.
func (h *ProposalHandler) Reject(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proposal id"})
		return
	}

	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rejectedBy := auth.ActorFromCtx(c)
	if rejectedBy == "" {
		rejectedBy = req.RejectedBy
	}

	p, err := h.registry.Reject(c.Request.Context(), id, rejectedBy, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	RecordProposalOutcome("rejected")
	c.JSON(http.StatusOK, p)
}
