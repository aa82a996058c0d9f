// Package httpapi exposes the ledger, proposal, and operator services over
// HTTP using gin.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/reliefops/incidenttrust/internal/ledger"
	"github.com/reliefops/incidenttrust/internal/multisig"
	"github.com/reliefops/incidenttrust/internal/operators"
	"go.uber.org/zap"
)

// respondError maps service errors onto HTTP status codes. Unmapped errors
// become a logged 500 with a generic message.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var lverr *ledger.ErrValidation
	var mverr *multisig.ErrValidation

	switch {
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
	case errors.Is(err, multisig.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "proposal not found"})
	case errors.Is(err, operators.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "operator not found"})
	case errors.Is(err, multisig.ErrAlreadySigned):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, multisig.ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, operators.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, operators.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, ledger.ErrAnchorUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "anchoring is not configured"})
	case errors.As(err, &lverr), errors.As(err, &mverr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
