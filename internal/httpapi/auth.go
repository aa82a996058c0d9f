package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/reliefops/incidenttrust/internal/auth"
	"github.com/reliefops/incidenttrust/internal/operators"
	"go.uber.org/zap"
)

// AuthHandler handles operator registration and login.
type AuthHandler struct {
	operators *operators.Service
	tokens    *auth.TokenIssuer
	logger    *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(svc *operators.Service, tokens *auth.TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{operators: svc, tokens: tokens, logger: logger}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/auth")
	{
		a.POST("/register", h.RegisterOperator)
		a.POST("/login", h.Login)
	}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Handle   string `json:"handle"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterOperator handles POST /auth/register — creates an operator account.
func (h *AuthHandler) RegisterOperator(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	o, err := h.operators.Register(c.Request.Context(), req.Email, req.Password, req.Handle, operators.Role(req.Role))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	tok, err := h.tokens.Issue(o.ID, o.Handle, string(o.Role))
	if err != nil {
		h.logger.Error("issue token after register", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"operator": o, "token": tok})
}

// Login handles POST /auth/login — authenticates with email/password.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	o, err := h.operators.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	tok, err := h.tokens.Issue(o.ID, o.Handle, string(o.Role))
	if err != nil {
		h.logger.Error("issue token after login", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"operator": o, "token": tok})
}
