package recovery

import (
	"errors"
	"net/http"

	"telecom-platform/internal/auth"
	"telecom-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handler exposes the operator-only recovery endpoint.
type Handler struct {
	Service *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Service: svc}
}

type recoverRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Recover handles POST /v1/admin/calls/:call_id/recover. It must sit
// behind auth.RequireAccessToken and rbac.RequireAnyRole(rbac.RoleOperator).
func (h *Handler) Recover(c *gin.Context) {
	log := logger.FromGin(c)
	callID := c.Param("call_id")

	var req recoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "reason is required"})
		return
	}

	userID, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())

	err := h.Service.Recover(c.Request.Context(), callID, userID, role, c.ClientIP(), req.Reason)
	if err != nil {
		if errors.Is(err, ErrNotStuck) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call is not stuck in PROCESSING_AI"})
			return
		}
		log.Error("recovery failed", "call_id", callID, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "recovered", "call_id": callID})
}
