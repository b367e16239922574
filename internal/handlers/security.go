package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sponsor/internal/permissions"
	"github.com/charlesng35/sponsor/internal/security"
	"github.com/charlesng35/sponsor/internal/services"
	"github.com/charlesng35/sponsor/pkg/response"
)

// SecurityHandler exposes the registry posture check to administrators.
type SecurityHandler struct {
	auditor  *security.Auditor
	registry *services.Registry
}

// NewSecurityHandler constructs a SecurityHandler gated by the registry's guard.
func NewSecurityHandler(auditor *security.Auditor, registry *services.Registry) (*SecurityHandler, error) {
	if auditor == nil {
		return nil, errors.New("security handler: auditor is required")
	}
	if registry == nil {
		return nil, errors.New("security handler: registry is required")
	}
	return &SecurityHandler{auditor: auditor, registry: registry}, nil
}

// GET /api/security/audit
func (h *SecurityHandler) Audit(c *gin.Context) {
	ctx := requestContext(c)
	if err := h.registry.Authorize(ctx, caller(c), permissions.OpSecurityAudit); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, h.auditor.Run(ctx))
}
