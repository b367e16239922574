package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sponsor/internal/models"
	"github.com/charlesng35/sponsor/internal/permissions"
	"github.com/charlesng35/sponsor/internal/services"
	apperrors "github.com/charlesng35/sponsor/pkg/errors"
	"github.com/charlesng35/sponsor/pkg/response"
)

// RegistryHandler exposes the param registry over HTTP.
type RegistryHandler struct {
	registry *services.Registry
}

// NewRegistryHandler constructs a RegistryHandler.
func NewRegistryHandler(registry *services.Registry) (*RegistryHandler, error) {
	if registry == nil {
		return nil, errors.New("registry handler: registry is required")
	}
	return &RegistryHandler{registry: registry}, nil
}

type paramRecordRequest struct {
	IsWhitelisted *bool  `json:"is_whitelisted" validate:"required"`
	IsPrincipal   bool   `json:"is_principal"`
	LastUse       uint64 `json:"last_use"`
	Count         uint32 `json:"count"`
}

func (p paramRecordRequest) record() models.ParamRecord {
	return models.ParamRecord{
		IsWhitelisted: *p.IsWhitelisted,
		IsPrincipal:   p.IsPrincipal,
		LastUse:       p.LastUse,
		Count:         p.Count,
	}
}

type timerLimitRequest struct {
	Limit *uint64 `json:"limit" validate:"required"`
}

type maxCallsRequest struct {
	Limit *uint16 `json:"limit" validate:"required"`
}

type editManagerRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// GetParam handles GET /api/params/:key.
func (h *RegistryHandler) GetParam(c *gin.Context) {
	rec, err := h.registry.GetParam(requestContext(c), c.Param("key"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"param": rec})
}

// WhitelistParam handles PUT /api/params/:key (admin).
func (h *RegistryHandler) WhitelistParam(c *gin.Context) {
	var body paramRecordRequest
	if !bindAndValidate(c, &body) {
		return
	}

	prior, err := h.registry.WhitelistParam(requestContext(c), caller(c), c.Param("key"), body.record())
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"previous": prior})
}

// IsParamWhitelisted handles GET /api/params/:key/whitelisted.
func (h *RegistryHandler) IsParamWhitelisted(c *gin.Context) {
	ok, err := h.registry.IsParamWhitelisted(requestContext(c), c.Param("key"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"whitelisted": ok})
}

// IsParamTimeAvailable handles GET /api/params/:key/available.
func (h *RegistryHandler) IsParamTimeAvailable(c *gin.Context) {
	ok, err := h.registry.IsParamTimeAvailable(requestContext(c), c.Param("key"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"available": ok})
}

// LogParamUsage handles POST /api/params/:key/usage (manager).
func (h *RegistryHandler) LogParamUsage(c *gin.Context) {
	rec, err := h.registry.LogParamUsage(requestContext(c), caller(c), c.Param("key"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"param": rec})
}

// IsManager handles GET /api/managers/:principal.
func (h *RegistryHandler) IsManager(c *gin.Context) {
	ok, err := h.registry.IsManagerCanister(requestContext(c), c.Param("principal"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"manager": ok})
}

// EditManager handles PUT /api/managers/:principal (admin).
func (h *RegistryHandler) EditManager(c *gin.Context) {
	principal := c.Param("principal")
	if principal == "" {
		fail(c, apperrors.NewBadRequest("principal is required"))
		return
	}

	var body editManagerRequest
	if !bindAndValidate(c, &body) {
		return
	}

	if err := h.registry.EditManagerCanister(requestContext(c), caller(c), principal, *body.Enabled); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"principal": principal, "enabled": *body.Enabled})
}

// IsController handles GET /api/controller.
func (h *RegistryHandler) IsController(c *gin.Context) {
	ok, err := h.registry.IsController(requestContext(c), caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"controller": ok})
}

// SetTimerLimit handles PUT /api/settings/timer-limit (admin).
func (h *RegistryHandler) SetTimerLimit(c *gin.Context) {
	var body timerLimitRequest
	if !bindAndValidate(c, &body) {
		return
	}

	if err := h.registry.SetTimerLimit(requestContext(c), caller(c), *body.Limit); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"timer_limit": *body.Limit})
}

// SetMaxCallsPerUser handles PUT /api/settings/max-calls-per-user (admin).
func (h *RegistryHandler) SetMaxCallsPerUser(c *gin.Context) {
	var body maxCallsRequest
	if !bindAndValidate(c, &body) {
		return
	}

	if err := h.registry.SetMaxCallsPerUser(requestContext(c), caller(c), *body.Limit); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"max_call_per_user": *body.Limit})
}

// Settings handles GET /api/settings (admin).
func (h *RegistryHandler) Settings(c *gin.Context) {
	settings, err := h.registry.Settings(requestContext(c), caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, settings)
}

// WhoAmI handles GET /api/whoami.
func (h *RegistryHandler) WhoAmI(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"principal": caller(c)})
}

// Operations handles GET /api/operations.
func (h *RegistryHandler) Operations(c *gin.Context) {
	response.Success(c, http.StatusOK, permissions.All())
}
