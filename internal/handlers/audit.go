package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sponsor/internal/services"
	"github.com/charlesng35/sponsor/pkg/errors"
	"github.com/charlesng35/sponsor/pkg/response"
)

const (
	defaultAuditPerPage = 50
	maxAuditPerPage     = 200
)

// AuditTrail handles GET /api/audit (admin).
func (h *RegistryHandler) AuditTrail(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	if page <= 0 {
		page = 1
	}
	per := parseIntQuery(c, "per_page", defaultAuditPerPage)
	if per <= 0 || per > maxAuditPerPage {
		per = defaultAuditPerPage
	}

	filters := services.AuditFilters{
		Principal: strings.TrimSpace(c.Query("principal")),
		Action:    strings.TrimSpace(c.Query("action")),
		Resource:  c.Query("resource"),
		Result:    strings.TrimSpace(c.Query("result")),
	}

	var err error
	if filters.Since, err = parseTimeQuery(c, "since"); err != nil {
		fail(c, errors.NewBadRequest("since must be an RFC3339 timestamp"))
		return
	}
	if filters.Until, err = parseTimeQuery(c, "until"); err != nil {
		fail(c, errors.NewBadRequest("until must be an RFC3339 timestamp"))
		return
	}

	logs, total, err := h.registry.AuditTrail(requestContext(c), caller(c), services.AuditListOptions{
		Page:     page,
		PageSize: per,
		Filters:  filters,
	})
	if err != nil {
		fail(c, err)
		return
	}

	totalPages := int((total + int64(per) - 1) / int64(per))
	response.SuccessWithMeta(c, http.StatusOK, logs, &response.Meta{
		Page:       page,
		PerPage:    per,
		Total:      int(total),
		TotalPages: totalPages,
	})
}

func parseTimeQuery(c *gin.Context, key string) (*time.Time, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
