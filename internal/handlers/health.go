package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/sponsor/internal/database"
	"github.com/charlesng35/sponsor/pkg/errors"
	"github.com/charlesng35/sponsor/pkg/response"
)

const healthPingTimeout = 2 * time.Second

// Health returns a readiness payload after pinging the database.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(requestContext(c), healthPingTimeout)
			defer cancel()

			if err := database.Ping(ctx, db); err != nil {
				fail(c, errors.New("UNAVAILABLE", "Database unavailable", http.StatusServiceUnavailable).WithInternal(err))
				return
			}
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}
