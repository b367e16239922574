package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sponsor/internal/middleware"
	"github.com/charlesng35/sponsor/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// caller returns the principal resolved by the identity middleware.
func caller(c *gin.Context) string {
	return middleware.Principal(c)
}

// fail records err for the access log and aborts the call with its envelope.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	response.Abort(c, err)
}
