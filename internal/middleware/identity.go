package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/sponsor/internal/auth"
	"github.com/charlesng35/sponsor/pkg/errors"
	"github.com/charlesng35/sponsor/pkg/response"
)

const (
	CtxClaimsKey    = "identityClaims"
	CtxPrincipalKey = "principal"

	// AnonymousPrincipal is the caller identity of requests without a token.
	AnonymousPrincipal = "anonymous"
)

// Identity resolves the caller principal from an optional bearer token. A
// request without an Authorization header runs as AnonymousPrincipal; a
// present but invalid token is rejected with 401 rather than downgraded.
func Identity(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := strings.TrimSpace(c.GetHeader("Authorization"))
		if authz == "" {
			c.Set(CtxPrincipalKey, AnonymousPrincipal)
			c.Next()
			return
		}

		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			c.Header("WWW-Authenticate", "Bearer")
			response.Abort(c, errors.ErrUnauthorized)
			return
		}

		claims, err := jwt.ValidateIdentityToken(strings.TrimSpace(authz[7:]))
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			response.Abort(c, errors.ErrUnauthorized.WithInternal(err))
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxPrincipalKey, claims.Principal)
		c.Next()
	}
}

// RequirePrincipal rejects anonymous callers with 401 and, when allowed is
// non-empty, callers outside it with 403. It must run after Identity.
func RequirePrincipal(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, principal := range allowed {
		set[principal] = struct{}{}
	}

	return func(c *gin.Context) {
		principal := Principal(c)
		if principal == AnonymousPrincipal {
			c.Header("WWW-Authenticate", "Bearer")
			response.Abort(c, errors.ErrUnauthorized)
			return
		}
		if len(set) > 0 {
			if _, ok := set[principal]; !ok {
				response.Abort(c, errors.ErrAccessDenied)
				return
			}
		}
		c.Next()
	}
}

// Principal returns the caller identity resolved by Identity.
func Principal(c *gin.Context) string {
	if principal := c.GetString(CtxPrincipalKey); principal != "" {
		return principal
	}
	return AnonymousPrincipal
}
