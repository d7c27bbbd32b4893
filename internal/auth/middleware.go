package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"qrattend/internal/apperr"
)

// Context keys set by Authenticate.
const (
	ClaimsKey   = "claims"
	CallerIDKey = "caller_id"
)

var (
	errMissingBearer = apperr.NewAuthentication("missing bearer token", false)
	errBadBearer     = apperr.NewAuthentication("invalid token", false)
	errForbiddenRole = apperr.NewAuthorization("insufficient role")
)

// Authenticate enforces bearer JWT tokens signed with HS256.
func Authenticate(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			abort(c, errMissingBearer)
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("bearer token rejected")
			abort(c, errBadBearer)
			return
		}
		c.Set(ClaimsKey, claims)
		c.Set(CallerIDKey, claims.Subject)
		c.Next()
	}
}

// RequireRole lets the request through only when the caller has one of roles.
// It must run after Authenticate.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			abort(c, errMissingBearer)
			return
		}
		for _, r := range roles {
			if claims.Role == r {
				c.Next()
				return
			}
		}
		abort(c, errForbiddenRole)
	}
}

// ClaimsFrom returns the claims stored by Authenticate.
func ClaimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

func abort(c *gin.Context, err *apperr.Error) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(err.Kind), apperr.ResponseOf(err))
}
