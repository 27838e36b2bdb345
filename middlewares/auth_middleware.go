package middlewares

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-order/utils"
)

const (
	RoleAdmin = "admin"

	ctxAdminSubject = "admin_subject"
	ctxRole         = "role"
)

// AdminAuth accepts "Authorization: Bearer <jwt>", or ?token= for stream
// endpoints where browsers cannot set headers (EventSource, WebSocket).
func AdminAuth(issuer *utils.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			tokenString = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		} else if q := c.Query("token"); q != "" {
			tokenString = q
		}
		if tokenString == "" {
			utils.RespondAppError(c, utils.NewUnauthorizedError("authorization header missing"))
			return
		}

		claims, err := issuer.ParseToken(tokenString)
		if err != nil {
			utils.RespondAppError(c, utils.NewUnauthorizedError("invalid or expired token"))
			return
		}
		if claims.Role != RoleAdmin {
			utils.RespondAppError(c, utils.NewUnauthorizedError("admin access required"))
			return
		}

		c.Set(ctxAdminSubject, claims.Subject)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// AdminSubject returns the authenticated staff identity, if any.
func AdminSubject(c *gin.Context) string {
	return c.GetString(ctxAdminSubject)
}
