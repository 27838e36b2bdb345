package middlewares

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-order/models"
	"github.com/yeremiapane/table-order/utils"
)

const (
	SessionTokenHeader = "X-Session-Token"
	ctxSession         = "session"
)

type SessionValidator interface {
	ValidateOnRequest(ctx context.Context, token string) (*models.Session, error)
}

// SessionAuth resolves the diner session from X-Session-Token or
// "Authorization: Session <token>" and stores it on the context.
func SessionAuth(v SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ses, err := v.ValidateOnRequest(c.Request.Context(), SessionToken(c))
		if err != nil {
			utils.RespondAppError(c, err)
			return
		}
		c.Set(ctxSession, ses)
		c.Next()
	}
}

func SessionToken(c *gin.Context) string {
	if t := strings.TrimSpace(c.GetHeader(SessionTokenHeader)); t != "" {
		return t
	}
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Session ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Session "))
	}
	return ""
}

// CurrentSession returns the session set by SessionAuth.
func CurrentSession(c *gin.Context) *models.Session {
	v, ok := c.Get(ctxSession)
	if !ok {
		return nil
	}
	ses, _ := v.(*models.Session)
	return ses
}
