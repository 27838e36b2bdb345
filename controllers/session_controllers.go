package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-order/kds"
	"github.com/yeremiapane/table-order/middlewares"
	"github.com/yeremiapane/table-order/services"
	"github.com/yeremiapane/table-order/utils"
)

type SessionController struct {
	Sessions  *services.SessionService
	Publisher services.EventPublisher
}

func NewSessionController(sessions *services.SessionService, pub services.EventPublisher) *SessionController {
	return &SessionController{Sessions: sessions, Publisher: pub}
}

// Resolve -> redeem a QR access token
func (sc *SessionController) Resolve(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, utils.NewValidationError("invalid request body"))
		return
	}

	opened, err := sc.Sessions.OpenByToken(c.Request.Context(), req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	sc.announce(opened)
	utils.RespondJSON(c, http.StatusOK, "Session opened", opened)
}

// OpenBySlug -> redeem the shared code for a table slug
func (sc *SessionController) OpenBySlug(c *gin.Context) {
	var req struct {
		Slug string `json:"slug"`
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, utils.NewValidationError("invalid request body"))
		return
	}

	opened, err := sc.Sessions.OpenBySharedCode(c.Request.Context(), req.Slug, req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	sc.announce(opened)
	utils.RespondJSON(c, http.StatusOK, "Session opened", opened)
}

// Me -> the session behind the current token
func (sc *SessionController) Me(c *gin.Context) {
	ses := middlewares.CurrentSession(c)
	utils.RespondJSON(c, http.StatusOK, "Current session", gin.H{
		"session_id":     ses.ID,
		"status":         ses.Status,
		"table":          services.TableRef{ID: ses.Table.ID, Label: ses.Table.Label, Slug: ses.Table.Slug},
		"order_count":    ses.OrderCount,
		"first_order_at": ses.FirstOrderAt,
		"last_active_at": ses.LastActiveAt,
		"created_at":     ses.CreatedAt,
	})
}

// Close -> staff closes a session
func (sc *SessionController) Close(c *gin.Context) {
	id, err := uintParam(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}

	ses, err := sc.Sessions.CloseByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if sc.Publisher != nil {
		sc.Publisher.Publish(kds.EventSessionEnd, gin.H{"session_id": ses.ID, "table_id": ses.TableID, "reason": ses.ClosedReason})
	}
	utils.RespondJSON(c, http.StatusOK, "Session closed", gin.H{
		"session_id":    ses.ID,
		"status":        ses.Status,
		"closed_reason": ses.ClosedReason,
	})
}

func (sc *SessionController) announce(o *services.OpenedSession) {
	if sc.Publisher == nil {
		return
	}
	sc.Publisher.Publish(kds.EventSessionOpen, gin.H{
		"session_id": o.SessionID,
		"table":      o.Table,
		"opened_at":  time.Now().UTC(),
	})
}
