package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/yeremiapane/table-order/kds"
	"github.com/yeremiapane/table-order/services"
	"github.com/yeremiapane/table-order/utils"
)

type StreamController struct {
	Hub      *kds.Hub
	Board    *services.BoardService
	upgrader websocket.Upgrader
}

// NewStreamController allows websocket upgrades from the given origins; an
// empty list allows any origin.
func NewStreamController(hub *kds.Hub, board *services.BoardService, origins []string) *StreamController {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &StreamController{
		Hub:   hub,
		Board: board,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

// Stream -> server-sent events feed for staff boards
func (sc *StreamController) Stream(c *gin.Context) {
	kds.SetStreamHeaders(c.Writer.Header())
	c.Status(http.StatusOK)

	sub := kds.NewSSESubscriber(c.Writer)
	if err := sc.Hub.Subscribe(sub); err != nil {
		utils.ErrorLogger.WithError(err).Warn("stream subscribe failed")
		return
	}
	defer sc.Hub.Unsubscribe(sub)

	sc.sendSnapshot(c, sub)

	select {
	case <-c.Request.Context().Done():
	case <-sub.Done():
	}
}

// WebSocket -> the same feed over a websocket
func (sc *StreamController) WebSocket(c *gin.Context) {
	conn, err := sc.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	sub := kds.NewWSSubscriber(conn)
	if err := sc.Hub.Subscribe(sub); err != nil {
		_ = conn.Close()
		return
	}
	defer sc.Hub.Unsubscribe(sub)

	sc.sendSnapshot(c, sub)
	sub.ReadUntilClosed()
}

func (sc *StreamController) sendSnapshot(c *gin.Context, sub kds.Subscriber) {
	snap, err := sc.Board.Snapshot(c.Request.Context(), time.Now().UTC())
	if err != nil {
		utils.ErrorLogger.WithError(err).Error("build board snapshot")
		_ = sc.Hub.Send(sub, kds.EventSnapshot, gin.H{"error": "snapshot_failed"})
		return
	}
	_ = sc.Hub.Send(sub, kds.EventSnapshot, snap)
}
