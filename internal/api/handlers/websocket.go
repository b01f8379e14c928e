package handlers

import (
	"github.com/cuetable/backend/internal/middleware"
	"github.com/cuetable/backend/internal/ws"
	"github.com/gin-gonic/gin"
)

// HandleBoardWebSocket upgrades to the board socket; anonymous callers watch only
func HandleBoardWebSocket(h *ws.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.ServeWS(c.Writer, c.Request, middleware.PlayerID(c))
	}
}
