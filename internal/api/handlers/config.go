package handlers

import (
	"net/http"

	"github.com/cuetable/backend/internal/board"
	"github.com/cuetable/backend/internal/config"
	"github.com/gin-gonic/gin"
)

// GetConfig returns the table geometry and cue tuning the frontend draws with
func GetConfig(cfg *config.Config, table *board.Table) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"table":             table,
			"tick_rate":         cfg.TickRate,
			"max_pull":          cfg.MaxPull,
			"max_force":         cfg.MaxForce,
			"aim_deadzone":      board.AimDeadzone,
			"enforce_ownership": cfg.EnforceOwnership,
			"max_content":       board.MaxContentLength,
		})
	}
}
