package api

import (
	"log"
	"time"

	"github.com/cuetable/backend/internal/admin"
	"github.com/cuetable/backend/internal/api/handlers"
	"github.com/cuetable/backend/internal/board"
	"github.com/cuetable/backend/internal/config"
	"github.com/cuetable/backend/internal/middleware"
	"github.com/cuetable/backend/internal/models"
	"github.com/cuetable/backend/internal/store"
	"github.com/cuetable/backend/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

// the tick loop runs many times a second; this long without one means it is wedged
const healthStallAfter = 5 * time.Second

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, db *sqlx.DB, st *store.PostgresStore, sim *board.Simulation, socket *ws.Handler, cfg *config.Config) {
	router.Use(middleware.CORSMiddleware(cfg))

	if cfg.Environment != "production" {
		router.Use(func(c *gin.Context) {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
			c.Next()
		})
		log.Println("[DEV MODE] no-cache headers enabled for all routes")
	}

	router.GET("/ws", middleware.WebSocketCORSCheck(cfg), middleware.OptionalAuth(cfg.JWTSecret), handlers.HandleBoardWebSocket(socket))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck(sim, socket, healthStallAfter))
		v1.GET("/config", handlers.GetConfig(cfg, sim.Table()))
		v1.GET("/board", handlers.GetBoard(sim))
		v1.GET("/articles/:id/thread", handlers.GetThread(st))

		if cfg.Environment == "development" {
			v1.POST("/dev/token", handlers.DevToken(cfg.JWTSecret))
		}

		authed := v1.Group("", middleware.AuthMiddleware(cfg.JWTSecret))
		{
			authed.POST("/articles", handlers.CreateArticle(st, sim))
			authed.POST("/comments", handlers.CreateComment(st, sim))
			authed.DELETE("/balls/:id", handlers.DeleteBall(st, sim))
			authed.POST("/articles/:id/vote", handlers.VoteArticle(st))
		}

		validate := func(username, token, ip string) (*models.AdminAccount, error) {
			return admin.ValidateAdmin(db, username, token, ip)
		}
		adm := v1.Group("/admin", middleware.AdminMiddleware(validate))
		{
			adm.POST("/prune", middleware.RequireRole("prune"), handlers.PruneNow(db, st, cfg.PruneRetention))
			adm.GET("/audit", middleware.RequireRole("audit"), handlers.GetAdminAuditLogs(db))
		}
	}
}
