package handlers

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/cuetable/backend/internal/admin"
	"github.com/cuetable/backend/internal/middleware"
	"github.com/cuetable/backend/internal/models"
	"github.com/cuetable/backend/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

// PruneNow hard-deletes orphaned soft-deleted rows immediately, bypassing the
// cluster lock the background worker takes.
func PruneNow(db *sqlx.DB, p store.Pruner, retention time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		username := adminUsername(c)

		n, err := p.Prune(c.Request.Context(), time.Now().Add(-retention))
		if err != nil {
			log.Printf("[ADMIN] prune by %s failed: %v", username, err)
			admin.LogAdminAction(db, username, c.ClientIP(), c.FullPath(), "prune", map[string]interface{}{"error": err.Error()}, false)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "prune failed"})
			return
		}

		admin.LogAdminAction(db, username, c.ClientIP(), c.FullPath(), "prune", map[string]interface{}{"pruned": n, "retention": retention.String()}, true)
		c.JSON(http.StatusOK, gin.H{"pruned": n})
	}
}

// GetAdminAuditLogs returns paginated audit log entries
func GetAdminAuditLogs(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.DefaultQuery("admin_user", "")
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if limit <= 0 || limit > 200 {
			limit = 200
		}
		if offset < 0 {
			offset = 0
		}

		logs, err := admin.GetAdminAuditLogs(db, username, limit, offset)
		if err != nil {
			log.Printf("[ADMIN] Failed to fetch audit logs: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch audit logs"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"logs": logs, "limit": limit, "offset": offset})
	}
}

func adminUsername(c *gin.Context) string {
	if acc, ok := c.Get(middleware.AdminKey); ok {
		if a, ok := acc.(*models.AdminAccount); ok {
			return a.Username
		}
	}
	return ""
}
