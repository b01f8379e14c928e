package handlers

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cuetable/backend/internal/middleware"
	"github.com/gin-gonic/gin"
)

// DevToken issues a player token for any user id. Routed only in development,
// where no identity provider is in front of the API.
func DevToken(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UserID string `json:"user_id"`
		}
		if err := c.BindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
			return
		}

		exp := time.Now().Add(24 * time.Hour)
		token, err := middleware.IssueToken(secret, strings.TrimSpace(req.UserID), 24*time.Hour)
		if err != nil {
			log.Printf("Failed to sign token: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": exp.Format(time.RFC3339)})
	}
}
