package middleware

import (
	"errors"
	"log"
	"net/http"

	"github.com/cuetable/backend/internal/admin"
	"github.com/cuetable/backend/internal/models"
	"github.com/gin-gonic/gin"
)

// AdminKey is the gin context key holding the authenticated admin account.
const AdminKey = "admin_account"

// AdminValidator checks admin credentials; admin.ValidateAdmin bound to a db.
type AdminValidator func(username, token, ip string) (*models.AdminAccount, error)

// AdminMiddleware authenticates X-Admin-User / X-Admin-Token headers.
func AdminMiddleware(validate AdminValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.GetHeader("X-Admin-User")
		token := c.GetHeader("X-Admin-Token")
		if username == "" || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}

		acc, err := validate(username, token, c.ClientIP())
		switch {
		case err == nil:
		case errors.Is(err, admin.ErrIPNotAllowed):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Address not allowed"})
			return
		case errors.Is(err, admin.ErrAccountNotFound), errors.Is(err, admin.ErrInvalidToken):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		default:
			log.Printf("[ADMIN] validation error: %v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.Set(AdminKey, acc)
		c.Next()
	}
}

// RequireRole rejects admins without the given role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		acc, ok := c.Get(AdminKey)
		if !ok || !admin.HasRole(acc.(*models.AdminAccount), role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient role"})
			return
		}
		c.Next()
	}
}
