package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

// PlayerKey is the gin context key holding the authenticated user id.
const PlayerKey = "player_id"

var ErrMissingToken = errors.New("missing token")

// IssueToken signs an HS256 player token with the user id as subject.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates a player token and returns its subject.
func ParseToken(secret, token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}

// AuthMiddleware validates a bearer JWT and sets player_id in context
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		playerID, err := ParseToken(secret, bearer(c))
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, ErrMissingToken) {
				msg = "missing token"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}
		c.Set(PlayerKey, playerID)
		c.Next()
	}
}

// OptionalAuth sets player_id when a valid token is present and lets anonymous
// requests through. Browsers cannot set headers on a WebSocket handshake, so the
// token may also come from the "token" query parameter.
func OptionalAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c)
		if token == "" {
			token = c.Query("token")
		}
		if token != "" {
			if playerID, err := ParseToken(secret, token); err == nil {
				c.Set(PlayerKey, playerID)
			}
		}
		c.Next()
	}
}

// PlayerID returns the authenticated user id, or "" for anonymous requests.
func PlayerID(c *gin.Context) string {
	return c.GetString(PlayerKey)
}

func bearer(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}
