package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthMiddleware guards the control endpoints with a static API key sent as
// a bearer token. An empty key disables the check.
type AuthMiddleware struct {
	keyDigest [sha256.Size]byte
	enabled   bool
	logger    *zap.Logger
}

func NewAuthMiddleware(apiKey string, logger *zap.Logger) *AuthMiddleware {
	if apiKey == "" {
		logger.Warn("API_KEY not set, control endpoints are unauthenticated")
	}
	return &AuthMiddleware{
		keyDigest: sha256.Sum256([]byte(apiKey)),
		enabled:   apiKey != "",
		logger:    logger,
	}
}

func (a *AuthMiddleware) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.enabled {
			c.Next()
			return
		}

		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token required"})
			return
		}

		digest := sha256.Sum256([]byte(token))
		if subtle.ConstantTimeCompare(digest[:], a.keyDigest[:]) != 1 {
			a.logger.Warn("Invalid API key", zap.String("client_ip", c.ClientIP()), zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}

		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}

	return strings.TrimSpace(token)
}
