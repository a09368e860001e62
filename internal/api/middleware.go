package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"relief-service/internal/logging"
	"relief-service/internal/models"
)

const identityKey = "identity"

func RequestLoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()
		logger.Infof("Request: %s %s, Status: %d, Latency: %v", method, path, status, latency)
	}
}

// TokenVerifier resolves a bearer token.
type TokenVerifier interface {
	Verify(token string) (models.Identity, error)
}

// Authenticate attaches the bearer identity when one is presented. A present
// but invalid token is rejected.
func Authenticate(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" || token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "malformed authorization header"})
			return
		}
		ident, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(identityKey, ident)
		c.Next()
	}
}

// RequireIdentity rejects requests without an authenticated actor.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := identity(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}
		c.Next()
	}
}

func identity(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return models.Identity{}, false
	}
	ident, ok := v.(models.Identity)
	return ident, ok
}

// actor returns the identity set by RequireIdentity.
func actor(c *gin.Context) models.Identity {
	ident, _ := identity(c)
	return ident
}
