package api

import (
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/identity"
	"alcyxob/coachsync/internal/logging"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Constants for context keys
const (
	ContextIdentityKey = "identity"
	HeaderRequestID    = "X-Request-ID"
)

// RequestLogger tags each request with an ID and logs it once on completion.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = logging.GenerateRequestID()
		}
		c.Header(HeaderRequestID, requestID)
		c.Request = c.Request.WithContext(logging.ContextWithRequestID(c.Request.Context(), requestID))

		c.Next()

		status := c.Writer.Status()
		event := logging.Ctx(c.Request.Context()).Info()
		if status >= http.StatusInternalServerError {
			event = logging.Ctx(c.Request.Context()).Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("Request handled")
	}
}

// AuthMiddleware verifies the bearer token with the identity provider.
func AuthMiddleware(provider identity.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithError(c, http.StatusUnauthorized, "Authorization header is missing")
			return
		}

		// Expecting "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			abortWithError(c, http.StatusUnauthorized, "Authorization header format must be Bearer {token}")
			return
		}

		id, err := provider.Verify(c.Request.Context(), parts[1])
		if err != nil {
			if errors.Is(err, identity.ErrTokenExpired) {
				abortWithError(c, http.StatusUnauthorized, "Token has expired")
			} else {
				abortWithError(c, http.StatusUnauthorized, "Invalid token")
			}
			return
		}

		c.Set(ContextIdentityKey, id)
		c.Next()
	}
}

// Helper to return JSON error response and abort request
func abortWithError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"error": message})
}

// RoleMiddleware rejects roles that can never use a route. Per-resource
// checks still happen in the services. Must run AFTER AuthMiddleware.
func RoleMiddleware(allowedRoles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := identityFromContext(c)
		if err != nil {
			abortWithError(c, http.StatusInternalServerError, err.Error())
			return
		}
		for _, allowed := range allowedRoles {
			if id.Role == allowed {
				c.Next()
				return
			}
		}
		abortWithError(c, http.StatusForbidden, fmt.Sprintf("Access denied: Role '%s' does not have permission", id.Role))
	}
}

func identityFromContext(c *gin.Context) (domain.Identity, error) {
	raw, exists := c.Get(ContextIdentityKey)
	if !exists {
		return domain.Identity{}, errors.New("identity not found in context")
	}
	id, ok := raw.(domain.Identity)
	if !ok {
		return domain.Identity{}, errors.New("invalid identity type in context")
	}
	return id, nil
}
