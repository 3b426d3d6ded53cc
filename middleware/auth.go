package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"storefront/internal/auth"
	"storefront/pkg/ctxmanage"
	"storefront/pkg/logkey"
	"strings"

	"github.com/gin-gonic/gin"
)

// Authentication rejects requests without a valid bearer token.
func (m *Mid) Authentication() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceId := ctxmanage.GetTraceIdOfRequest(c)
		tokenStr, ok := bearerToken(c)
		if !ok {
			slog.Error("missing bearer token", slog.String(logkey.TraceID, traceId))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if !m.setClaims(c, tokenStr, traceId) {
			return
		}
		c.Next()
	}
}

// OptionalAuthentication lets anonymous requests through but still rejects
// malformed or expired tokens.
func (m *Mid) OptionalAuthentication() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}
		if !m.setClaims(c, tokenStr, ctxmanage.GetTraceIdOfRequest(c)) {
			return
		}
		c.Next()
	}
}

func (m *Mid) setClaims(c *gin.Context, tokenStr, traceId string) bool {
	claims, err := m.k.ValidateToken(tokenStr)
	if err != nil {
		slog.Error("token validation failed", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return false
	}
	ctx := context.WithValue(c.Request.Context(), auth.ClaimsKey, claims)
	c.Request = c.Request.WithContext(ctx)
	return true
}

// Authorize wraps next so it only runs for callers holding one of roles.
func (m *Mid) Authorize(next gin.HandlerFunc, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceId := ctxmanage.GetTraceIdOfRequest(c)
		claims, ok := auth.ClaimsFromContext(c.Request.Context())
		if !ok {
			slog.Error("claims not found", slog.String(logkey.TraceID, traceId))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if err := auth.RequireRole(claims, roles...); err != nil {
			slog.Error("role check failed", slog.String(logkey.TraceID, traceId),
				slog.String(logkey.UserID, claims.Subject), slog.String(logkey.ERROR, err.Error()))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		next(c)
	}
}

// RequireRole is the group-level form of Authorize.
func (m *Mid) RequireRole(roles ...string) gin.HandlerFunc {
	return m.Authorize(func(c *gin.Context) { c.Next() }, roles...)
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
