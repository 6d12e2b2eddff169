package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/haab-bank/customer-update-api/internal/middleware"
	"github.com/haab-bank/customer-update-api/internal/models"
	"github.com/haab-bank/customer-update-api/internal/service"
)

// claimsFromContext returns the authenticated principal, or nil when the
// JWT middleware did not run on this route. Handlers treat nil claims as
// unauthorized; they never fall back to an anonymous identity.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		return nil
	}
	if claims, ok := value.(*models.JWTClaims); ok {
		return claims
	}
	return nil
}

// requestMeta captures the caller's network identity for audit entries.
func requestMeta(c *gin.Context) service.RequestMeta {
	return service.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}
