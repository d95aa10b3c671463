package middleware

import (
	"net/http"
	"strings"

	"github.com/clinicops/backend/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Institution context keys
const (
	InstitutionIDKey     = "institution_id"
	InstitutionHeaderKey = "X-Institution-ID"
)

// InstitutionMiddlewareConfig holds configuration for institution scoping
type InstitutionMiddlewareConfig struct {
	// SkipPaths are paths that don't require an institution context,
	// e.g. health checks and the gateway callback endpoint (the gateway
	// does not know our institutions; the callback resolves its scope
	// from the transaction).
	SkipPaths []string
	// Required determines whether an institution context is mandatory
	Required bool
	// Logger for middleware logging
	Logger *zap.Logger
}

// DefaultInstitutionConfig returns the default institution middleware configuration
func DefaultInstitutionConfig() InstitutionMiddlewareConfig {
	return InstitutionMiddlewareConfig{
		SkipPaths: []string{"/health", "/ready", "/api/v1/system", "/api/v1/billing/gateway/callback"},
		Required:  true,
	}
}

// InstitutionMiddleware extracts the institution scope from the
// X-Institution-ID header and binds it to the request context. Every
// repository query downstream is scoped by this ID.
func InstitutionMiddleware() gin.HandlerFunc {
	return InstitutionMiddlewareWithConfig(DefaultInstitutionConfig())
}

// InstitutionMiddlewareWithConfig returns institution middleware with custom configuration
func InstitutionMiddlewareWithConfig(cfg InstitutionMiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skipPath := range cfg.SkipPaths {
			if path == skipPath || strings.HasPrefix(path, skipPath+"/") {
				c.Next()
				return
			}
		}

		institutionID := c.GetHeader(InstitutionHeaderKey)

		if institutionID == "" {
			if cfg.Required {
				respondUnauthorized(c, "Institution identification required")
				return
			}
			c.Next()
			return
		}

		if _, err := uuid.Parse(institutionID); err != nil {
			if cfg.Logger != nil {
				cfg.Logger.Warn("Rejected malformed institution ID",
					zap.String("institution_id", institutionID))
			}
			respondUnauthorized(c, "Invalid institution ID format")
			return
		}

		c.Set(InstitutionIDKey, institutionID)

		// Bind to the request context so service-layer logs carry the scope
		ctx := c.Request.Context()
		log := logger.FromContext(ctx)
		ctx, _ = logger.WithInstitutionID(ctx, log, institutionID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// respondUnauthorized sends an unauthorized response
func respondUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "ERR_UNAUTHORIZED",
			"message": message,
		},
	})
}

// GetInstitutionID retrieves the institution ID from gin.Context
func GetInstitutionID(c *gin.Context) string {
	if institutionID, exists := c.Get(InstitutionIDKey); exists {
		if id, ok := institutionID.(string); ok {
			return id
		}
	}
	return ""
}

// GetInstitutionUUID retrieves the institution ID as UUID from gin.Context
func GetInstitutionUUID(c *gin.Context) (uuid.UUID, error) {
	institutionID := GetInstitutionID(c)
	if institutionID == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(institutionID)
}
