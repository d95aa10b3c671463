package logger

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// probePaths are logged at debug so liveness checks do not drown the
// request log.
var probePaths = map[string]struct{}{
	"/health": {},
	"/ready":  {},
}

// GinMiddleware logs each HTTP request and seeds the request-scoped logger
// into the request context. Downstream middleware retrieves it with
// FromContext, so the institution scope and user identity bound later in
// the chain land on the same logger the services use.
func GinMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		reqLog := WithTraceContext(c.Request.Context(), log)
		ctx, reqLog := WithRequestID(c.Request.Context(), reqLog, c.GetString("request_id"))
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
			zap.Int("body_size", c.Writer.Size()),
		}
		if query != "" {
			fields = append(fields, zap.String("query", query))
		}
		// bound after this middleware ran, so read them back off the context
		if institutionID := GetInstitutionID(c.Request.Context()); institutionID != "" {
			fields = append(fields, zap.String("institution_id", institutionID))
		}
		if userID := GetUserID(c.Request.Context()); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		switch {
		case status >= http.StatusInternalServerError:
			reqLog.Error("http request", fields...)
		case status >= http.StatusBadRequest:
			reqLog.Warn("http request", fields...)
		default:
			if _, probe := probePaths[path]; probe {
				reqLog.Debug("http request", fields...)
			} else {
				reqLog.Info("http request", fields...)
			}
		}
	}
}

// Recovery converts a handler panic into a 500 with the standard error
// envelope instead of a bare status, logging the stack with request
// correlation.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				requestID := c.GetString("request_id")
				log.Error("panic recovered",
					zap.String("request_id", requestID),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Any("panic", r),
					zap.Stack("stacktrace"),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error": gin.H{
						"code":       "ERR_INTERNAL",
						"message":    "Internal server error",
						"request_id": requestID,
					},
				})
			}
		}()
		c.Next()
	}
}
