package middleware

import (
	"time"

	"github.com/garrec-gildas/fourmiz-app-sub004/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const HeaderRequestID = "X-Request-ID"

// LoggerMiddleware 访问日志，沿用上游传入的请求 ID
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("RequestID", requestID)
		c.Header(HeaderRequestID, requestID)

		c.Next()

		logger.Log.Info(path,
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.String("user_id", c.GetString(ContextUserID)),
			zap.String("request_id", requestID),
			zap.Duration("cost", time.Since(start)),
		)
	}
}
