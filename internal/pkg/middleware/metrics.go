package middleware

import (
	"time"

	"github.com/garrec-gildas/fourmiz-app-sub004/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// MetricsMiddleware 按路由模板记录请求数与耗时
func MetricsMiddleware(collector *metrics.MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		collector.RecordHTTPRequest(c.Request.Method, endpoint, c.Writer.Status(), time.Since(start))
	}
}
