package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/haab-bank/customer-update-api/internal/service"
)

// Metrics observes every request. The route template is used as the path
// label so /requests/REQ-000123 does not explode label cardinality;
// unmatched routes fall back to the raw path.
func Metrics(metrics *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metrics.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
