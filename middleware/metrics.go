package middleware

import (
	"context"
	"time"

	aws_pkg "github.com/Lead-Studios/veritix-backend-sub005/aws"
	"github.com/gin-gonic/gin"
)

// MetricsRecorder is the part of aws.MetricsClient the HTTP metrics use.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
	RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error
}

// RequestMetrics publishes request count, latency and errors per route.
// Publishing happens off the request path.
func RequestMetrics(m MetricsRecorder, service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		go func(method string, status int, dur time.Duration) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			dims := map[string]string{"Service": service, "Method": method, "Path": path}
			_ = m.RecordCount(ctx, aws_pkg.MetricHTTPRequests, dims)
			_ = m.RecordLatency(ctx, aws_pkg.MetricHTTPLatency, dur, dims)
			if status >= 500 {
				_ = m.RecordCount(ctx, aws_pkg.MetricHTTPErrors, dims)
			}
		}(c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

// RequestTimeout bounds the context handlers see.
func RequestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
