package middleware

import (
	"context"
	"time"

	aws_pkg "donation-service/pkg/aws"

	"github.com/gin-gonic/gin"
)

// MetricsMiddleware ships request metrics to CloudWatch off the request path.
// It is a pass-through when the client is nil or disabled.
func MetricsMiddleware(metricsClient *aws_pkg.MetricsClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !metricsClient.IsEnabled() {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		sample := aws_pkg.RequestSample{
			Method:  c.Request.Method,
			Route:   route,
			Status:  c.Writer.Status(),
			Latency: time.Since(start),
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsClient.RecordRequest(ctx, sample)
		}()
	}
}

// Timeout bounds the request context.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
