package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPRecorder receives one observation per served request.
type HTTPRecorder interface {
	RecordHTTPRequest(method, path string, status int, d time.Duration)
}

// Gauge tracks requests in flight.
type Gauge interface {
	Inc()
	Dec()
}

// Metrics records every request under its route template, so path
// parameters do not explode label cardinality.
func Metrics(rec HTTPRecorder, inFlight Gauge) gin.HandlerFunc {
	return func(c *gin.Context) {
		inFlight.Inc()
		defer inFlight.Dec()

		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		rec.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
