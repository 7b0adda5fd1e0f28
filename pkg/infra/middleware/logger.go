package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	ctxlog "github.com/kart-io/sentinel-rag/pkg/infra/logger"
)

// Logger returns a middleware that logs HTTP requests with the request's
// context logger, so request_id and trace ids are attached. Paths with one of skipPrefixes are not logged.
func Logger(skipPrefixes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, p := range skipPrefixes {
			if strings.HasPrefix(path, p) {
				c.Next()
				return
			}
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"remote_addr", c.ClientIP(),
			"latency", latency.String(),
			"latency_ms", latency.Milliseconds(),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		log := ctxlog.GetLogger(c.Request.Context())
		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Errorw("HTTP Request", fields...)
		case status >= 400:
			log.Warnw("HTTP Request", fields...)
		default:
			log.Infow("HTTP Request", fields...)
		}
	}
}
