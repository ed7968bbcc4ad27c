package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/carousel_go_server/internal/pkg/logger"
)

// RequestLogger 访问日志
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		kv := []interface{}{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if userID, ok := GetUserID(c); ok {
			kv = append(kv, "user_id", userID)
		}
		if len(c.Errors) > 0 {
			kv = append(kv, "errors", c.Errors.String())
			log.Warn("request", kv...)
			return
		}
		log.Info("request", kv...)
	}
}
