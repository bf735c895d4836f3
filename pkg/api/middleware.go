package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	requestIDHeader  = "X-Request-ID"
	cronSecretHeader = "X-Cron-Secret"
	requestIDKey     = "request_id"
)

// requestID reuses the caller's X-Request-ID or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// accessLog puts a request scoped logger in the request context and logs
// every request once it completes.
func accessLog(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		logger := base.With().Str("request_id", c.GetString(requestIDKey)).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))

		c.Next()

		status := c.Writer.Status()
		l := zerolog.Ctx(c.Request.Context())
		evt := l.Info()
		switch {
		case status >= http.StatusInternalServerError:
			evt = l.Error()
		case status >= http.StatusBadRequest:
			evt = l.Warn()
		}
		if len(c.Errors) > 0 {
			evt = evt.Str("errors", c.Errors.String())
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("route", c.FullPath()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) requireCronSecret(c *gin.Context) {
	if s.opts.CronSecret == "" {
		c.Next()
		return
	}
	got := c.GetHeader(cronSecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.CronSecret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Detail: "Unauthorized"})
		return
	}
	c.Next()
}
