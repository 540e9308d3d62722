package server

import (
	"strconv"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-stream-service/internal/metrics"
	"github.com/gin-gonic/gin"
)

const (
	logFmtRequest = "%s %s -> %d (%s)"
	unmatchedPath = "unmatched"
)

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		if status >= 500 {
			log.Error(logFmtRequest, c.Request.Method, c.Request.URL.Path, status, time.Since(start))

			return
		}

		log.Info(logFmtRequest, c.Request.Method, c.Request.URL.Path, status, time.Since(start))
	}
}

func requestMetrics(recorder *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedPath
		}

		recorder.ObserveRequest(route, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}
