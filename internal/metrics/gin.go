package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carddesigner",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP 请求耗时分布（秒）。PDF 渲染走 Chromium，桶上限放宽到 30 秒。",
			Buckets:   []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path", "status"},
	)

	requestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "carddesigner",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "当前正在处理的 HTTP 请求数量（不含 WebSocket 会话）。",
		},
	)
)

// 不计入 HTTP 指标的路由：探活、指标自身，以及由会话 gauge 单独统计的编辑器长连接。
var untracked = map[string]struct{}{
	"/health":       {},
	"/metrics":      {},
	"/v1/editor/ws": {},
}

// GinMiddleware 按路由模板记录请求耗时与并发数。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if _, skip := untracked[path]; skip {
			c.Next()
			return
		}
		if path == "" {
			// 未匹配的路由统一归到一个标签，避免任意 URL 撑爆基数。
			path = "unmatched"
		}

		start := time.Now()
		requestsInFlight.Inc()
		defer requestsInFlight.Dec()

		c.Next()

		requestDuration.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
