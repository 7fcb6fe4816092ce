package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cardDesigner/internal/cardlayout"
)

var (
	badgeRendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carddesigner",
			Subsystem: "badge",
			Name:      "renders_total",
			Help:      "工牌渲染次数，按输出格式统计。",
		},
		[]string{"format"},
	)

	badgeAssetsHiddenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carddesigner",
			Subsystem: "badge",
			Name:      "assets_hidden_total",
			Help:      "因素材无法加载而被隐藏的元素次数。",
		},
		[]string{"element"},
	)

	editorSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "carddesigner",
			Subsystem: "editor",
			Name:      "sessions",
			Help:      "当前在线的编辑器 WebSocket 会话数。",
		},
	)
)

// ObserveRender 记录一次渲染以及其中被隐藏的元素。
func ObserveRender(format string, hidden []cardlayout.ElementID) {
	badgeRendersTotal.WithLabelValues(format).Inc()
	for _, id := range hidden {
		badgeAssetsHiddenTotal.WithLabelValues(string(id)).Inc()
	}
}

// EditorSessionOpened 与 EditorSessionClosed 成对调用。
func EditorSessionOpened() { editorSessions.Inc() }

func EditorSessionClosed() { editorSessions.Dec() }
