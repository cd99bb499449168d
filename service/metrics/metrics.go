package metrics

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections",
		Help: "Live websocket connections.",
	})
	Events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_total",
		Help: "Client events received, by event name.",
	}, []string{"event"})
	TransactionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_transaction_errors_total",
		Help: "Failed transactions, by event name and error code.",
	}, []string{"event", "code"})
	BroadcastDeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_broadcast_deliveries_total",
		Help: "Frames queued to recipients.",
	})
	BroadcastDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_broadcast_drops_total",
		Help: "Recipients disconnected because their send queue was full.",
	})
	ExportDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_export_dropped_total",
		Help: "Exported events dropped because the export queue was full or the sink failed.",
	})
)

func init() {
	prometheus.MustRegister(Connections, Events, TransactionErrors, BroadcastDeliveries, BroadcastDrops, ExportDropped)
}

func ObserveError(event string, code int) {
	TransactionErrors.WithLabelValues(event, strconv.Itoa(code)).Inc()
}

// Handler /metrics
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
