package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_ws_connections",
			Help: "Currently open websocket connections.",
		},
	)

	RoomTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_room_tasks_total",
			Help: "Room dispatcher tasks by outcome.",
		},
		[]string{"outcome"},
	)

	RoomQueueRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_room_queue_rejections_total",
			Help: "Tasks rejected because a room queue was saturated.",
		},
	)

	OutboxPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_outbox_published_total",
			Help: "Outbox publish attempts by result.",
		},
		[]string{"result"},
	)

	AdmissionRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_admission_rejected_total",
			Help: "Connections rejected by the admission limiter.",
		},
		[]string{"scope"},
	)

	ACLChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_acl_checks_total",
			Help: "Room membership checks by cache result.",
		},
		[]string{"result"},
	)

	PreKeyBundlesFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_prekey_bundles_fetched_total",
			Help: "Prekey bundle fetches by result.",
		},
		[]string{"result"},
	)

	PreKeyLowStockDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_prekey_low_stock_devices",
			Help: "Devices currently below the one-time prekey stock threshold.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		WSConnections,
		RoomTasksTotal,
		RoomQueueRejectionsTotal,
		OutboxPublishedTotal,
		AdmissionRejectedTotal,
		ACLChecksTotal,
		PreKeyBundlesFetchedTotal,
		PreKeyLowStockDevices,
	)
}

func MustRegister(serviceName string) {
	HTTPRequestsTotal = HTTPRequestsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	HTTPRequestDurationSeconds = HTTPRequestDurationSeconds.MustCurryWith(prometheus.Labels{"service": serviceName}).(*prometheus.HistogramVec)

	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
	)
}
