package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	DetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "detections_total",
			Help:      "Total detector hits, labeled by detector name and attack type.",
		},
		[]string{"detector", "attack_type"},
	)

	ScoreBucket = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sentinel",
			Name:      "score_bucket",
			Help:      "Distribution of per-request threat scores.",
			Buckets:   []float64{0, 20, 40, 60, 80, 100},
		},
		[]string{"route"},
	)

	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "actions_total",
			Help:      "Total dispatched actions, labeled by action type.",
		},
		[]string{"action"},
	)

	BlocklistHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "blocklist_hits_total",
			Help:      "Total requests matched against the blocklist, labeled by lookup mode.",
		},
		[]string{"mode"},
	)

	FilterSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentinel",
			Name:      "filter_size",
			Help:      "Number of keys currently stored in the cuckoo filter.",
		},
	)

	FilterFPREstimate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentinel",
			Name:      "filter_fpr_estimate",
			Help:      "Estimated false-positive rate of the cuckoo filter at its current load factor.",
		},
	)

	QueueLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentinel",
			Name:      "queue_lag",
			Help:      "Number of pending (unacked) blocklist queue messages at last poll.",
		},
	)

	HandlerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "handler_errors_total",
			Help:      "Total handler execution errors, labeled by handler name.",
		},
		[]string{"handler"},
	)
)

func init() {
	prometheus.MustRegister(
		DetectionsTotal,
		ScoreBucket,
		ActionsTotal,
		BlocklistHitsTotal,
		FilterSize,
		FilterFPREstimate,
		QueueLag,
		HandlerErrorsTotal,
	)
}
