// Package telemetry holds the Prometheus collectors shared by the
// network, consensus and cluster packages.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "generals"

var (
	Registry = prometheus.NewRegistry()

	ChannelsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channels_open",
			Help:      "Number of live channels by direction",
		},
		[]string{"direction"},
	)

	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Frames written to peers by command",
		},
		[]string{"command"},
	)

	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Frames decoded from peers by command",
		},
		[]string{"command"},
	)

	DecodeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Frames that could not be decoded as JSON",
		},
	)

	RoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Order rounds by outcome",
		},
		[]string{"outcome"},
	)

	RoundDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Time from actual-order to decision",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	Members = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "members",
			Help:      "Live generals in the cluster",
		},
	)
)

func init() {
	Registry.MustRegister(
		ChannelsOpen,
		MessagesSent,
		MessagesReceived,
		DecodeFailures,
		RoundsTotal,
		RoundDuration,
		Members,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
