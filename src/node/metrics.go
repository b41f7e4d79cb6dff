package node

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors, exposed on the service's /metrics endpoint. They
// are process-wide; registration happens once regardless of how many nodes
// a test binary creates.
var (
	metricSessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "plexus",
		Subsystem: "node",
		Name:      "sessions_open",
		Help:      "Number of currently open sessions.",
	})

	metricSessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "plexus",
		Subsystem: "node",
		Name:      "sessions_total",
		Help:      "Total number of sessions ever opened.",
	})

	metricIdentify = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plexus",
		Subsystem: "node",
		Name:      "identify_total",
		Help:      "Identity exchange outcomes.",
	}, []string{"outcome"})

	metricDHTQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plexus",
		Subsystem: "dht",
		Name:      "queries_total",
		Help:      "Completed DHT queries by type and outcome.",
	}, []string{"type", "outcome"})

	metricDHTInbound = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plexus",
		Subsystem: "dht",
		Name:      "inbound_requests_total",
		Help:      "Inbound DHT requests served, by kind.",
	}, []string{"kind"})

	metricTableSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "plexus",
		Subsystem: "dht",
		Name:      "table_size",
		Help:      "Number of peers in the routing table.",
	})

	metricStoreSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "plexus",
		Subsystem: "dht",
		Name:      "store_size",
		Help:      "Number of live records in the local store.",
	})

	metricPingRTT = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "plexus",
		Subsystem: "node",
		Name:      "ping_rtt_seconds",
		Help:      "Round-trip time of liveness probes.",
		Buckets:   prometheus.DefBuckets,
	})

	metricPublicAddrs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "plexus",
		Subsystem: "node",
		Name:      "public_addrs",
		Help:      "Number of advertised addresses confirmed publicly reachable.",
	})
)

const (
	outcomeOK       = "ok"
	outcomeError    = "error"
	outcomeAccepted = "accepted"
	outcomeSkipped  = "skipped"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)
