// Package metrics holds the Prometheus collectors shared by the ledger,
// the watcher and the HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerSaves = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kasse",
		Name:      "ledger_saves_total",
		Help:      "Number of times the ledger document was written.",
	})

	LedgerResets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kasse",
		Name:      "ledger_corrupt_resets_total",
		Help:      "Number of loads that found an unreadable document and fell back to an empty ledger.",
	})

	LedgerDecodeCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kasse",
		Name:      "ledger_decode_cache_hits_total",
		Help:      "Number of loads that found the stored document unchanged and skipped decoding it.",
	})

	OperationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kasse",
		Name:      "operation_failures_total",
		Help:      "Failed fund operations by operation and error kind.",
	}, []string{"operation", "kind"})

	Refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kasse",
		Name:      "watcher_refreshes_total",
		Help:      "Watcher refreshes by trigger.",
	}, []string{"trigger"})

	ActiveWatchers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kasse",
		Name:      "watchers_active",
		Help:      "Number of running watchers.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kasse",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method and status code.",
	}, []string{"method", "code"})
)

// Trigger labels for Refreshes.
const (
	TriggerEvent = "event"
	TriggerPoll  = "poll"
)
