package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blocksIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quittance_blocks_indexed_total",
		Help: "Total number of blocks processed by the indexer.",
	})

	syncLag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quittance_sync_lag_blocks",
		Help: "Blocks between the confirmed chain head and the last indexed block.",
	})

	currentBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quittance_current_block",
		Help: "Last block number processed by the indexer.",
	})

	eventsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quittance_events_decoded_total",
		Help: "Total number of logs decoded into events, labeled by event ID.",
	}, []string{"event"})

	malformedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quittance_malformed_events_total",
		Help: "Total number of events dropped because required fields were missing or mistyped.",
	})
)
