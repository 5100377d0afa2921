// Package metrics exposes process-level Prometheus counters for the
// ingest/crawl/rank pipelines. Counters are cheap to bump from hot paths;
// cardinality is kept to small fixed label sets
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gitrank/internal/platform/logger"
)

var (
	// EventsTotal counts events fanned out by the aggregator
	EventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gitrank_events_total",
		Help: "Events aggregated into counter increments",
	})

	// EventsSkippedTotal counts records dropped by the decoder or the actor filter
	EventsSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gitrank_events_skipped_total",
		Help: "Records skipped, by reason",
	}, []string{"reason"})

	// SlicesTotal counts hour slices by processing result
	SlicesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gitrank_slices_total",
		Help: "Hour slices seen by the ingest driver, by result",
	}, []string{"result"})

	// BatchesTotal counts batches flushed to the stores
	BatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gitrank_batches_total",
		Help: "Aggregation batches flushed",
	})

	// CrawlTotal counts crawl attempts by outcome
	CrawlTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gitrank_crawl_total",
		Help: "Profile crawl attempts, by outcome",
	}, []string{"outcome"})

	// RankPublishesTotal counts leaderboard snapshots swapped into serving position
	RankPublishesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gitrank_rank_publishes_total",
		Help: "Leaderboard snapshots published",
	})
)

func init() {
	prometheus.MustRegister(
		EventsTotal,
		EventsSkippedTotal,
		SlicesTotal,
		BatchesTotal,
		CrawlTotal,
		RankPublishesTotal,
	)
}

// Handler returns the /metrics handler for mounting on an existing router
func Handler() http.Handler { return promhttp.Handler() }

// Serve starts a standalone metrics listener when addr is non-empty.
// Worker binaries use this since they have no API router of their own
func Serve(addr string) {
	if addr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Named("metrics").Error().Err(err).Str("addr", addr).Msg("metrics listener failed")
		}
	}()
}
