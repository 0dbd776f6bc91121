// Package metrics exposes the Prometheus counters and gauges the feed
// pipeline's components report into: pool occupancy, queue depth,
// sequencer gaps, and database batch commit latency.
package metrics

import (
	"context"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lxfeed/tradefeed/pkg/logger"
)

// Feed holds every metric the pipeline reports. It is built around a
// private registry so multiple Feed instances (e.g. in tests) never
// collide on prometheus' default, process-global registry.
type Feed struct {
	namespace string
	registry  *prometheus.Registry
	log       logger.Logger

	tradesReceived   prometheus.Counter
	gapsDetected     prometheus.Counter
	gapsRecovered    prometheus.Counter
	unrecoverableGap prometheus.Counter
	recoveryLatency  prometheus.Histogram

	poolInUse  *prometheus.GaugeVec
	poolCap    *prometheus.GaugeVec
	queueDepth *prometheus.GaugeVec
	queueCap   *prometheus.GaugeVec

	dbBatchLatency  prometheus.Histogram
	dbRowsInserted  prometheus.Counter
	dbBatchFailures prometheus.Counter

	vwapPublished prometheus.Counter

	orderBookDepth *prometheus.GaugeVec
	bestBidAsk     *prometheus.GaugeVec

	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
}

// New builds a Feed with all metrics registered under namespace.
func New(namespace string, log logger.Logger) *Feed {
	registry := prometheus.NewRegistry()

	m := &Feed{
		namespace: namespace,
		registry:  registry,
		log:       log,

		tradesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_received_total",
			Help:      "Total trade records accepted by the sequencer",
		}),
		gapsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_gaps_detected_total",
			Help:      "Total sequence number gaps observed",
		}),
		gapsRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_gaps_recovered_total",
			Help:      "Total sequence gaps closed by the recovery protocol",
		}),
		unrecoverableGap: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_gaps_unrecoverable_total",
			Help:      "Total gaps that exhausted the recovery retry budget",
		}),
		recoveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gap_recovery_latency_seconds",
			Help:      "Time from gap detection to recovered-range delivery",
			Buckets:   prometheus.DefBuckets,
		}),

		poolInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_in_use",
			Help:      "Handles currently checked out of a pool",
		}, []string{"pool"}),
		poolCap: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_capacity",
			Help:      "Fixed capacity of a pool",
		}, []string{"pool"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Items currently queued",
		}, []string{"queue"}),
		queueCap: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_capacity",
			Help:      "Fixed capacity of a queue",
		}, []string{"queue"}),

		dbBatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_batch_commit_latency_seconds",
			Help:      "Latency of a database sink batch commit",
			Buckets:   prometheus.DefBuckets,
		}),
		dbRowsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_rows_inserted_total",
			Help:      "Total trade rows committed to the database sink",
		}),
		dbBatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_batch_failures_total",
			Help:      "Total database sink batch commits that failed",
		}),

		vwapPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vwap_bars_published_total",
			Help:      "Total per-symbol VWAP bars published",
		}),

		orderBookDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orderbook_depth",
			Help:      "Resting quantity at a price level",
		}, []string{"symbol", "side"}),
		bestBidAsk: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orderbook_best_price",
			Help:      "Best bid/ask price",
		}, []string{"symbol", "side"}),

		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_usage_bytes",
			Help:      "Current heap allocation",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines_count",
			Help:      "Current number of goroutines",
		}),
	}

	registry.MustRegister(
		m.tradesReceived, m.gapsDetected, m.gapsRecovered, m.unrecoverableGap, m.recoveryLatency,
		m.poolInUse, m.poolCap, m.queueDepth, m.queueCap,
		m.dbBatchLatency, m.dbRowsInserted, m.dbBatchFailures,
		m.vwapPublished, m.orderBookDepth, m.bestBidAsk,
		m.memoryUsage, m.goroutines,
	)

	return m
}

// Serve starts the Prometheus scrape endpoint on addr (e.g. ":9090") and
// returns once the listener is accepting connections or setup fails.
func (m *Feed) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		if err := http.Serve(ln, mux); err != nil {
			m.log.Error("metrics server stopped", "error", err)
		}
	}()
	m.log.Info("metrics endpoint listening", "addr", addr)
	return nil
}

func (m *Feed) RecordTrade()              { m.tradesReceived.Inc() }
func (m *Feed) RecordGapDetected()        { m.gapsDetected.Inc() }
func (m *Feed) RecordGapRecovered(d time.Duration) {
	m.gapsRecovered.Inc()
	m.recoveryLatency.Observe(d.Seconds())
}
func (m *Feed) RecordUnrecoverableGap() { m.unrecoverableGap.Inc() }

func (m *Feed) SetPoolOccupancy(pool string, inUse, cap int) {
	m.poolInUse.WithLabelValues(pool).Set(float64(inUse))
	m.poolCap.WithLabelValues(pool).Set(float64(cap))
}

func (m *Feed) SetQueueDepth(queue string, depth, cap int) {
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
	m.queueCap.WithLabelValues(queue).Set(float64(cap))
}

func (m *Feed) RecordDBBatch(d time.Duration, rows int, err error) {
	m.dbBatchLatency.Observe(d.Seconds())
	if err != nil {
		m.dbBatchFailures.Inc()
		return
	}
	m.dbRowsInserted.Add(float64(rows))
}

func (m *Feed) RecordVWAPPublished() { m.vwapPublished.Inc() }

func (m *Feed) SetOrderBookLevel(symbol, side string, quantity float64) {
	m.orderBookDepth.WithLabelValues(symbol, side).Set(quantity)
}

func (m *Feed) SetBestPrice(symbol, side string, price float64) {
	m.bestBidAsk.WithLabelValues(symbol, side).Set(price)
}

// CollectRuntimeMetrics periodically samples memory and goroutine counts
// until ctx is cancelled.
func (m *Feed) CollectRuntimeMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			m.memoryUsage.Set(float64(stats.Alloc))
			m.goroutines.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Registry exposes the underlying Prometheus registry for tests that want
// to scrape it directly rather than going through an HTTP listener.
func (m *Feed) Registry() *prometheus.Registry { return m.registry }
