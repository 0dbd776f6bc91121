// feed-receiver joins the multicast trade feed, reconstructs a gap-free
// sequence, and fans each trade out to the Postgres sink, the VWAP
// aggregator, and the in-memory order book -- the reference design's
// MulticastTradeDataReceiver + TradeDataSequencer pipeline plus its three
// terminal consumers, each run on its own goroutine.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lxfeed/tradefeed/internal/config"
	"github.com/lxfeed/tradefeed/pkg/aggregator"
	"github.com/lxfeed/tradefeed/pkg/dbsink"
	"github.com/lxfeed/tradefeed/pkg/fanout"
	"github.com/lxfeed/tradefeed/pkg/logger"
	"github.com/lxfeed/tradefeed/pkg/metrics"
	"github.com/lxfeed/tradefeed/pkg/orderbook"
	"github.com/lxfeed/tradefeed/pkg/pool"
	"github.com/lxfeed/tradefeed/pkg/queue"
	"github.com/lxfeed/tradefeed/pkg/receiver"
	"github.com/lxfeed/tradefeed/pkg/sequencer"
	"github.com/lxfeed/tradefeed/pkg/wire"
)

func main() {
	dbMode := flag.String("db-mode", "batched", "db sink mode: single, batched, or bulk-copy")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("feed-receiver: config: %v", err)
	}

	lg := logger.NewAsync(os.Stdout, 1<<14)
	defer lg.Stop()

	feed := metrics.New("tradefeed_receiver", lg)
	go func() {
		if err := feed.Serve(cfg.MetricsAddr); err != nil {
			lg.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, cancel := signalContext()
	defer cancel()

	recvPool := pool.NewTagged[wire.TradeRecord](cfg.PoolSize)
	recvQueue := queue.NewMPMC[wire.TradeRecord](cfg.QueueCapacity)
	sendQueue := queue.NewMPMC[wire.TradeRecord](cfg.QueueCapacity)

	mcast, err := receiver.NewMulticast(cfg.MulticastGroup, recvPool, recvQueue, lg.WithField("component", "receiver"))
	if err != nil {
		lg.Fatal("feed-receiver: multicast", "error", err)
	}
	defer mcast.Close()

	recoveryClient := sequencer.NewRecoveryClient(cfg.RecoveryAddr, recvPool, lg.WithField("component", "recovery"))
	seq := sequencer.New(recvQueue, sendQueue, recvPool, recoveryClient, lg.WithField("component", "sequencer"))
	seq.OnGapDetected(func(gapStart, gapEnd uint64) { feed.RecordGapDetected() })
	seq.OnGapRecovered(func(d time.Duration) { feed.RecordGapRecovered(d) })

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		lg.Fatal("feed-receiver: db connect", "error", err)
	}
	defer db.Close()

	dbQueue := queue.NewMPMC[wire.TradeRecord](cfg.QueueCapacity)
	dbPool := pool.NewTagged[wire.TradeRecord](cfg.PoolSize)
	sink := dbsink.New(db, dbQueue, dbPool, lg.WithField("component", "dbsink"), feed, parseMode(*dbMode), cfg.DBBatchSize)

	aggQueue := queue.NewMPMC[wire.TradeRecord](cfg.QueueCapacity)
	aggPool := pool.NewTagged[wire.TradeRecord](cfg.PoolSize)
	agg, zctx, err := aggregator.Bind(cfg.AggregatorAddr, aggQueue, aggPool, lg.WithField("component", "aggregator"), feed)
	if err != nil {
		lg.Fatal("feed-receiver: aggregator bind", "error", err)
	}
	defer zctx.Term()

	book := orderbook.New(cfg.TickSize, cfg.MaxOrderBookLevels, cfg.PoolSize)
	fan := fanout.New(sendQueue, recvPool, lg.WithField("component", "fanout"), feed, book,
		dbQueue, dbPool, aggQueue, aggPool)

	var wg sync.WaitGroup
	runComponent(&wg, ctx, lg, "multicast receiver", mcast.Run)
	runComponent(&wg, ctx, lg, "sequencer", seq.Run)
	runComponent(&wg, ctx, lg, "fanout", fan.Run)
	runComponent(&wg, ctx, lg, "db sink", sink.Run)
	runComponent(&wg, ctx, lg, "aggregator", agg.Run)

	reportOccupancy(ctx, feed, recvPool)

	<-ctx.Done()
	lg.Info("feed-receiver shutting down")
	mcast.Stop()
	seq.Stop()
	fan.Stop()
	sink.Stop()

	wg.Wait()
	lg.Info("feed-receiver drained all components, exiting")
}

// runComponent starts run on its own goroutine tracked by wg, so main can
// block on wg.Wait() after Stop() and guarantee every component has
// drained its in-flight work (aggregator publishes, DB flushes, ...)
// before the process exits.
func runComponent(wg *sync.WaitGroup, ctx context.Context, lg logger.Logger, name string, run func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := run(ctx); err != nil && ctx.Err() == nil {
			lg.Error("component exited with error", "component", name, "error", err)
		}
	}()
}

func parseMode(s string) dbsink.Mode {
	switch s {
	case "single":
		return dbsink.ModeSingle
	case "bulk-copy":
		return dbsink.ModeBulkCopy
	default:
		return dbsink.ModeBatched
	}
}

// reportOccupancy periodically samples the receive pool's fill level into
// the metrics feed so an operator can watch for backpressure building up
// upstream of a slow consumer.
func reportOccupancy(ctx context.Context, feed *metrics.Feed, p pool.Pool[wire.TradeRecord]) {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				feed.SetPoolOccupancy("recv", p.Len(), p.Cap())
			}
		}
	}()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
