// feed-server loads a CSV trade history into memory, serves gap and
// replay-all requests over TCP, and optionally replays the whole history
// as a UDP multicast stream -- the reference design's TradeServer split
// into its own process.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/lxfeed/tradefeed/internal/config"
	"github.com/lxfeed/tradefeed/internal/csvload"
	"github.com/lxfeed/tradefeed/pkg/logger"
	"github.com/lxfeed/tradefeed/pkg/metrics"
	"github.com/lxfeed/tradefeed/pkg/replay"
)

func main() {
	var (
		csvFiles   = flag.String("csv", "", "comma-separated list of per-symbol trade CSV files")
		publish    = flag.Bool("publish", true, "run the periodic multicast publisher alongside the gap server")
		injectGaps = flag.Bool("inject-gaps", false, "skip two records every thousand, to exercise receiver-side recovery")
	)
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("feed-server: config: %v", err)
	}
	if *injectGaps {
		cfg.InjectGaps = true
	}

	lg := logger.NewAsync(os.Stdout, 1<<14)
	defer lg.Stop()

	feed := metrics.New("tradefeed_server", lg)
	go func() {
		if err := feed.Serve(cfg.MetricsAddr); err != nil {
			lg.Error("metrics server stopped", "error", err)
		}
	}()

	if *csvFiles == "" {
		lg.Fatal("feed-server: -csv is required")
	}
	records, err := csvload.LoadFiles(strings.Split(*csvFiles, ","))
	if err != nil {
		lg.Fatal("feed-server: load csv", "error", err)
	}
	lg.Info("loaded trade history", "records", len(records))

	store := replay.NewStore(records)
	server := replay.NewServer(store, lg.WithField("component", "replay-server"))
	if err := server.Listen(cfg.ReplayListenAddr); err != nil {
		lg.Fatal("feed-server: listen", "addr", cfg.ReplayListenAddr, "error", err)
	}
	defer server.Close()
	lg.Info("replay server listening", "addr", server.Addr().String())

	ctx, cancel := signalContext()
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Run(ctx); err != nil && ctx.Err() == nil {
			lg.Error("replay server exited", "error", err)
		}
	}()

	if *publish {
		throttle := time.Duration(cfg.ReplayThrottle) * time.Microsecond
		pub, err := replay.NewPublisher(store, cfg.MulticastGroup, throttle, cfg.InjectGaps, lg.WithField("component", "publisher"))
		if err != nil {
			lg.Fatal("feed-server: publisher", "error", err)
		}
		defer pub.Close()
		lg.Info("multicast publisher starting", "group", cfg.MulticastGroup, "inject_gaps", cfg.InjectGaps)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pub.Run(ctx); err != nil && ctx.Err() == nil {
				lg.Error("publisher exited", "error", err)
			}
		}()
	}

	<-ctx.Done()
	lg.Info("feed-server shutting down")

	wg.Wait()
	lg.Info("feed-server drained all components, exiting")
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
