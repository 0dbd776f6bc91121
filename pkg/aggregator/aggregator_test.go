package aggregator

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/stretchr/testify/require"

	"github.com/lxfeed/tradefeed/pkg/logger"
	"github.com/lxfeed/tradefeed/pkg/pool"
	"github.com/lxfeed/tradefeed/pkg/queue"
	"github.com/lxfeed/tradefeed/pkg/wire"
)

// fakePublisher records every published line instead of touching a real
// ZMQ socket, keeping the aggregator's tests free of any networking.
type fakePublisher struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakePublisher) SendBytes(b []byte, _ zmq.Flag) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, string(b))
	return len(b), nil
}

func (f *fakePublisher) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func newTestLog() logger.Logger {
	return logger.NewAsync(io.Discard, 16)
}

func feedTrade(t *testing.T, recvQueue queue.Queue[wire.TradeRecord], msgPool pool.Pool[wire.TradeRecord], symbol string, tsMillis uint64, price, qty float64) {
	rec, err := msgPool.Allocate()
	require.NoError(t, err)
	*rec = wire.TradeRecord{MessageType: wire.TradeMessageType, Timestamp: tsMillis, Price: price, Quantity: qty}
	rec.SetSymbol(symbol)
	require.True(t, recvQueue.Enqueue(rec))
}

func TestAggregatorPublishesOneBarPerSymbolOnBucketRollover(t *testing.T) {
	recvQueue := queue.NewMPMC[wire.TradeRecord](64)
	msgPool := pool.NewTagged[wire.TradeRecord](64)
	log := newTestLog()
	defer log.Stop()

	pub := &fakePublisher{}
	agg := New(recvQueue, msgPool, log, nil, pub)

	// Two trades in bucket 0 for BTCUSD: vwap = (100*1 + 200*1)/2 = 150.
	feedTrade(t, recvQueue, msgPool, "BTCUSD", 0, 100, 1)
	feedTrade(t, recvQueue, msgPool, "BTCUSD", 500, 200, 1)
	// One trade in bucket 0 for ETHUSD.
	feedTrade(t, recvQueue, msgPool, "ETHUSD", 900, 10, 2)
	// A trade in bucket 1 forces the rollover of bucket 0.
	feedTrade(t, recvQueue, msgPool, "BTCUSD", 1000, 300, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go agg.Run(ctx)

	require.Eventually(t, func() bool { return len(pub.snapshot()) >= 2 }, time.Second, time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond) // let Run observe ctx.Done and flush the tail bucket

	lines := pub.snapshot()
	require.GreaterOrEqual(t, len(lines), 2)

	// The first rollover (bucket 0, triggered by the bucket-1 trade) must
	// publish both symbols; the final shutdown flush publishes bucket 1's
	// lone BTCUSD fill.
	bars := map[string]map[string]string{} // symbol -> bucket -> vwap
	for _, l := range lines {
		fields := strings.Split(l, ",")
		require.Len(t, fields, 3)
		if bars[fields[0]] == nil {
			bars[fields[0]] = map[string]string{}
		}
		bars[fields[0]][fields[1]] = fields[2]
	}

	require.Equal(t, "150.000000", bars["BTCUSD"]["0"])
	require.Equal(t, "10.000000", bars["ETHUSD"]["0"])
	require.Equal(t, "300.000000", bars["BTCUSD"]["1"])
}

func TestAggregatorFlushesPartialBucketOnStop(t *testing.T) {
	recvQueue := queue.NewMPMC[wire.TradeRecord](64)
	msgPool := pool.NewTagged[wire.TradeRecord](64)
	log := newTestLog()
	defer log.Stop()

	pub := &fakePublisher{}
	agg := New(recvQueue, msgPool, log, nil, pub)

	feedTrade(t, recvQueue, msgPool, "BTCUSD", 0, 50, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agg.Run(ctx) }()

	require.Eventually(t, func() bool { return agg.recvedMsgs >= 1 }, time.Second, time.Millisecond)

	cancel()
	<-done

	lines := pub.snapshot()
	require.Len(t, lines, 1)
	require.Equal(t, "BTCUSD,0,50.000000", lines[0])
}

// TestAggregatorVWAPIsOrderIndependent is the idempotence property: summing
// the same set of (price, quantity) pairs in any order must yield the same
// VWAP, since addition over decimal.Decimal is commutative and associative.
func TestAggregatorVWAPIsOrderIndependent(t *testing.T) {
	type trade struct{ price, qty float64 }
	trades := []trade{{100, 1}, {110, 2}, {90, 3}, {105, 1.5}}

	orders := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{2, 0, 3, 1},
	}

	var results []string
	for _, order := range orders {
		recvQueue := queue.NewMPMC[wire.TradeRecord](64)
		msgPool := pool.NewTagged[wire.TradeRecord](64)
		log := newTestLog()
		pub := &fakePublisher{}
		agg := New(recvQueue, msgPool, log, nil, pub)

		for _, idx := range order {
			feedTrade(t, recvQueue, msgPool, "BTCUSD", 0, trades[idx].price, trades[idx].qty)
		}

		ctx, cancel := context.WithCancel(context.Background())
		go agg.Run(ctx)
		require.Eventually(t, func() bool { return agg.recvedMsgs >= uint64(len(trades)) }, time.Second, time.Millisecond)
		cancel()
		time.Sleep(10 * time.Millisecond)
		log.Stop()

		require.Len(t, pub.snapshot(), 1)
		fields := strings.Split(pub.snapshot()[0], ",")
		results = append(results, fields[2])
	}

	for _, r := range results[1:] {
		require.Equal(t, results[0], r)
	}
}

func TestAggregatorNoOutputWithoutTrades(t *testing.T) {
	recvQueue := queue.NewMPMC[wire.TradeRecord](4)
	msgPool := pool.NewTagged[wire.TradeRecord](4)
	log := newTestLog()
	defer log.Stop()

	pub := &fakePublisher{}
	agg := New(recvQueue, msgPool, log, nil, pub)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = agg.Run(ctx)

	require.Empty(t, pub.snapshot())
}
