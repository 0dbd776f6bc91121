// Package aggregator computes one-second VWAP bars per symbol from the
// sequenced trade stream and publishes each bar over a ZeroMQ PUB socket,
// mirroring the reference design's AggregatedTradeMQSender.
package aggregator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	zmq "github.com/pebbe/zmq4"

	"github.com/lxfeed/tradefeed/pkg/logger"
	"github.com/lxfeed/tradefeed/pkg/metrics"
	"github.com/lxfeed/tradefeed/pkg/pool"
	"github.com/lxfeed/tradefeed/pkg/queue"
	"github.com/lxfeed/tradefeed/pkg/wire"
)

// bucketAccumulator tracks the running sums needed to compute VWAP for one
// symbol within the current second-bucket. decimal avoids the rounding
// drift float64 would accumulate over a busy bucket.
type bucketAccumulator struct {
	sumPriceQty decimal.Decimal
	sumQty      decimal.Decimal
}

func (b *bucketAccumulator) vwap() decimal.Decimal {
	if b.sumQty.IsZero() {
		return decimal.Zero
	}
	return b.sumPriceQty.Div(b.sumQty)
}

// Publisher is the minimal surface Aggregator needs from a ZMQ PUB socket,
// so tests can inject a fake instead of binding a real one.
type Publisher interface {
	SendBytes([]byte, zmq.Flag) (int, error)
}

// Aggregator consumes trade records and publishes one VWAP bar per symbol
// each time the incoming stream crosses a one-second bucket boundary.
type Aggregator struct {
	recvQueue queue.Queue[wire.TradeRecord]
	msgPool   pool.Pool[wire.TradeRecord]
	log       logger.Logger
	metrics   *metrics.Feed
	pub       Publisher

	currentBucket uint64
	buckets       map[string]*bucketAccumulator

	recvedMsgs uint64
	sentMsgs   uint64
}

// New builds an Aggregator that publishes through pub. pub may be nil, in
// which case bars are computed and counted but not sent anywhere (useful
// for property tests that only care about the rollover arithmetic).
func New(recvQueue queue.Queue[wire.TradeRecord], msgPool pool.Pool[wire.TradeRecord], log logger.Logger, m *metrics.Feed, pub Publisher) *Aggregator {
	return &Aggregator{
		recvQueue: recvQueue,
		msgPool:   msgPool,
		log:       log,
		metrics:   m,
		pub:       pub,
		buckets:   make(map[string]*bucketAccumulator),
	}
}

// Bind opens a ZMQ PUB socket bound at addr (e.g. "tcp://*:5555") and
// returns an Aggregator publishing through it, plus the socket's context
// for the caller to close alongside the aggregator.
func Bind(addr string, recvQueue queue.Queue[wire.TradeRecord], msgPool pool.Pool[wire.TradeRecord], log logger.Logger, m *metrics.Feed) (*Aggregator, *zmq.Context, error) {
	zctx, err := zmq.NewContext()
	if err != nil {
		return nil, nil, fmt.Errorf("aggregator: new zmq context: %w", err)
	}
	socket, err := zctx.NewSocket(zmq.PUB)
	if err != nil {
		zctx.Term()
		return nil, nil, fmt.Errorf("aggregator: new pub socket: %w", err)
	}
	if err := socket.Bind(addr); err != nil {
		socket.Close()
		zctx.Term()
		return nil, nil, fmt.Errorf("aggregator: bind %s: %w", addr, err)
	}
	log.Info("aggregator bound", "addr", addr)
	return New(recvQueue, msgPool, log, m, socket), zctx, nil
}

// Run drains recvQueue until ctx is cancelled, rolling over and
// publishing every symbol's bar whenever the bucket boundary advances.
// On return it flushes whatever partial bucket remains, matching the
// reference design's stop() behaviour.
func (a *Aggregator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			a.flush()
			a.log.Info("aggregator stopped", "received", a.recvedMsgs, "sent", a.sentMsgs)
			return ctx.Err()
		default:
		}

		msg, ok := a.recvQueue.Dequeue()
		if !ok {
			continue
		}

		bucket := msg.Timestamp / 1000
		if bucket != a.currentBucket {
			a.flush()
			a.currentBucket = bucket
		}
		a.aggregate(msg)
		a.msgPool.Deallocate(msg)
		a.recvedMsgs++
	}
}

func (a *Aggregator) aggregate(msg *wire.TradeRecord) {
	sym := msg.SymbolString()
	acc, ok := a.buckets[sym]
	if !ok {
		acc = &bucketAccumulator{}
		a.buckets[sym] = acc
	}
	price := decimal.NewFromFloat(msg.Price)
	qty := decimal.NewFromFloat(msg.Quantity)
	acc.sumPriceQty = acc.sumPriceQty.Add(price.Mul(qty))
	acc.sumQty = acc.sumQty.Add(qty)
}

// flush publishes one bar per symbol currently accumulated and clears the
// map, exactly mirroring AggTradeMQSender::SendMQ.
func (a *Aggregator) flush() {
	if len(a.buckets) == 0 {
		return
	}
	for sym, acc := range a.buckets {
		vwap := acc.vwap().Round(6)
		line := fmt.Sprintf("%s,%d,%s", sym, a.currentBucket, vwap.StringFixed(6))
		if a.pub != nil {
			if _, err := a.pub.SendBytes([]byte(line), zmq.DONTWAIT); err != nil {
				a.log.Error("aggregator publish failed", "line", line, "error", err)
				continue
			}
		}
		a.log.Debug("aggregator sent bar", "line", line)
		if a.metrics != nil {
			a.metrics.RecordVWAPPublished()
		}
		a.sentMsgs++
	}
	a.buckets = make(map[string]*bucketAccumulator)
}
