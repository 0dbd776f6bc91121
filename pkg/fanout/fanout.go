// Package fanout implements the single consumer of the sequencer's output
// queue, replicating each sequenced trade to the three independent
// downstream sinks (DB, aggregator, order book) behind their own
// single-producer queues -- the "one SPSC per consumer behind a single
// fan-out" topology the concurrency model calls canonical.
package fanout

import (
	"context"
	"sync/atomic"

	"github.com/lxfeed/tradefeed/pkg/logger"
	"github.com/lxfeed/tradefeed/pkg/metrics"
	"github.com/lxfeed/tradefeed/pkg/orderbook"
	"github.com/lxfeed/tradefeed/pkg/pool"
	"github.com/lxfeed/tradefeed/pkg/queue"
	"github.com/lxfeed/tradefeed/pkg/wire"
)

// Fanout dequeues sequenced records from a single input queue and
// replicates each into the DB sink's and aggregator's own pool-backed
// queues, while applying it directly to the order book inline (the book
// has no queue of its own: it is mutated synchronously, matching the
// reference design's single-threaded OrderBook access pattern).
type Fanout struct {
	in      queue.Queue[wire.TradeRecord]
	inPool  pool.Pool[wire.TradeRecord]
	log     logger.Logger
	metrics *metrics.Feed
	book    *orderbook.Book

	dbQueue  queue.Queue[wire.TradeRecord]
	dbPool   pool.Pool[wire.TradeRecord]
	aggQueue queue.Queue[wire.TradeRecord]
	aggPool  pool.Pool[wire.TradeRecord]

	runFlag atomic.Bool
}

// New builds a Fanout reading from in/inPool (the sequencer's sendQ and
// the pool its records were allocated from) and replicating to the
// DB sink's and aggregator's own pool+queue pairs.
func New(in queue.Queue[wire.TradeRecord], inPool pool.Pool[wire.TradeRecord], log logger.Logger, m *metrics.Feed, book *orderbook.Book,
	dbQueue queue.Queue[wire.TradeRecord], dbPool pool.Pool[wire.TradeRecord],
	aggQueue queue.Queue[wire.TradeRecord], aggPool pool.Pool[wire.TradeRecord]) *Fanout {
	return &Fanout{
		in: in, inPool: inPool, log: log, metrics: m, book: book,
		dbQueue: dbQueue, dbPool: dbPool,
		aggQueue: aggQueue, aggPool: aggPool,
	}
}

// Run drains the input queue until ctx is cancelled or Stop is called.
func (f *Fanout) Run(ctx context.Context) error {
	f.runFlag.Store(true)
	for f.runFlag.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, ok := f.in.Dequeue()
		if !ok {
			continue
		}

		f.applyToBook(msg)
		f.replicate(msg, f.dbPool, f.dbQueue, "db")
		f.replicate(msg, f.aggPool, f.aggQueue, "aggregator")
		if f.metrics != nil {
			f.metrics.RecordTrade()
		}
		f.inPool.Deallocate(msg)
	}
	return nil
}

// Stop signals Run to return after the in-flight record, if any, finishes
// fanning out.
func (f *Fanout) Stop() { f.runFlag.Store(false) }

func (f *Fanout) replicate(msg *wire.TradeRecord, p pool.Pool[wire.TradeRecord], q queue.Queue[wire.TradeRecord], sink string) {
	copy, err := p.Allocate()
	if err != nil {
		f.log.Error("fanout: pool exhausted, dropping record for sink", "sink", sink, "seq", msg.SequenceNumber, "error", err)
		return
	}
	*copy = *msg
	if !q.Enqueue(copy) {
		f.log.Error("fanout: queue full, dropping record for sink", "sink", sink, "seq", msg.SequenceNumber)
		p.Deallocate(copy)
	}
}

// applyToBook treats every trade print as a resting order entering the
// book at the trade's price and quantity, since the feed carries no
// separate order-add/cancel channel. Side is derived from BuyerIsMaker:
// a maker-side buy quotes a bid, a maker-side sell quotes an ask.
func (f *Fanout) applyToBook(msg *wire.TradeRecord) {
	o := orderbook.Order{
		OrderID:  msg.TradeID,
		Price:    msg.Price,
		Quantity: int64(msg.Quantity),
		IsBuy:    msg.BuyerIsMaker,
	}
	if err := f.book.Insert(o); err != nil {
		f.log.Debug("fanout: order book insert skipped", "order_id", o.OrderID, "error", err)
	}
}
