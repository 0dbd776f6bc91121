// Package dbsink persists the ordered trade stream to PostgreSQL in one
// of three interchangeable modes: single-row transactions, batched
// transactions, or a bulk COPY stream -- mirroring the reference design's
// runSingle/runBatch/runCopy.
package dbsink

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lxfeed/tradefeed/pkg/logger"
	"github.com/lxfeed/tradefeed/pkg/metrics"
	"github.com/lxfeed/tradefeed/pkg/pool"
	"github.com/lxfeed/tradefeed/pkg/queue"
	"github.com/lxfeed/tradefeed/pkg/wire"
)

// Mode selects the commit strategy.
type Mode int

const (
	ModeSingle Mode = iota
	ModeBatched
	ModeBulkCopy
)

const insertSQL = `INSERT INTO trades ` +
	`(message_type, sequence_number, trade_id, timestamp, price, quantity, buyer_is_maker, best_match, symbol) ` +
	`VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

var copyColumns = []string{
	"message_type", "sequence_number", "trade_id", "timestamp",
	"price", "quantity", "buyer_is_maker", "best_match", "symbol",
}

// Sink drains a queue of trade records into the trades table and
// releases every record to its pool after commit, successful or not.
type Sink struct {
	db        *pgxpool.Pool
	recvQueue queue.Queue[wire.TradeRecord]
	msgPool   pool.Pool[wire.TradeRecord]
	log       logger.Logger
	metrics   *metrics.Feed

	mode      Mode
	batchSize int
	runFlag   atomic.Bool
}

// New builds a Sink. metrics may be nil if commit latency need not be
// reported (e.g. in unit tests).
func New(db *pgxpool.Pool, recvQueue queue.Queue[wire.TradeRecord], msgPool pool.Pool[wire.TradeRecord], log logger.Logger, m *metrics.Feed, mode Mode, batchSize int) *Sink {
	return &Sink{
		db:        db,
		recvQueue: recvQueue,
		msgPool:   msgPool,
		log:       log,
		metrics:   m,
		mode:      mode,
		batchSize: batchSize,
	}
}

// Run drains recvQueue until ctx is cancelled or Stop is called, flushing
// any partially-filled batch before returning.
func (s *Sink) Run(ctx context.Context) error {
	s.runFlag.Store(true)
	switch s.mode {
	case ModeSingle:
		return s.runSingle(ctx)
	case ModeBatched:
		return s.runBatched(ctx, s.commitBatch)
	case ModeBulkCopy:
		return s.runBatched(ctx, s.commitCopy)
	default:
		return fmt.Errorf("dbsink: unknown mode %d", s.mode)
	}
}

// Stop signals Run to return after flushing any pending batch.
func (s *Sink) Stop() { s.runFlag.Store(false) }

func (s *Sink) runSingle(ctx context.Context) error {
	for s.runFlag.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, ok := s.recvQueue.Dequeue()
		if !ok {
			continue
		}

		start := time.Now()
		err := s.commitSingle(ctx, msg)
		s.recordBatch(time.Since(start), 1, err)
		if err != nil {
			s.log.Error("db commit failed, dropping record", "seq", msg.SequenceNumber, "error", err)
		}
		s.msgPool.Deallocate(msg)
	}
	return nil
}

func (s *Sink) runBatched(ctx context.Context, commit func(context.Context, []*wire.TradeRecord) error) error {
	batch := make([]*wire.TradeRecord, 0, s.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		err := commit(ctx, batch)
		s.recordBatch(time.Since(start), len(batch), err)
		if err != nil {
			s.log.Error("db batch commit failed, dropping batch", "size", len(batch), "error", err)
		}
		for _, m := range batch {
			s.msgPool.Deallocate(m)
		}
		batch = batch[:0]
	}

	for s.runFlag.Load() {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()
		default:
		}

		msg, ok := s.recvQueue.Dequeue()
		if !ok {
			flush()
			continue
		}

		batch = append(batch, msg)
		if len(batch) >= s.batchSize {
			flush()
		}
	}
	flush()
	return nil
}

func (s *Sink) recordBatch(d time.Duration, n int, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBBatch(d, n, err)
	}
}

func (s *Sink) commitSingle(ctx context.Context, msg *wire.TradeRecord) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dbsink: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := execInsert(ctx, tx, msg); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Sink) commitBatch(ctx context.Context, batch []*wire.TradeRecord) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dbsink: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, msg := range batch {
		if err := execInsert(ctx, tx, msg); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func execInsert(ctx context.Context, tx pgx.Tx, msg *wire.TradeRecord) error {
	_, err := tx.Exec(ctx, insertSQL,
		string(msg.MessageType), msg.SequenceNumber, msg.TradeID, msg.Timestamp,
		msg.Price, msg.Quantity, msg.BuyerIsMaker, msg.BestMatch, msg.SymbolString(),
	)
	if err != nil {
		return fmt.Errorf("dbsink: insert seq %d: %w", msg.SequenceNumber, err)
	}
	return nil
}

func (s *Sink) commitCopy(ctx context.Context, batch []*wire.TradeRecord) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dbsink: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows := make([][]any, len(batch))
	for i, msg := range batch {
		rows[i] = []any{
			string(msg.MessageType), msg.SequenceNumber, msg.TradeID, msg.Timestamp,
			msg.Price, msg.Quantity, msg.BuyerIsMaker, msg.BestMatch, msg.SymbolString(),
		}
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"trades"}, copyColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("dbsink: copy %d rows: %w", len(rows), err)
	}
	return tx.Commit(ctx)
}
