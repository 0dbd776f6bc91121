// Package sequencer enforces total ordering on the trade feed: it drops
// stale duplicates, forwards in-order messages, and blocks on a gap
// recovery round trip whenever the multicast feed skips a sequence
// number.
package sequencer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lxfeed/tradefeed/pkg/logger"
	"github.com/lxfeed/tradefeed/pkg/pool"
	"github.com/lxfeed/tradefeed/pkg/queue"
	"github.com/lxfeed/tradefeed/pkg/wire"
)

// Sequencer reads from a receive queue fed by the multicast receiver and
// writes strictly-ordered, deduplicated records to a send queue consumed
// by downstream sinks (order book, DB sink, aggregator).
type Sequencer struct {
	recvQueue queue.Queue[wire.TradeRecord]
	sendQueue queue.Queue[wire.TradeRecord]
	pool      pool.Pool[wire.TradeRecord]
	recovery  *RecoveryClient
	log       logger.Logger

	nextSequence uint64
	runFlag      atomic.Bool

	onGapDetected   func(gapStart, gapEnd uint64)
	onGapRecovered  func(d time.Duration)
}

// New builds a Sequencer starting from sequence number 0.
func New(recvQueue, sendQueue queue.Queue[wire.TradeRecord], p pool.Pool[wire.TradeRecord], recovery *RecoveryClient, log logger.Logger) *Sequencer {
	return &Sequencer{
		recvQueue: recvQueue,
		sendQueue: sendQueue,
		pool:      p,
		recovery:  recovery,
		log:       log,
	}
}

// OnGapDetected registers a callback invoked synchronously whenever a
// sequence gap is observed, before recovery begins.
func (s *Sequencer) OnGapDetected(fn func(gapStart, gapEnd uint64)) { s.onGapDetected = fn }

// OnGapRecovered registers a callback invoked after a gap closes
// successfully, with the wall-clock time the recovery round trip took.
func (s *Sequencer) OnGapRecovered(fn func(d time.Duration)) { s.onGapRecovered = fn }

// SetSequenceNum records seq as the last forwarded sequence number, so the
// next expected one becomes seq+1; used when resuming from a known-good
// snapshot.
func (s *Sequencer) SetSequenceNum(seq uint64) { s.nextSequence = seq + 1 }

// SequenceNum returns the sequence number of the last message forwarded.
func (s *Sequencer) SequenceNum() uint64 {
	if s.nextSequence == 0 {
		return 0
	}
	return s.nextSequence - 1
}

// Run drains recvQueue until ctx is cancelled or Stop is called. A
// sequence gap triggers a blocking call to the recovery client; an
// unrecoverable gap (the recovered stream itself skips or misorders a
// sequence number) is returned as an error wrapping wire.ErrUnrecoverableGap.
func (s *Sequencer) Run(ctx context.Context) error {
	s.runFlag.Store(true)
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

		if msg.SequenceNumber > s.nextSequence {
			gapStart, gapEnd := s.nextSequence, msg.SequenceNumber-1
			s.log.Warn("sequence gap detected, starting recovery", "start", gapStart, "end", gapEnd)
			if s.onGapDetected != nil {
				s.onGapDetected(gapStart, gapEnd)
			}

			started := time.Now()
			if err := s.recovery.Recover(ctx, gapStart, gapEnd, s.onRecovered); err != nil {
				return fmt.Errorf("sequencer: %w", err)
			}
			if s.onGapRecovered != nil {
				s.onGapRecovered(time.Since(started))
			}
		} else if msg.SequenceNumber < s.nextSequence {
			s.log.Debug("dropping stale message", "expected", s.nextSequence, "got", msg.SequenceNumber)
			s.pool.Deallocate(msg)
			continue
		}

		s.sendQueue.Enqueue(msg)
		s.nextSequence++
	}
	return nil
}

// onRecovered is the RecoveryClient callback: each recovered message must
// land exactly at nextSequence, in order, or the gap is unrecoverable.
func (s *Sequencer) onRecovered(msg *wire.TradeRecord) error {
	if msg.SequenceNumber != s.nextSequence {
		return fmt.Errorf("sequencer: recovered seq %d, expected %d: %w", msg.SequenceNumber, s.nextSequence, wire.ErrUnrecoverableGap)
	}
	s.sendQueue.Enqueue(msg)
	s.nextSequence++
	return nil
}

// Stop signals Run to return after its current iteration.
func (s *Sequencer) Stop() { s.runFlag.Store(false) }
