package sequencer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lxfeed/tradefeed/pkg/logger"
	"github.com/lxfeed/tradefeed/pkg/pool"
	"github.com/lxfeed/tradefeed/pkg/wire"
)

// RecoveryClient dials a replay server and fetches a contiguous range of
// trade records to close a sequence gap. Connection retries use a fixed
// backoff; once connected, each read waits at most readTimeout before it
// is re-armed and retried, so a stalled server keeps the client waiting
// until data arrives, the connection fails, or ctx is cancelled.
type RecoveryClient struct {
	addr string
	pool pool.Pool[wire.TradeRecord]
	log  logger.Logger

	maxAttempts int
	retryDelay  time.Duration
	readTimeout time.Duration
}

// NewRecoveryClient builds a client with the reference design's defaults:
// 50 connect attempts at 200ms apart, and a 5 second read timeout on the
// open connection (standing in for the original's 5s epoll_wait timeout).
func NewRecoveryClient(addr string, p pool.Pool[wire.TradeRecord], log logger.Logger) *RecoveryClient {
	return &RecoveryClient{
		addr:        addr,
		pool:        p,
		log:         log,
		maxAttempts: 50,
		retryDelay:  200 * time.Millisecond,
		readTimeout: 5 * time.Second,
	}
}

func (c *RecoveryClient) connect(ctx context.Context) (*net.TCPConn, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		c.log.Info("recovery client connecting", "addr", c.addr, "attempt", attempt)
		conn, err := net.DialTimeout("tcp", c.addr, time.Second)
		if err == nil {
			tcpConn := conn.(*net.TCPConn)
			if err := tcpConn.SetNoDelay(true); err != nil {
				tcpConn.Close()
				return nil, fmt.Errorf("sequencer: set TCP_NODELAY: %w", err)
			}
			c.log.Info("recovery client connected", "addr", c.addr)
			return tcpConn, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
	return nil, fmt.Errorf("sequencer: recovery connect to %s failed after %d attempts: %w", c.addr, c.maxAttempts, lastErr)
}

// Recover fetches [startSeq, endSeq] inclusive and invokes onMsg for each
// record in order. It blocks until every message in the range has been
// delivered, a non-timeout error occurs, or ctx is cancelled (a read
// timeout alone is retried, not returned); the caller is expected to
// treat any returned error as an unrecoverable gap.
func (c *RecoveryClient) Recover(ctx context.Context, startSeq, endSeq uint64, onMsg func(*wire.TradeRecord) error) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := wire.GapRequest{Type: wire.GapRequestGap, StartSeq: startSeq, EndSeq: endSeq}
	frame, _ := req.MarshalBinary()
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("sequencer: send recovery request: %w", err)
	}

	want := endSeq - startSeq + 1
	buf := make([]byte, wire.TradeRecordSize)
	var received uint64
	for received < want {
		if err := c.readFullWithRetry(ctx, conn, buf); err != nil {
			return fmt.Errorf("sequencer: recovery read (%d of %d received): %w", received, want, err)
		}

		msg, err := c.pool.Allocate()
		if err != nil {
			return fmt.Errorf("sequencer: %w", err)
		}
		if err := msg.UnmarshalBinary(buf); err != nil {
			c.pool.Deallocate(msg)
			return fmt.Errorf("sequencer: %w", err)
		}
		if err := onMsg(msg); err != nil {
			c.pool.Deallocate(msg)
			return err
		}
		received++
	}
	return nil
}

// readFullWithRetry fills buf from conn, re-arming a fresh readTimeout
// deadline on every timeout and retrying rather than failing -- matching
// receiveRecoveryMessages()'s epoll_wait(..., 5000) split between
// nfds==0 (timeout, continue waiting within the quantum) and a genuine
// recv() failure (connection closed or errored, abort). Only a non-timeout
// error is fatal; a deadline expiry just means no data arrived within this
// quantum and the wait resumes where the partial read left off, unless ctx
// has been cancelled, in which case ctx's error is returned.
func (c *RecoveryClient) readFullWithRetry(ctx context.Context, conn net.Conn, buf []byte) error {
	offset := 0
	for offset < len(buf) {
		if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, err := conn.Read(buf[offset:])
		offset += n
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				c.log.Warn("recovery read timed out within quantum, retrying", "offset", offset, "want", len(buf))
				continue
			}
			return err
		}
	}
	return nil
}
