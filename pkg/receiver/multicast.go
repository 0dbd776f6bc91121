// Package receiver implements the UDP multicast listener that turns raw
// trade datagrams into pool-backed wire.TradeRecord handles on the
// sequencer's receive queue.
package receiver

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/lxfeed/tradefeed/pkg/logger"
	"github.com/lxfeed/tradefeed/pkg/pool"
	"github.com/lxfeed/tradefeed/pkg/queue"
	"github.com/lxfeed/tradefeed/pkg/wire"
)

// readTimeout bounds each blocking read so Run can observe ctx
// cancellation and the stop flag without a dedicated reader goroutine.
const readTimeout = 200 * time.Millisecond

// Multicast reads TradeRecord datagrams from a UDP multicast group,
// allocates a handle from pool for each one, and enqueues it.
type Multicast struct {
	conn  *net.UDPConn
	pool  pool.Pool[wire.TradeRecord]
	queue queue.Queue[wire.TradeRecord]
	log   logger.Logger

	runFlag atomic.Bool
}

// NewMulticast joins groupAddr (e.g. "239.255.0.1:30001") and returns a
// receiver ready to Run.
func NewMulticast(groupAddr string, p pool.Pool[wire.TradeRecord], q queue.Queue[wire.TradeRecord], log logger.Logger) (*Multicast, error) {
	addr, err := net.ResolveUDPAddr("udp4", groupAddr)
	if err != nil {
		return nil, fmt.Errorf("receiver: resolve %s: %w", groupAddr, err)
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("receiver: join %s: %w", groupAddr, err)
	}
	return newMulticast(conn, p, q, log), nil
}

// newMulticast wraps an already-bound connection, letting tests
// exercise the framing and pool/queue wiring over a plain unicast socket
// instead of joining a real multicast group.
func newMulticast(conn *net.UDPConn, p pool.Pool[wire.TradeRecord], q queue.Queue[wire.TradeRecord], log logger.Logger) *Multicast {
	return &Multicast{conn: conn, pool: p, queue: q, log: log}
}

// LocalAddr returns the bound local address, mainly useful in tests that
// need to know which port was chosen.
func (r *Multicast) LocalAddr() net.Addr { return r.conn.LocalAddr() }

// Run reads datagrams until ctx is cancelled or Stop is called.
func (r *Multicast) Run(ctx context.Context) error {
	r.runFlag.Store(true)
	buf := make([]byte, wire.TradeRecordSize)

	for r.runFlag.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if !r.runFlag.Load() {
				return nil
			}
			r.log.Error("multicast read failed", "error", err)
			continue
		}
		if n != wire.TradeRecordSize {
			r.log.Warn("short multicast datagram, dropping", "len", n)
			continue
		}

		msg, err := r.pool.Allocate()
		if err != nil {
			return fmt.Errorf("receiver: %w", err)
		}
		if err := msg.UnmarshalBinary(buf[:n]); err != nil {
			r.log.Error("malformed trade record, dropping", "error", err)
			r.pool.Deallocate(msg)
			continue
		}
		if !r.queue.Enqueue(msg) {
			r.log.Warn("recv queue full, dropping message", "seq", msg.SequenceNumber)
			r.pool.Deallocate(msg)
		}
	}
	return nil
}

// Stop signals Run to return and unblocks any in-flight read.
func (r *Multicast) Stop() {
	r.runFlag.Store(false)
	r.conn.SetReadDeadline(time.Now())
}

// Close releases the underlying socket.
func (r *Multicast) Close() error { return r.conn.Close() }
