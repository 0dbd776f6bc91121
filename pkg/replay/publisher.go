package replay

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/lxfeed/tradefeed/pkg/logger"
)

// Publisher periodically sends the store's records over UDP multicast,
// standing in for the reference MulticastServer. It can optionally inject
// synthetic gaps (skipping two records every thousand) to exercise the
// sequencer's recovery path end to end.
type Publisher struct {
	store      *Store
	conn       *net.UDPConn
	throttle   time.Duration
	injectGaps bool
	log        logger.Logger
}

// NewPublisher dials groupAddr (e.g. "239.255.0.1:30001") and returns a
// Publisher ready to Run. throttle of zero sends as fast as possible.
func NewPublisher(store *Store, groupAddr string, throttle time.Duration, injectGaps bool, log logger.Logger) (*Publisher, error) {
	addr, err := net.ResolveUDPAddr("udp4", groupAddr)
	if err != nil {
		return nil, fmt.Errorf("replay: resolve %s: %w", groupAddr, err)
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("replay: dial %s: %w", groupAddr, err)
	}
	return &Publisher{store: store, conn: conn, throttle: throttle, injectGaps: injectGaps, log: log}, nil
}

// Run sends every record in the store, in order, until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for i := 0; i < p.store.Size(); i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if p.injectGaps {
			m := (i + 1) % 1000
			if m == 0 || (i+2)%1000 == 0 {
				continue // artificially create a gap, exercising recovery downstream
			}
		}

		rec, ok := p.store.Get(uint64(i))
		if !ok {
			break
		}
		frame, _ := rec.MarshalBinary()
		if _, err := p.conn.Write(frame); err != nil {
			p.log.Error("multicast send failed", "seq", i, "error", err)
		}

		if p.throttle > 0 {
			time.Sleep(p.throttle)
		}
	}
	return nil
}

// Close releases the underlying socket.
func (p *Publisher) Close() error { return p.conn.Close() }
