package replay

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/lxfeed/tradefeed/pkg/logger"
	"github.com/lxfeed/tradefeed/pkg/wire"
)

// connIdleTimeout bounds how long a connection can sit without sending a
// request before the server gives up on it and moves on.
const connIdleTimeout = 60 * time.Second

// Server accepts recovery-client connections and answers gap and
// replay-all requests from the store.
type Server struct {
	store *Store
	log   logger.Logger
	ln    net.Listener
}

// NewServer builds a Server over store; call Listen to bind before Run.
func NewServer(store *Store, log logger.Logger) *Server {
	return &Server{store: store, log: log}
}

// Listen binds addr (e.g. "0.0.0.0:8080").
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Addr returns the bound listener address, useful in tests that bind to ":0".
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Run accepts connections until ctx is cancelled or the listener is closed.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		connID := uuid.New()
		s.log.Info("replay client connected", "conn_id", connID, "remote", conn.RemoteAddr())
		go s.handleConn(conn, connID.String())
	}
}

// Close releases the listener.
func (s *Server) Close() error { return s.ln.Close() }

func (s *Server) handleConn(conn net.Conn, connID string) {
	defer conn.Close()

	buf := make([]byte, wire.GapRequestSize)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(connIdleTimeout)); err != nil {
			return
		}
		if _, err := io.ReadFull(conn, buf); err != nil {
			if err != io.EOF {
				s.log.Debug("replay client disconnected", "conn_id", connID, "error", err)
			}
			return
		}

		var req wire.GapRequest
		if err := req.UnmarshalBinary(buf); err != nil {
			s.log.Warn("malformed gap request", "conn_id", connID, "error", err)
			continue
		}

		switch req.Type {
		case wire.GapRequestGap:
			s.serveGap(conn, connID, req.StartSeq, req.EndSeq)
		case wire.GapRequestReplayAll:
			s.serveAll(conn, connID)
		default:
			s.log.Warn("unknown gap request type", "conn_id", connID, "type", req.Type)
		}
	}
}

func (s *Server) serveGap(conn net.Conn, connID string, start, end uint64) {
	s.log.Info("serving gap request", "conn_id", connID, "start", start, "end", end)
	if start > end || int(end) >= s.store.Size() {
		s.log.Error("invalid gap request", "conn_id", connID, "start", start, "end", end, "store_size", s.store.Size())
		return
	}
	for seq := start; seq <= end; seq++ {
		rec, ok := s.store.Get(seq)
		if !ok {
			return
		}
		frame, _ := rec.MarshalBinary()
		if _, err := conn.Write(frame); err != nil {
			s.log.Error("failed to send recovered record", "conn_id", connID, "seq", seq, "error", err)
			return
		}
	}
}

func (s *Server) serveAll(conn net.Conn, connID string) {
	s.log.Info("serving replay-all request", "conn_id", connID, "count", s.store.Size())
	for seq := 0; seq < s.store.Size(); seq++ {
		rec, _ := s.store.Get(uint64(seq))
		frame, _ := rec.MarshalBinary()
		if _, err := conn.Write(frame); err != nil {
			s.log.Error("failed to send replay-all record", "conn_id", connID, "seq", seq, "error", err)
			return
		}
	}
}
