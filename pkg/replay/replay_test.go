package replay

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lxfeed/tradefeed/pkg/logger"
	"github.com/lxfeed/tradefeed/pkg/wire"
)

func testStore(n int) *Store {
	records := make([]wire.TradeRecord, n)
	for i := range records {
		records[i] = wire.TradeRecord{
			MessageType:    wire.TradeMessageType,
			SequenceNumber: uint64(i),
			TradeID:        uint64(i),
			Timestamp:      uint64(i) * 1000,
			Price:          100 + float64(i),
			Quantity:       1,
		}
		records[i].SetSymbol("BTCUSD")
	}
	return NewStore(records)
}

func newTestLog() logger.Logger {
	return logger.NewAsync(io.Discard, 16)
}

func TestServerServesGapRequest(t *testing.T) {
	store := testStore(10)
	srv := NewServer(store, newTestLog())
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	req := wire.GapRequest{Type: wire.GapRequestGap, StartSeq: 2, EndSeq: 4}
	frame, _ := req.MarshalBinary()
	_, err = conn.Write(frame)
	require.NoError(t, err)

	buf := make([]byte, wire.TradeRecordSize*3)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		var rec wire.TradeRecord
		require.NoError(t, rec.UnmarshalBinary(buf[i*wire.TradeRecordSize:(i+1)*wire.TradeRecordSize]))
		require.Equal(t, uint64(i+2), rec.SequenceNumber)
	}
}

func TestServerServesReplayAll(t *testing.T) {
	store := testStore(5)
	srv := NewServer(store, newTestLog())
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	req := wire.GapRequest{Type: wire.GapRequestReplayAll}
	frame, _ := req.MarshalBinary()
	_, err = conn.Write(frame)
	require.NoError(t, err)

	buf := make([]byte, wire.TradeRecordSize*5)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)

	var last wire.TradeRecord
	require.NoError(t, last.UnmarshalBinary(buf[4*wire.TradeRecordSize:]))
	require.Equal(t, uint64(4), last.SequenceNumber)
}

func TestServerRejectsInvalidGapRange(t *testing.T) {
	store := testStore(3)
	srv := NewServer(store, newTestLog())
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	req := wire.GapRequest{Type: wire.GapRequestGap, StartSeq: 0, EndSeq: 100}
	frame, _ := req.MarshalBinary()
	_, err = conn.Write(frame)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err, "an out-of-range gap request must yield no bytes, not a partial dump")
}

func TestPublisherSendsAllRecordsOverMulticastLoopback(t *testing.T) {
	listener, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer listener.Close()

	store := testStore(4)
	pub, err := NewPublisher(store, listener.LocalAddr().String(), 0, false, newTestLog())
	require.NoError(t, err)
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go pub.Run(ctx)

	buf := make([]byte, wire.TradeRecordSize)
	var gotSeqs []uint64
	for i := 0; i < 4; i++ {
		listener.SetReadDeadline(time.Now().Add(time.Second))
		n, err := listener.Read(buf)
		require.NoError(t, err)
		var rec wire.TradeRecord
		require.NoError(t, rec.UnmarshalBinary(buf[:n]))
		gotSeqs = append(gotSeqs, rec.SequenceNumber)
	}
	require.Equal(t, []uint64{0, 1, 2, 3}, gotSeqs)
}

func TestPublisherInjectsGaps(t *testing.T) {
	listener, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer listener.Close()

	store := testStore(1002) // two gaps at 998,999 -> exactly 1000 records sent
	pub, err := NewPublisher(store, listener.LocalAddr().String(), 0, true, newTestLog())
	require.NoError(t, err)
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx) }()

	buf := make([]byte, wire.TradeRecordSize)
	var gotSeqs []uint64
	for i := 0; i < 1000; i++ {
		listener.SetReadDeadline(time.Now().Add(time.Second))
		n, err := listener.Read(buf)
		require.NoError(t, err)
		var rec wire.TradeRecord
		require.NoError(t, rec.UnmarshalBinary(buf[:n]))
		gotSeqs = append(gotSeqs, rec.SequenceNumber)
	}

	require.NotContains(t, gotSeqs, uint64(998))
	require.NotContains(t, gotSeqs, uint64(999))
	require.Contains(t, gotSeqs, uint64(997))
	require.Contains(t, gotSeqs, uint64(1000))
}
