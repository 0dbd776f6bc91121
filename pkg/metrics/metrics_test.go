package metrics

import (
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/lxfeed/tradefeed/pkg/logger"
)

func TestFeedRecordsCounters(t *testing.T) {
	log := logger.NewAsync(io.Discard, 16)
	defer log.Stop()
	m := New("tradefeed_test", log)

	m.RecordTrade()
	m.RecordTrade()
	m.RecordGapDetected()
	m.RecordGapRecovered(5 * time.Millisecond)
	m.RecordUnrecoverableGap()

	require.Equal(t, float64(2), testutil.ToFloat64(m.tradesReceived))
	require.Equal(t, float64(1), testutil.ToFloat64(m.gapsDetected))
	require.Equal(t, float64(1), testutil.ToFloat64(m.gapsRecovered))
	require.Equal(t, float64(1), testutil.ToFloat64(m.unrecoverableGap))
}

func TestFeedPoolAndQueueGauges(t *testing.T) {
	log := logger.NewAsync(io.Discard, 16)
	defer log.Stop()
	m := New("tradefeed_test2", log)

	m.SetPoolOccupancy("trade_records", 128, 1024)
	m.SetQueueDepth("recv_queue", 4, 64)

	require.Equal(t, float64(128), testutil.ToFloat64(m.poolInUse.WithLabelValues("trade_records")))
	require.Equal(t, float64(1024), testutil.ToFloat64(m.poolCap.WithLabelValues("trade_records")))
	require.Equal(t, float64(4), testutil.ToFloat64(m.queueDepth.WithLabelValues("recv_queue")))
	require.Equal(t, float64(64), testutil.ToFloat64(m.queueCap.WithLabelValues("recv_queue")))
}

func TestFeedDBBatchOutcome(t *testing.T) {
	log := logger.NewAsync(io.Discard, 16)
	defer log.Stop()
	m := New("tradefeed_test3", log)

	m.RecordDBBatch(10*time.Millisecond, 1000, nil)
	require.Equal(t, float64(1000), testutil.ToFloat64(m.dbRowsInserted))
	require.Equal(t, float64(0), testutil.ToFloat64(m.dbBatchFailures))

	m.RecordDBBatch(time.Millisecond, 0, io.ErrClosedPipe)
	require.Equal(t, float64(1), testutil.ToFloat64(m.dbBatchFailures))
}
