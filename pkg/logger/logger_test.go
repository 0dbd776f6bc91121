package logger

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAsyncLoggerWritesLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewAsync(&buf, 64)

	l.Info("listener started", "port", 5555)
	l.Error("gap detected", "start", 10, "end", 12)

	require.Eventually(t, func() bool {
		return strings.Count(buf.String(), "\n") >= 2
	}, time.Second, time.Millisecond, "both lines must eventually be drained and written")
	l.Stop()

	out := buf.String()
	require.Contains(t, out, "[INFO] tradefeed: listener started port=5555")
	require.Contains(t, out, "[ERROR] tradefeed: gap detected start=10 end=12")
}

func TestAsyncLoggerWithField(t *testing.T) {
	var buf bytes.Buffer
	l := NewAsync(&buf, 64)
	child := l.WithField("component", "sequencer")
	child.Warn("late message dropped")

	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "late message dropped")
	}, time.Second, time.Millisecond)
	l.Stop()

	require.Contains(t, buf.String(), "component=sequencer")
}

func TestAsyncLoggerStopDrainsBeforeReturning(t *testing.T) {
	var buf bytes.Buffer
	l := NewAsync(&buf, 1024)
	for i := 0; i < 100; i++ {
		l.Debug("tick")
	}
	l.Stop()
	require.Equal(t, 100, strings.Count(buf.String(), "tick"), "Stop must not return until every enqueued line is written")
}
