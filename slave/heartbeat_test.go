package slave

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestHeartbeatLogger() *heartbeatLogger {
	return newHeartbeatLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHeartbeatLoggerNotSkippingByDefault(t *testing.T) {
	h := newTestHeartbeatLogger()
	require.False(t, h.skipping())
}

func TestHeartbeatLoggerAccumulatesDuringRun(t *testing.T) {
	h := newTestHeartbeatLogger()
	now := time.Now()

	h.AddHeartbeat(10, now)
	require.True(t, h.skipping())
	require.EqualValues(t, 1, h.totalCount)
	require.EqualValues(t, 10, h.totalSize)

	h.AddHeartbeat(5, now.Add(100*time.Millisecond))
	require.EqualValues(t, 2, h.totalCount)
	require.EqualValues(t, 15, h.totalSize)
}

func TestHeartbeatLoggerDumpsAtPeriodBoundary(t *testing.T) {
	h := newTestHeartbeatLogger()
	start := time.Now()

	h.AddHeartbeat(1, start)
	h.AddHeartbeat(1, start.Add(2*dumpPeriod))

	// dumping resets prevDumpTS but not totalCount/totalSize: skipping()
	// still reports true until Flush.
	require.True(t, h.skipping())
}

func TestHeartbeatLoggerFlushResetsAndReplaysPending(t *testing.T) {
	h := newTestHeartbeatLogger()
	now := time.Now()

	h.AddHeartbeat(1, now)
	h.LogStartReading()
	h.LogEventLenAndPacketNo(128, 7)
	require.True(t, h.pendingEventValid)

	h.Flush()

	require.False(t, h.skipping())
	require.False(t, h.pendingEventValid)
	require.EqualValues(t, 0, h.totalCount)
	require.EqualValues(t, 0, h.totalSize)
}

func TestHeartbeatLoggerFlushNoopWhenNotSkipping(t *testing.T) {
	h := newTestHeartbeatLogger()
	require.NotPanics(t, h.Flush)
}

func TestHeartbeatLoggerLogStartReadingClearsPendingDuringRun(t *testing.T) {
	h := newTestHeartbeatLogger()
	now := time.Now()

	h.AddHeartbeat(1, now)
	h.LogEventLenAndPacketNo(64, 1)
	require.True(t, h.pendingEventValid)

	h.LogStartReading()
	require.False(t, h.pendingEventValid)
}
