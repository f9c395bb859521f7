package slave

import (
	"log/slog"
	"time"
)

// dumpPeriod bounds how often heartbeatLogger flushes a "skipped N
// heartbeats" summary while it is suppressing them, mirroring
// EventLoggerWithHBSkip's DUMP_PERIOD (1 second).
const dumpPeriod = time.Second

// heartbeatLogger suppresses per-event trace logging for HEARTBEAT_EVENT,
// which GTID-mode connections receive in bulk, collapsing runs of them into
// one periodic summary instead of one log line per event.
type heartbeatLogger struct {
	logger *slog.Logger

	totalCount uint
	totalSize  uint
	prevDumpTS time.Time

	pendingEventLen   uint32
	pendingPacketNo   int
	pendingEventValid bool
}

func newHeartbeatLogger(logger *slog.Logger) *heartbeatLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &heartbeatLogger{logger: logger}
}

func (h *heartbeatLogger) skipping() bool {
	return h.totalCount != 0
}

// AddHeartbeat records one suppressed HEARTBEAT_EVENT, flushing a summary
// line at most once per dumpPeriod while the run continues.
func (h *heartbeatLogger) AddHeartbeat(eventSize uint, now time.Time) {
	if !h.skipping() {
		h.logger.Debug("skipping heartbeat events")
		h.prevDumpTS = now
	}
	h.totalCount++
	h.totalSize += eventSize
	if now.Sub(h.prevDumpTS) >= dumpPeriod {
		h.dumpSkipped()
		h.prevDumpTS = now
	}
}

// LogStartReading records "reading the next event" trace state, suppressed
// while a heartbeat run is in progress so it can be replayed once Flush
// fires.
func (h *heartbeatLogger) LogStartReading() {
	if !h.skipping() {
		h.logger.Debug("reading event")
		return
	}
	h.pendingEventValid = false
}

// LogEventLenAndPacketNo records the most recently read event's size and
// packet sequence number, again suppressed during a heartbeat run.
func (h *heartbeatLogger) LogEventLenAndPacketNo(length uint32, packetNo int) {
	if !h.skipping() {
		h.logger.Debug("got event", slog.Int("length", int(length)), slog.Int("packet_number", packetNo))
		return
	}
	h.pendingEventLen = length
	h.pendingPacketNo = packetNo
	h.pendingEventValid = true
}

// Flush ends a heartbeat-suppression run: it emits the summary for whatever
// was skipped, resets the counters, and replays the most recent
// non-heartbeat event's trace lines if one arrived while suppressing.
func (h *heartbeatLogger) Flush() {
	if !h.skipping() {
		return
	}

	h.dumpSkipped()
	h.totalCount = 0
	h.totalSize = 0
	h.prevDumpTS = time.Time{}

	if h.pendingEventValid {
		h.logger.Debug("reading event")
		h.logger.Debug("got event", slog.Int("length", int(h.pendingEventLen)), slog.Int("packet_number", h.pendingPacketNo))
	}
	h.pendingEventLen = 0
	h.pendingPacketNo = 0
	h.pendingEventValid = false
}

func (h *heartbeatLogger) dumpSkipped() {
	h.logger.Debug("skipped heartbeat events",
		slog.Uint64("count", uint64(h.totalCount)),
		slog.Uint64("total_size_bytes", uint64(h.totalSize)),
	)
}
