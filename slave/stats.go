package slave

import (
	"sync"
	"time"
)

// TableCounters tracks per-table dispatch counts, mirroring the original
// implementation's per-table stats entry (total/ignored/done/failed).
type TableCounters struct {
	Total    uint64
	Ignored  uint64
	Done     uint64
	Failed   uint64
	LastLatency time.Duration
}

// StatsObserver accumulates per-table counters for the life of a Session:
// how many rows were seen (Total), how many were filtered out (Ignored), how
// many callbacks succeeded (Done) or panicked (Failed), plus a count of
// per-event decode/processing errors. Like StateObserver, every method is
// safe for concurrent use; the session loop and CallbackRouter are the only
// writers.
type StatsObserver struct {
	mu      sync.Mutex
	tables  map[string]*TableCounters
	errorTicks uint64
}

// NewStatsObserver returns an empty StatsObserver.
func NewStatsObserver() *StatsObserver {
	return &StatsObserver{tables: make(map[string]*TableCounters)}
}

func (s *StatsObserver) counters(fullName string) *TableCounters {
	c, ok := s.tables[fullName]
	if !ok {
		c = &TableCounters{}
		s.tables[fullName] = c
	}
	return c
}

// IncTotal counts one row of any kind seen for fullName, regardless of
// whether the table's filter will process it.
func (s *StatsObserver) IncTotal(fullName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters(fullName).Total++
}

// IncIgnored counts one row that a table's EventKind filter excluded.
func (s *StatsObserver) IncIgnored(fullName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters(fullName).Ignored++
}

// IncDone counts one row whose callback returned normally, recording its
// latency.
func (s *StatsObserver) IncDone(fullName string, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters(fullName)
	c.Done++
	c.LastLatency = latency
}

// IncFailed counts one row whose callback panicked, recording its latency
// up to the panic.
func (s *StatsObserver) IncFailed(fullName string, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters(fullName)
	c.Failed++
	c.LastLatency = latency
}

// TableStats returns a copy of fullName's counters, or the zero value if no
// row has been seen for it yet.
func (s *StatsObserver) TableStats(fullName string) TableCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.tables[fullName]; ok {
		return *c
	}
	return TableCounters{}
}

// IncErrorTick counts one per-event decode error — the tick the session
// loop's one-second penalty sleep is paired with.
func (s *StatsObserver) IncErrorTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorTicks++
}

// ErrorTicks returns the number of per-event decode errors seen so far.
func (s *StatsObserver) ErrorTicks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorTicks
}
