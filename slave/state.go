package slave

import (
	"sync"
	"time"

	"github.com/binlogkit/slave/mysql"
)

// State is a point-in-time snapshot of StateObserver, returned by value so
// callers can inspect it without holding the observer's lock.
type State struct {
	ConnectTime        time.Time
	ConnectCount       uint
	LastFilteredUpdate time.Time
	LastEventTime      time.Time
	LastUpdate         time.Time
	IntransactionPos   uint32
	Position           mysql.Position
	StateProcessing    bool
}

// StateObserver is a thread-safe snapshot of connection/processing/position
// counters, mirroring DefaultExtState's mutex-guarded getter/setter shape:
// every accessor takes the lock only for the scalar copy it performs.
// The session loop and CallbackRouter (SetLastFilteredUpdateTime) are the
// writers; State()/any getter may be called from any goroutine.
type StateObserver struct {
	mu    sync.Mutex
	state State

	// loadPosition/savePosition are the optional persistence collaborator
	// spec.md §6 names; both default to the no-op behavior described there
	// (savePosition does nothing, loadPosition reports "nothing saved").
	loadPosition func() (mysql.Position, bool)
	savePosition func(mysql.Position)
}

// NewStateObserver returns a StateObserver with no-op position persistence.
func NewStateObserver() *StateObserver {
	return &StateObserver{
		loadPosition: func() (mysql.Position, bool) { return mysql.Position{}, false },
		savePosition: func(mysql.Position) {},
	}
}

// SetPositionStore installs a non-default load/save pair, e.g.
// FilePositionStore's methods, letting an embedder persist position across
// restarts without the core depending on a storage choice.
func (s *StateObserver) SetPositionStore(load func() (mysql.Position, bool), save func(mysql.Position)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadPosition = load
	s.savePosition = save
}

// State returns a copy of the current snapshot.
func (s *StateObserver) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetConnecting records a connection attempt: bumps ConnectCount and stamps
// ConnectTime, called once per attempt in Session's connect loop.
func (s *StateObserver) SetConnecting(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ConnectTime = now
	s.state.ConnectCount++
}

// SetLastFilteredUpdateTime stamps the moment a row was last dispatched
// through a table's callback (CallbackRouter.call).
func (s *StateObserver) SetLastFilteredUpdateTime(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastFilteredUpdate = now
}

// SetLastEventTimePos records the timestamp and in-transaction log position
// of the most recently processed event.
func (s *StateObserver) SetLastEventTimePos(t time.Time, pos uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastEventTime = t
	s.state.IntransactionPos = pos
	s.state.LastUpdate = t
}

// SetMasterPosition records the session's durable Position (on XID commit)
// and touches IntransactionPos to the legacy log_pos half of it.
func (s *StateObserver) SetMasterPosition(p mysql.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Position = p
	s.state.IntransactionPos = p.LogPos
	s.savePosition(p)
}

// LoadMasterPosition returns the last persisted Position, if the installed
// store has one. The default store always reports false.
func (s *StateObserver) LoadMasterPosition() (mysql.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadPosition()
}

// SetStateProcessing marks whether the session loop is between "read the
// next packet" and "dispatched it", used by read_event's own bookkeeping in
// the original implementation.
func (s *StateObserver) SetStateProcessing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.StateProcessing = v
}
