// Package translog implements the ordered, append-only sequence of
// transform IDs every orbit source records its applied transforms in:
// membership testing, truncation, rollback, and clearing, each of which
// emits an event naming the IDs it discarded.
package translog

import (
	"fmt"
	"sync"

	orbit "github.com/orbitkit/orbit-go"
	"github.com/orbitkit/orbit-go/pkg/bus"
)

const (
	// EventAppend fires with the appended ID after a successful append.
	EventAppend = "append"
	// EventTruncate fires with the discarded IDs after a truncate.
	EventTruncate = "truncate"
	// EventRollback fires with the discarded IDs after a rollback.
	EventRollback = "rollback"
	// EventClear fires with all discarded IDs after a clear.
	EventClear = "clear"
)

// Log is an ordered, append-only sequence of transform IDs with a
// set-membership index.
type Log struct {
	mu      sync.RWMutex
	entries []string
	index   map[string]int
	bus     *bus.Bus
}

// New returns an empty log. events, if non-nil, receives append/truncate/
// rollback/clear notifications; a nil bus is valid for logs that don't need
// observers.
func New(events *bus.Bus) *Log {
	if events == nil {
		events = bus.New()
	}
	return &Log{entries: nil, index: make(map[string]int), bus: events}
}

// Bus returns the event bus this log emits on.
func (l *Log) Bus() *bus.Bus { return l.bus }

// Append adds id to the end of the log. It panics if id is already present,
// since every appended ID must be unique within a log (duplicate IDs are
// a dedup decision made by the caller, before Append is reached).
func (l *Log) Append(id string) {
	l.mu.Lock()
	if _, ok := l.index[id]; ok {
		l.mu.Unlock()
		panic("translog: duplicate transform id " + id)
	}
	l.index[id] = len(l.entries)
	l.entries = append(l.entries, id)
	l.mu.Unlock()

	l.bus.Settle(EventAppend, id)
}

// Contains reports whether id has been appended and not since discarded.
func (l *Log) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.index[id]
	return ok
}

// Head returns the most recently appended ID, or "" if the log is empty.
func (l *Log) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return ""
	}
	return l.entries[len(l.entries)-1]
}

// Entries returns every ID in append order. The caller must not mutate it.
func (l *Log) Entries() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of IDs currently in the log.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// After returns the IDs strictly after id, in order.
func (l *Log) After(id string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.index[id]
	if !ok {
		return nil
	}
	out := make([]string, len(l.entries)-pos-1)
	copy(out, l.entries[pos+1:])
	return out
}

// Before returns the IDs strictly before id, in order.
func (l *Log) Before(id string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.index[id]
	if !ok {
		return nil
	}
	out := make([]string, pos)
	copy(out, l.entries[:pos])
	return out
}

// Truncate discards every entry at or before index(id)+relative, keeping
// only the suffix that remains strictly after the resulting marker. It
// returns NotLoggedError if id is not in the log, and OutOfRangeError if
// relative pushes the cut point outside the log's bounds.
func (l *Log) Truncate(id string, relative int) ([]string, error) {
	l.mu.Lock()
	pos, ok := l.index[id]
	if !ok {
		l.mu.Unlock()
		return nil, &orbit.NotLoggedError{TransformID: id}
	}
	cut := pos + relative
	if cut < -1 || cut >= len(l.entries) {
		l.mu.Unlock()
		return nil, &orbit.OutOfRangeError{Message: fmt.Sprintf("translog: truncate(%q, %d) cut index %d out of range [-1, %d)", id, relative, cut, len(l.entries))}
	}
	discarded := append([]string(nil), l.entries[:cut+1]...)
	l.entries = append([]string(nil), l.entries[cut+1:]...)
	l.reindexLocked()
	l.mu.Unlock()

	if len(discarded) > 0 {
		l.bus.Settle(EventTruncate, discarded)
	}
	return discarded, nil
}

// Rollback discards every entry strictly after index(id)+relative. It
// returns NotLoggedError if id is not in the log, and OutOfRangeError if
// relative pushes the keep point outside the log's bounds.
func (l *Log) Rollback(id string, relative int) ([]string, error) {
	l.mu.Lock()
	pos, ok := l.index[id]
	if !ok {
		l.mu.Unlock()
		return nil, &orbit.NotLoggedError{TransformID: id}
	}
	keep := pos + relative + 1
	if keep < 0 || keep > len(l.entries) {
		l.mu.Unlock()
		return nil, &orbit.OutOfRangeError{Message: fmt.Sprintf("translog: rollback(%q, %d) keep index %d out of range [0, %d]", id, relative, keep, len(l.entries))}
	}
	discarded := append([]string(nil), l.entries[keep:]...)
	l.entries = append([]string(nil), l.entries[:keep]...)
	l.reindexLocked()
	l.mu.Unlock()

	if len(discarded) > 0 {
		l.bus.Settle(EventRollback, discarded)
	}
	return discarded, nil
}

// Clear discards every entry.
func (l *Log) Clear() []string {
	l.mu.Lock()
	discarded := l.entries
	l.entries = nil
	l.index = make(map[string]int)
	l.mu.Unlock()

	if len(discarded) > 0 {
		l.bus.Settle(EventClear, discarded)
	}
	return discarded
}

func (l *Log) reindexLocked() {
	l.index = make(map[string]int, len(l.entries))
	for i, id := range l.entries {
		l.index[id] = i
	}
}
