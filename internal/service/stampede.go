package service

import (
	"sync"

	"github.com/kisansaathi/farmdata-service/internal/observability"
)

// stampedeTracker counts concurrent cache misses per key. A count above one
// means several requests missed the same key at once.
type stampedeTracker struct {
	kind         string
	mu           sync.Mutex
	activeMisses map[string]int
}

func newStampedeTracker(kind string) *stampedeTracker {
	return &stampedeTracker{
		kind:         kind,
		activeMisses: make(map[string]int),
	}
}

// RecordMiss records a cache miss for key and returns the concurrent miss
// count. Callers defer Done(key) once the miss is resolved.
func (st *stampedeTracker) RecordMiss(key string) int {
	st.mu.Lock()
	st.activeMisses[key]++
	n := st.activeMisses[key]
	st.mu.Unlock()
	if n > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(st.kind).Inc()
	}
	return n
}

// Done records completion of a miss for key.
func (st *stampedeTracker) Done(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if count, ok := st.activeMisses[key]; ok && count > 0 {
		st.activeMisses[key]--
		if st.activeMisses[key] == 0 {
			delete(st.activeMisses, key)
		}
	}
}
