package observability

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu            sync.Mutex
	requestCount  map[string]int64
	errorCount    map[string]int64
	transitions   map[string]int64
	failures      map[string]int64
	requestTotal  time.Duration
	requestCalls  int64
	lastSweepAt   time.Time
	lastSweepSeen int
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Requests         map[string]int64 `json:"requests"`
	Errors           map[string]int64 `json:"errors"`
	Transitions      map[string]int64 `json:"transitions"`
	Failures         map[string]int64 `json:"failures"`
	AvgRequestMillis float64          `json:"avg_request_ms"`
	LastSweepAt      *time.Time       `json:"last_sweep_at,omitempty"`
	LastSweepScanned int              `json:"last_sweep_scanned"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		transitions:  make(map[string]int64),
		failures:     make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
	m.requestTotal += duration
	m.requestCalls++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordTransition counts a successful ticket transition, e.g. "claim" or "close|auto-closed".
func (m *Metrics) RecordTransition(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[name]++
}

// RecordFailure counts a rejected or failed ticket operation by error code.
func (m *Metrics) RecordFailure(operation, code string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[operation+"|"+code]++
}

// RecordSweep stores the outcome of the last inactivity sweep.
func (m *Metrics) RecordSweep(at time.Time, scanned int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSweepAt = at
	m.lastSweepSeen = scanned
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		Requests:         copyCounts(m.requestCount),
		Errors:           copyCounts(m.errorCount),
		Transitions:      copyCounts(m.transitions),
		Failures:         copyCounts(m.failures),
		LastSweepScanned: m.lastSweepSeen,
	}
	if m.requestCalls > 0 {
		s.AvgRequestMillis = float64(m.requestTotal.Milliseconds()) / float64(m.requestCalls)
	}
	if !m.lastSweepAt.IsZero() {
		at := m.lastSweepAt
		s.LastSweepAt = &at
	}
	return s
}

// TransitionNames lists the recorded transition keys in order.
func (s Snapshot) TransitionNames() []string {
	names := make([]string, 0, len(s.Transitions))
	for name := range s.Transitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
