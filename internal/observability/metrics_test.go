package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsSnapshotIsCopy(t *testing.T) {
	m := NewMetrics()
	m.RecordTransition("claim")
	m.RecordTransition("claim")
	m.RecordTransition("close|confirmed")
	m.RecordFailure("claim", "CONFLICT")
	m.RecordRequest("/healthz", "GET", 200, 10*time.Millisecond)
	m.RecordRequest("/healthz", "GET", 200, 30*time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.Transitions["claim"])
	assert.Equal(t, int64(1), snap.Failures["claim|CONFLICT"])
	assert.Equal(t, int64(2), snap.Requests["/healthz|GET|200"])
	assert.InDelta(t, 20.0, snap.AvgRequestMillis, 0.001)
	assert.Equal(t, []string{"claim", "close|confirmed"}, snap.TransitionNames())
	assert.Nil(t, snap.LastSweepAt)

	snap.Transitions["claim"] = 99
	assert.Equal(t, int64(2), m.Snapshot().Transitions["claim"])
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordTransition("claim")
	m.RecordSweep(time.Now(), 3)
	assert.Empty(t, m.Snapshot().Transitions)
}
