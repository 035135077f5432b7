package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.RecordTransition("claim", "ok")
	m.RecordTransition("claim", "conflict")
	m.RecordClaimConflict()
	m.RecordBroadcast("TicketAssumed", nil)
	m.RecordBroadcast("TicketAssumed", errors.New("dropped"))
	m.RecordTriageReply("fallback")
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.RecordRequest("/tickets/:id", "GET", 200, 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("claim", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.claimConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.broadcasts.WithLabelValues("TicketAssumed", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.triageReplies.WithLabelValues("fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeConnections))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTransition("claim", "ok")
		m.RecordBroadcast("x", nil)
		m.ConnectionOpened()
		m.RecordError("/", "GET", "CONFLICT")
	})
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = NewMetrics()
		_ = NewMetrics()
	})
}
