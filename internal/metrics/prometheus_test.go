package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/dom/studybuddy/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNop_DoesNotPanic(t *testing.T) {
	m := metrics.NewNop()

	require.NotPanics(t, func() {
		m.RecordCommand("pair.invite", "ok", time.Millisecond)
		m.RecordRetry("pair.invite")
		m.RecordChangePublished("pair")
		m.RecordChangeDropped("pair", "stale")
		m.AddSubscriptions(-1)
		m.AddConnections(1)
		m.RecordExpiry("timer", "completed")
		m.RecordNotification("log", errors.New("x"))
	})
}

func TestPrometheus_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPrometheus(reg, "test")

	m.RecordCommand("buddy_session.accept", "ok", 2*time.Millisecond)
	m.RecordCommand("buddy_session.accept", "WRONG_STATUS", time.Millisecond)
	m.RecordChangeDropped("buddy_session", "coalesced")
	m.RecordNotification("nats", nil)
	m.RecordNotification("nats", errors.New("down"))
	m.AddSubscriptions(2)
	m.AddSubscriptions(-1)

	count, err := testutil.GatherAndCount(reg, "test_engine_commands_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(reg, "test_notify_deliveries_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(reg, "test_changefeed_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "test_changefeed_subscriptions" {
			assert.Equal(t, float64(1), mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
}

func TestPrometheus_DefaultNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPrometheus(reg, "")
	m.RecordRetry("poke.send")

	count, err := testutil.GatherAndCount(reg, "studybuddy_engine_version_retries_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
