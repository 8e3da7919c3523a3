package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ultrazend/relay"
	"github.com/ultrazend/relay/internal/dao"
	"github.com/ultrazend/relay/tools"
)

func testCollector(t *testing.T, cfg CollectorConfig) (*Collector, dao.DAO) {
	t.Helper()
	lc := tools.LoggerCloner(logrus.New())
	db, err := dao.NewSQLite(filepath.Join(t.TempDir(), "relay.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewCollector(cfg, db, New(Config{}, lc), lc), db
}

func TestCollectorPersistsEventsAndAggregates(t *testing.T) {
	c, db := testCollector(t, CollectorConfig{})
	c.Start()

	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	c.Record(Event{Type: relay.EventQueued, TenantId: 1, MessageId: "m1", At: at})
	c.Record(Event{Type: relay.EventSent, TenantId: 1, MessageId: "m1", Latency: 150 * time.Millisecond, At: at})
	c.Record(Event{Type: relay.EventBounce, TenantId: 1, MessageId: "m2", Error: "user unknown", At: at})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx), "stop drains the queue")

	events, err := db.EmailEvents("m1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, relay.EventQueued, events[0].Type)
	assert.Equal(t, relay.EventSent, events[1].Type)
	assert.EqualValues(t, 150, events[1].LatencyMS)

	m, err := db.GetDailyMetric(1, at)
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.Sent)
	assert.EqualValues(t, 1, m.Failed)
	assert.EqualValues(t, 1, m.QuotaUsed)
	assert.EqualValues(t, 150, m.LatencyMax)
}

func TestCollectorDropsWhenQueueIsFull(t *testing.T) {
	c, _ := testCollector(t, CollectorConfig{QueueSize: 1})

	// never started, so the queue only holds one event
	c.Record(Event{Type: relay.EventQueued, TenantId: 1, MessageId: "m1"})
	c.Record(Event{Type: relay.EventQueued, TenantId: 1, MessageId: "m2"})
	c.Record(Event{Type: relay.EventQueued, TenantId: 1, MessageId: "m3"})

	assert.EqualValues(t, 2, testutil.ToFloat64(c.dropped))
}

func TestHighFailureRateAlert(t *testing.T) {
	c, _ := testCollector(t, CollectorConfig{
		FailureRatePct: 25,
		MinSample:      10,
		Window:         15 * time.Minute,
	})

	at := time.Now().In(time.UTC)
	for i := 0; i < 7; i++ {
		c.handle(Event{Type: relay.EventSent, TenantId: 1, MessageId: "s", At: at})
	}
	for i := 0; i < 2; i++ {
		c.handle(Event{Type: relay.EventBounce, TenantId: 1, MessageId: "b", At: at})
	}
	assert.EqualValues(t, 0, testutil.ToFloat64(c.alertsTotal.WithLabelValues(AlertHighFailureRate)),
		"9 outcomes is below the minimum sample")

	// the tenth outcome makes it 30% over 10, above the 25% threshold
	c.handle(Event{Type: relay.EventBounce, TenantId: 1, MessageId: "b", At: at})
	assert.EqualValues(t, 1, testutil.ToFloat64(c.alertsTotal.WithLabelValues(AlertHighFailureRate)))

	// further failures inside the window do not re-raise
	c.handle(Event{Type: relay.EventBounce, TenantId: 1, MessageId: "b", At: at.Add(time.Minute)})
	assert.EqualValues(t, 1, testutil.ToFloat64(c.alertsTotal.WithLabelValues(AlertHighFailureRate)))
}

func TestFailureRateIsPerTenant(t *testing.T) {
	c, _ := testCollector(t, CollectorConfig{
		FailureRatePct: 25,
		MinSample:      2,
		Window:         15 * time.Minute,
	})

	at := time.Now().In(time.UTC)
	c.handle(Event{Type: relay.EventBounce, TenantId: 1, MessageId: "b", At: at})
	c.handle(Event{Type: relay.EventSent, TenantId: 2, MessageId: "s", At: at})
	c.handle(Event{Type: relay.EventSent, TenantId: 2, MessageId: "s", At: at})

	// tenant 1 has a single failed outcome, below its own minimum sample,
	// tenant 2 is all successes
	assert.EqualValues(t, 0, testutil.ToFloat64(c.alertsTotal.WithLabelValues(AlertHighFailureRate)))
}

func TestHighLatencyAlert(t *testing.T) {
	c, _ := testCollector(t, CollectorConfig{
		LatencyCeiling: time.Second,
	})

	at := time.Now().In(time.UTC)
	c.handle(Event{Type: relay.EventSent, TenantId: 1, MessageId: "m1", Latency: 500 * time.Millisecond, At: at})
	assert.EqualValues(t, 0, testutil.ToFloat64(c.alertsTotal.WithLabelValues(AlertHighLatency)))

	c.handle(Event{Type: relay.EventSent, TenantId: 1, MessageId: "m2", Latency: 2 * time.Second, At: at})
	assert.EqualValues(t, 1, testutil.ToFloat64(c.alertsTotal.WithLabelValues(AlertHighLatency)))
}
