package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/ultrazend/relay"
	"github.com/ultrazend/relay/internal/dao"
	"github.com/ultrazend/relay/tools"
)

// Event is one pipeline observation handed to the collector. The collector
// appends it as an immutable email_events row, folds it into the tenant's
// daily aggregate and evaluates the alert conditions.
type Event struct {
	Type      relay.EventType
	TenantId  int64
	MessageId string
	Latency   time.Duration
	Error     string
	Metadata  string
	At        time.Time
}

type CollectorConfig struct {
	QueueSize int

	// FailureRatePct raises a high_failure_rate alert when the trailing
	// window failure rate crosses it, gated on MinSample to avoid noise on
	// low volume.
	FailureRatePct float64
	MinSample      int
	Window         time.Duration

	// LatencyCeiling raises a high_latency alert for any single observation
	// above it.
	LatencyCeiling time.Duration
}

const AlertHighFailureRate = "high_failure_rate"
const AlertHighLatency = "high_latency"

// Collector consumes pipeline events on a bounded queue, decoupled from the
// send path. Everything here is best effort, a failure to persist an event,
// aggregate or alert is logged and swallowed, never propagated to a caller.
type Collector struct {
	cfg CollectorConfig
	db  dao.DAO
	log *logrus.Logger

	queue chan Event

	mu      sync.Mutex
	windows map[int64]*tenantWindow

	ostart  sync.Once
	ostop   sync.Once
	done    chan struct{}
	stopped chan struct{}

	eventsTotal *prometheus.CounterVec
	alertsTotal *prometheus.CounterVec
	dropped     prometheus.Counter
	sendLatency prometheus.Histogram
}

type sample struct {
	at     time.Time
	failed bool
}

type tenantWindow struct {
	samples   []sample
	lastAlert time.Time
}

func NewCollector(cfg CollectorConfig, db dao.DAO, m *Metrics, lc *tools.Logger) *Collector {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1024
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.MinSample < 1 {
		cfg.MinSample = 1
	}

	factory := m.Register()
	return &Collector{
		cfg:     cfg,
		db:      db,
		log:     lc.New("collector"),
		queue:   make(chan Event, cfg.QueueSize),
		windows: map[int64]*tenantWindow{},
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_email_events_total", Help: "Pipeline events by type.",
		}, []string{"type"}),
		alertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_alerts_total", Help: "Alerts raised by type.",
		}, []string{"type"}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_collector_dropped_events_total", Help: "Events dropped because the collector queue was full.",
		}),
		sendLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_send_latency_seconds",
			Help:    "Transport latency of accepted sends.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

func (c *Collector) Start() {
	c.ostart.Do(func() {
		go c.work()
	})
}

func (c *Collector) Stop(ctx context.Context) error {
	c.ostop.Do(func() {
		close(c.done)
	})
	select {
	case <-c.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Record hands an event to the collector without ever blocking the send
// path. When the queue is full the event is dropped and counted.
func (c *Collector) Record(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().In(time.UTC)
	}
	select {
	case c.queue <- ev:
	default:
		c.dropped.Inc()
		c.log.WithField("type", ev.Type).WithField("message_id", ev.MessageId).
			Warn("collector queue full, dropping event")
	}
}

func (c *Collector) work() {
	defer close(c.stopped)
	for {
		select {
		case ev := <-c.queue:
			c.handle(ev)
		case <-c.done:
			// drain what is already queued before shutting down
			for {
				select {
				case ev := <-c.queue:
					c.handle(ev)
				default:
					return
				}
			}
		}
	}
}

func (c *Collector) handle(ev Event) {
	c.eventsTotal.WithLabelValues(ev.Type.String()).Inc()

	err := c.db.AddEvent(dao.EmailEvent{
		Type:      ev.Type,
		TenantId:  ev.TenantId,
		MessageId: ev.MessageId,
		LatencyMS: ev.Latency.Milliseconds(),
		Error:     ev.Error,
		Metadata:  ev.Metadata,
		CreatedAt: ev.At,
	})
	if err != nil {
		c.log.WithError(err).Error("could not append email event")
	}

	delta, terminal := deltaOf(ev)
	if delta != (dao.MetricDelta{}) {
		err = c.db.MergeDailyMetric(ev.TenantId, ev.At, delta)
		if err != nil {
			c.log.WithError(err).Error("could not merge daily metric")
		}
	}

	if ev.Type == relay.EventSent {
		c.sendLatency.Observe(ev.Latency.Seconds())
	}

	if terminal {
		c.observeOutcome(ev, delta.Failed > 0)
	}
	if c.cfg.LatencyCeiling > 0 && ev.Latency > c.cfg.LatencyCeiling {
		c.raise(dao.Alert{
			Type:      AlertHighLatency,
			Severity:  "warning",
			TenantId:  ev.TenantId,
			Message:   fmt.Sprintf("send of %s took %s, ceiling is %s", ev.MessageId, ev.Latency, c.cfg.LatencyCeiling),
			Threshold: c.cfg.LatencyCeiling.Seconds(),
			Current:   ev.Latency.Seconds(),
		})
	}
}

// deltaOf maps an event type onto its daily aggregate contribution and
// whether it counts as a send outcome for the failure rate window.
func deltaOf(ev Event) (dao.MetricDelta, bool) {
	switch ev.Type {
	case relay.EventQueued:
		return dao.MetricDelta{QuotaUsed: 1}, false
	case relay.EventSent:
		return dao.MetricDelta{Sent: 1, LatencyMS: ev.Latency.Milliseconds()}, true
	case relay.EventFailed, relay.EventBounce, relay.EventBlocked:
		return dao.MetricDelta{Failed: 1}, true
	}
	return dao.MetricDelta{}, false
}

func (c *Collector) observeOutcome(ev Event, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.windows[ev.TenantId]
	if w == nil {
		w = &tenantWindow{}
		c.windows[ev.TenantId] = w
	}
	w.samples = append(w.samples, sample{at: ev.At, failed: failed})

	cutoff := ev.At.Add(-c.cfg.Window)
	trimmed := w.samples[:0]
	for _, s := range w.samples {
		if s.at.After(cutoff) {
			trimmed = append(trimmed, s)
		}
	}
	w.samples = trimmed

	if len(w.samples) < c.cfg.MinSample {
		return
	}
	var failures int
	for _, s := range w.samples {
		if s.failed {
			failures++
		}
	}
	rate := float64(failures) / float64(len(w.samples)) * 100

	if rate <= c.cfg.FailureRatePct {
		return
	}
	// one alert per tenant per window, re-raising every event is just noise
	if ev.At.Sub(w.lastAlert) < c.cfg.Window {
		return
	}
	w.lastAlert = ev.At

	c.raise(dao.Alert{
		Type:      AlertHighFailureRate,
		Severity:  "critical",
		TenantId:  ev.TenantId,
		Message:   fmt.Sprintf("failure rate %.1f%% over last %s (%d of %d sends)", rate, c.cfg.Window, failures, len(w.samples)),
		Threshold: c.cfg.FailureRatePct,
		Current:   rate,
	})
}

func (c *Collector) raise(a dao.Alert) {
	c.alertsTotal.WithLabelValues(a.Type).Inc()
	err := c.db.AddAlert(a)
	if err != nil {
		c.log.WithError(err).WithField("type", a.Type).Error("could not persist alert")
	}
}
