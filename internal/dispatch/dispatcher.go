// Package dispatch turns validated messages into transport calls and
// interprets the result. Every attempt ends in exactly one of sent, a
// scheduled retry or a terminal failure, a message is never silently
// dropped.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/alitto/pond"
	"github.com/sirupsen/logrus"
	"github.com/ultrazend/relay"
	"github.com/ultrazend/relay/internal/bounce"
	"github.com/ultrazend/relay/internal/dao"
	"github.com/ultrazend/relay/internal/metrics"
	"github.com/ultrazend/relay/internal/retry"
	"github.com/ultrazend/relay/tools"
	"gopkg.in/gomail.v2"
)

type Config struct {
	Hostname         string
	ServiceName      string
	Workers          int
	TransportTimeout time.Duration
}

type Dispatcher struct {
	cfg       Config
	db        dao.DAO
	transport Transport
	retry     *retry.Scheduler
	collector *metrics.Collector
	locks     *tools.KeyedMutex
	log       *logrus.Logger

	ostart sync.Once
	ostop  sync.Once
	pool   *pond.WorkerPool
}

func New(cfg Config, db dao.DAO, transport Transport, scheduler *retry.Scheduler, collector *metrics.Collector, lc *tools.Logger) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.TransportTimeout <= 0 {
		cfg.TransportTimeout = 30 * time.Second
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "ultrazend-relay"
	}
	return &Dispatcher{
		cfg:       cfg,
		db:        db,
		transport: transport,
		retry:     scheduler,
		collector: collector,
		locks:     tools.NewKeyedMutex(),
		log:       lc.New("dispatch"),
	}
}

func (d *Dispatcher) Start() {
	d.ostart.Do(func() {
		d.log.Infof("starting dispatcher with %d workers", d.cfg.Workers)
		d.pool = pond.New(d.cfg.Workers, 1024, pond.MinWorkers(1))
	})
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	var err error
	d.ostop.Do(func() {
		select {
		case <-d.pool.Stop().Done():
			d.log.Info("dispatcher has been shut down")
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

// Enqueue submits a freshly accepted message for its first attempt.
func (d *Dispatcher) Enqueue(email dao.Email) bool {
	return d.submit(email, false)
}

// Redeliver re-enters the pipeline with an already accepted message whose
// retry came due. Sender and quota were checked at the first attempt and are
// not re-checked here.
func (d *Dispatcher) Redeliver(email dao.Email) bool {
	return d.submit(email, true)
}

func (d *Dispatcher) submit(email dao.Email, redelivery bool) bool {
	if d.pool == nil || d.pool.Stopped() {
		d.log.WithField("message_id", email.MessageId).Warn("pool stopped, not accepting message")
		return false
	}
	return d.pool.TrySubmit(func() {
		d.send(email, redelivery)
	})
}

func (d *Dispatcher) send(email dao.Email, redelivery bool) {
	// one attempt owns a message's transition at a time
	d.locks.Lock(email.MessageId)
	defer d.locks.Unlock(email.MessageId)

	if !redelivery {
		err := d.db.SetEmailStatus(email.MessageId, []relay.Status{relay.StatusQueued}, relay.StatusValidating)
		if err == nil {
			err = d.db.SetEmailStatus(email.MessageId, []relay.Status{relay.StatusValidating}, relay.StatusDispatched)
		}
		if err != nil {
			// the message moved on through another path, nothing to do here
			d.log.WithField("message_id", email.MessageId).WithError(err).
				Warn("skipping dispatch, message already moved on")
			return
		}
	}

	msg := d.build(email)

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.TransportTimeout)
	defer cancel()

	start := time.Now()
	// the envelope sender is the verp return path, bounces come back to us
	err := d.transport.Send(ctx, email.ReturnPath, email.Recipients, msg)
	latency := time.Since(start)

	if err == nil {
		d.accept(email, latency)
		return
	}
	d.reject(email, err, latency)
}

func (d *Dispatcher) build(email dao.Email) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", email.ResolvedFrom)

	// bcc recipients travel only in the envelope, never in a header
	to := email.HeaderTo
	if len(to) == 0 {
		to = email.Recipients
	}
	m.SetHeader("To", to...)
	if len(email.HeaderCc) > 0 {
		m.SetHeader("Cc", email.HeaderCc...)
	}
	m.SetHeader("Subject", email.Subject)
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@%s>", email.MessageId, d.cfg.Hostname))
	m.SetHeader("X-Tracking-Id", email.TrackingId)
	m.SetHeader("X-Mailer", d.cfg.ServiceName)

	if len(email.Text) > 0 {
		m.SetBody("text/plain", email.Text)
	}
	if len(email.HTML) > 0 {
		html := SanitizeHTML(email.HTML)
		if len(email.Text) > 0 {
			m.AddAlternative("text/html", html)
		} else {
			m.SetBody("text/html", html)
		}
	}
	return m
}

func (d *Dispatcher) accept(email dao.Email, latency time.Duration) {
	err := d.db.MarkSent(email.MessageId, latency)
	if err != nil {
		d.log.WithField("message_id", email.MessageId).WithError(err).
			Error("transport accepted but status update failed")
		return
	}
	d.log.WithField("message_id", email.MessageId).
		WithField("latency", latency).
		Debug("message accepted by transport")

	d.collector.Record(metrics.Event{
		Type:      relay.EventSent,
		TenantId:  email.TenantId,
		MessageId: email.MessageId,
		Latency:   latency,
	})
}

func (d *Dispatcher) reject(email dao.Email, sendErr error, latency time.Duration) {
	reason := sendErr.Error()
	var rejection *RejectionError
	if errors.As(sendErr, &rejection) {
		reason = rejection.Reason
	}
	if errors.Is(sendErr, context.DeadlineExceeded) {
		// a transport timeout feeds the same retry policy as a rejection
		reason = "transport timeout, temporary failure"
	}

	_ = d.db.SetLastError(email.MessageId, reason)

	category := bounce.Classify(reason)
	d.log.WithField("message_id", email.MessageId).
		WithField("category", category).
		WithField("reason", reason).
		Info("transport rejected message")

	switch category {
	case bounce.Hard:
		d.terminal(email, relay.StatusBouncedHard, relay.EventBounce, reason, latency)
	case bounce.Block:
		d.terminal(email, relay.StatusBlocked, relay.EventBlocked, reason, latency)
	default:
		d.soft(email, reason, latency)
	}
}

func (d *Dispatcher) soft(email dao.Email, reason string, latency time.Duration) {
	scheduled, err := d.retry.Schedule(&email, time.Now())
	if err != nil {
		d.log.WithField("message_id", email.MessageId).WithError(err).
			Error("could not schedule retry, escalating to failed")
	}
	if scheduled {
		d.collector.Record(metrics.Event{
			Type:      relay.EventDeferred,
			TenantId:  email.TenantId,
			MessageId: email.MessageId,
			Latency:   latency,
			Error:     reason,
			Metadata:  fmt.Sprintf(`{"attempt": %d}`, email.RetryCount),
		})
		return
	}
	// retry budget spent, treated like a hard bounce for reporting
	d.terminal(email, relay.StatusFailed, relay.EventFailed, reason, latency)
}

func (d *Dispatcher) terminal(email dao.Email, status relay.Status, event relay.EventType, reason string, latency time.Duration) {
	err := d.db.SetEmailStatus(email.MessageId, []relay.Status{relay.StatusDispatched}, status)
	if err != nil {
		d.log.WithField("message_id", email.MessageId).WithError(err).
			Warn("terminal transition lost the race, message already moved on")
		return
	}
	d.collector.Record(metrics.Event{
		Type:      event,
		TenantId:  email.TenantId,
		MessageId: email.MessageId,
		Latency:   latency,
		Error:     reason,
	})
}
