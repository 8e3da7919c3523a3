// Package retry decides whether a failed delivery is retried, delayed or
// escalated to terminal, and re-enqueues due retries for redelivery.
package retry

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ultrazend/relay/internal/dao"
	"github.com/ultrazend/relay/internal/signals"
	"github.com/ultrazend/relay/tools"
)

type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	PollInterval time.Duration
	BatchSize    int
}

// Redeliverer re-enters the dispatcher with an already accepted message.
// Sender and quota are not re-checked, a retry is redelivery, not a new send.
type Redeliverer interface {
	Redeliver(email dao.Email) bool
}

type Scheduler struct {
	cfg Config
	db  dao.DAO
	hub *signals.Hub
	log *logrus.Logger

	ostart  sync.Once
	ostop   sync.Once
	done    chan struct{}
	stopped chan struct{}
}

func New(cfg Config, db dao.DAO, hub *signals.Hub, lc *tools.Logger) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Minute
	}
	return &Scheduler{
		cfg:     cfg,
		db:      db,
		hub:     hub,
		log:     lc.New("retry"),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Backoff is base * 2^(attempt-1) capped at the configured max, so the first
// retry waits one base delay.
func (s *Scheduler) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(s.cfg.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if s.cfg.MaxDelay > 0 && d > s.cfg.MaxDelay {
		d = s.cfg.MaxDelay
	}
	return d
}

// Schedule books the next attempt for a soft failure. It reports false when
// the retry budget is spent and the message must escalate to failed.
func (s *Scheduler) Schedule(email *dao.Email, now time.Time) (bool, error) {
	attempt := email.RetryCount + 1
	if attempt > s.cfg.MaxRetries {
		return false, nil
	}

	at := now.Add(s.Backoff(attempt))
	err := s.db.ScheduleRetry(email.MessageId, attempt, at)
	if err != nil {
		return false, err
	}
	email.RetryCount = attempt

	s.log.WithField("message_id", email.MessageId).
		WithField("attempt", attempt).
		WithField("not_before", at).
		Debug("retry scheduled")

	s.hub.Notify(signals.RetryScheduled)
	return true, nil
}

// Start runs the poller that feeds due retries back into the dispatcher. A
// message that reached a terminal state through another path, eg an
// out-of-band hard bounce, fails the atomic claim and is skipped.
func (s *Scheduler) Start(redeliver Redeliverer) {
	s.ostart.Do(func() {
		go s.poll(redeliver)
	})
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.ostop.Do(func() {
		close(s.done)
	})
	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) poll(redeliver Redeliverer) {
	defer close(s.stopped)

	wakeup, cancel := s.hub.Listen(signals.RetryScheduled)
	defer cancel()

	for {
		select {
		case <-s.done:
			return
		case <-wakeup:
		case <-time.After(s.cfg.PollInterval):
		}

		emails, err := s.db.DueRetries(time.Now(), s.cfg.BatchSize)
		if err != nil {
			s.log.WithError(err).Error("could not read due retries")
			continue
		}

		for _, email := range emails {
			err = s.db.ClaimRetry(email.MessageId)
			if err != nil {
				// already claimed or moved to terminal elsewhere
				s.log.WithField("message_id", email.MessageId).WithError(err).
					Debug("skipping retry, claim failed")
				continue
			}
			if !redeliver.Redeliver(email) {
				s.log.WithField("message_id", email.MessageId).
					Warn("dispatcher did not accept redelivery")
			}
		}
	}
}
