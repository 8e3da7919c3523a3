// Package audit keeps a best effort compliance record of sender resolution,
// one entry per message whether or not the sender was modified. It is
// observability, never a send path dependency, write failures are logged and
// swallowed.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ultrazend/relay/internal/dao"
	"github.com/ultrazend/relay/tools"
)

type Entry struct {
	TenantId     int64
	MessageId    string
	OriginalFrom string
	FinalFrom    string
	WasModified  bool
	Reason       string
	Context      string
	At           time.Time
}

type Log struct {
	db  dao.DAO
	log *logrus.Logger

	queue chan Entry

	ostart  sync.Once
	ostop   sync.Once
	done    chan struct{}
	stopped chan struct{}
}

func New(queueSize int, db dao.DAO, lc *tools.Logger) *Log {
	if queueSize < 1 {
		queueSize = 256
	}
	return &Log{
		db:      db,
		log:     lc.New("audit"),
		queue:   make(chan Entry, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (l *Log) Start() {
	l.ostart.Do(func() {
		go l.work()
	})
}

func (l *Log) Stop(ctx context.Context) error {
	l.ostop.Do(func() {
		close(l.done)
	})
	select {
	case <-l.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Record enqueues an entry without blocking the caller. A full queue drops
// the entry with a warning, losing an audit row must never stall a send.
func (l *Log) Record(e Entry) {
	if e.At.IsZero() {
		e.At = time.Now().In(time.UTC)
	}
	select {
	case l.queue <- e:
	case <-l.done:
	default:
		l.log.WithField("message_id", e.MessageId).Warn("audit queue full, dropping entry")
	}
}

func (l *Log) work() {
	defer close(l.stopped)
	for {
		select {
		case e := <-l.queue:
			l.write(e)
		case <-l.done:
			for {
				select {
				case e := <-l.queue:
					l.write(e)
				default:
					return
				}
			}
		}
	}
}

func (l *Log) write(e Entry) {
	err := l.db.AddAuditEntry(dao.AuditEntry{
		TenantId:     e.TenantId,
		MessageId:    e.MessageId,
		OriginalFrom: e.OriginalFrom,
		FinalFrom:    e.FinalFrom,
		WasModified:  e.WasModified,
		Reason:       e.Reason,
		Context:      e.Context,
		CreatedAt:    e.At,
	})
	if err != nil {
		l.log.WithError(err).WithField("message_id", e.MessageId).Error("could not write audit entry")
	}
}
