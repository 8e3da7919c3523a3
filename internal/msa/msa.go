// Package msa runs the inbound mail endpoint that receives delivery status
// notifications addressed to verp return paths and resolves them onto the
// message that triggered them. This is the out-of-band path that can move a
// sent message to delivered, bounced or blocked while a retry is pending.
package msa

import (
	"fmt"
	"strings"

	"github.com/flashmob/go-guerrilla"
	"github.com/flashmob/go-guerrilla/backends"
	"github.com/flashmob/go-guerrilla/mail"
	"github.com/sirupsen/logrus"
	"github.com/ultrazend/relay"
	"github.com/ultrazend/relay/internal/bounce"
	"github.com/ultrazend/relay/internal/dao"
	"github.com/ultrazend/relay/internal/metrics"
	"github.com/ultrazend/relay/internal/verp"
	"github.com/ultrazend/relay/tools"
)

type Config struct {
	Hostname string
	Port     int
}

type MSA struct {
	cfg       *guerrilla.AppConfig
	servercfg guerrilla.ServerConfig
	daemon    guerrilla.Daemon
}

func New(cfg Config, db dao.DAO, gen *verp.Generator, collector *metrics.Collector, lc *tools.Logger) (*MSA, error) {

	m := &MSA{}

	m.cfg = &guerrilla.AppConfig{}
	m.servercfg = guerrilla.ServerConfig{
		Hostname:        cfg.Hostname,
		ListenInterface: fmt.Sprintf(":%d", cfg.Port),
		IsEnabled:       true,
	}
	m.cfg.Servers = append(m.cfg.Servers, m.servercfg)
	m.cfg.AllowedHosts = []string{"."} // wildcard, verp parsing decides what we accept
	m.cfg.LogLevel = "info"
	m.daemon = guerrilla.Daemon{Config: m.cfg}
	m.daemon.Backend = &backend{
		db:        db,
		gen:       gen,
		collector: collector,
		log:       lc.New("msa"),
	}
	return m, m.daemon.Start()
}

func (m *MSA) Stop() {
	m.daemon.Shutdown()
}

type backend struct {
	db        dao.DAO
	gen       *verp.Generator
	collector *metrics.Collector
	log       *logrus.Logger
}

// Process inspects the envelope recipients for verp bounce addresses and
// applies each notification. Anything not addressed to a verp address is
// refused, this endpoint exists only to receive bounces.
func (b *backend) Process(e *mail.Envelope) backends.Result {

	var handled int
	for _, r := range e.RcptTo {
		messageId, hash, ok := verp.Parse(r.String())
		if !ok {
			continue
		}
		b.handleBounce(messageId, hash, e.Data.String())
		handled++
	}

	if handled == 0 {
		return backends.NewResult("550 Requested action not taken: mailbox unavailable")
	}
	return backends.NewResult("250 OK: Message received")
}

func (b *backend) handleBounce(messageId, hash, notification string) {

	email, err := b.db.GetEmail(messageId)
	if err != nil {
		b.log.WithField("message_id", messageId).Warn("bounce for unknown message, ignoring")
		return
	}

	// the hash binds the address to the message and its original sender,
	// a notification that fails it is fabricated or corrupted
	if !b.gen.Verify(messageId, email.DeclaredFrom, hash) {
		b.log.WithField("message_id", messageId).Warn("bounce with bad verp hash, ignoring")
		return
	}

	// an rfc 3464 success dsn confirms final delivery rather than reporting
	// a failure
	if isDeliveryConfirmation(notification) {
		err = b.db.SetEmailStatus(messageId, []relay.Status{relay.StatusSent}, relay.StatusDelivered)
		if err != nil {
			b.log.WithField("message_id", messageId).WithError(err).
				Debug("delivery confirmation after terminal state, ignoring")
			return
		}
		b.log.WithField("message_id", messageId).Info("delivery confirmed")
		b.collector.Record(metrics.Event{
			Type:      relay.EventDelivered,
			TenantId:  email.TenantId,
			MessageId: messageId,
			Metadata:  `{"source": "msa"}`,
		})
		return
	}

	category := bounce.Classify(notification)

	var status relay.Status
	var event relay.EventType
	switch category {
	case bounce.Hard:
		status, event = relay.StatusBouncedHard, relay.EventBounce
	case bounce.Block:
		status, event = relay.StatusBlocked, relay.EventBlocked
	default:
		status, event = relay.StatusBouncedSoft, relay.EventBounce
	}

	from := []relay.Status{relay.StatusSent, relay.StatusDispatched, relay.StatusBouncedSoft}
	err = b.db.SetEmailStatus(messageId, from, status)
	if err != nil {
		b.log.WithField("message_id", messageId).WithError(err).
			Debug("bounce arrived after terminal state, ignoring")
		return
	}

	b.log.WithField("message_id", messageId).
		WithField("category", category).
		Info("bounce notification applied")

	b.collector.Record(metrics.Event{
		Type:      event,
		TenantId:  email.TenantId,
		MessageId: messageId,
		Error:     tools.FirstLine(notification),
		Metadata:  fmt.Sprintf(`{"category": %q, "source": "msa"}`, category),
	})
}

func isDeliveryConfirmation(notification string) bool {
	lower := strings.ToLower(notification)
	return strings.Contains(lower, "action: delivered") ||
		strings.Contains(lower, "status: 2.0.0")
}

func (b *backend) ValidateRcpt(e *mail.Envelope) backends.RcptError {
	return nil
}

func (b *backend) Initialize(backends.BackendConfig) error {
	return nil
}

func (b *backend) Reinitialize() error {
	return nil
}

func (b *backend) Shutdown() error {
	return nil
}

func (b *backend) Start() error {
	return nil
}
