package msa

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ultrazend/relay"
	"github.com/ultrazend/relay/internal/dao"
	"github.com/ultrazend/relay/internal/metrics"
	"github.com/ultrazend/relay/internal/verp"
	"github.com/ultrazend/relay/tools"
)

func testBackend(t *testing.T) (*backend, dao.DAO, *verp.Generator) {
	t.Helper()
	lc := tools.LoggerCloner(logrus.New())

	db, err := dao.NewSQLite(filepath.Join(t.TempDir(), "relay.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gen := verp.New("mx.test")
	collector := metrics.NewCollector(metrics.CollectorConfig{}, db, metrics.New(metrics.Config{}, lc), lc)

	return &backend{
		db:        db,
		gen:       gen,
		collector: collector,
		log:       lc.New("msa"),
	}, db, gen
}

func sentEmail(t *testing.T, db dao.DAO, gen *verp.Generator, messageId string) *dao.Email {
	t.Helper()
	err := db.AddEmail(dao.Email{
		MessageId:    messageId,
		TenantId:     1,
		DeclaredFrom: "a@example.com",
		ResolvedFrom: "a@example.com",
		Recipients:   []string{"b@example.com"},
		Subject:      "hello",
		Text:         "world",
		ReturnPath:   gen.ReturnPath(messageId, "a@example.com"),
	})
	require.NoError(t, err)
	require.NoError(t, db.SetEmailStatus(messageId, []relay.Status{relay.StatusQueued}, relay.StatusValidating))
	require.NoError(t, db.SetEmailStatus(messageId, []relay.Status{relay.StatusValidating}, relay.StatusDispatched))
	require.NoError(t, db.MarkSent(messageId, 50*time.Millisecond))

	email, err := db.GetEmail(messageId)
	require.NoError(t, err)
	return email
}

func parseReturnPath(t *testing.T, address string) (messageId, hash string) {
	t.Helper()
	messageId, hash, ok := verp.Parse(address)
	require.True(t, ok, "return path %s must parse", address)
	return messageId, hash
}

func TestHardBounceMovesSentToBouncedHard(t *testing.T) {
	b, db, gen := testBackend(t)
	email := sentEmail(t, db, gen, "m1")

	messageId, hash := parseReturnPath(t, email.ReturnPath)
	b.handleBounce(messageId, hash, "550 5.1.1 user unknown")

	email, err := db.GetEmail("m1")
	require.NoError(t, err)
	assert.Equal(t, relay.StatusBouncedHard, email.Status)
}

func TestBlockNotificationMovesSentToBlocked(t *testing.T) {
	b, db, gen := testBackend(t)
	email := sentEmail(t, db, gen, "m1")

	messageId, hash := parseReturnPath(t, email.ReturnPath)
	b.handleBounce(messageId, hash, "554 your message was blocked by policy")

	email, err := db.GetEmail("m1")
	require.NoError(t, err)
	assert.Equal(t, relay.StatusBlocked, email.Status)
}

func TestUnrecognizedNotificationIsSoft(t *testing.T) {
	b, db, gen := testBackend(t)
	email := sentEmail(t, db, gen, "m1")

	messageId, hash := parseReturnPath(t, email.ReturnPath)
	b.handleBounce(messageId, hash, "451 greylisted, come back later")

	email, err := db.GetEmail("m1")
	require.NoError(t, err)
	assert.Equal(t, relay.StatusBouncedSoft, email.Status)
}

func TestDeliveryConfirmationMovesSentToDelivered(t *testing.T) {
	b, db, gen := testBackend(t)
	email := sentEmail(t, db, gen, "m1")

	messageId, hash := parseReturnPath(t, email.ReturnPath)
	b.handleBounce(messageId, hash, "Reporting-MTA: dns; mx.other.test\nAction: delivered\nStatus: 2.0.0")

	email, err := db.GetEmail("m1")
	require.NoError(t, err)
	assert.Equal(t, relay.StatusDelivered, email.Status)
}

func TestDeliveryConfirmationAfterTerminalIsIgnored(t *testing.T) {
	b, db, gen := testBackend(t)
	email := sentEmail(t, db, gen, "m1")
	require.NoError(t, db.SetEmailStatus("m1", []relay.Status{relay.StatusSent}, relay.StatusBouncedHard))

	messageId, hash := parseReturnPath(t, email.ReturnPath)
	b.handleBounce(messageId, hash, "Action: delivered\nStatus: 2.0.0")

	email, err := db.GetEmail("m1")
	require.NoError(t, err)
	assert.Equal(t, relay.StatusBouncedHard, email.Status)
}

func TestBounceWithBadHashIsIgnored(t *testing.T) {
	b, db, gen := testBackend(t)
	sentEmail(t, db, gen, "m1")

	b.handleBounce("m1", strings.Repeat("f", 8), "550 user unknown")

	email, err := db.GetEmail("m1")
	require.NoError(t, err)
	assert.Equal(t, relay.StatusSent, email.Status, "a fabricated notification must not move the message")
}

func TestBounceForUnknownMessageIsIgnored(t *testing.T) {
	b, _, _ := testBackend(t)
	b.handleBounce("no-such-message", strings.Repeat("0", 8), "550 user unknown")
}

func TestLateBounceAfterTerminalIsIgnored(t *testing.T) {
	b, db, gen := testBackend(t)
	email := sentEmail(t, db, gen, "m1")
	require.NoError(t, db.SetEmailStatus("m1", []relay.Status{relay.StatusSent}, relay.StatusBouncedHard))

	messageId, hash := parseReturnPath(t, email.ReturnPath)
	b.handleBounce(messageId, hash, "451 greylisted")

	email, err := db.GetEmail("m1")
	require.NoError(t, err)
	assert.Equal(t, relay.StatusBouncedHard, email.Status, "terminal is terminal")
}
