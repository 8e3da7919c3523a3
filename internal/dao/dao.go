package dao

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/ultrazend/relay"
)

var ErrNotFound = errors.New("not found")

// ErrStaleTransition is returned when a conditional status update affected no
// row, meaning the message has already moved on through another path.
var ErrStaleTransition = errors.New("message status has already moved on")

type DAO interface {
	GetApiKey(key string) (*ApiKey, error)

	GetVerifiedDomain(tenantId int64, domain string) (*DomainRecord, error)
	UpsertDomain(record DomainRecord) error

	EnsureQuotas(tenantId int64, hourly, daily, monthly int64) error
	GetQuotas(tenantId int64, now time.Time) (relay.Quotas, error)
	TryIncrementQuota(tenantId int64, now time.Time) (*QuotaCheck, error)

	AddEmail(email Email) error
	GetEmail(messageId string) (*Email, error)
	SetEmailStatus(messageId string, from []relay.Status, to relay.Status) error
	SetLastError(messageId string, lastError string) error
	MarkSent(messageId string, latency time.Duration) error
	ScheduleRetry(messageId string, retryCount int, at time.Time) error
	DueRetries(now time.Time, count int) ([]Email, error)
	ClaimRetry(messageId string) error

	AddEvent(ev EmailEvent) error
	EmailEvents(messageId string) ([]EmailEvent, error)
	MergeDailyMetric(tenantId int64, day time.Time, delta MetricDelta) error
	GetDailyMetric(tenantId int64, day time.Time) (*DailyMetric, error)
	AddAlert(a Alert) error
	AddAuditEntry(e AuditEntry) error
	AuditEntries(messageId string) ([]AuditEntry, error)

	// test and provisioning surface, owned by the external collaborator
	AddApiKey(key ApiKey) error

	Close() error
}

func NewSQLite(path string) (DAO, error) {
	lite := &sqlite{path: path}
	err := lite.ensureSchema()
	return lite, err
}

type sqlite struct {
	db   *sqlx.DB
	path string
}

func (s *sqlite) tuneDatabase() error {
	q := `pragma journal_mode = WAL;
			pragma synchronous = normal;
			pragma temp_store = memory;
			pragma busy_timeout = 5000;`

	if s.db == nil {
		return errors.New("db must be instantiated")
	}
	_, err := s.db.Exec(q)
	return err
}

func (s *sqlite) getDB() (*sqlx.DB, error) {
	var err error
	for s.db == nil || s.db.Ping() != nil {
		if s.db != nil {
			_ = s.db.Close()
			s.db = nil
		}
		s.db, err = sqlx.Connect("sqlite3", s.path)
		if err != nil {
			return nil, fmt.Errorf("error while connecting, %w", err)
		}
		err = s.tuneDatabase()
		if err != nil {
			return nil, fmt.Errorf("error while tuning db instance, %w", err)
		}
	}
	return s.db, nil
}

func (s *sqlite) getTX() (*sqlx.Tx, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	return db.Beginx()
}

func (s *sqlite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlite) GetApiKey(key string) (*ApiKey, error) {
	q := `SELECT * FROM api_key WHERE api_key = ?`
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var apiKey ApiKey
	err = db.Get(&apiKey, q, key)
	if err != nil {
		return nil, fmt.Errorf("could not get api key, %w", err)
	}
	return &apiKey, nil
}

func (s *sqlite) AddApiKey(key ApiKey) error {
	q := `INSERT INTO api_key (api_key, tenant_id, user_id, domain) VALUES (?, ?, ?, ?)`
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.Exec(q, key.Key, key.TenantId, key.UserId, key.Domain)
	return err
}

func (s *sqlite) GetVerifiedDomain(tenantId int64, domain string) (*DomainRecord, error) {
	q := `SELECT * FROM user_domains WHERE tenant_id = ? AND domain = ?`
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var rec DomainRecord
	err = db.Get(&rec, q, tenantId, strings.ToLower(domain))
	if err != nil {
		return nil, fmt.Errorf("no domain record for tenant %d and %s, %w", tenantId, domain, ErrNotFound)
	}
	return &rec, nil
}

func (s *sqlite) UpsertDomain(record DomainRecord) error {
	q := `
	INSERT INTO user_domains (tenant_id, domain, verified, verified_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (tenant_id, domain) DO UPDATE SET verified = excluded.verified, verified_at = excluded.verified_at`
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.Exec(q, record.TenantId, strings.ToLower(record.Domain), record.Verified, record.VerifiedAt)
	return err
}

func windowBounds(window QuotaWindow, now time.Time) (time.Time, time.Time) {
	now = now.In(time.UTC)
	switch window {
	case WindowHourly:
		start := now.Truncate(time.Hour)
		return start, start.Add(time.Hour)
	case WindowDaily:
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1)
	default:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	}
}

func (s *sqlite) EnsureQuotas(tenantId int64, hourly, daily, monthly int64) error {
	limits := map[QuotaWindow]int64{
		WindowHourly:  hourly,
		WindowDaily:   daily,
		WindowMonthly: monthly,
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}
	for _, window := range quotaWindows {
		start, end := windowBounds(window, time.Now())
		q := `
		INSERT INTO quota_counters (tenant_id, "window", used, quota_limit, window_start, window_end)
		VALUES (?, ?, 0, ?, ?, ?)
		ON CONFLICT (tenant_id, "window") DO UPDATE SET quota_limit = excluded.quota_limit`
		_, err = db.Exec(q, tenantId, window, limits[window], start, end)
		if err != nil {
			return fmt.Errorf("could not ensure %s quota for tenant %d, %w", window, tenantId, err)
		}
	}
	return nil
}

func (s *sqlite) GetQuotas(tenantId int64, now time.Time) (relay.Quotas, error) {
	var quotas relay.Quotas
	db, err := s.getDB()
	if err != nil {
		return quotas, err
	}
	var counters []QuotaCounter
	err = db.Select(&counters, `SELECT * FROM quota_counters WHERE tenant_id = ?`, tenantId)
	if err != nil {
		return quotas, fmt.Errorf("could not read quota counters, %w", err)
	}
	for _, c := range counters {
		used := c.Used
		if !now.Before(c.WindowEnd) { // expired window counts as empty
			used = 0
		}
		switch c.Window {
		case WindowHourly:
			quotas.HourlyLimit, quotas.HourlyUsed = c.Limit, used
		case WindowDaily:
			quotas.DailyLimit, quotas.DailyUsed = c.Limit, used
		case WindowMonthly:
			quotas.MonthlyLimit, quotas.MonthlyUsed = c.Limit, used
		}
	}
	return quotas, nil
}

// TryIncrementQuota charges one send against all three windows in a single
// transaction. The increment is a conditional update, never a read followed
// by a write, so two concurrent sends can not both observe a stale count.
// When any window is exhausted the transaction rolls back and no window is
// charged.
func (s *sqlite) TryIncrementQuota(tenantId int64, now time.Time) (check *QuotaCheck, err error) {
	var tx *sqlx.Tx
	tx, err = s.getTX()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err == nil && check != nil && check.Allowed {
			err = tx.Commit()
			return
		}
		_ = tx.Rollback()
	}()

	for _, window := range quotaWindows {
		start, end := windowBounds(window, now)

		// lazy reset of an expired window before the conditional increment
		_, err = tx.Exec(`
			UPDATE quota_counters
			SET used = 0, window_start = ?, window_end = ?
			WHERE tenant_id = ? AND "window" = ? AND window_end <= ?`,
			start, end, tenantId, window, now.In(time.UTC))
		if err != nil {
			return nil, fmt.Errorf("could not reset %s window, %w", window, err)
		}

		res, err := tx.Exec(`
			UPDATE quota_counters
			SET used = used + 1
			WHERE tenant_id = ? AND "window" = ? AND used < quota_limit`,
			tenantId, window)
		if err != nil {
			return nil, fmt.Errorf("could not increment %s window, %w", window, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 1 {
			continue
		}

		// no row means no counter is provisioned for the window, which is
		// treated as unlimited
		var counter QuotaCounter
		err = tx.Get(&counter, `SELECT * FROM quota_counters WHERE tenant_id = ? AND "window" = ?`, tenantId, window)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("could not read %s counter, %w", window, err)
		}
		return &QuotaCheck{Allowed: false, Window: window, Used: counter.Used, Limit: counter.Limit}, nil
	}

	check = &QuotaCheck{Allowed: true}
	return check, nil
}

func (s *sqlite) AddEmail(email Email) (err error) {
	q := `
	INSERT INTO emails (message_id, tenant_id, api_key, declared_from, resolved_from, recipients,
	                    header_to, header_cc,
	                    subject, html, text, status, retry_count, return_path, tracking_id, last_error,
	                    created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	db, err := s.getDB()
	if err != nil {
		return err
	}
	now := time.Now().In(time.UTC)
	_, err = db.Exec(q,
		email.MessageId, email.TenantId, email.ApiKey, email.DeclaredFrom, email.ResolvedFrom,
		strings.Join(email.Recipients, " "),
		// header values may carry display names with spaces
		strings.Join(email.HeaderTo, "\n"), strings.Join(email.HeaderCc, "\n"),
		email.Subject, email.HTML, email.Text,
		relay.StatusQueued, 0, email.ReturnPath, email.TrackingId, "",
		now, now)
	if err != nil {
		return fmt.Errorf("could not insert email %s, %w", email.MessageId, err)
	}
	return nil
}

func splitList(joined, sep string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, sep)
}

func (s *sqlite) GetEmail(messageId string) (*Email, error) {
	q := `SELECT * FROM emails WHERE message_id = ?`
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var intr struct {
		Email
		Recipients string `db:"recipients"`
		HeaderTo   string `db:"header_to"`
		HeaderCc   string `db:"header_cc"`
	}
	err = db.Get(&intr, q, messageId)
	if err != nil {
		return nil, fmt.Errorf("could not find email %s, %w", messageId, ErrNotFound)
	}
	email := intr.Email
	email.Recipients = splitList(intr.Recipients, " ")
	email.HeaderTo = splitList(intr.HeaderTo, "\n")
	email.HeaderCc = splitList(intr.HeaderCc, "\n")
	return &email, nil
}

// SetEmailStatus moves a message forward. The update is conditional on the
// current status being one of from, enforcing that statuses never move
// backwards and that terminal states stay terminal.
func (s *sqlite) SetEmailStatus(messageId string, from []relay.Status, to relay.Status) error {
	q := `
	UPDATE emails
	SET status = ?, updated_at = ?
	WHERE message_id = ?
	  AND status IN (?)`

	q, args, err := sqlx.In(q, to, time.Now().In(time.UTC), messageId, from)
	if err != nil {
		return fmt.Errorf("could not expand status list, %w", err)
	}

	db, err := s.getDB()
	if err != nil {
		return err
	}
	res, err := db.Exec(q, args...)
	if err != nil {
		return fmt.Errorf("could not update status of %s, %w", messageId, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("could not move %s to %s, %w", messageId, to, ErrStaleTransition)
	}
	return nil
}

func (s *sqlite) SetLastError(messageId string, lastError string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.Exec(`UPDATE emails SET last_error = ?, updated_at = ? WHERE message_id = ?`,
		lastError, time.Now().In(time.UTC), messageId)
	return err
}

func (s *sqlite) MarkSent(messageId string, latency time.Duration) error {
	q := `
	UPDATE emails
	SET status = ?, sent_at = ?, next_attempt_at = NULL, updated_at = ?
	WHERE message_id = ?
	  AND status = ?`
	db, err := s.getDB()
	if err != nil {
		return err
	}
	now := time.Now().In(time.UTC)
	res, err := db.Exec(q, relay.StatusSent, now, now, messageId, relay.StatusDispatched)
	if err != nil {
		return fmt.Errorf("could not mark %s sent, %w", messageId, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("could not mark %s sent, %w", messageId, ErrStaleTransition)
	}
	return nil
}

func (s *sqlite) ScheduleRetry(messageId string, retryCount int, at time.Time) error {
	q := `
	UPDATE emails
	SET retry_count = ?, next_attempt_at = ?, updated_at = ?
	WHERE message_id = ?
	  AND status = ?`
	db, err := s.getDB()
	if err != nil {
		return err
	}
	res, err := db.Exec(q, retryCount, at.In(time.UTC), time.Now().In(time.UTC), messageId, relay.StatusDispatched)
	if err != nil {
		return fmt.Errorf("could not schedule retry of %s, %w", messageId, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("could not schedule retry of %s, %w", messageId, ErrStaleTransition)
	}
	return nil
}

func (s *sqlite) DueRetries(now time.Time, count int) (emails []Email, err error) {
	q := `
	SELECT *
	FROM emails
	WHERE next_attempt_at IS NOT NULL
	  AND next_attempt_at <= ?
	  AND status = ?
	ORDER BY next_attempt_at
	LIMIT ?`
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var intr []struct {
		Email
		Recipients string `db:"recipients"`
		HeaderTo   string `db:"header_to"`
		HeaderCc   string `db:"header_cc"`
	}
	err = db.Select(&intr, q, now.In(time.UTC), relay.StatusDispatched, count)
	if err != nil {
		return nil, fmt.Errorf("could not select due retries, %w", err)
	}
	for _, row := range intr {
		email := row.Email
		email.Recipients = splitList(row.Recipients, " ")
		email.HeaderTo = splitList(row.HeaderTo, "\n")
		email.HeaderCc = splitList(row.HeaderCc, "\n")
		emails = append(emails, email)
	}
	return emails, nil
}

// ClaimRetry clears the schedule of a due retry so that only one poller pass
// ever hands the message back to the dispatcher.
func (s *sqlite) ClaimRetry(messageId string) error {
	q := `
	UPDATE emails
	SET next_attempt_at = NULL, updated_at = ?
	WHERE message_id = ?
	  AND next_attempt_at IS NOT NULL
	  AND status = ?`
	db, err := s.getDB()
	if err != nil {
		return err
	}
	res, err := db.Exec(q, time.Now().In(time.UTC), messageId, relay.StatusDispatched)
	if err != nil {
		return fmt.Errorf("could not claim retry of %s, %w", messageId, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("could not claim retry of %s, %w", messageId, ErrStaleTransition)
	}
	return nil
}

func (s *sqlite) AddEvent(ev EmailEvent) error {
	q := `
	INSERT INTO email_events (type, tenant_id, message_id, latency_ms, error, metadata, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	db, err := s.getDB()
	if err != nil {
		return err
	}
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().In(time.UTC)
	}
	_, err = db.Exec(q, ev.Type, ev.TenantId, ev.MessageId, ev.LatencyMS, ev.Error, ev.Metadata, createdAt)
	if err != nil {
		return fmt.Errorf("could not append email event, %w", err)
	}
	return nil
}

func (s *sqlite) EmailEvents(messageId string) ([]EmailEvent, error) {
	q := `SELECT * FROM email_events WHERE message_id = ? ORDER BY id`
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var events []EmailEvent
	err = db.Select(&events, q, messageId)
	if err != nil {
		return nil, fmt.Errorf("could not read events of %s, %w", messageId, err)
	}
	return events, nil
}

func day(t time.Time) string {
	return t.In(time.UTC).Format("2006-01-02")
}

// MergeDailyMetric folds one event into the tenant's daily rollup. Counters
// sum, the latency mean is derived from sum and count, max is a running max.
// The merge is associative so events may arrive in any order.
func (s *sqlite) MergeDailyMetric(tenantId int64, at time.Time, delta MetricDelta) error {
	latCount := int64(0)
	if delta.LatencyMS > 0 {
		latCount = 1
	}
	q := `
	INSERT INTO email_metrics (tenant_id, day, sent, failed, quota_used, latency_sum, latency_count, latency_max)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (tenant_id, day) DO UPDATE SET
	    sent          = sent + excluded.sent,
	    failed        = failed + excluded.failed,
	    quota_used    = quota_used + excluded.quota_used,
	    latency_sum   = latency_sum + excluded.latency_sum,
	    latency_count = latency_count + excluded.latency_count,
	    latency_max   = MAX(latency_max, excluded.latency_max)`
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.Exec(q, tenantId, day(at), delta.Sent, delta.Failed, delta.QuotaUsed,
		delta.LatencyMS, latCount, delta.LatencyMS)
	if err != nil {
		return fmt.Errorf("could not merge daily metric, %w", err)
	}
	return nil
}

func (s *sqlite) GetDailyMetric(tenantId int64, at time.Time) (*DailyMetric, error) {
	q := `SELECT * FROM email_metrics WHERE tenant_id = ? AND day = ?`
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var metric DailyMetric
	err = db.Get(&metric, q, tenantId, day(at))
	if err != nil {
		return nil, fmt.Errorf("no daily metric for tenant %d on %s, %w", tenantId, day(at), ErrNotFound)
	}
	return &metric, nil
}

func (s *sqlite) AddAlert(a Alert) error {
	q := `
	INSERT INTO system_alerts (type, severity, tenant_id, message, threshold, current_value, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	db, err := s.getDB()
	if err != nil {
		return err
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().In(time.UTC)
	}
	_, err = db.Exec(q, a.Type, a.Severity, a.TenantId, a.Message, a.Threshold, a.Current, createdAt)
	return err
}

func (s *sqlite) AddAuditEntry(e AuditEntry) error {
	q := `
	INSERT INTO audit_log (tenant_id, message_id, original_from, final_from, was_modified, reason, context, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	db, err := s.getDB()
	if err != nil {
		return err
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().In(time.UTC)
	}
	_, err = db.Exec(q, e.TenantId, e.MessageId, e.OriginalFrom, e.FinalFrom, e.WasModified, e.Reason, e.Context, createdAt)
	return err
}

func (s *sqlite) AuditEntries(messageId string) ([]AuditEntry, error) {
	q := `SELECT * FROM audit_log WHERE message_id = ? ORDER BY id`
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var entries []AuditEntry
	err = db.Select(&entries, q, messageId)
	if err != nil {
		return nil, fmt.Errorf("could not read audit entries of %s, %w", messageId, err)
	}
	return entries, nil
}

func (s *sqlite) ensureSchema() error {
	db, err := s.getDB()
	if err != nil {
		return fmt.Errorf("could not get db, %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS api_key (
	    api_key   TEXT PRIMARY KEY,
	    tenant_id INTEGER NOT NULL,
	    user_id   INTEGER NOT NULL DEFAULT 0,
	    domain    TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS user_domains (
	    tenant_id   INTEGER NOT NULL,
	    domain      TEXT NOT NULL,
	    verified    BOOLEAN NOT NULL DEFAULT FALSE,
	    verified_at DATETIME,
	    PRIMARY KEY (tenant_id, domain)
	);

	CREATE TABLE IF NOT EXISTS quota_counters (
	    tenant_id    INTEGER NOT NULL,
	    "window"     TEXT NOT NULL, -- hourly, daily, monthly
	    used         INTEGER NOT NULL DEFAULT 0,
	    quota_limit  INTEGER NOT NULL,
	    window_start DATETIME NOT NULL,
	    window_end   DATETIME NOT NULL,
	    PRIMARY KEY (tenant_id, "window")
	);

	CREATE TABLE IF NOT EXISTS emails (
	    message_id    TEXT PRIMARY KEY,
	    tenant_id     INTEGER NOT NULL,
	    api_key       TEXT NOT NULL DEFAULT '',

	    declared_from TEXT NOT NULL,
	    resolved_from TEXT NOT NULL,
	    recipients    TEXT NOT NULL,
	    header_to     TEXT NOT NULL DEFAULT '',
	    header_cc     TEXT NOT NULL DEFAULT '',
	    subject       TEXT NOT NULL DEFAULT '',
	    html          TEXT NOT NULL DEFAULT '',
	    text          TEXT NOT NULL DEFAULT '',

	    status      TEXT NOT NULL, -- queued, validating, dispatched, sent, failed, delivered, bounced-soft, bounced-hard, blocked
	    retry_count INTEGER NOT NULL DEFAULT 0,
	    return_path TEXT NOT NULL DEFAULT '',
	    tracking_id TEXT NOT NULL DEFAULT '',
	    last_error  TEXT NOT NULL DEFAULT '',

	    next_attempt_at DATETIME,
	    sent_at         DATETIME,
	    created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now')),
	    updated_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_emails_next_attempt ON emails(next_attempt_at) WHERE next_attempt_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS email_events (
	    id         INTEGER PRIMARY KEY AUTOINCREMENT,
	    type       TEXT NOT NULL,
	    tenant_id  INTEGER NOT NULL,
	    message_id TEXT NOT NULL,
	    latency_ms INTEGER NOT NULL DEFAULT 0,
	    error      TEXT NOT NULL DEFAULT '',
	    metadata   TEXT NOT NULL DEFAULT '',
	    created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_email_events_message ON email_events(message_id);

	CREATE TABLE IF NOT EXISTS email_metrics (
	    tenant_id     INTEGER NOT NULL,
	    day           TEXT NOT NULL,
	    sent          INTEGER NOT NULL DEFAULT 0,
	    failed        INTEGER NOT NULL DEFAULT 0,
	    quota_used    INTEGER NOT NULL DEFAULT 0,
	    latency_sum   INTEGER NOT NULL DEFAULT 0,
	    latency_count INTEGER NOT NULL DEFAULT 0,
	    latency_max   INTEGER NOT NULL DEFAULT 0,
	    PRIMARY KEY (tenant_id, day)
	);

	CREATE TABLE IF NOT EXISTS system_alerts (
	    id            INTEGER PRIMARY KEY AUTOINCREMENT,
	    type          TEXT NOT NULL,
	    severity      TEXT NOT NULL,
	    tenant_id     INTEGER NOT NULL,
	    message       TEXT NOT NULL,
	    threshold     REAL NOT NULL DEFAULT 0,
	    current_value REAL NOT NULL DEFAULT 0,
	    created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
	);

	CREATE TABLE IF NOT EXISTS audit_log (
	    id            INTEGER PRIMARY KEY AUTOINCREMENT,
	    tenant_id     INTEGER NOT NULL,
	    message_id    TEXT NOT NULL,
	    original_from TEXT NOT NULL,
	    final_from    TEXT NOT NULL,
	    was_modified  BOOLEAN NOT NULL DEFAULT FALSE,
	    reason        TEXT NOT NULL DEFAULT '',
	    context       TEXT NOT NULL DEFAULT '',
	    created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
	);
	`)
	if err != nil {
		return fmt.Errorf("could not upsert schema, %w", err)
	}
	return nil
}
