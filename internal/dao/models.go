package dao

import (
	"time"

	"github.com/ultrazend/relay"
)

// Email is a spooled message row. Recipients are the envelope recipients,
// to, cc and bcc combined, while HeaderTo/HeaderCc hold what the recipient
// gets to see, bcc never appears in a header. Address lists are stored space
// separated and split on read.
type Email struct {
	MessageId    string       `db:"message_id"`
	TenantId     int64        `db:"tenant_id"`
	ApiKey       string       `db:"api_key"`
	DeclaredFrom string       `db:"declared_from"`
	ResolvedFrom string       `db:"resolved_from"`
	Recipients   []string     `db:"-"`
	HeaderTo     []string     `db:"-"`
	HeaderCc     []string     `db:"-"`
	Subject      string       `db:"subject"`
	HTML         string       `db:"html"`
	Text         string       `db:"text"`
	Status       relay.Status `db:"status"`
	RetryCount   int          `db:"retry_count"`
	ReturnPath   string       `db:"return_path"`
	TrackingId   string       `db:"tracking_id"`
	LastError    string       `db:"last_error"`

	NextAttemptAt *time.Time `db:"next_attempt_at"`
	SentAt        *time.Time `db:"sent_at"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

type ApiKey struct {
	Key      string `db:"api_key"`
	TenantId int64  `db:"tenant_id"`
	UserId   int64  `db:"user_id"`
	Domain   string `db:"domain"`
}

// DomainRecord is read only to the pipeline. The domain verification
// workflow owns the writes.
type DomainRecord struct {
	TenantId   int64      `db:"tenant_id"`
	Domain     string     `db:"domain"`
	Verified   bool       `db:"verified"`
	VerifiedAt *time.Time `db:"verified_at"`
}

type QuotaWindow string

const WindowHourly QuotaWindow = "hourly"
const WindowDaily QuotaWindow = "daily"
const WindowMonthly QuotaWindow = "monthly"

// checked in order, the first exhausted window is the one reported
var quotaWindows = []QuotaWindow{WindowHourly, WindowDaily, WindowMonthly}

// QuotaCheck is the outcome of an atomic check-and-increment over all three
// windows. When Allowed is false, Window names the first exhausted window and
// no window was charged.
type QuotaCheck struct {
	Allowed bool
	Window  QuotaWindow
	Used    int64
	Limit   int64
}

type QuotaCounter struct {
	TenantId    int64       `db:"tenant_id"`
	Window      QuotaWindow `db:"window"`
	Used        int64       `db:"used"`
	Limit       int64       `db:"quota_limit"`
	WindowStart time.Time   `db:"window_start"`
	WindowEnd   time.Time   `db:"window_end"`
}

// EmailEvent is append only and immutable once written. It is the sole
// source for metric aggregation and bounce reporting.
type EmailEvent struct {
	Id        int64           `db:"id"`
	Type      relay.EventType `db:"type"`
	TenantId  int64           `db:"tenant_id"`
	MessageId string          `db:"message_id"`
	LatencyMS int64           `db:"latency_ms"`
	Error     string          `db:"error"`
	Metadata  string          `db:"metadata"`
	CreatedAt time.Time       `db:"created_at"`
}

// MetricDelta is one event's contribution to a tenant's daily rollup. The
// merge is associative, so deltas may be applied in any order.
type MetricDelta struct {
	Sent      int64
	Failed    int64
	QuotaUsed int64
	LatencyMS int64 // 0 means no latency observation
}

type DailyMetric struct {
	TenantId     int64  `db:"tenant_id"`
	Day          string `db:"day"` // 2006-01-02
	Sent         int64  `db:"sent"`
	Failed       int64  `db:"failed"`
	QuotaUsed    int64  `db:"quota_used"`
	LatencySum   int64  `db:"latency_sum"`
	LatencyCount int64  `db:"latency_count"`
	LatencyMax   int64  `db:"latency_max"`
}

// AvgLatencyMS is the running mean over all merged latency observations.
func (m DailyMetric) AvgLatencyMS() float64 {
	if m.LatencyCount == 0 {
		return 0
	}
	return float64(m.LatencySum) / float64(m.LatencyCount)
}

type Alert struct {
	Id        int64     `db:"id"`
	Type      string    `db:"type"`
	Severity  string    `db:"severity"`
	TenantId  int64     `db:"tenant_id"`
	Message   string    `db:"message"`
	Threshold float64   `db:"threshold"`
	Current   float64   `db:"current_value"`
	CreatedAt time.Time `db:"created_at"`
}

type AuditEntry struct {
	Id           int64     `db:"id"`
	TenantId     int64     `db:"tenant_id"`
	MessageId    string    `db:"message_id"`
	OriginalFrom string    `db:"original_from"`
	FinalFrom    string    `db:"final_from"`
	WasModified  bool      `db:"was_modified"`
	Reason       string    `db:"reason"`
	Context      string    `db:"context"`
	CreatedAt    time.Time `db:"created_at"`
}
