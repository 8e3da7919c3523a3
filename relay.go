package relay

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/modfin/henry/slicez"
)

// Email is the inbound contract of the pipeline. It is what an authenticated
// tenant submits through the API, before validation has run.
type Email struct {
	From    Address   `json:"from"`
	To      []Address `json:"to"`
	Cc      []Address `json:"cc,omitempty"`
	Bcc     []Address `json:"bcc,omitempty"`
	ReplyTo *Address  `json:"reply_to,omitempty"`

	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`

	Attachments []Attachment      `json:"attachments,omitempty"`
	TemplateId  string            `json:"template_id,omitempty"`
	Variables   map[string]string `json:"variables,omitempty"`
	Priority    int               `json:"priority,omitempty"`
}

func NewEmail() *Email {
	return &Email{
		Variables: map[string]string{},
	}
}

// Recipients returns all envelope recipients, to, cc and bcc combined.
func (e *Email) Recipients() []string {
	all := slicez.Concat(e.To, e.Cc, e.Bcc)
	return slicez.Uniq(slicez.Map(all, func(a Address) string {
		return a.Email
	}))
}

func AddressOf(email string) Address {
	return Address{Email: email}
}

// NewAddress parses "email" or "name <email>" into an Address. Input that
// does not parse is kept verbatim as the email part and rejected later by
// validation.
func NewAddress(str string) Address {
	addr, err := mail.ParseAddress(str)
	if err != nil {
		return Address{Email: strings.TrimSpace(str)}
	}
	return Address{Name: addr.Name, Email: addr.Address}
}

type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

func (a Address) String() string {
	if len(a.Name) == 0 {
		return a.Email
	}
	return fmt.Sprintf("\"%s\" <%s>", a.Name, a.Email)
}

func (a Address) Valid() error {
	if len(a.Email) == 0 {
		return errors.New("email address is empty")
	}
	_, err := mail.ParseAddress(a.String())
	if err != nil {
		return fmt.Errorf("%s is not a valid email address, %w", a.String(), err)
	}
	return nil
}

// Attachment is part of the wire contract so a submission carrying one can
// be refused outright instead of silently stripped.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"` // base64 encoded
	Encoding    string `json:"encoding,omitempty"`
}

// Quotas is a snapshot of a tenant's send allowances, one pair per window.
type Quotas struct {
	HourlyLimit  int64 `json:"hourly_limit"`
	HourlyUsed   int64 `json:"hourly_used"`
	DailyLimit   int64 `json:"daily_limit"`
	DailyUsed    int64 `json:"daily_used"`
	MonthlyLimit int64 `json:"monthly_limit"`
	MonthlyUsed  int64 `json:"monthly_used"`
}

// Context carries who is sending. It is produced by the authentication layer
// and consumed, never mutated, by the pipeline.
type Context struct {
	UserId      int64    `json:"user_id"`
	TenantId    int64    `json:"tenant_id"`
	Permissions []string `json:"permissions,omitempty"`
	Quotas      Quotas   `json:"quotas"`
}

// Result is the outbound contract, returned synchronously from a send call.
// Bounce outcomes resolve later through status queries, not here.
type Result struct {
	Success    bool   `json:"success"`
	MessageId  string `json:"message_id,omitempty"`
	TrackingId string `json:"tracking_id,omitempty"`
	Error      string `json:"error,omitempty"`
	LatencyMS  int64  `json:"latency_ms,omitempty"`
	RetryAfter int64  `json:"retry_after,omitempty"`
}
