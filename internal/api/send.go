package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/modfin/henry/slicez"
	"github.com/rs/xid"
	"github.com/ultrazend/relay"
	"github.com/ultrazend/relay/internal/audit"
	"github.com/ultrazend/relay/internal/dao"
	"github.com/ultrazend/relay/internal/metrics"
	"github.com/ultrazend/relay/internal/quota"
	"github.com/ultrazend/relay/internal/sender"
)

func (s *Server) apiKey(c echo.Context) (*dao.ApiKey, error) {
	key := c.QueryParam("key")
	if key == "" {
		key = strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
	}
	if key == "" {
		return nil, errors.New("an api key must be provided")
	}
	return s.db.GetApiKey(key)
}

// validateShape checks the structural requirements of a submission, all
// problems are reported at once rather than one per round trip.
func validateShape(email *relay.Email) error {
	var errs []error

	if err := email.From.Valid(); err != nil {
		errs = append(errs, fmt.Errorf("from: %w", err))
	}
	if len(email.Recipients()) == 0 {
		errs = append(errs, errors.New("at least one recipient must be provided"))
	}
	for _, a := range slicez.Concat(email.To, email.Cc, email.Bcc) {
		if err := a.Valid(); err != nil {
			errs = append(errs, fmt.Errorf("recipient: %w", err))
		}
	}
	if len(email.Subject) == 0 {
		errs = append(errs, errors.New("a subject must be provided"))
	}
	if len(email.Text) == 0 && len(email.HTML) == 0 {
		errs = append(errs, errors.New("content of the email must be provided"))
	}
	// attachments are not stored in the spool, refusing them beats dropping
	// them silently
	if len(email.Attachments) > 0 {
		errs = append(errs, errors.New("attachments are not supported"))
	}
	return errors.Join(errs...)
}

// Send accepts one message. The response is synchronous up to queued, actual
// delivery resolves later through GET /emails/:messageId.
func (s *Server) Send(c echo.Context) error {
	key, err := s.apiKey(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, relay.Result{Error: "invalid api key"})
	}

	email := relay.NewEmail()
	err = c.Bind(email)
	if err != nil {
		return c.JSON(http.StatusBadRequest, relay.Result{Error: fmt.Sprintf("could not parse body, %v", err)})
	}

	err = validateShape(email)
	if err != nil {
		return c.JSON(http.StatusBadRequest, relay.Result{Error: err.Error()})
	}

	resolved, err := s.validator.Validate(key.TenantId, email.From.Email)
	if err != nil {
		var invalid *sender.ValidationError
		if errors.As(err, &invalid) {
			return c.JSON(http.StatusBadRequest, relay.Result{Error: invalid.Error()})
		}
		s.log.WithError(err).Error("sender validation failed")
		return c.JSON(http.StatusInternalServerError, relay.Result{Error: "internal error"})
	}

	result, code := s.enqueue(key, email, resolved)
	return c.JSON(code, result)
}

// SendBatch accepts a json array of messages and returns one result per
// position. A rejected item never fails its siblings.
func (s *Server) SendBatch(c echo.Context) error {
	key, err := s.apiKey(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, relay.Result{Error: "invalid api key"})
	}

	var emails []relay.Email
	err = c.Bind(&emails)
	if err != nil {
		return c.JSON(http.StatusBadRequest, relay.Result{Error: fmt.Sprintf("could not parse body, %v", err)})
	}
	if len(emails) == 0 {
		return c.JSON(http.StatusBadRequest, relay.Result{Error: "batch is empty"})
	}

	froms := slicez.Map(emails, func(e relay.Email) string {
		return e.From.Email
	})
	items := s.validator.ValidateBatch(key.TenantId, froms)

	results := make([]relay.Result, 0, len(emails))
	for i := range emails {
		email := &emails[i]

		err = validateShape(email)
		if err == nil {
			err = items[i].Err
		}
		if err != nil {
			results = append(results, relay.Result{Error: err.Error()})
			continue
		}

		result, _ := s.enqueue(key, email, items[i].Result)
		results = append(results, result)
	}
	return c.JSON(http.StatusOK, results)
}

// enqueue charges quota, spools the message and hands it to the dispatcher.
// Quota is charged exactly here, retries of the message are redeliveries and
// never pass this way again.
func (s *Server) enqueue(key *dao.ApiKey, email *relay.Email, resolved sender.Result) (relay.Result, int) {
	now := time.Now()

	err := s.guard.Charge(key.TenantId, now)
	var exceeded *quota.ExceededError
	if errors.As(err, &exceeded) {
		return relay.Result{
			Error:      exceeded.Error(),
			RetryAfter: int64(exceeded.RetryAfter(now).Seconds()),
		}, http.StatusTooManyRequests
	}
	if err != nil {
		s.log.WithError(err).Error("could not charge quota")
		return relay.Result{Error: "internal error"}, http.StatusInternalServerError
	}

	messageId := xid.New().String()
	trackingId := uuid.New().String()

	row := dao.Email{
		MessageId:    messageId,
		TenantId:     key.TenantId,
		ApiKey:       key.Key,
		DeclaredFrom: email.From.Email,
		ResolvedFrom: resolved.From,
		Recipients:   email.Recipients(),
		HeaderTo:     slicez.Map(email.To, relay.Address.String),
		HeaderCc:     slicez.Map(email.Cc, relay.Address.String),
		Subject:      email.Subject,
		HTML:         email.HTML,
		Text:         email.Text,
		Status:       relay.StatusQueued,
		ReturnPath:   s.verp.ReturnPath(messageId, email.From.Email),
		TrackingId:   trackingId,
	}
	err = s.db.AddEmail(row)
	if err != nil {
		s.log.WithError(err).WithField("message_id", messageId).Error("could not spool message")
		return relay.Result{Error: "internal error"}, http.StatusInternalServerError
	}

	entry := audit.Entry{
		TenantId:     key.TenantId,
		MessageId:    messageId,
		OriginalFrom: email.From.Email,
		FinalFrom:    resolved.From,
		WasModified:  resolved.Correction != nil,
		Context:      fmt.Sprintf(`{"user_id": %d, "key_domain": %q}`, key.UserId, key.Domain),
	}
	if resolved.Correction != nil {
		entry.Reason = resolved.Correction.Reason
	}
	s.audit.Record(entry)

	s.collector.Record(metrics.Event{
		Type:      relay.EventQueued,
		TenantId:  key.TenantId,
		MessageId: messageId,
	})
	if resolved.Correction != nil {
		meta, _ := json.Marshal(resolved.Correction)
		s.collector.Record(metrics.Event{
			Type:      relay.EventSenderCorrected,
			TenantId:  key.TenantId,
			MessageId: messageId,
			Metadata:  string(meta),
		})
	}

	if !s.dispatcher.Enqueue(row) {
		// spooled but not picked up, it stays queued and visible in status
		s.log.WithField("message_id", messageId).Warn("dispatcher did not accept message")
	}

	return relay.Result{Success: true, MessageId: messageId, TrackingId: trackingId}, http.StatusOK
}

type emailStatus struct {
	MessageId  string       `json:"message_id"`
	TrackingId string       `json:"tracking_id"`
	From       string       `json:"from"`
	Recipients []string     `json:"recipients"`
	Subject    string       `json:"subject"`
	Status     relay.Status `json:"status"`
	RetryCount int          `json:"retry_count"`
	LastError  string       `json:"last_error,omitempty"`
	SentAt     *time.Time   `json:"sent_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`

	Events []emailEvent `json:"events"`
}

type emailEvent struct {
	Type      relay.EventType `json:"type"`
	LatencyMS int64           `json:"latency_ms,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// GetEmail returns the current state and event history of a message. A
// message belonging to another tenant reads as not found.
func (s *Server) GetEmail(c echo.Context) error {
	key, err := s.apiKey(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, relay.Result{Error: "invalid api key"})
	}

	email, err := s.db.GetEmail(c.Param("messageId"))
	if err != nil || email.TenantId != key.TenantId {
		return c.JSON(http.StatusNotFound, relay.Result{Error: "no such message"})
	}

	events, err := s.db.EmailEvents(email.MessageId)
	if err != nil {
		s.log.WithError(err).WithField("message_id", email.MessageId).Error("could not read events")
		return c.JSON(http.StatusInternalServerError, relay.Result{Error: "internal error"})
	}

	status := emailStatus{
		MessageId:  email.MessageId,
		TrackingId: email.TrackingId,
		From:       email.ResolvedFrom,
		Recipients: email.Recipients,
		Subject:    email.Subject,
		Status:     email.Status,
		RetryCount: email.RetryCount,
		LastError:  email.LastError,
		SentAt:     email.SentAt,
		CreatedAt:  email.CreatedAt,
		Events: slicez.Map(events, func(ev dao.EmailEvent) emailEvent {
			return emailEvent{
				Type:      ev.Type,
				LatencyMS: ev.LatencyMS,
				Error:     ev.Error,
				CreatedAt: ev.CreatedAt,
			}
		}),
	}
	return c.JSON(http.StatusOK, status)
}
