// Package sender resolves a declared sender address against the tenant's
// verified domains and rewrites it to a safe platform fallback when the
// tenant does not own a verified record for it.
package sender

import (
	"errors"
	"fmt"
	"strings"

	"github.com/modfin/henry/slicez"
	"github.com/sirupsen/logrus"
	"github.com/ultrazend/relay/internal/dao"
	"github.com/ultrazend/relay/tools"
)

// ValidationError marks malformed input, no send is attempted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("sender validation failed, %s", e.Reason)
}

// Correction records a sender rewrite for audit. A rewrite is a policy
// decision, not an error, the send proceeds with the corrected address.
type Correction struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
	Reason    string `json:"reason"`
}

// Result carries the resolved sender. Correction is nil when the declared
// sender passed unchanged.
type Result struct {
	From       string
	Correction *Correction
}

type Config struct {
	// InternalDomains always pass unchanged, internal traffic is trusted.
	InternalDomains []string
	// PlatformDomain hosts the noreply fallback.
	PlatformDomain string
}

type Validator struct {
	cfg Config
	db  dao.DAO
	log *logrus.Logger
}

func New(cfg Config, db dao.DAO, lc *tools.Logger) *Validator {
	return &Validator{
		cfg: cfg,
		db:  db,
		log: lc.New("sender"),
	}
}

func (v *Validator) fallback(tenantId int64) string {
	return fmt.Sprintf("noreply+user%d@%s", tenantId, v.cfg.PlatformDomain)
}

func (v *Validator) internal(domain string) bool {
	return slicez.ContainsBy(v.cfg.InternalDomains, func(d string) bool {
		return strings.EqualFold(d, domain)
	})
}

// Validate resolves the declared sender for the tenant. Owned and verified
// domains pass unchanged, anything else is rewritten onto the platform
// fallback and a correction is returned for the audit trail.
func (v *Validator) Validate(tenantId int64, from string) (Result, error) {
	domain, err := tools.DomainOfEmail(from)
	if err != nil {
		return Result{}, &ValidationError{Reason: err.Error()}
	}

	if v.internal(domain) {
		return Result{From: from}, nil
	}

	record, err := v.db.GetVerifiedDomain(tenantId, domain)
	if err != nil && !errors.Is(err, dao.ErrNotFound) {
		return Result{}, fmt.Errorf("could not look up domain %s, %w", domain, err)
	}

	if err == nil && record.Verified {
		return Result{From: from}, nil
	}

	reason := fmt.Sprintf("domain %s is not registered to tenant %d", domain, tenantId)
	if err == nil {
		reason = fmt.Sprintf("domain %s is registered to tenant %d but not verified", domain, tenantId)
	}

	corrected := v.fallback(tenantId)
	v.log.WithField("tenant", tenantId).
		WithField("original", from).
		WithField("corrected", corrected).
		Info(reason)

	return Result{
		From: corrected,
		Correction: &Correction{
			Original:  from,
			Corrected: corrected,
			Reason:    reason,
		},
	}, nil
}

// BatchItem is the outcome for one position of a batch. Err is set only for
// that item, a malformed sender never fails the rest of the batch.
type BatchItem struct {
	Index  int
	Result Result
	Err    error
}

// ValidateBatch applies Validate per item, preserving order.
func (v *Validator) ValidateBatch(tenantId int64, froms []string) []BatchItem {
	items := make([]BatchItem, 0, len(froms))
	var corrected int
	for i, from := range froms {
		res, err := v.Validate(tenantId, from)
		if res.Correction != nil {
			corrected++
		}
		items = append(items, BatchItem{Index: i, Result: res, Err: err})
	}
	if corrected > 0 {
		v.log.WithField("tenant", tenantId).
			WithField("corrected", corrected).
			WithField("total", len(froms)).
			Info("batch sender validation rewrote senders")
	}
	return items
}
