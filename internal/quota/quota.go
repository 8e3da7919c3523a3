// Package quota enforces per tenant send limits over hourly, daily and
// monthly windows.
package quota

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ultrazend/relay/internal/dao"
	"github.com/ultrazend/relay/tools"
)

// ExceededError names the first exhausted window. It is fatal for the call,
// the message is rejected before any network i/o.
type ExceededError struct {
	Window dao.QuotaWindow
	Used   int64
	Limit  int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s quota exceeded, %d of %d used", e.Window, e.Used, e.Limit)
}

// RetryAfter is a hint for when the exhausted window rolls over.
func (e *ExceededError) RetryAfter(now time.Time) time.Duration {
	switch e.Window {
	case dao.WindowHourly:
		return now.Truncate(time.Hour).Add(time.Hour).Sub(now)
	case dao.WindowDaily:
		y, m, d := now.In(time.UTC).Date()
		return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC).Sub(now)
	default:
		y, m, _ := now.In(time.UTC).Date()
		return time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC).Sub(now)
	}
}

type Guard struct {
	db  dao.DAO
	log *logrus.Logger
}

func New(db dao.DAO, lc *tools.Logger) *Guard {
	return &Guard{
		db:  db,
		log: lc.New("quota"),
	}
}

// Charge atomically checks and increments all three windows for one send.
// All three must have used < limit, the first exhausted window produces an
// ExceededError and nothing is charged. The underlying store performs the
// increment as a single conditional update, so concurrent sends at limit-1
// resolve to exactly one success. Retries of an accepted message are never
// charged again, quota is consumed once at the first attempt.
func (g *Guard) Charge(tenantId int64, now time.Time) error {
	check, err := g.db.TryIncrementQuota(tenantId, now)
	if err != nil {
		return fmt.Errorf("could not charge quota for tenant %d, %w", tenantId, err)
	}
	if !check.Allowed {
		g.log.WithField("tenant", tenantId).
			WithField("window", check.Window).
			WithField("used", check.Used).
			WithField("limit", check.Limit).
			Info("send rejected, quota exceeded")
		return &ExceededError{Window: check.Window, Used: check.Used, Limit: check.Limit}
	}
	return nil
}
