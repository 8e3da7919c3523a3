package quota

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ultrazend/relay/internal/dao"
	"github.com/ultrazend/relay/tools"
)

func testGuard(t *testing.T) (*Guard, dao.DAO) {
	t.Helper()
	db, err := dao.NewSQLite(filepath.Join(t.TempDir(), "relay.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, tools.LoggerCloner(logrus.New())), db
}

func TestChargeWithinLimits(t *testing.T) {
	g, db := testGuard(t)
	require.NoError(t, db.EnsureQuotas(1, 10, 100, 1000))

	now := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, g.Charge(1, now))
	}

	err := g.Charge(1, now)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, dao.WindowHourly, exceeded.Window)
	assert.EqualValues(t, 10, exceeded.Used)
	assert.EqualValues(t, 10, exceeded.Limit)
}

func TestChargeNamesFirstExceededWindow(t *testing.T) {
	g, db := testGuard(t)
	require.NoError(t, db.EnsureQuotas(1, 100, 2, 1000))

	now := time.Now()
	require.NoError(t, g.Charge(1, now))
	require.NoError(t, g.Charge(1, now))

	err := g.Charge(1, now)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, dao.WindowDaily, exceeded.Window)
}

func TestChargeRejectionChargesNothing(t *testing.T) {
	g, db := testGuard(t)
	require.NoError(t, db.EnsureQuotas(1, 100, 100, 1))

	now := time.Now()
	require.NoError(t, g.Charge(1, now))
	require.Error(t, g.Charge(1, now))

	quotas, err := db.GetQuotas(1, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, quotas.HourlyUsed, "a rejected send must not consume the hourly window")
	assert.EqualValues(t, 1, quotas.MonthlyUsed)
}

func TestChargeConcurrentAtLimit(t *testing.T) {
	g, db := testGuard(t)
	require.NoError(t, db.EnsureQuotas(1, 10, 10, 10))

	now := time.Now()
	for i := 0; i < 9; i++ {
		require.NoError(t, g.Charge(1, now))
	}

	// two concurrent sends against a counter at limit-1, exactly one wins
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = g.Charge(1, now)
		}(i)
	}
	wg.Wait()

	var successes, exceeded int
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		var e *ExceededError
		if assert.ErrorAs(t, err, &e) {
			exceeded++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, exceeded)
}

func TestChargeLazyWindowReset(t *testing.T) {
	g, db := testGuard(t)
	require.NoError(t, db.EnsureQuotas(1, 1, 100, 1000))

	now := time.Now()
	require.NoError(t, g.Charge(1, now))
	require.Error(t, g.Charge(1, now), "hourly window is full")

	// an hour later the hourly window has rolled over
	require.NoError(t, g.Charge(1, now.Add(time.Hour)))
}

func TestChargeUnprovisionedTenantIsUnlimited(t *testing.T) {
	g, _ := testGuard(t)
	require.NoError(t, g.Charge(42, time.Now()))
}
