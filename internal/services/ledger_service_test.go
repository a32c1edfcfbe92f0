package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	day1 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	day2 = day1.Add(24 * time.Hour)
)

func TestEnsureDailyRefillOncePerDay(t *testing.T) {
	db := newTestDB(t)
	acc := seedAccount(t, db, "alice", 0)
	notifier := newRecordingNotifier()
	ledger := NewLedgerService(db, testPolicy(), notifier)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		balance, err := ledger.EnsureDailyRefill(ctx, acc.ID, day1)
		require.NoError(t, err)
		assert.Equal(t, 5, balance)
	}
	// Later the same day still counts as day1.
	balance, err := ledger.EnsureDailyRefill(ctx, acc.ID, day1.Add(10*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5, balance)

	balance, err = ledger.EnsureDailyRefill(ctx, acc.ID, day2)
	require.NoError(t, err)
	assert.Equal(t, 10, balance)

	assert.Equal(t, []int{5, 10}, notifier.get(acc.ID))
}

func TestEnsureDailyRefillConcurrent(t *testing.T) {
	db := newTestDB(t)
	acc := seedAccount(t, db, "alice", 1)
	ledger := NewLedgerService(db, testPolicy(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.EnsureDailyRefill(ctx, acc.ID, day1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	balance, err := ledger.Balance(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, balance)
}

func TestRedeemKeyAndRefillConcurrent(t *testing.T) {
	db := newTestDB(t)
	acc := seedAccount(t, db, "alice", 0)
	ledger := NewLedgerService(db, testPolicy(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	var redeemed atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := ledger.EnsureDailyRefill(ctx, acc.ID, day1)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := ledger.RedeemKey(ctx, acc.ID, "SPONSOR100")
			if err == nil {
				redeemed.Add(1)
				return
			}
			assert.ErrorIs(t, err, ErrAlreadyRedeemed)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), redeemed.Load())

	// Refill first: 5 + 10. Redeem first: 10 + 30.
	balance, err := ledger.Balance(ctx, acc.ID)
	require.NoError(t, err)
	assert.Contains(t, []int{15, 40}, balance)

	history, err := NewEventService(db).GetRecentEvents(ctx, acc.ID, 50)
	require.NoError(t, err)
	counts := map[string]int{}
	for _, event := range history {
		counts[event.Type]++
	}
	assert.Equal(t, map[string]int{EventRefill: 1, EventRedeem: 1}, counts)
	assert.Equal(t, balance, history[0].Balance)
}

func TestEnsureDailyRefillUnknownAccount(t *testing.T) {
	ledger := NewLedgerService(newTestDB(t), testPolicy(), nil)

	_, err := ledger.EnsureDailyRefill(context.Background(), "missing", day1)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRedeemKeyScenario(t *testing.T) {
	db := newTestDB(t)
	acc := seedAccount(t, db, "alice", 5)
	ledger := NewLedgerService(db, testPolicy(), nil)
	ctx := context.Background()

	balance, err := ledger.RedeemKey(ctx, acc.ID, " SPONSOR100 ")
	require.NoError(t, err)
	assert.Equal(t, 15, balance)

	stored, err := NewAccountService(db, 0).Get(ctx, acc.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RedeemedKey)
	assert.Equal(t, "SPONSOR100", *stored.RedeemedKey)

	balance, err = ledger.EnsureDailyRefill(ctx, acc.ID, day2)
	require.NoError(t, err)
	assert.Equal(t, 45, balance)
}

func TestRedeemKeyOnlyOnce(t *testing.T) {
	db := newTestDB(t)
	acc := seedAccount(t, db, "alice", 5)
	ledger := NewLedgerService(db, testPolicy(), nil)
	ctx := context.Background()

	_, err := ledger.RedeemKey(ctx, acc.ID, "YTBOOST20")
	require.NoError(t, err)

	for _, key := range []string{"YTBOOST20", "SPONSOR100", "bogus"} {
		_, err := ledger.RedeemKey(ctx, acc.ID, key)
		require.ErrorIs(t, err, ErrAlreadyRedeemed)

		var redeemed *AlreadyRedeemedError
		require.True(t, errors.As(err, &redeemed))
		assert.Equal(t, "YTBOOST20", redeemed.Key)
	}

	balance, err := ledger.Balance(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, balance)
}

func TestRedeemKeyInvalid(t *testing.T) {
	db := newTestDB(t)
	acc := seedAccount(t, db, "alice", 5)
	ledger := NewLedgerService(db, testPolicy(), nil)
	ctx := context.Background()

	for _, key := range []string{"", "sponsor100", "NOPE"} {
		_, err := ledger.RedeemKey(ctx, acc.ID, key)
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}

	balance, err := ledger.Balance(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, balance)

	// A failed attempt does not burn the account's one redemption.
	_, err = ledger.RedeemKey(ctx, acc.ID, "SPONSOR100")
	assert.NoError(t, err)
}

func TestRedeemKeyConcurrent(t *testing.T) {
	db := newTestDB(t)
	acc := seedAccount(t, db, "alice", 0)
	ledger := NewLedgerService(db, testPolicy(), nil)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "SPONSOR100"
			if i%2 == 0 {
				key = "YTBOOST20"
			}
			if _, err := ledger.RedeemKey(ctx, acc.ID, key); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrAlreadyRedeemed)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	balance, err := ledger.Balance(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, balance)
}

func TestTrySpendInsufficient(t *testing.T) {
	db := newTestDB(t)
	acc := seedAccount(t, db, "alice", 0)
	ledger := NewLedgerService(db, testPolicy(), nil)
	ctx := context.Background()

	_, err := ledger.TrySpend(ctx, acc.ID, 1)
	require.ErrorIs(t, err, ErrInsufficientCredit)

	balance, err := ledger.Balance(ctx, acc.ID)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestTrySpendRejectsBadInput(t *testing.T) {
	db := newTestDB(t)
	acc := seedAccount(t, db, "alice", 3)
	ledger := NewLedgerService(db, testPolicy(), nil)
	ctx := context.Background()

	_, err := ledger.TrySpend(ctx, acc.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = ledger.TrySpend(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = ledger.TrySpend(ctx, acc.ID, 4)
	assert.ErrorIs(t, err, ErrInsufficientCredit)
}

func TestTrySpendConcurrentNeverNegative(t *testing.T) {
	db := newTestDB(t)
	acc := seedAccount(t, db, "alice", 7)
	ledger := NewLedgerService(db, testPolicy(), nil)
	ctx := context.Background()

	var spent atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			balance, err := ledger.TrySpend(ctx, acc.ID, 1)
			if err != nil {
				assert.ErrorIs(t, err, ErrInsufficientCredit)
				return
			}
			assert.GreaterOrEqual(t, balance, 0)
			spent.Add(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(7), spent.Load())
	balance, err := ledger.Balance(ctx, acc.ID)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestRefund(t *testing.T) {
	db := newTestDB(t)
	acc := seedAccount(t, db, "alice", 1)
	ledger := NewLedgerService(db, testPolicy(), nil)
	ctx := context.Background()

	balance, err := ledger.TrySpend(ctx, acc.ID, 1)
	require.NoError(t, err)
	assert.Zero(t, balance)

	balance, err = ledger.Refund(ctx, acc.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, balance)

	_, err = ledger.Refund(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = ledger.Refund(ctx, acc.ID, -2)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDailyBonus(t *testing.T) {
	ledger := NewLedgerService(newTestDB(t), testPolicy(), nil)
	sponsor, unknown := "SPONSOR100", "RETIRED"

	assert.Equal(t, 5, ledger.DailyBonus(nil))
	assert.Equal(t, 30, ledger.DailyBonus(&sponsor))
	assert.Equal(t, 5, ledger.DailyBonus(&unknown))
}

func TestDateKey(t *testing.T) {
	assert.Equal(t, "2026-03-01", DateKey(day1))

	// The date is taken in the clock's own zone.
	late := time.Date(2026, 3, 1, 23, 30, 0, 0, time.FixedZone("UTC-5", -5*3600))
	assert.Equal(t, "2026-03-01", DateKey(late))
	assert.Equal(t, "2026-03-02", DateKey(late.UTC()))
}
