package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/imagebulk/internal/app/domain/account"
	"github.com/R3E-Network/imagebulk/internal/app/storage"
	"github.com/R3E-Network/imagebulk/internal/app/storage/memory"
	apperrors "github.com/R3E-Network/imagebulk/internal/errors"
	"github.com/R3E-Network/imagebulk/pkg/logger"
)

func seed(t *testing.T, store *memory.Store, credits int64) account.Account {
	t.Helper()
	acct, err := store.CreateAccount(context.Background(), account.Account{Email: t.Name() + "@example.com", Credits: credits})
	require.NoError(t, err)
	return acct
}

func TestDebitCredit_Conservation(t *testing.T) {
	store := memory.New()
	svc := New(store, store, logger.NewNop())
	ctx := context.Background()
	acct := seed(t, store, 20)

	var expected int64 = 20
	for _, step := range []int64{-5, +500, -100, -15, +1000, -1} {
		var err error
		if step < 0 {
			_, err = svc.Debit(ctx, acct.ID, -step)
		} else {
			_, err = svc.Credit(ctx, acct.ID, step)
		}
		require.NoError(t, err)
		expected += step
	}

	balance, err := svc.Balance(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, expected, balance)
}

func TestDebit_InsufficientLeavesBalance(t *testing.T) {
	store := memory.New()
	svc := New(store, store, logger.NewNop())
	ctx := context.Background()
	acct := seed(t, store, 5)

	_, err := svc.Debit(ctx, acct.ID, 10)
	require.ErrorIs(t, err, apperrors.ErrInsufficientCredits)
	details := apperrors.GetServiceError(err).Details
	assert.Equal(t, int64(10), details["required"])
	assert.Equal(t, int64(5), details["available"])

	balance, err := svc.Balance(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)

	_, err = svc.Debit(ctx, acct.ID, 0)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = svc.Debit(ctx, "missing", 1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDebit_ConcurrentNeverOverdraws(t *testing.T) {
	store := memory.New()
	svc := New(store, store, logger.NewNop())
	ctx := context.Background()
	acct := seed(t, store, 100)

	var (
		wg        sync.WaitGroup
		successes int32
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Debit(ctx, acct.ID, 7); err == nil {
				atomic.AddInt32(&successes, 1)
			} else {
				assert.ErrorIs(t, err, apperrors.ErrInsufficientCredits)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(14), successes)
	balance, err := svc.Balance(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), balance)
	assert.Equal(t, 0, svc.locks.size())
}

// racingStore simulates another process bumping the version between the read
// and the write.
type racingStore struct {
	*memory.Store
	conflicts int
	calls     int
}

func (r *racingStore) UpdateCredits(ctx context.Context, id string, version int64, credits int64) (account.Account, error) {
	r.calls++
	if r.calls <= r.conflicts {
		return account.Account{}, storage.ErrVersionConflict
	}
	return r.Store.UpdateCredits(ctx, id, version, credits)
}

func TestApply_RetriesVersionConflicts(t *testing.T) {
	mem := memory.New()
	acct := seed(t, mem, 10)
	ctx := context.Background()

	store := &racingStore{Store: mem, conflicts: 3}
	svc := New(store, mem, logger.NewNop())
	updated, err := svc.Credit(ctx, acct.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(15), updated.Credits)
	assert.Equal(t, 4, store.calls)

	exhausted := &racingStore{Store: mem, conflicts: 100}
	svc = New(exhausted, mem, logger.NewNop())
	_, err = svc.Debit(ctx, acct.ID, 1)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, defaultMaxRetries, exhausted.calls)
}

func TestHistory_ClampsLimit(t *testing.T) {
	store := memory.New()
	svc := New(store, store, logger.NewNop())
	ctx := context.Background()
	acct := seed(t, store, 0)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	for i := 0; i < 60; i++ {
		_, err := svc.RecordDownload(ctx, acct.ID, "cats", 1)
		require.NoError(t, err)
	}

	all, err := svc.History(ctx, acct.ID, 500)
	require.NoError(t, err)
	assert.Len(t, all, MaxHistory)
	assert.True(t, all[0].Timestamp.After(all[1].Timestamp))

	some, err := svc.History(ctx, acct.ID, 3)
	require.NoError(t, err)
	assert.Len(t, some, 3)

	def, err := svc.History(ctx, acct.ID, 0)
	require.NoError(t, err)
	assert.Len(t, def, MaxHistory)

	_, err = svc.RecordDownload(ctx, "missing", "cats", 1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
