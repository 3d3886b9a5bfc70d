package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/imagebulk/internal/app/domain/account"
	"github.com/R3E-Network/imagebulk/internal/app/domain/download"
	"github.com/R3E-Network/imagebulk/internal/app/domain/payment"
	"github.com/R3E-Network/imagebulk/internal/app/domain/verification"
	"github.com/R3E-Network/imagebulk/internal/app/storage"
)

func TestAccounts_EmailUniqueCaseInsensitive(t *testing.T) {
	store := New()
	ctx := context.Background()

	acct, err := store.CreateAccount(ctx, account.Account{Email: " Alice@Example.com ", Credits: 20})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", acct.Email)
	assert.Equal(t, int64(1), acct.Version)

	_, err = store.CreateAccount(ctx, account.Account{Email: "ALICE@example.com"})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	found, err := store.GetAccountByEmail(ctx, "alice@EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, found.ID)

	_, err = store.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateCredits_VersionGuard(t *testing.T) {
	store := New()
	ctx := context.Background()
	acct, err := store.CreateAccount(ctx, account.Account{Email: "a@b.c", Credits: 10})
	require.NoError(t, err)

	updated, err := store.UpdateCredits(ctx, acct.ID, acct.Version, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), updated.Credits)
	assert.Equal(t, acct.Version+1, updated.Version)

	_, err = store.UpdateCredits(ctx, acct.ID, acct.Version, 1)
	assert.ErrorIs(t, err, storage.ErrVersionConflict)

	_, err = store.UpdateCredits(ctx, acct.ID, updated.Version, -1)
	assert.Error(t, err)

	current, err := store.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), current.Credits)
}

func TestUpdateAccount_LeavesCreditsAlone(t *testing.T) {
	store := New()
	ctx := context.Background()
	acct, err := store.CreateAccount(ctx, account.Account{Email: "a@b.c", Credits: 10, Plan: account.PlanFree})
	require.NoError(t, err)

	acct.Credits = 9999
	acct.Verified = true
	acct.Plan = account.PlanPro
	updated, err := store.UpdateAccount(ctx, acct)
	require.NoError(t, err)

	assert.True(t, updated.Verified)
	assert.Equal(t, account.PlanPro, updated.Plan)
	assert.Equal(t, int64(10), updated.Credits)
}

func TestListDownloads_NewestFirstWithLimit(t *testing.T) {
	store := New()
	ctx := context.Background()
	acct, err := store.CreateAccount(ctx, account.Account{Email: "a@b.c"})
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, kw := range []string{"first", "second", "third"} {
		_, err := store.CreateDownload(ctx, download.Record{
			AccountID: acct.ID,
			Keyword:   kw,
			Count:     1,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	records, err := store.ListDownloads(ctx, acct.ID, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "third", records[0].Keyword)
	assert.Equal(t, "second", records[1].Keyword)

	_, err = store.CreateDownload(ctx, download.Record{AccountID: "ghost", Keyword: "x", Count: 1})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCompleteTransaction_TransitionsOnce(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.CreateTransaction(ctx, payment.Transaction{AccountID: "1", OrderID: "order_1", CreditsAdded: 500})
	require.NoError(t, err)
	_, err = store.CreateTransaction(ctx, payment.Transaction{AccountID: "1", OrderID: "order_1"})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		transitions int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, moved, err := store.CompleteTransaction(ctx, "order_1", "pay_1")
			assert.NoError(t, err)
			if moved {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, transitions)

	tx, err := store.GetTransactionByOrderID(ctx, "order_1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSuccess, tx.Status)
	assert.Equal(t, "pay_1", tx.PaymentID)

	_, _, err = store.CompleteTransaction(ctx, "order_missing", "pay")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestVerificationCodes_Expire(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.PutCode(ctx, verification.Pending{Email: "A@b.c", CodeHash: "h", ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, store.PutCode(ctx, verification.Pending{Email: "old@b.c", CodeHash: "h", ExpiresAt: now.Add(-time.Second)}))

	got, err := store.GetCode(ctx, "a@B.C")
	require.NoError(t, err)
	assert.Equal(t, "h", got.CodeHash)

	purged, err := store.PurgeExpiredCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	now = now.Add(2 * time.Minute)
	_, err = store.GetCode(ctx, "a@b.c")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.DeleteCode(ctx, "nobody@b.c"))
}

func TestVerificationCodes_FailedAttempts(t *testing.T) {
	store := New()
	ctx := context.Background()
	expires := time.Now().Add(time.Minute)

	_, err := store.RecordFailedAttempt(ctx, "a@b.c")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.PutCode(ctx, verification.Pending{Email: "a@b.c", CodeHash: "h", ExpiresAt: expires}))
	for want := 1; want <= 3; want++ {
		n, err := store.RecordFailedAttempt(ctx, "A@B.C")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	got, err := store.GetCode(ctx, "a@b.c")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Attempts)

	require.NoError(t, store.PutCode(ctx, verification.Pending{Email: "a@b.c", CodeHash: "h2", ExpiresAt: expires}))
	got, err = store.GetCode(ctx, "a@b.c")
	require.NoError(t, err)
	assert.Zero(t, got.Attempts)
}

func TestUpdatePlan_KeepsOtherFields(t *testing.T) {
	store := New()
	ctx := context.Background()
	acct, err := store.CreateAccount(ctx, account.Account{Email: "p@b.c", PasswordHash: "old", Credits: 20, Plan: account.PlanFree})
	require.NoError(t, err)

	acct.PasswordHash = "new"
	acct.Verified = true
	_, err = store.UpdateAccount(ctx, acct)
	require.NoError(t, err)

	updated, err := store.UpdatePlan(ctx, acct.ID, account.PlanPro)
	require.NoError(t, err)
	assert.Equal(t, account.PlanPro, updated.Plan)
	assert.Equal(t, "new", updated.PasswordHash)
	assert.True(t, updated.Verified)
	assert.Equal(t, int64(20), updated.Credits)

	_, err = store.UpdatePlan(ctx, "missing", account.PlanPro)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
