package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/imagebulk/internal/app/domain/account"
	"github.com/R3E-Network/imagebulk/internal/app/domain/download"
	"github.com/R3E-Network/imagebulk/internal/app/domain/payment"
	"github.com/R3E-Network/imagebulk/internal/app/storage"
	"github.com/R3E-Network/imagebulk/internal/app/storage/postgres/migrations"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := Open(dsn, 4, 2, 0)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, migrations.Up(db.DB))

	store := New(db)
	ctx := context.Background()

	acct, err := store.CreateAccount(ctx, account.Account{Email: "it-" + t.Name() + "@example.com", PasswordHash: "x", Credits: 20, Plan: account.PlanFree})
	require.NoError(t, err)

	updated, err := store.UpdateCredits(ctx, acct.ID, acct.Version, 10)
	require.NoError(t, err)
	_, err = store.UpdateCredits(ctx, acct.ID, acct.Version, 5)
	assert.ErrorIs(t, err, storage.ErrVersionConflict)

	_, err = store.CreateDownload(ctx, download.Record{AccountID: acct.ID, Keyword: "cats", Count: 10})
	require.NoError(t, err)
	records, err := store.ListDownloads(ctx, acct.ID, 50)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = store.CreateTransaction(ctx, payment.Transaction{AccountID: acct.ID, OrderID: "order_" + updated.ID, Plan: "Basic", Amount: 2900, Currency: "INR", CreditsAdded: 500})
	require.NoError(t, err)
	_, moved, err := store.CompleteTransaction(ctx, "order_"+updated.ID, "pay_1")
	require.NoError(t, err)
	assert.True(t, moved)
	_, moved, err = store.CompleteTransaction(ctx, "order_"+updated.ID, "pay_1")
	require.NoError(t, err)
	assert.False(t, moved)
}
