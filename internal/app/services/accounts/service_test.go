package accounts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/R3E-Network/imagebulk/internal/app/domain/account"
	"github.com/R3E-Network/imagebulk/internal/app/domain/verification"
	"github.com/R3E-Network/imagebulk/internal/app/services/auth"
	"github.com/R3E-Network/imagebulk/internal/app/services/mailer"
	"github.com/R3E-Network/imagebulk/internal/app/storage"
	"github.com/R3E-Network/imagebulk/internal/app/storage/memory"
	apperrors "github.com/R3E-Network/imagebulk/internal/errors"
	"github.com/R3E-Network/imagebulk/pkg/logger"
)

type outbox struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (o *outbox) Send(_ context.Context, msg mailer.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return o.err
}

func newTestService(t *testing.T) (*Service, *memory.Store, *outbox) {
	t.Helper()
	store := memory.New()
	tokens, err := auth.NewTokens("test-secret", time.Hour)
	require.NoError(t, err)
	mail := &outbox{}
	svc := New(store, store, tokens, mail, Config{StartingCredits: 20, BcryptCost: bcrypt.MinCost}, logger.NewNop())
	svc.newCode = func() (string, error) { return "123456", nil }
	return svc, store, mail
}

func TestRegister(t *testing.T) {
	svc, store, mail := newTestService(t)
	ctx := context.Background()

	profile, err := svc.Register(ctx, " Alice@Example.com ", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", profile.Email)
	assert.Equal(t, int64(20), profile.Credits)
	assert.Equal(t, account.PlanFree, profile.Plan)

	acct, err := store.GetAccountByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, acct.Verified)
	assert.NotEqual(t, "secret1", acct.PasswordHash)

	pending, err := store.GetCode(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.NotContains(t, pending.CodeHash, "123456")

	require.Len(t, mail.sent, 1)
	assert.Contains(t, mail.sent[0].HTML, "123456")

	_, err = svc.Register(ctx, "ALICE@example.com", "another")
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = svc.Register(ctx, "bob@example.com", "short")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestRegister_MailFailureIsNotFatal(t *testing.T) {
	svc, _, mail := newTestService(t)
	mail.err = errors.New("smtp down")

	_, err := svc.Register(context.Background(), "a@b.c", "secret1")
	assert.NoError(t, err)
}

func TestVerifyEmailAndLogin(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, "a@b.c", "secret1")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "a@b.c", "secret1")
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	assert.Equal(t, true, apperrors.GetServiceError(err).Details["not_verified"])

	_, err = svc.VerifyEmail(ctx, "a@b.c", "000000")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	session, err := svc.VerifyEmail(ctx, "A@B.C", "123456")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "a@b.c", session.User.Email)

	_, err = svc.VerifyEmail(ctx, "a@b.c", "123456")
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	session, err = svc.Login(ctx, "A@b.c", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)

	_, err = svc.Login(ctx, "a@b.c", "wrong-password")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	_, err = svc.Login(ctx, "nobody@b.c", "secret1")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	me, err := svc.Me(ctx, session.User.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), me.Credits)

	_, err = svc.Me(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestVerifyEmail_ExpiredCode(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now()
	svc.now = func() time.Time { return now }

	_, err := svc.Register(ctx, "a@b.c", "secret1")
	require.NoError(t, err)

	svc.now = func() time.Time { return now.Add(11 * time.Minute) }
	_, err = svc.VerifyEmail(ctx, "a@b.c", "123456")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.VerifyEmail(ctx, "ghost@b.c", "123456")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestVerifyEmail_CodeRetiredAfterRepeatedMisses(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, "a@b.c", "secret1")
	require.NoError(t, err)

	for i := 1; i < verification.MaxAttempts; i++ {
		_, err = svc.VerifyEmail(ctx, "a@b.c", "000000")
		require.ErrorIs(t, err, apperrors.ErrValidation)
		pending, err := store.GetCode(ctx, "a@b.c")
		require.NoError(t, err)
		assert.Equal(t, i, pending.Attempts)
	}

	_, err = svc.VerifyEmail(ctx, "a@b.c", "000000")
	require.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Contains(t, err.Error(), "too many failed attempts")
	_, err = store.GetCode(ctx, "a@b.c")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The right code no longer works once the code is retired.
	_, err = svc.VerifyEmail(ctx, "a@b.c", "123456")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	require.NoError(t, svc.ResendCode(ctx, "a@b.c"))
	_, err = svc.VerifyEmail(ctx, "a@b.c", "123456")
	require.NoError(t, err)
}

func TestResendCode_ReplacesCode(t *testing.T) {
	svc, _, mail := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, "a@b.c", "secret1")
	require.NoError(t, err)

	svc.newCode = func() (string, error) { return "654321", nil }
	require.NoError(t, svc.ResendCode(ctx, "a@b.c"))
	assert.Len(t, mail.sent, 2)

	_, err = svc.VerifyEmail(ctx, "a@b.c", "123456")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = svc.VerifyEmail(ctx, "a@b.c", "654321")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.ResendCode(ctx, "a@b.c"), apperrors.ErrConflict)
	assert.ErrorIs(t, svc.ResendCode(ctx, "ghost@b.c"), apperrors.ErrNotFound)
}

func TestRandomCode(t *testing.T) {
	code, err := randomCode()
	require.NoError(t, err)
	assert.Len(t, code, 6)
}
