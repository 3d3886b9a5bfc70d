package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/imagebulk/internal/app/domain/account"
	"github.com/R3E-Network/imagebulk/internal/app/domain/download"
	"github.com/R3E-Network/imagebulk/internal/app/domain/feedback"
	"github.com/R3E-Network/imagebulk/internal/app/domain/payment"
	"github.com/R3E-Network/imagebulk/internal/app/domain/verification"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when a unique key (email, order id) is taken.
	ErrDuplicate = errors.New("storage: duplicate key")
	// ErrVersionConflict is returned by UpdateCredits when the account changed
	// since it was read.
	ErrVersionConflict = errors.New("storage: version conflict")
)

// AccountStore persists account records.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	GetAccount(ctx context.Context, id string) (account.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (account.Account, error)
	// UpdateAccount persists profile fields (verified flag, plan, password
	// hash). It never touches credits or version.
	UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	// UpdatePlan changes only the plan column.
	UpdatePlan(ctx context.Context, id string, plan account.Plan) (account.Account, error)
	// UpdateCredits writes a new balance only if the stored version still
	// equals expectedVersion, bumping the version. Negative balances are
	// rejected by the store as well.
	UpdateCredits(ctx context.Context, id string, expectedVersion int64, credits int64) (account.Account, error)
}

// DownloadStore persists the append-only download history.
type DownloadStore interface {
	CreateDownload(ctx context.Context, rec download.Record) (download.Record, error)
	// ListDownloads returns newest-first records, at most limit of them.
	ListDownloads(ctx context.Context, accountID string, limit int) ([]download.Record, error)
}

// PaymentStore persists payment intents.
type PaymentStore interface {
	CreateTransaction(ctx context.Context, tx payment.Transaction) (payment.Transaction, error)
	GetTransactionByOrderID(ctx context.Context, orderID string) (payment.Transaction, error)
	// CompleteTransaction moves a pending transaction to success and records
	// the payment id. The returned bool is true only for the call that
	// performed the transition.
	CompleteTransaction(ctx context.Context, orderID, paymentID string) (payment.Transaction, bool, error)
	ListTransactions(ctx context.Context, accountID string) ([]payment.Transaction, error)
}

// VerificationStore holds outstanding email verification codes. Entries
// expire on their own; Get never returns an expired entry.
type VerificationStore interface {
	PutCode(ctx context.Context, pending verification.Pending) error
	GetCode(ctx context.Context, email string) (verification.Pending, error)
	// RecordFailedAttempt bumps the miss counter of the live code for email
	// and returns the new count. PutCode resets the counter.
	RecordFailedAttempt(ctx context.Context, email string) (int, error)
	DeleteCode(ctx context.Context, email string) error
}

// FeedbackStore persists contact-form submissions.
type FeedbackStore interface {
	CreateFeedback(ctx context.Context, fb feedback.Feedback) (feedback.Feedback, error)
}
