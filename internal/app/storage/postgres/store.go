package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/imagebulk/internal/app/domain/account"
	"github.com/R3E-Network/imagebulk/internal/app/domain/download"
	"github.com/R3E-Network/imagebulk/internal/app/domain/feedback"
	"github.com/R3E-Network/imagebulk/internal/app/domain/payment"
	"github.com/R3E-Network/imagebulk/internal/app/domain/verification"
	"github.com/R3E-Network/imagebulk/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.DownloadStore = (*Store)(nil)
var _ storage.PaymentStore = (*Store)(nil)
var _ storage.VerificationStore = (*Store)(nil)
var _ storage.FeedbackStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Open connects with lib/pq and applies pool limits.
func Open(dsn string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if maxLifetime > 0 {
		db.SetConnMaxLifetime(maxLifetime)
	}
	return db, nil
}

// mapError folds driver errors into the storage sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return storage.ErrDuplicate
		case "foreign_key_violation":
			return storage.ErrNotFound
		}
	}
	return err
}

const accountColumns = `id, email, password_hash, credits, plan, verified, version, created_at, updated_at`

// --- AccountStore -----------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if acct.Credits < 0 {
		return account.Account{}, fmt.Errorf("credits must not be negative")
	}
	now := s.now()
	acct.Email = account.NormalizeEmail(acct.Email)
	acct.CreatedAt = now
	acct.UpdatedAt = now
	acct.Version = 1

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (:id, :email, :password_hash, :credits, :plan, :verified, :version, :created_at, :updated_at)
	`, acct)
	if err != nil {
		return account.Account{}, mapError(err)
	}
	return acct, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	var acct account.Account
	err := s.db.GetContext(ctx, &acct, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if err != nil {
		return account.Account{}, mapError(err)
	}
	return acct, nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (account.Account, error) {
	var acct account.Account
	err := s.db.GetContext(ctx, &acct, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, account.NormalizeEmail(email))
	if err != nil {
		return account.Account{}, mapError(err)
	}
	return acct, nil
}

func (s *Store) UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	var updated account.Account
	err := s.db.GetContext(ctx, &updated, `
		UPDATE accounts
		SET password_hash = $2, plan = $3, verified = $4, updated_at = $5
		WHERE id = $1
		RETURNING `+accountColumns,
		acct.ID, acct.PasswordHash, acct.Plan, acct.Verified, s.now())
	if err != nil {
		return account.Account{}, mapError(err)
	}
	return updated, nil
}

func (s *Store) UpdatePlan(ctx context.Context, id string, plan account.Plan) (account.Account, error) {
	var updated account.Account
	err := s.db.GetContext(ctx, &updated, `
		UPDATE accounts
		SET plan = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+accountColumns,
		id, plan, s.now())
	if err != nil {
		return account.Account{}, mapError(err)
	}
	return updated, nil
}

func (s *Store) UpdateCredits(ctx context.Context, id string, expectedVersion int64, credits int64) (account.Account, error) {
	if credits < 0 {
		return account.Account{}, fmt.Errorf("credits must not be negative")
	}

	var updated account.Account
	err := s.db.GetContext(ctx, &updated, `
		UPDATE accounts
		SET credits = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $2
		RETURNING `+accountColumns,
		id, expectedVersion, credits, s.now())
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, mapError(err)
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id); err != nil {
		return account.Account{}, err
	}
	if !exists {
		return account.Account{}, storage.ErrNotFound
	}
	return account.Account{}, storage.ErrVersionConflict
}

// --- DownloadStore ----------------------------------------------------------

func (s *Store) CreateDownload(ctx context.Context, rec download.Record) (download.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO downloads (id, account_id, keyword, count, created_at)
		VALUES (:id, :account_id, :keyword, :count, :created_at)
	`, rec)
	if err != nil {
		return download.Record{}, mapError(err)
	}
	return rec, nil
}

func (s *Store) ListDownloads(ctx context.Context, accountID string, limit int) ([]download.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	records := make([]download.Record, 0)
	err := s.db.SelectContext(ctx, &records, `
		SELECT id, account_id, keyword, count, created_at
		FROM downloads
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// --- PaymentStore -----------------------------------------------------------

const transactionColumns = `id, account_id, order_id, payment_id, plan, amount, currency, credits_added, status, created_at, updated_at`

func (s *Store) CreateTransaction(ctx context.Context, tx payment.Transaction) (payment.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Status == "" {
		tx.Status = payment.StatusPending
	}
	now := s.now()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO payment_transactions (`+transactionColumns+`)
		VALUES (:id, :account_id, :order_id, :payment_id, :plan, :amount, :currency, :credits_added, :status, :created_at, :updated_at)
	`, tx)
	if err != nil {
		return payment.Transaction{}, mapError(err)
	}
	return tx, nil
}

func (s *Store) GetTransactionByOrderID(ctx context.Context, orderID string) (payment.Transaction, error) {
	var tx payment.Transaction
	err := s.db.GetContext(ctx, &tx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE order_id = $1`, orderID)
	if err != nil {
		return payment.Transaction{}, mapError(err)
	}
	return tx, nil
}

func (s *Store) CompleteTransaction(ctx context.Context, orderID, paymentID string) (payment.Transaction, bool, error) {
	var tx payment.Transaction
	err := s.db.GetContext(ctx, &tx, `
		UPDATE payment_transactions
		SET status = $3, payment_id = $2, updated_at = $4
		WHERE order_id = $1 AND status = $5
		RETURNING `+transactionColumns,
		orderID, paymentID, payment.StatusSuccess, s.now(), payment.StatusPending)
	if err == nil {
		return tx, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return payment.Transaction{}, false, mapError(err)
	}

	existing, err := s.GetTransactionByOrderID(ctx, orderID)
	if err != nil {
		return payment.Transaction{}, false, err
	}
	return existing, false, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID string) ([]payment.Transaction, error) {
	result := make([]payment.Transaction, 0)
	var err error
	if accountID == "" {
		err = s.db.SelectContext(ctx, &result, `SELECT `+transactionColumns+` FROM payment_transactions ORDER BY created_at DESC`)
	} else {
		err = s.db.SelectContext(ctx, &result, `SELECT `+transactionColumns+` FROM payment_transactions WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// --- VerificationStore ------------------------------------------------------

func (s *Store) PutCode(ctx context.Context, pending verification.Pending) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_codes (email, code_hash, expires_at, attempts)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE
		SET code_hash = EXCLUDED.code_hash, expires_at = EXCLUDED.expires_at, attempts = EXCLUDED.attempts
	`, account.NormalizeEmail(pending.Email), pending.CodeHash, pending.ExpiresAt, pending.Attempts)
	return err
}

func (s *Store) GetCode(ctx context.Context, email string) (verification.Pending, error) {
	var row struct {
		Email     string    `db:"email"`
		CodeHash  string    `db:"code_hash"`
		ExpiresAt time.Time `db:"expires_at"`
		Attempts  int       `db:"attempts"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT email, code_hash, expires_at, attempts
		FROM verification_codes
		WHERE email = $1 AND expires_at > $2
	`, account.NormalizeEmail(email), s.now())
	if err != nil {
		return verification.Pending{}, mapError(err)
	}
	return verification.Pending{Email: row.Email, CodeHash: row.CodeHash, ExpiresAt: row.ExpiresAt, Attempts: row.Attempts}, nil
}

func (s *Store) RecordFailedAttempt(ctx context.Context, email string) (int, error) {
	var attempts int
	err := s.db.GetContext(ctx, &attempts, `
		UPDATE verification_codes
		SET attempts = attempts + 1
		WHERE email = $1 AND expires_at > $2
		RETURNING attempts
	`, account.NormalizeEmail(email), s.now())
	if err != nil {
		return 0, mapError(err)
	}
	return attempts, nil
}

func (s *Store) DeleteCode(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM verification_codes WHERE email = $1`, account.NormalizeEmail(email))
	return err
}

// PurgeExpiredCodes removes expired verification codes and reports how many
// rows were deleted.
func (s *Store) PurgeExpiredCodes(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM verification_codes WHERE expires_at <= $1`, s.now())
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

// --- FeedbackStore ----------------------------------------------------------

func (s *Store) CreateFeedback(ctx context.Context, fb feedback.Feedback) (feedback.Feedback, error) {
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	fb.CreatedAt = s.now()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO feedback (id, name, email, message, created_at)
		VALUES (:id, :name, :email, :message, :created_at)
	`, fb)
	if err != nil {
		return feedback.Feedback{}, mapError(err)
	}
	return fb, nil
}
