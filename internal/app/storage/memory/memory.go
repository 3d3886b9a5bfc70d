package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/imagebulk/internal/app/domain/account"
	"github.com/R3E-Network/imagebulk/internal/app/domain/download"
	"github.com/R3E-Network/imagebulk/internal/app/domain/feedback"
	"github.com/R3E-Network/imagebulk/internal/app/domain/payment"
	"github.com/R3E-Network/imagebulk/internal/app/domain/verification"
	"github.com/R3E-Network/imagebulk/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu             sync.RWMutex
	nextID         int64
	now            func() time.Time
	accounts       map[string]account.Account
	accountByEmail map[string]string
	downloads      map[string][]download.Record
	transactions   map[string]payment.Transaction // keyed by order id
	codes          map[string]verification.Pending
	feedback       []feedback.Feedback
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.DownloadStore = (*Store)(nil)
var _ storage.PaymentStore = (*Store)(nil)
var _ storage.VerificationStore = (*Store)(nil)
var _ storage.FeedbackStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:         1,
		now:            func() time.Time { return time.Now().UTC() },
		accounts:       make(map[string]account.Account),
		accountByEmail: make(map[string]string),
		downloads:      make(map[string][]download.Record),
		transactions:   make(map[string]payment.Transaction),
		codes:          make(map[string]verification.Pending),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// AccountStore implementation -------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct.Email = account.NormalizeEmail(acct.Email)
	if _, taken := s.accountByEmail[acct.Email]; taken {
		return account.Account{}, storage.ErrDuplicate
	}
	if acct.ID == "" {
		acct.ID = s.nextIDLocked()
	} else if _, exists := s.accounts[acct.ID]; exists {
		return account.Account{}, storage.ErrDuplicate
	}
	if acct.Credits < 0 {
		return account.Account{}, fmt.Errorf("credits must not be negative")
	}

	now := s.now()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	acct.Version = 1

	s.accounts[acct.ID] = acct
	s.accountByEmail[acct.Email] = acct.ID
	return acct, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	return acct, nil
}

func (s *Store) GetAccountByEmail(_ context.Context, email string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.accountByEmail[account.NormalizeEmail(email)]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	return s.accounts[id], nil
}

func (s *Store) UpdateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.accounts[acct.ID]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}

	original.PasswordHash = acct.PasswordHash
	original.Plan = acct.Plan
	original.Verified = acct.Verified
	original.UpdatedAt = s.now()

	s.accounts[acct.ID] = original
	return original, nil
}

func (s *Store) UpdatePlan(_ context.Context, id string, plan account.Plan) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	acct.Plan = plan
	acct.UpdatedAt = s.now()
	s.accounts[id] = acct
	return acct, nil
}

func (s *Store) UpdateCredits(_ context.Context, id string, expectedVersion int64, credits int64) (account.Account, error) {
	if credits < 0 {
		return account.Account{}, fmt.Errorf("credits must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	if acct.Version != expectedVersion {
		return account.Account{}, storage.ErrVersionConflict
	}

	acct.Credits = credits
	acct.Version++
	acct.UpdatedAt = s.now()
	s.accounts[id] = acct
	return acct, nil
}

// DownloadStore implementation ------------------------------------------------

func (s *Store) CreateDownload(_ context.Context, rec download.Record) (download.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[rec.AccountID]; !ok {
		return download.Record{}, storage.ErrNotFound
	}
	if rec.ID == "" {
		rec.ID = s.nextIDLocked()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}

	s.downloads[rec.AccountID] = append(s.downloads[rec.AccountID], rec)
	return rec, nil
}

func (s *Store) ListDownloads(_ context.Context, accountID string, limit int) ([]download.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.downloads[accountID]
	out := make([]download.Record, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		out = append(out, records[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PaymentStore implementation -------------------------------------------------

func (s *Store) CreateTransaction(_ context.Context, tx payment.Transaction) (payment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[tx.OrderID]; exists {
		return payment.Transaction{}, storage.ErrDuplicate
	}
	if tx.ID == "" {
		tx.ID = s.nextIDLocked()
	}
	if tx.Status == "" {
		tx.Status = payment.StatusPending
	}
	now := s.now()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	s.transactions[tx.OrderID] = tx
	return tx, nil
}

func (s *Store) GetTransactionByOrderID(_ context.Context, orderID string) (payment.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[orderID]
	if !ok {
		return payment.Transaction{}, storage.ErrNotFound
	}
	return tx, nil
}

func (s *Store) CompleteTransaction(_ context.Context, orderID, paymentID string) (payment.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[orderID]
	if !ok {
		return payment.Transaction{}, false, storage.ErrNotFound
	}
	if tx.Status != payment.StatusPending {
		return tx, false, nil
	}

	tx.Status = payment.StatusSuccess
	tx.PaymentID = paymentID
	tx.UpdatedAt = s.now()
	s.transactions[orderID] = tx
	return tx, true, nil
}

func (s *Store) ListTransactions(_ context.Context, accountID string) ([]payment.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]payment.Transaction, 0)
	for _, tx := range s.transactions {
		if accountID == "" || tx.AccountID == accountID {
			result = append(result, tx)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// VerificationStore implementation --------------------------------------------

func (s *Store) PutCode(_ context.Context, pending verification.Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending.Email = account.NormalizeEmail(pending.Email)
	s.codes[pending.Email] = pending
	return nil
}

func (s *Store) GetCode(_ context.Context, email string) (verification.Pending, error) {
	email = account.NormalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.codes[email]
	if !ok {
		return verification.Pending{}, storage.ErrNotFound
	}
	if pending.Expired(s.now()) {
		delete(s.codes, email)
		return verification.Pending{}, storage.ErrNotFound
	}
	return pending, nil
}

func (s *Store) RecordFailedAttempt(_ context.Context, email string) (int, error) {
	email = account.NormalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.codes[email]
	if !ok || pending.Expired(s.now()) {
		return 0, storage.ErrNotFound
	}
	pending.Attempts++
	s.codes[email] = pending
	return pending.Attempts, nil
}

func (s *Store) DeleteCode(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.codes, account.NormalizeEmail(email))
	return nil
}

// PurgeExpiredCodes drops every expired verification code and reports how
// many were removed.
func (s *Store) PurgeExpiredCodes(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for email, pending := range s.codes {
		if pending.Expired(now) {
			delete(s.codes, email)
			removed++
		}
	}
	return removed, nil
}

// FeedbackStore implementation ------------------------------------------------

func (s *Store) CreateFeedback(_ context.Context, fb feedback.Feedback) (feedback.Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fb.ID == "" {
		fb.ID = s.nextIDLocked()
	}
	fb.CreatedAt = s.now()
	s.feedback = append(s.feedback, fb)
	return fb, nil
}

// Feedback returns a copy of every stored submission.
func (s *Store) Feedback() []feedback.Feedback {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]feedback.Feedback, len(s.feedback))
	copy(out, s.feedback)
	return out
}
