// Package ledger owns every balance mutation and the download history.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/R3E-Network/imagebulk/internal/app/domain/account"
	"github.com/R3E-Network/imagebulk/internal/app/domain/download"
	"github.com/R3E-Network/imagebulk/internal/app/metrics"
	"github.com/R3E-Network/imagebulk/internal/app/storage"
	apperrors "github.com/R3E-Network/imagebulk/internal/errors"
	"github.com/R3E-Network/imagebulk/pkg/logger"
)

const (
	defaultMaxRetries = 5
	// MaxHistory caps a single history page.
	MaxHistory = 50
)

// Service applies debits and credits as a read-modify-write on the account's
// current persisted state. Writes are serialized per account in-process and
// guarded by the account version across processes.
type Service struct {
	accounts   storage.AccountStore
	downloads  storage.DownloadStore
	log        *logger.Logger
	locks      *keyedMutex
	maxRetries int
	now        func() time.Time
}

// New constructs a ledger service.
func New(accounts storage.AccountStore, downloads storage.DownloadStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{
		accounts:   accounts,
		downloads:  downloads,
		log:        log,
		locks:      newKeyedMutex(),
		maxRetries: defaultMaxRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Debit removes amount credits, rejecting the write with InsufficientCredits
// if the current balance is smaller.
func (s *Service) Debit(ctx context.Context, accountID string, amount int64) (account.Account, error) {
	if amount <= 0 {
		return account.Account{}, apperrors.Validation("debit amount must be positive")
	}
	acct, err := s.apply(ctx, accountID, func(current account.Account) (int64, error) {
		if amount > current.Credits {
			return 0, apperrors.InsufficientCredits(amount, current.Credits)
		}
		return current.Credits - amount, nil
	})
	if err != nil {
		return account.Account{}, err
	}
	metrics.RecordDebit(amount)
	s.log.WithField("account_id", accountID).WithField("amount", amount).WithField("balance", acct.Credits).Info("credits debited")
	return acct, nil
}

// Credit adds amount credits.
func (s *Service) Credit(ctx context.Context, accountID string, amount int64) (account.Account, error) {
	if amount <= 0 {
		return account.Account{}, apperrors.Validation("credit amount must be positive")
	}
	acct, err := s.apply(ctx, accountID, func(current account.Account) (int64, error) {
		return current.Credits + amount, nil
	})
	if err != nil {
		return account.Account{}, err
	}
	metrics.RecordCredit(amount)
	s.log.WithField("account_id", accountID).WithField("amount", amount).WithField("balance", acct.Credits).Info("credits added")
	return acct, nil
}

// Balance reads the current balance.
func (s *Service) Balance(ctx context.Context, accountID string) (int64, error) {
	acct, err := s.load(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acct.Credits, nil
}

func (s *Service) apply(ctx context.Context, accountID string, next func(account.Account) (int64, error)) (account.Account, error) {
	release := s.locks.Lock(accountID)
	defer release()

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return account.Account{}, err
		}
		current, err := s.load(ctx, accountID)
		if err != nil {
			return account.Account{}, err
		}
		balance, err := next(current)
		if err != nil {
			return account.Account{}, err
		}

		updated, err := s.accounts.UpdateCredits(ctx, accountID, current.Version, balance)
		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, storage.ErrVersionConflict):
			metrics.RecordLedgerConflict()
			s.log.WithField("account_id", accountID).WithField("attempt", attempt+1).Debug("balance changed concurrently; retrying")
			continue
		case errors.Is(err, storage.ErrNotFound):
			return account.Account{}, apperrors.NotFound("account", accountID)
		default:
			return account.Account{}, fmt.Errorf("update credits: %w", err)
		}
	}
	return account.Account{}, apperrors.Conflict("balance is changing too quickly, please retry")
}

func (s *Service) load(ctx context.Context, accountID string) (account.Account, error) {
	acct, err := s.accounts.GetAccount(ctx, accountID)
	if errors.Is(err, storage.ErrNotFound) {
		return account.Account{}, apperrors.NotFound("account", accountID)
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("load account: %w", err)
	}
	return acct, nil
}

// RecordDownload appends a history entry stamped with the server time.
func (s *Service) RecordDownload(ctx context.Context, accountID, keyword string, count int) (download.Record, error) {
	rec, err := s.downloads.CreateDownload(ctx, download.Record{
		AccountID: accountID,
		Keyword:   strings.TrimSpace(keyword),
		Count:     count,
		Timestamp: s.now(),
	})
	if errors.Is(err, storage.ErrNotFound) {
		return download.Record{}, apperrors.NotFound("account", accountID)
	}
	if err != nil {
		return download.Record{}, fmt.Errorf("record download: %w", err)
	}
	return rec, nil
}

// History returns newest-first records. limit is clamped to [1, MaxHistory];
// zero or negative means MaxHistory.
func (s *Service) History(ctx context.Context, accountID string, limit int) ([]download.Record, error) {
	if limit <= 0 || limit > MaxHistory {
		limit = MaxHistory
	}
	records, err := s.downloads.ListDownloads(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}
	return records, nil
}
