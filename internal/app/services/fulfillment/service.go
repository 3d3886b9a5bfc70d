// Package fulfillment turns a keyword and count into a billed archive.
package fulfillment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/R3E-Network/imagebulk/internal/app/domain/account"
	"github.com/R3E-Network/imagebulk/internal/app/domain/download"
	"github.com/R3E-Network/imagebulk/internal/app/events"
	"github.com/R3E-Network/imagebulk/internal/app/metrics"
	"github.com/R3E-Network/imagebulk/internal/app/services/archive"
	"github.com/R3E-Network/imagebulk/internal/app/services/imagesource"
	apperrors "github.com/R3E-Network/imagebulk/internal/errors"
	"github.com/R3E-Network/imagebulk/pkg/logger"
)

const (
	MaxKeywordLength = 50
	MaxCount         = 100
)

// Ledger is the subset of the ledger service the orchestrator needs.
type Ledger interface {
	Balance(ctx context.Context, accountID string) (int64, error)
	Debit(ctx context.Context, accountID string, amount int64) (account.Account, error)
	RecordDownload(ctx context.Context, accountID, keyword string, count int) (download.Record, error)
	History(ctx context.Context, accountID string, limit int) ([]download.Record, error)
}

// Service sequences a fulfillment: balance check, retrieval, packaging,
// then debit and history. Nothing is billed until the archive exists.
type Service struct {
	provider imagesource.Provider
	packer   archive.Packer
	ledger   Ledger
	events   events.Publisher
	log      *logger.Logger
	now      func() time.Time
}

// New constructs the orchestrator.
func New(provider imagesource.Provider, packer archive.Packer, ledger Ledger, publisher events.Publisher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("fulfillment")
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Service{
		provider: provider,
		packer:   packer,
		ledger:   ledger,
		events:   publisher,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Fulfill retrieves up to count images for keyword, packages them and bills
// one credit per image actually delivered. The returned deliverable's file is
// owned by the caller.
func (s *Service) Fulfill(ctx context.Context, accountID, keyword string, count int) (download.Deliverable, error) {
	start := time.Now()
	deliverable, err := s.fulfill(ctx, accountID, keyword, count)
	metrics.RecordFulfillment(outcome(err), deliverable.ImageCount, time.Since(start))
	return deliverable, err
}

func (s *Service) fulfill(ctx context.Context, accountID, keyword string, count int) (download.Deliverable, error) {
	keyword = strings.TrimSpace(keyword)
	if n := utf8.RuneCountInString(keyword); n < 1 || n > MaxKeywordLength {
		return download.Deliverable{}, apperrors.Validation("keyword must be between 1 and 50 characters")
	}
	if count < 1 || count > MaxCount {
		return download.Deliverable{}, apperrors.Validation("count must be between 1 and 100")
	}

	log := s.log.ForContext(ctx).WithField("account_id", accountID).WithField("keyword", keyword)

	balance, err := s.ledger.Balance(ctx, accountID)
	if err != nil {
		return download.Deliverable{}, err
	}
	if int64(count) > balance {
		return download.Deliverable{}, apperrors.InsufficientCredits(int64(count), balance)
	}

	images, err := s.provider.Search(ctx, keyword, count)
	if err != nil {
		log.WithError(err).Info("image retrieval failed")
		return download.Deliverable{}, err
	}
	if len(images) == 0 {
		return download.Deliverable{}, apperrors.NoResults(keyword)
	}
	if len(images) > count {
		imagesource.Discard(images[count:])
		images = images[:count]
	}

	path, err := s.packer.Pack(ctx, images, keyword)
	if err != nil {
		imagesource.Discard(images)
		log.WithError(err).Warn("archive build failed")
		if apperrors.GetServiceError(err) == nil && ctx.Err() == nil {
			err = apperrors.ArchiveFailed(err)
		}
		return download.Deliverable{}, err
	}

	// A caller that went away before billing is never charged.
	if err := ctx.Err(); err != nil {
		removeArchive(log, path)
		return download.Deliverable{}, err
	}

	// Debit is the commit point. The debit and the history entry run to
	// completion even if the caller disconnects now.
	commitCtx := context.WithoutCancel(ctx)
	charged := int64(len(images))
	updated, err := s.ledger.Debit(commitCtx, accountID, charged)
	if err != nil {
		removeArchive(log, path)
		log.WithError(err).Info("debit rejected")
		return download.Deliverable{}, err
	}

	if _, err := s.ledger.RecordDownload(commitCtx, accountID, keyword, len(images)); err != nil {
		log.WithError(err).WithField("charged", charged).Error("download billed but history write failed")
		removeArchive(log, path)
		return download.Deliverable{}, apperrors.Internal("failed to record download", err)
	}

	deliverable := download.Deliverable{
		Path:       path,
		Filename:   filepath.Base(path),
		ImageCount: len(images),
		Charged:    charged,
		Balance:    updated.Credits,
		CreatedAt:  s.now(),
	}

	log.WithField("images", deliverable.ImageCount).WithField("balance", deliverable.Balance).Info("fulfillment completed")
	s.events.Publish(commitCtx, events.TopicDownloadCompleted, events.DownloadCompleted{
		AccountID:  accountID,
		Keyword:    keyword,
		ImageCount: deliverable.ImageCount,
		Charged:    deliverable.Charged,
		Balance:    deliverable.Balance,
		Filename:   deliverable.Filename,
		OccurredAt: deliverable.CreatedAt,
	})
	return deliverable, nil
}

// History returns the caller's newest-first download records.
func (s *Service) History(ctx context.Context, accountID string, limit int) ([]download.Record, error) {
	return s.ledger.History(ctx, accountID, limit)
}

func removeArchive(log interface{ Warnf(string, ...interface{}) }, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("remove archive %s: %v", path, err)
	}
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if svcErr := apperrors.GetServiceError(err); svcErr != nil {
		return strings.ToLower(string(svcErr.Code))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "internal_error"
}
