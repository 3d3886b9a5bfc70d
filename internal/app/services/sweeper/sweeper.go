// Package sweeper removes expired deliverables, orphaned image files and
// stale verification codes on a cron schedule.
package sweeper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/imagebulk/internal/app/metrics"
	"github.com/R3E-Network/imagebulk/internal/app/system"
	"github.com/R3E-Network/imagebulk/pkg/logger"
)

// CodePurger drops expired verification codes.
type CodePurger interface {
	PurgeExpiredCodes(ctx context.Context) (int, error)
}

// Config controls the sweep.
type Config struct {
	// Dirs are scanned non-recursively; files older than Retention are removed.
	Dirs      []string
	Retention time.Duration
	// Schedule is a standard cron spec or descriptor such as "@every 15m".
	Schedule string
}

// Sweeper is a lifecycle-managed cleanup job.
type Sweeper struct {
	cfg    Config
	codes  CodePurger
	log    *logger.Logger
	now    func() time.Time
	parsed cron.Schedule

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

var _ system.Service = (*Sweeper)(nil)

// New validates the schedule and constructs the sweeper. codes may be nil.
func New(cfg Config, codes CodePurger, log *logger.Logger) (*Sweeper, error) {
	if log == nil {
		log = logger.NewDefault("sweeper")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 15m"
	}
	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", cfg.Schedule, err)
	}
	return &Sweeper{cfg: cfg, codes: codes, log: log, now: time.Now, parsed: schedule}, nil
}

func (s *Sweeper) Name() string { return "archive-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	c.Schedule(s.parsed, cron.FuncJob(func() { s.Sweep(ctx) }))
	c.Start()
	s.cron = c
	s.running = true

	s.log.WithField("schedule", s.cfg.Schedule).WithField("retention", s.cfg.Retention).Info("archive sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.running = false
	s.cron = nil
	s.mu.Unlock()

	// Stop waits for a running sweep to finish.
	done := c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Sweep runs one cleanup pass and returns the number of files removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.cfg.Retention)
	removed := 0
	for _, dir := range s.cfg.Dirs {
		removed += s.sweepDir(dir, cutoff)
	}
	metrics.RecordSweep(removed)

	purged := 0
	if s.codes != nil {
		n, err := s.codes.PurgeExpiredCodes(ctx)
		if err != nil {
			s.log.WithError(err).Warn("purge expired verification codes failed")
		}
		purged = n
	}

	if removed > 0 || purged > 0 {
		s.log.WithField("files", removed).WithField("codes", purged).Info("sweep complete")
	}
	return removed
}

func (s *Sweeper) sweepDir(dir string, cutoff time.Time) int {
	if dir == "" {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.WithError(err).WithField("dir", dir).Warn("read sweep dir failed")
		}
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.WithError(err).WithField("path", path).Warn("remove stale file failed")
			continue
		}
		removed++
	}
	return removed
}
