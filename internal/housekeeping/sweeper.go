// Package housekeeping removes job directories that outlived their job.
// Normal jobs clean up after themselves; leftovers come from crashes or
// SIGKILL during a download.
package housekeeping

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Config configures a Sweeper.
type Config struct {
	Dir      string
	Prefix   string        // only entries with this name prefix are considered
	MaxAge   time.Duration // entries modified more recently are kept
	Schedule string        // cron spec; "@every 1h" style descriptors are accepted
	Logger   *slog.Logger

	// AfterSweep runs after each scheduled sweep, e.g. to prune finished
	// background job records.
	AfterSweep func()
}

type Sweeper struct {
	dir        string
	prefix     string
	maxAge     time.Duration
	schedule   string
	logger     *slog.Logger
	afterSweep func()
	now        func() time.Time

	mu        sync.Mutex
	scheduler *cron.Cron
}

func New(cfg Config) *Sweeper {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sweeper{
		dir:        cfg.Dir,
		prefix:     cfg.Prefix,
		maxAge:     cfg.MaxAge,
		schedule:   cfg.Schedule,
		logger:     cfg.Logger,
		afterSweep: cfg.AfterSweep,
		now:        time.Now,
	}
}

// Sweep removes stale entries once and returns how many were removed.
// A missing directory is not an error.
func (s *Sweeper) Sweep() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", s.dir, err)
	}

	cutoff := s.now().Add(-s.maxAge)
	removed := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), s.prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed concurrently
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn("remove stale job dir", "dir", path, "err", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("stale job dirs removed", "count", removed, "dir", s.dir)
	}
	return removed, nil
}

// Start sweeps once immediately, then on the configured schedule.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler != nil {
		return fmt.Errorf("sweeper already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.run); err != nil {
		return fmt.Errorf("invalid housekeeping schedule %q: %w", s.schedule, err)
	}
	s.run()
	c.Start()
	s.scheduler = c
	s.logger.Info("housekeeping scheduled", "schedule", s.schedule, "max_age", s.maxAge)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (s *Sweeper) run() {
	if _, err := s.Sweep(); err != nil {
		s.logger.Warn("housekeeping sweep failed", "err", err)
	}
	if s.afterSweep != nil {
		s.afterSweep()
	}
}
