package reload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler triggers a reload function on a cron schedule. Standard five-field
// expressions and descriptors such as "@every 1m" are accepted.
type Scheduler struct {
	spec    string
	reload  func(context.Context) error
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewScheduler validates spec and returns a stopped scheduler. timeout bounds
// each triggered run; zero means no bound beyond the reload's own.
func NewScheduler(spec string, reload func(context.Context) error, timeout time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid reload schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		spec:    spec,
		reload:  reload,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "reload.scheduler")),
	}, nil
}

// Start registers the job and starts the cron loop. The scheduler stops on
// its own once ctx is cancelled and may be started again after Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	// A fresh cron per start keeps exactly one registered job across restarts.
	c := cron.New()
	if _, err := c.AddFunc(s.spec, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("schedule reload: %w", err)
	}
	c.Start()
	s.cron = c
	s.running = true
	s.logger.Info("reload scheduler started", slog.String("schedule", s.spec))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := s.reload(ctx); err != nil {
		s.logger.Warn("scheduled reload failed", slog.Any("error", err))
		return
	}
	s.logger.Debug("scheduled reload completed")
}

// Stop halts the cron loop and waits for a running reload to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("reload scheduler stopped")
}

// NextRun reports when the job fires next, or the zero time when stopped.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return time.Time{}
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
