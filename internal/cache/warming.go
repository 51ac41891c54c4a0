package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kjstillabower/pws-dashboard/internal/observability"
)

// Target is one resource the warmer keeps populated. Fetch goes through the gateway so a
// warm run fills the same slot that requests read.
type Target struct {
	Name  string
	Fetch func(ctx context.Context) error
}

// CacheWarmer refreshes the gateway's resources ahead of dashboard polls.
type CacheWarmer struct {
	targets []Target
	logger  *zap.Logger
	timeout time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

// NewCacheWarmer creates a CacheWarmer. timeout bounds a single warm run; zero means no bound.
func NewCacheWarmer(logger *zap.Logger, timeout time.Duration, targets ...Target) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{targets: targets, logger: logger, timeout: timeout}
}

// Warm fetches every target concurrently. Returns the joined errors of failed targets.
func (w *CacheWarmer) Warm(ctx context.Context) error {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	start := time.Now()
	var wg sync.WaitGroup
	errCh := make(chan error, len(w.targets))
	for _, target := range w.targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := target.Fetch(ctx); err != nil {
				observability.RefreshRunsTotal.WithLabelValues(target.Name, "error").Inc()
				errCh <- fmt.Errorf("warm %s: %w", target.Name, err)
				return
			}
			observability.RefreshRunsTotal.WithLabelValues(target.Name, "success").Inc()
		}()
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	w.logger.Debug("cache warming complete",
		zap.Int("targets", len(w.targets)),
		zap.Int("errors", len(errs)),
		zap.Duration("duration", time.Since(start)),
	)
	return errors.Join(errs...)
}

// Start runs Warm on the cron schedule (e.g. "@every 30s"). An empty schedule leaves the
// warmer disabled. Overlapping runs are skipped rather than queued.
func (w *CacheWarmer) Start(schedule string) error {
	if schedule == "" {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return errors.New("cache warmer already started")
	}

	cl := cronLogger{w.logger.Sugar()}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	_, err := c.AddFunc(schedule, func() {
		if err := w.Warm(context.Background()); err != nil {
			w.logger.Warn("scheduled cache warm failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	c.Start()
	w.cron = c
	w.logger.Info("cache warmer started", zap.String("schedule", schedule), zap.Int("targets", len(w.targets)))
	return nil
}

// Stop halts the schedule and waits for a running warm to finish or ctx to end.
func (w *CacheWarmer) Stop(ctx context.Context) {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
