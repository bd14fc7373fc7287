// Package sweeper runs the engine's sweeping passes on a schedule: reaping
// abandoned runs and draining pending compensations that no live process
// will ever execute.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/anchor/engine"
)

// Engine is the subset of the engine surface the sweeper drives.
// Satisfied by *engine.Engine; narrow for testability.
type Engine interface {
	Sweep(ctx context.Context, olderThan time.Duration) (engine.SweepReport, error)
	SweepAllCleanups(ctx context.Context) (int, error)
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithInterval sets the tick interval for the sweep loop. Ignored when a
// cron schedule is set.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) { s.interval = d }
}

// WithStaleAfter sets how long a running checkpoint may sit untouched
// before a sweep reaps it.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Sweeper) { s.staleAfter = d }
}

// WithSchedule replaces the fixed interval with a cron expression, parsed
// with the standard 5-field syntax plus descriptors ("@every 10m",
// "@hourly"). Returns the parse error on Start.
func WithSchedule(expr string) Option {
	return func(s *Sweeper) { s.scheduleExpr = expr }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

// Sweeper periodically invokes Sweep and SweepAllCleanups on the engine.
type Sweeper struct {
	engine     Engine
	logger     *slog.Logger
	interval   time.Duration
	staleAfter time.Duration

	scheduleExpr string
	schedule     cronlib.Schedule

	stopCh chan struct{}
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a Sweeper with a 1-minute interval and a 30-minute staleness
// threshold.
func New(engine Engine, opts ...Option) *Sweeper {
	s := &Sweeper{
		engine:     engine,
		logger:     slog.Default(),
		interval:   time.Minute,
		staleAfter: 30 * time.Minute,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the sweep loop goroutine. Safe to call once.
func (s *Sweeper) Start(_ context.Context) error {
	if s.scheduleExpr != "" {
		schedule, err := cronParser.Parse(s.scheduleExpr)
		if err != nil {
			return err
		}
		s.schedule = schedule
	}

	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.loop()
		s.logger.Info("sweeper started",
			slog.Duration("stale_after", s.staleAfter),
			slog.String("schedule", s.scheduleExpr),
			slog.Duration("interval", s.interval),
		)
	})
	return nil
}

// Stop signals the loop to stop and waits for it to finish.
func (s *Sweeper) Stop(_ context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		s.logger.Info("sweeper stopped")
	})
	return nil
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	timer := time.NewTimer(s.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
			s.sweep()
			timer.Reset(s.nextDelay())
		}
	}
}

// nextDelay returns the wait until the next pass: the cron schedule's next
// fire time when one is set, the fixed interval otherwise.
func (s *Sweeper) nextDelay() time.Duration {
	if s.schedule == nil {
		return s.interval
	}
	now := time.Now()
	d := s.schedule.Next(now).Sub(now)
	if d <= 0 {
		d = time.Second
	}
	return d
}

func (s *Sweeper) sweep() {
	ctx := context.Background()

	report, err := s.engine.Sweep(ctx, s.staleAfter)
	if err != nil {
		s.logger.Error("sweep pass failed", slog.Any("error", err))
	} else if report.Cleaned > 0 {
		s.logger.Info("sweep pass reaped runs", slog.Int("cleaned", report.Cleaned))
	}

	drained, err := s.engine.SweepAllCleanups(ctx)
	if err != nil {
		s.logger.Error("cleanup drain failed", slog.Any("error", err))
	} else if drained > 0 {
		s.logger.Info("drained pending cleanups", slog.Int("runs", drained))
	}
}
