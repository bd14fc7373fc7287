package cleanup

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xraph/anchor"
	"github.com/xraph/anchor/checkpoint"
	"github.com/xraph/anchor/id"
)

// Result reports the outcome of one dispatched action.
type Result struct {
	ActionID id.CleanupID
	Type     string

	// Skipped is true when no runner was registered for the type.
	Skipped bool

	// Err is the runner's failure, or anchor.ErrNoRunner when skipped; a
	// skipped compensation never ran, which is a failure to the caller.
	// Nil on success.
	Err error

	Elapsed time.Duration
}

// Executor runs batches of pending compensation actions. Failures are
// contained per action: a failing or unregistered action never blocks its
// siblings, and ExecuteAll itself never fails.
type Executor struct {
	registry *Registry
	logger   *slog.Logger
	limit    int
	limiter  *rate.Limiter
}

// ExecutorOption configures the Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the logger for the executor.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithConcurrency caps the number of actions in flight at once.
// Zero or negative means unbounded (the default).
func WithConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		e.limit = n
	}
}

// WithRateLimit paces action dispatch. Compensations usually call external
// APIs; pacing keeps a large recovery pass from hammering them.
func WithRateLimit(limit rate.Limit, burst int) ExecutorOption {
	return func(e *Executor) {
		e.limiter = rate.NewLimiter(limit, burst)
	}
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteAll dispatches every action concurrently and waits for the batch.
// Unregistered types are skipped with a warning and report
// anchor.ErrNoRunner; runner failures are logged and contained. The
// returned results are indexed like actions. ExecuteAll never returns an
// error: partial success is the expected outcome of a best-effort
// compensation pass.
func (e *Executor) ExecuteAll(ctx context.Context, actions []checkpoint.CleanupAction) []Result {
	results := make([]Result, len(actions))

	var g errgroup.Group
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}

	for i, action := range actions {
		idx := i
		act := action
		g.Go(func() error {
			results[idx] = e.execute(ctx, act)
			return nil
		})
	}

	//nolint:errcheck // goroutines never return errors; failures land in results
	g.Wait()
	return results
}

// execute runs a single action with containment.
func (e *Executor) execute(ctx context.Context, act checkpoint.CleanupAction) Result {
	res := Result{ActionID: act.ID, Type: act.Type}

	fn, ok := e.registry.Get(act.Type)
	if !ok {
		res.Skipped = true
		res.Err = anchor.ErrNoRunner
		e.logger.Warn("no cleanup runner registered, skipping action",
			slog.String("action_id", act.ID.String()),
			slog.String("type", act.Type),
		)
		return res
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			res.Err = err
			e.logger.Error("cleanup action not dispatched",
				slog.String("action_id", act.ID.String()),
				slog.String("type", act.Type),
				slog.String("error", err.Error()),
			)
			return res
		}
	}

	start := time.Now()
	err := fn(ctx, act.Params)
	res.Elapsed = time.Since(start)

	if err != nil {
		res.Err = err
		e.logger.Error("cleanup action failed",
			slog.String("action_id", act.ID.String()),
			slog.String("type", act.Type),
			slog.String("error", err.Error()),
		)
		return res
	}

	e.logger.Debug("cleanup action completed",
		slog.String("action_id", act.ID.String()),
		slog.String("type", act.Type),
		slog.Duration("elapsed", res.Elapsed),
	)
	return res
}

// Failures counts the results that carry an error.
func Failures(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
