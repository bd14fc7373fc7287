package engine

import (
	"context"
	"time"
)

// Emitter receives lifecycle events from the engine. Satisfied by
// observability.Metrics; implement it to plug in custom hooks.
// Emitters must not block: they run inline on the orchestration path.
type Emitter interface {
	// EmitStepCompleted fires after a step executed and its result was
	// durably saved.
	EmitStepCompleted(ctx context.Context, runID, step string, elapsed time.Duration)

	// EmitStepCached fires when a step replays from the checkpoint
	// without invoking its function.
	EmitStepCached(ctx context.Context, runID, step string)

	// EmitStepFailed fires when a step function returns an error.
	EmitStepFailed(ctx context.Context, runID, step string, err error)

	// EmitRunRecovered fires after Load's crash-recovery pass, with the
	// number of compensation actions attempted.
	EmitRunRecovered(ctx context.Context, runID string, actions int)

	// EmitRunCompleted fires on the transition to completed.
	EmitRunCompleted(ctx context.Context, runID string)

	// EmitRunFailed fires on the transition to failed.
	EmitRunFailed(ctx context.Context, runID string)

	// EmitRunSwept fires when a sweep reaps a stale run.
	EmitRunSwept(ctx context.Context, runID string)

	// EmitCleanupFailed fires once per compensation action that failed
	// during a recovery or sweeping pass.
	EmitCleanupFailed(ctx context.Context, runID, actionType string, err error)
}

// NopEmitter is the default Emitter; it ignores every event.
type NopEmitter struct{}

func (NopEmitter) EmitStepCompleted(context.Context, string, string, time.Duration) {}
func (NopEmitter) EmitStepCached(context.Context, string, string)                   {}
func (NopEmitter) EmitStepFailed(context.Context, string, string, error)            {}
func (NopEmitter) EmitRunRecovered(context.Context, string, int)                    {}
func (NopEmitter) EmitRunCompleted(context.Context, string)                         {}
func (NopEmitter) EmitRunFailed(context.Context, string)                            {}
func (NopEmitter) EmitRunSwept(context.Context, string)                             {}
func (NopEmitter) EmitCleanupFailed(context.Context, string, string, error)         {}
