// Package anchor provides crash-recoverable, idempotent execution of
// multi-step workflows without an orchestration sidecar.
//
// A run persists its progress as a single durable checkpoint. Re-running
// after a crash resumes from the last completed step: steps whose inputs
// have not changed replay from the checkpoint instead of executing again,
// and any compensation registered for a not-yet-confirmed risky operation
// is executed during the recovery pass.
//
// # Quick Start
//
//	reg := cleanup.NewRegistry()
//	reg.Register("delete_temp", removeTempFiles)
//
//	eng := engine.New(memory.New(), reg)
//
//	cp, err := eng.Load(ctx, "deploy-42")        // recovers pending cleanup
//	out, cp, err := engine.Step(ctx, eng, cp, "build", inputs, buildFn)
//	cp, err = eng.Complete(ctx, cp)
//
// Every orchestration call returns a new checkpoint value. Callers must
// adopt the returned value before the next call; checkpoints are never
// mutated in place.
//
// # Architecture
//
// Anchor follows a composable store pattern: the checkpoint package owns
// the storage adapter interface, and a single backend (postgres, bun,
// sqlite, redis, mongo, or memory) implements it plus lifecycle methods.
//
// Cleanup action IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers. Run IDs are caller-chosen strings; id.NewRunID generates
// one for callers without a natural key.
package anchor
