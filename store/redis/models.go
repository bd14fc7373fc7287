package redis

import (
	"time"

	"github.com/xraph/anchor/checkpoint"
	"github.com/xraph/anchor/id"
)

// stepModel is the msgpack form of a step record.
type stepModel struct {
	Result      []byte    `msgpack:"result"`
	InputHash   string    `msgpack:"input_hash"`
	CompletedAt time.Time `msgpack:"completed_at"`
}

// cleanupModel is the msgpack form of a cleanup action. IDs travel as
// strings so re-encoding never touches the typed ID internals.
type cleanupModel struct {
	ID           string         `msgpack:"id"`
	Type         string         `msgpack:"type"`
	Params       map[string]any `msgpack:"params"`
	RegisteredAt time.Time      `msgpack:"registered_at"`
}

// checkpointModel is the msgpack blob stored per run.
type checkpointModel struct {
	RunID       string               `msgpack:"run_id"`
	Status      string               `msgpack:"status"`
	StartedAt   time.Time            `msgpack:"started_at"`
	CompletedAt *time.Time           `msgpack:"completed_at"`
	Steps       map[string]stepModel `msgpack:"steps"`
	Cleanup     []cleanupModel       `msgpack:"cleanup"`
}

func toModel(cp checkpoint.Checkpoint) checkpointModel {
	m := checkpointModel{
		RunID:       cp.RunID,
		Status:      string(cp.Status),
		StartedAt:   cp.StartedAt,
		CompletedAt: cp.CompletedAt,
	}
	if len(cp.Steps) > 0 {
		m.Steps = make(map[string]stepModel, len(cp.Steps))
		for name, rec := range cp.Steps {
			m.Steps[name] = stepModel{
				Result:      rec.Result,
				InputHash:   rec.InputHash,
				CompletedAt: rec.CompletedAt,
			}
		}
	}
	for _, a := range cp.Cleanup {
		m.Cleanup = append(m.Cleanup, cleanupModel{
			ID:           a.ID.String(),
			Type:         a.Type,
			Params:       a.Params,
			RegisteredAt: a.RegisteredAt,
		})
	}
	return m
}

func fromModel(m checkpointModel) (checkpoint.Checkpoint, error) {
	cp := checkpoint.Checkpoint{
		RunID:       m.RunID,
		Status:      checkpoint.Status(m.Status),
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
	}
	if len(m.Steps) > 0 {
		cp.Steps = make(map[string]checkpoint.StepRecord, len(m.Steps))
		for name, rec := range m.Steps {
			cp.Steps[name] = checkpoint.StepRecord{
				Result:      rec.Result,
				InputHash:   rec.InputHash,
				CompletedAt: rec.CompletedAt,
			}
		}
	}
	for _, a := range m.Cleanup {
		actionID, err := id.ParseCleanupID(a.ID)
		if err != nil {
			return checkpoint.Checkpoint{}, err
		}
		cp.Cleanup = append(cp.Cleanup, checkpoint.CleanupAction{
			ID:           actionID,
			Type:         a.Type,
			Params:       a.Params,
			RegisteredAt: a.RegisteredAt,
		})
	}
	return cp, nil
}
