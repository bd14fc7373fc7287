package bunstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/anchor/checkpoint"
)

type checkpointModel struct {
	bun.BaseModel `bun:"table:anchor_checkpoints"`

	RunID       string     `bun:"run_id,pk"`
	Status      string     `bun:"status,notnull,default:'running'"`
	StartedAt   time.Time  `bun:"started_at,notnull,default:current_timestamp"`
	CompletedAt *time.Time `bun:"completed_at"`
	Steps       []byte     `bun:"steps,notnull,type:jsonb"`
	Cleanup     []byte     `bun:"cleanup,notnull,type:jsonb"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toModel(cp checkpoint.Checkpoint) (*checkpointModel, error) {
	rec, err := cp.Record()
	if err != nil {
		return nil, err
	}
	return &checkpointModel{
		RunID:       rec.RunID,
		Status:      rec.Status,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
		Steps:       []byte(rec.Steps.(string)),
		Cleanup:     []byte(rec.Cleanup.(string)),
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

func fromModel(m *checkpointModel) (checkpoint.Checkpoint, error) {
	return checkpoint.FromRecord(checkpoint.Record{
		RunID:       m.RunID,
		Status:      m.Status,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		Steps:       m.Steps,
		Cleanup:     m.Cleanup,
	})
}
