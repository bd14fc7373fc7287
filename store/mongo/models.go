package mongo

import (
	"time"

	"github.com/xraph/anchor/checkpoint"
	"github.com/xraph/anchor/id"
)

type stepDoc struct {
	Result      []byte    `bson:"result,omitempty"`
	InputHash   string    `bson:"input_hash"`
	CompletedAt time.Time `bson:"completed_at"`
}

type cleanupDoc struct {
	ID           string         `bson:"id"`
	Type         string         `bson:"type"`
	Params       map[string]any `bson:"params,omitempty"`
	RegisteredAt time.Time      `bson:"registered_at"`
}

type checkpointDoc struct {
	RunID       string             `bson:"_id"`
	Status      string             `bson:"status"`
	StartedAt   time.Time          `bson:"started_at"`
	CompletedAt *time.Time         `bson:"completed_at,omitempty"`
	Steps       map[string]stepDoc `bson:"steps,omitempty"`
	Cleanup     []cleanupDoc       `bson:"cleanup,omitempty"`
	UpdatedAt   time.Time          `bson:"updated_at"`
}

func toDoc(cp checkpoint.Checkpoint) *checkpointDoc {
	doc := &checkpointDoc{
		RunID:       cp.RunID,
		Status:      string(cp.Status),
		StartedAt:   cp.StartedAt,
		CompletedAt: cp.CompletedAt,
		UpdatedAt:   time.Now().UTC(),
	}
	if len(cp.Steps) > 0 {
		doc.Steps = make(map[string]stepDoc, len(cp.Steps))
		for name, rec := range cp.Steps {
			doc.Steps[name] = stepDoc{
				Result:      rec.Result,
				InputHash:   rec.InputHash,
				CompletedAt: rec.CompletedAt,
			}
		}
	}
	for _, a := range cp.Cleanup {
		doc.Cleanup = append(doc.Cleanup, cleanupDoc{
			ID:           a.ID.String(),
			Type:         a.Type,
			Params:       a.Params,
			RegisteredAt: a.RegisteredAt,
		})
	}
	return doc
}

func fromDoc(doc *checkpointDoc) (checkpoint.Checkpoint, error) {
	cp := checkpoint.Checkpoint{
		RunID:       doc.RunID,
		Status:      checkpoint.Status(doc.Status),
		StartedAt:   doc.StartedAt,
		CompletedAt: doc.CompletedAt,
	}
	if len(doc.Steps) > 0 {
		cp.Steps = make(map[string]checkpoint.StepRecord, len(doc.Steps))
		for name, rec := range doc.Steps {
			cp.Steps[name] = checkpoint.StepRecord{
				Result:      rec.Result,
				InputHash:   rec.InputHash,
				CompletedAt: rec.CompletedAt,
			}
		}
	}
	for _, a := range doc.Cleanup {
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
