package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is the flat row representation exchanged with record-oriented
// stores. Steps and Cleanup are JSON text on the write side; on the read
// side they may arrive as text (string, []byte, json.RawMessage) or as
// already-structured values, so adapters can pick either column type
// without touching the core.
type Record struct {
	RunID       string     `json:"run_id"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Steps       any        `json:"steps,omitempty"`
	Cleanup     any        `json:"cleanup,omitempty"`
}

// Record encodes the checkpoint into its flat row form, with Steps and
// Cleanup serialized to JSON text. Nil containers encode as their empty
// container form ("{}", "[]"), never as the JSON scalar null: jsonb columns
// with array predicates (jsonb_array_length) reject scalar null values.
func (cp Checkpoint) Record() (Record, error) {
	steps := json.RawMessage(`{}`)
	if cp.Steps != nil {
		var err error
		steps, err = json.Marshal(cp.Steps)
		if err != nil {
			return Record{}, fmt.Errorf("anchor/checkpoint: encode steps for %s: %w", cp.RunID, err)
		}
	}
	cleanup := json.RawMessage(`[]`)
	if cp.Cleanup != nil {
		var err error
		cleanup, err = json.Marshal(cp.Cleanup)
		if err != nil {
			return Record{}, fmt.Errorf("anchor/checkpoint: encode cleanup for %s: %w", cp.RunID, err)
		}
	}

	return Record{
		RunID:       cp.RunID,
		Status:      string(cp.Status),
		StartedAt:   cp.StartedAt,
		CompletedAt: cp.CompletedAt,
		Steps:       string(steps),
		Cleanup:     string(cleanup),
	}, nil
}

// FromRecord decodes a flat row back into a checkpoint, accepting both
// text-encoded and already-structured steps/cleanup transparently.
func FromRecord(rec Record) (Checkpoint, error) {
	cp := Checkpoint{
		RunID:       rec.RunID,
		Status:      Status(rec.Status),
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}

	if err := decodeColumn(rec.Steps, &cp.Steps); err != nil {
		return Checkpoint{}, fmt.Errorf("anchor/checkpoint: decode steps for %s: %w", rec.RunID, err)
	}
	if err := decodeColumn(rec.Cleanup, &cp.Cleanup); err != nil {
		return Checkpoint{}, fmt.Errorf("anchor/checkpoint: decode cleanup for %s: %w", rec.RunID, err)
	}

	return cp, nil
}

// decodeColumn unmarshals a column value into dst regardless of whether
// the adapter handed back serialized text or a structured value.
func decodeColumn(col any, dst any) error {
	switch v := col.(type) {
	case nil:
		return nil
	case json.RawMessage:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		// Structured value (maps/slices from a document store): round-trip
		// through JSON to land in the typed destination.
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, dst)
	}
}
