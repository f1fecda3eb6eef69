// Package embedding implements the automatic embedding pipeline: jobs
// enqueued by entity writes are drained in batches, rendered content is
// embedded via an external model, and the resulting vectors are persisted
// to a tenant-scoped pgvector store that serves similarity search.
package embedding

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// VectorDimension is the fixed dimension of stored embedding vectors.
// The embedder is asked for exactly this output dimensionality and the
// pgvector column is declared as VECTOR(1536); see db/migrations.
const VectorDimension int32 = 1536

var (
	// ErrEmptyContent indicates a job with no embeddable content.
	// Terminal: retrying cannot succeed until the entity changes again.
	ErrEmptyContent = errors.New("job content is empty")

	// ErrInvalidJob indicates a structurally invalid job (unknown entity
	// type, missing ids, unparseable payload). Terminal.
	ErrInvalidJob = errors.New("invalid embedding job")
)

// Job is the queue message payload for one embedding unit of work.
//
// Content is a deterministic rendering of the entity's embeddable fields:
// two jobs for the same entity version carry identical content.
type Job struct {
	EntityType string         `json:"entity_type"`
	EntityID   uuid.UUID      `json:"entity_id"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
}

// knownEntityTypes are the entity tables the pipeline embeds.
var knownEntityTypes = map[string]struct{}{
	"features": {},
	"releases": {},
}

// Validate checks the job's structural invariants.
// Returns ErrInvalidJob or ErrEmptyContent (both terminal).
func (j Job) Validate() error {
	if _, ok := knownEntityTypes[j.EntityType]; !ok {
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalidJob, j.EntityType)
	}
	if j.EntityID == uuid.Nil {
		return fmt.Errorf("%w: entity id is nil", ErrInvalidJob)
	}
	if j.TenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant id is nil", ErrInvalidJob)
	}
	if j.Content == "" {
		return ErrEmptyContent
	}
	return nil
}

// Marshal encodes the job as its queue wire format.
func (j Job) Marshal() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding job: %w", err)
	}
	return data, nil
}

// UnmarshalJob decodes a queue payload into a Job.
// A payload that does not parse is an ErrInvalidJob (terminal).
func UnmarshalJob(payload []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(payload, &j); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	return j, nil
}

// IsTerminal reports whether err can never succeed on retry.
// Terminal jobs are quarantined immediately instead of re-leased.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrInvalidJob) || errors.Is(err, ErrEmptyContent)
}
