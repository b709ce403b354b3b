package store

import (
	"time"

	"github.com/fyrsmithlabs/missiond/internal/retry"
	"github.com/fyrsmithlabs/missiond/internal/state"
)

// Run control statuses. The control record is the only mutable
// side-channel the run loop consults mid-execution.
const (
	ControlActive = "active"
	ControlPaused = "paused"
)

// Queue job states.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobDone       = "done"
)

// Step lifecycle states.
const (
	StepPending = "pending"
	StepOK      = "ok"
	StepError   = "error"
)

// Mission is a caller-submitted objective plus budget, permission, and
// runtime constraints. Immutable once created.
type Mission struct {
	ID          string         `gorm:"primaryKey" json:"id"`
	Objective   string         `gorm:"not null" json:"objective"`
	Domain      string         `gorm:"not null;default:general" json:"domain"`
	Permissions []string       `gorm:"serializer:json" json:"permissions"`
	BudgetUSD   float64        `json:"budget_usd"`
	MaxSteps    int            `json:"max_steps"`
	Metadata    map[string]any `gorm:"serializer:json" json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Run is one execution attempt of a Mission. Mutated only by the
// orchestrator through validated state transitions.
type Run struct {
	ID        string         `gorm:"primaryKey" json:"id"`
	MissionID string         `gorm:"index;not null" json:"mission_id"`
	State     state.RunState `gorm:"not null" json:"state"`
	Attempt   int            `json:"attempt"`
	CostUSD   float64        `json:"cost_usd"`
	CreatedAt time.Time      `json:"created_at"`
}

// Step is one executor or validator invocation within a run, written
// once on completion and never mutated after.
type Step struct {
	ID         string         `gorm:"primaryKey" json:"id"`
	RunID      string         `gorm:"index;not null" json:"run_id"`
	Role       string         `gorm:"not null" json:"role"`
	Action     string         `gorm:"not null" json:"action"`
	Input      map[string]any `gorm:"serializer:json" json:"input"`
	Output     map[string]any `gorm:"serializer:json" json:"output"`
	State      string         `gorm:"not null;default:pending" json:"state"`
	DurationMS int64          `json:"duration_ms"`
	ErrorType  retry.Class    `json:"error_type,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Artifact records an executor output persisted to the workspace.
// Immutable once written; Checksum is the sha256 of the stored bytes.
type Artifact struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	RunID       string    `gorm:"index;not null" json:"run_id"`
	StepID      string    `gorm:"not null" json:"step_id"`
	Kind        string    `gorm:"not null" json:"kind"`
	Path        string    `gorm:"not null" json:"path"`
	ContentType string    `json:"content_type"`
	Checksum    string    `json:"checksum"`
	Provenance  string    `gorm:"default:generated" json:"provenance"`
	CreatedAt   time.Time `json:"created_at"`
}

// TelemetryEvent is an append-only observability record. The
// orchestrator never reads these back.
type TelemetryEvent struct {
	ID        uint              `gorm:"primaryKey;autoIncrement" json:"-"`
	RunID     string            `gorm:"index;not null" json:"run_id"`
	StepID    string            `json:"step_id"`
	Name      string            `gorm:"not null" json:"name"`
	Value     float64           `json:"value"`
	Tags      map[string]string `gorm:"serializer:json" json:"tags"`
	CreatedAt time.Time         `json:"created_at"`
}

// QueueJob carries an opaque payload for a run. At most one claimer may
// hold a job in the processing state.
type QueueJob struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID     string         `gorm:"index;not null" json:"run_id"`
	Payload   map[string]any `gorm:"serializer:json" json:"payload"`
	State     string         `gorm:"not null;default:queued" json:"state"`
	CreatedAt time.Time      `json:"created_at"`
}

// RunControl maps a run to its operator-settable control status.
type RunControl struct {
	RunID     string    `gorm:"primaryKey" json:"run_id"`
	Status    string    `gorm:"not null" json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EpisodicMemory is an append-only event log entry, namespaced by
// mission domain.
type EpisodicMemory struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Namespace string    `gorm:"index;not null"`
	Content   string    `gorm:"not null"`
	CreatedAt time.Time
}

// SemanticMemory is an append-only result snippet, namespaced by
// mission domain.
type SemanticMemory struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	Namespace     string    `gorm:"index;not null"`
	Content       string    `gorm:"not null"`
	EmbeddingHint string
	CreatedAt     time.Time
}
