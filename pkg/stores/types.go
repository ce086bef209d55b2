package stores

import (
	"context"
	"time"

	"github.com/openfroyo/tfdriver/pkg/engine"
)

// Execution is a recorded Executor operation. Output streams are not kept;
// the message and error are enough to tell what happened.
type Execution struct {
	ID         string        `json:"id"`
	Operation  string        `json:"operation"`
	WorkDir    string        `json:"work_dir"`
	Binary     string        `json:"binary"`
	Args       []string      `json:"args"`
	Success    bool          `json:"success"`
	ExitCode   int           `json:"exit_code"`
	ErrorClass string        `json:"error_class,omitempty"`
	Error      *string       `json:"error,omitempty"`
	Message    string        `json:"message,omitempty"`
	Attempts   int           `json:"attempts"`
	HasChanges bool          `json:"has_changes"`
	Changes    *string       `json:"changes,omitempty"` // JSON blob
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Status returns "success" or "failed".
func (e *Execution) Status() string {
	if e.Success {
		return "success"
	}
	return "failed"
}

// ExecutionFilter narrows ListExecutions. Zero values match everything.
type ExecutionFilter struct {
	Operation  string
	WorkDir    string
	FailedOnly bool
	Since      time.Time
	Limit      int
	Offset     int
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`              // e.g., "workspace.cleaned", "workspace.removed"
	Actor     string    `json:"actor"`               // user or system identifier
	TargetID  *string   `json:"target_id,omitempty"` // workspace path or execution ID
	Details   *string   `json:"details,omitempty"`   // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	engine.Recorder

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Execution history
	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)
	PruneExecutions(ctx context.Context, before time.Time) (int64, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
