package history

import (
	"context"
	"time"
)

// Event is one observed workspace change, flattened for export to external
// analytics systems.
type Event struct {
	FilePath   string    `json:"file_path"`
	ChangeType string    `json:"change_type"`
	Workspace  string    `json:"workspace"`
	GitBranch  string    `json:"git_branch"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink is a destination for change events. Sends are best-effort: callers
// log and drop on error rather than retrying. Implementations must be safe
// for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
