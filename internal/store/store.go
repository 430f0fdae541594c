package store

import (
	"context"
	"time"
)

// Transition is one supervisor state change worth persisting: the state
// entered, the PID owning the backend at that moment (0 when none), and a
// short free-form detail such as an exit error. OccurredAt is UTC.
type Transition struct {
	State      string
	PID        int
	Detail     string
	OccurredAt time.Time
}

// RiskPoint is one point of the dashboard risk time-series, appended on every
// successful poll so the series survives restarts of the runtime.
type RiskPoint struct {
	Workspace   string
	RiskScore   float64
	HealthScore float64
	At          time.Time
}

// Store persists supervisor lifecycle transitions and the risk-score history.
// Implementations must be safe for concurrent use.
type Store interface {
	EnsureSchema(ctx context.Context) error
	RecordTransition(ctx context.Context, tr Transition) error
	RecordRisk(ctx context.Context, pt RiskPoint) error
	// RiskHistory returns up to limit most recent points for the workspace,
	// oldest first.
	RiskHistory(ctx context.Context, workspace string, limit int) ([]RiskPoint, error)
	// Transitions returns up to limit most recent transitions, newest first.
	Transitions(ctx context.Context, limit int) ([]Transition, error)
	Close() error
}
