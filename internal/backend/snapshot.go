package backend

import "time"

// Snapshot is the aggregated dashboard state fetched from the drift engine.
// It is replaced wholesale on every successful poll; consumers receive the
// pointer and must treat it as read-only.
type Snapshot struct {
	HealthScore float64           `json:"health_score"`
	RiskScore   float64           `json:"risk_score"`
	Graph       DependencySummary `json:"dependency_graph"`
	Drift       []DriftItem       `json:"drift"`
	Workers     WorkerCounters    `json:"workers"`
	RiskHistory []RiskSample      `json:"risk_history"`
	Issues      []Issue           `json:"issues"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// DependencySummary condenses the engine's dependency graph.
type DependencySummary struct {
	Nodes  int `json:"nodes"`
	Edges  int `json:"edges"`
	Cycles int `json:"cycles"`
}

// DriftItem is one detected divergence between code and its contract.
type DriftItem struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Detail   string `json:"detail"`
	Severity string `json:"severity"`
}

// WorkerCounters reports the engine's internal worker pool.
type WorkerCounters struct {
	Active     int `json:"active"`
	QueueDepth int `json:"queue_depth"`
}

// RiskSample is one point of the short risk time-series.
type RiskSample struct {
	Score float64   `json:"score"`
	At    time.Time `json:"at"`
}

// Issue is an unresolved structural problem surfaced by the engine.
type Issue struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Path     string `json:"path"`
	Severity string `json:"severity"`
}
