package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/driftwatch/driftwatch/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// Path is a filesystem path to the database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backend_transition(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			state TEXT NOT NULL,
			pid INTEGER NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			occurred_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_backend_transition_at ON backend_transition(occurred_at);`,
		`CREATE TABLE IF NOT EXISTS risk_history(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workspace TEXT NOT NULL,
			risk_score REAL NOT NULL,
			health_score REAL NOT NULL,
			at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_risk_history_ws ON risk_history(workspace, at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) RecordTransition(ctx context.Context, tr store.Transition) error {
	at := tr.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO backend_transition(state, pid, detail, occurred_at) VALUES(?, ?, ?, ?);`,
		tr.State, tr.PID, tr.Detail, at.UTC())
	return err
}

func (s *DB) RecordRisk(ctx context.Context, pt store.RiskPoint) error {
	at := pt.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO risk_history(workspace, risk_score, health_score, at) VALUES(?, ?, ?, ?);`,
		pt.Workspace, pt.RiskScore, pt.HealthScore, at.UTC())
	return err
}

func (s *DB) RiskHistory(ctx context.Context, workspace string, limit int) ([]store.RiskPoint, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT workspace, risk_score, health_score, at FROM (
			SELECT workspace, risk_score, health_score, at, id FROM risk_history
			WHERE workspace = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC;`, workspace, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.RiskPoint
	for rows.Next() {
		var pt store.RiskPoint
		if err := rows.Scan(&pt.Workspace, &pt.RiskScore, &pt.HealthScore, &pt.At); err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

func (s *DB) Transitions(ctx context.Context, limit int) ([]store.Transition, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT state, pid, detail, occurred_at FROM backend_transition
		ORDER BY id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.Transition
	for rows.Next() {
		var tr store.Transition
		if err := rows.Scan(&tr.State, &tr.PID, &tr.Detail, &tr.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}
