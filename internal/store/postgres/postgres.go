package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/driftwatch/driftwatch/internal/store"
)

// DB implements store.Store on PostgreSQL via the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backend_transition(
			id BIGSERIAL PRIMARY KEY,
			state TEXT NOT NULL,
			pid INTEGER NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			occurred_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_backend_transition_at ON backend_transition(occurred_at);`,
		`CREATE TABLE IF NOT EXISTS risk_history(
			id BIGSERIAL PRIMARY KEY,
			workspace TEXT NOT NULL,
			risk_score DOUBLE PRECISION NOT NULL,
			health_score DOUBLE PRECISION NOT NULL,
			at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_risk_history_ws ON risk_history(workspace, at);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) RecordTransition(ctx context.Context, tr store.Transition) error {
	at := tr.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO backend_transition(state, pid, detail, occurred_at) VALUES($1, $2, $3, $4);`,
		tr.State, tr.PID, tr.Detail, at.UTC())
	return err
}

func (p *DB) RecordRisk(ctx context.Context, pt store.RiskPoint) error {
	at := pt.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO risk_history(workspace, risk_score, health_score, at) VALUES($1, $2, $3, $4);`,
		pt.Workspace, pt.RiskScore, pt.HealthScore, at.UTC())
	return err
}

func (p *DB) RiskHistory(ctx context.Context, workspace string, limit int) ([]store.RiskPoint, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT workspace, risk_score, health_score, at FROM (
			SELECT workspace, risk_score, health_score, at, id FROM risk_history
			WHERE workspace = $1 ORDER BY id DESC LIMIT $2
		) recent ORDER BY id ASC;`, workspace, limit)
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

func (p *DB) Transitions(ctx context.Context, limit int) ([]store.Transition, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT state, pid, detail, occurred_at FROM backend_transition
		ORDER BY id DESC LIMIT $1;`, limit)
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
