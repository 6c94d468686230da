package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/weft/pkg/core"
)

// NotFoundError is returned when a run does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// CreateRun starts a run against the named target.
func (s *Store) CreateRun(ctx context.Context, target string) (*core.Run, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	run := &core.Run{
		ID:        generateID(),
		Target:    target,
		Status:    core.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	s.logger.Debug("creating run", slog.String("id", run.ID), slog.String("target", target))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, target, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Target, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// CompleteRun marks a run finished with the given status.
func (s *Store) CompleteRun(ctx context.Context, id string, status core.RunStatus, errMsg string) error {
	if s.db == nil {
		return ErrNotOpen
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(status), time.Now().UTC(), nullString(errMsg), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Kind: "run", ID: id}
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*core.Run, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	run := &core.Run{}
	var status string
	var completedAt sql.NullTime
	var errMsg sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, target, status, started_at, completed_at, error FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.Target, &status, &run.StartedAt, &completedAt, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "run", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.Status = core.RunStatus(status)
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	run.Error = errMsg.String
	return run, nil
}

// LatestRun returns the most recent run, or nil when there is none.
func (s *Store) LatestRun(ctx context.Context) (*core.Run, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return s.GetRun(ctx, id)
}

// RecordNodeRun stores the outcome of one node. An empty ID is filled in.
func (s *Store) RecordNodeRun(ctx context.Context, nr *core.NodeRun) error {
	if s.db == nil {
		return ErrNotOpen
	}
	if nr.ID == "" {
		nr.ID = generateID()
	}

	var completedAt any
	if nr.CompletedAt != nil {
		completedAt = *nr.CompletedAt
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO node_runs (id, run_id, node_id, status, message, started_at, completed_at, error, execution_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nr.ID, nr.RunID, nr.NodeID, string(nr.Status), nullString(nr.Message),
		nr.StartedAt, completedAt, nullString(nr.Error), nr.ExecutionMS,
	)
	if err != nil {
		return fmt.Errorf("failed to record node run for %s: %w", nr.NodeID, err)
	}
	return nil
}

// ListNodeRuns returns the node runs of a run in the order they started.
func (s *Store) ListNodeRuns(ctx context.Context, runID string) ([]*core.NodeRun, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, node_id, status, message, started_at, completed_at, error, execution_ms
		 FROM node_runs WHERE run_id = ? ORDER BY started_at, node_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.NodeRun
	for rows.Next() {
		nr := &core.NodeRun{}
		var status string
		var message, errMsg sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&nr.ID, &nr.RunID, &nr.NodeID, &status, &message,
			&nr.StartedAt, &completedAt, &errMsg, &nr.ExecutionMS); err != nil {
			return nil, fmt.Errorf("failed to scan node run: %w", err)
		}
		nr.Status = core.NodeRunStatus(status)
		nr.Message = message.String
		nr.Error = errMsg.String
		if completedAt.Valid {
			nr.CompletedAt = &completedAt.Time
		}
		out = append(out, nr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list node runs: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
