package state

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/weft/pkg/core"
)

const (
	kindMacro = "macro"
	kindNode  = "node"
)

// SaveManifest replaces the stored dependency records with those of nodes.
// The whole manifest is written in one transaction.
func (s *Store) SaveManifest(ctx context.Context, nodes []*core.Node) (err error) {
	if s.db == nil {
		return ErrNotOpen
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin manifest transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM node_dependencies`); err != nil {
		return fmt.Errorf("failed to clear manifest: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO node_dependencies (node_id, kind, dependency_id, position) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare manifest insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	count := 0
	for _, n := range nodes {
		for kind, ids := range map[string][]string{kindMacro: n.DependsOn.Macros, kindNode: n.DependsOn.Nodes} {
			for i, id := range ids {
				if _, err = stmt.ExecContext(ctx, n.UniqueID, kind, id, i); err != nil {
					return fmt.Errorf("failed to save dependency %s -> %s: %w", n.UniqueID, id, err)
				}
				count++
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit manifest: %w", err)
	}
	s.logger.Debug("manifest saved", slog.Int("nodes", len(nodes)), slog.Int("dependencies", count))
	return nil
}

// GetMacroDependencies returns the stored macro dependencies of a node in
// recorded order.
func (s *Store) GetMacroDependencies(ctx context.Context, nodeID string) ([]string, error) {
	return s.dependencies(ctx, nodeID, kindMacro)
}

// GetNodeDependencies returns the stored ref() dependencies of a node in
// recorded order.
func (s *Store) GetNodeDependencies(ctx context.Context, nodeID string) ([]string, error) {
	return s.dependencies(ctx, nodeID, kindNode)
}

func (s *Store) dependencies(ctx context.Context, nodeID, kind string) ([]string, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT dependency_id FROM node_dependencies WHERE node_id = ? AND kind = ? ORDER BY position`,
		nodeID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s dependencies: %w", kind, err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// MacroDependents returns the nodes whose stored record names macroID.
func (s *Store) MacroDependents(ctx context.Context, macroID string) ([]string, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id FROM node_dependencies WHERE kind = ? AND dependency_id = ? ORDER BY node_id`,
		kindMacro, macroID)
	if err != nil {
		return nil, fmt.Errorf("failed to query macro dependents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan dependent: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
