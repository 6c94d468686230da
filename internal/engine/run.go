package engine

// run.go - Execution orchestration for running models

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/leapstack-labs/weft/internal/template"
	"github.com/leapstack-labs/weft/pkg/core"
	"go.starlark.net/starlark"
	"golang.org/x/sync/errgroup"
)

// RunOptions selects what a run executes.
type RunOptions struct {
	// Select limits the run to these models (names or unique IDs). Empty
	// runs every model.
	Select []string

	// Downstream adds every model that depends on a selected one
	Downstream bool

	// FullRefresh rebuilds incremental models from scratch
	FullRefresh bool

	// Threads overrides the configured concurrency when positive
	Threads int
}

// RunResult is the outcome of a run.
type RunResult struct {
	Run *core.Run

	// Nodes holds one record per selected model in execution order
	Nodes []*core.NodeRun
}

// Counts returns the number of node runs per status.
func (r *RunResult) Counts() map[core.NodeRunStatus]int {
	counts := make(map[core.NodeRunStatus]int)
	for _, nr := range r.Nodes {
		counts[nr.Status]++
	}
	return counts
}

// NodeError wraps the failure of one model.
type NodeError struct {
	NodeID string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s: %v", e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// Run executes the selected models wave by wave. Models of one wave run
// concurrently, bounded by the thread count. A failed model is recorded
// and its descendants are skipped; independent models continue. The
// returned error joins every *NodeError.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	m, err := e.ensureParsed(ctx)
	if err != nil {
		return nil, err
	}

	ids, err := e.selectNodes(m, opts)
	if err != nil {
		return nil, err
	}
	levels, err := m.Graph.Subgraph(ids).Levels()
	if err != nil {
		return nil, err
	}

	threads := e.cfg.Threads
	if opts.Threads > 0 {
		threads = opts.Threads
	}

	e.logger.Info("starting run", "target", e.cfg.TargetName, "models", len(ids), "threads", threads)

	// Ensure database is connected before execution
	if err := e.ensureDBConnected(ctx); err != nil {
		return nil, err
	}

	run, err := e.store.CreateRun(ctx, e.cfg.TargetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	e.logger.Debug("created run", "run_id", run.ID)

	r := &runner{
		engine:   e,
		manifest: m,
		runID:    run.ID,
		opts:     opts,
		blocked:  make(map[string]string),
		records:  make(map[string]*core.NodeRun),
	}

	for i, level := range levels {
		if ctx.Err() != nil {
			break
		}
		e.logger.Debug("running level", "level", i, "models", len(level))

		g := new(errgroup.Group)
		g.SetLimit(threads)
		for _, id := range level {
			if upstream, ok := r.blockedBy(id); ok {
				r.skip(ctx, id, upstream)
				continue
			}
			g.Go(func() error {
				r.execute(ctx, id)
				return nil
			})
		}
		_ = g.Wait()
	}

	status := core.RunStatusCompleted
	var errMsg string
	if ctx.Err() != nil {
		status = core.RunStatusCancelled
		errMsg = ctx.Err().Error()
		for _, level := range levels {
			for _, id := range level {
				if _, done := r.records[id]; !done {
					r.skip(context.WithoutCancel(ctx), id, "")
				}
			}
		}
	} else if len(r.errs) > 0 {
		status = core.RunStatusFailed
		errMsg = fmt.Sprintf("%d model(s) failed", len(r.errs))
	}

	if err := e.store.CompleteRun(context.WithoutCancel(ctx), run.ID, status, errMsg); err != nil {
		e.logger.Warn("failed to complete run", "run_id", run.ID, "error", err)
	}
	if final, err := e.store.GetRun(context.WithoutCancel(ctx), run.ID); err == nil {
		run = final
	}

	result := &RunResult{Run: run}
	for _, level := range levels {
		for _, id := range level {
			if nr, ok := r.records[id]; ok {
				result.Nodes = append(result.Nodes, nr)
			}
		}
	}

	e.logger.Info("run finished", "run_id", run.ID, "status", status, "failed", len(r.errs))
	if status == core.RunStatusCancelled {
		return result, ctx.Err()
	}
	return result, errors.Join(r.errs...)
}

// selectNodes resolves the run selection to unique IDs.
func (e *Engine) selectNodes(m *Manifest, opts RunOptions) ([]string, error) {
	if len(opts.Select) == 0 {
		return m.Graph.IDs(), nil
	}

	ids := make([]string, 0, len(opts.Select))
	for _, name := range opts.Select {
		n, ok := m.Node(name)
		if !ok {
			return nil, &ModelNotFoundError{Name: name}
		}
		ids = append(ids, n.UniqueID)
	}
	if opts.Downstream {
		return m.Graph.Downstream(ids...), nil
	}
	return ids, nil
}

// runner holds the shared state of one run.
type runner struct {
	engine   *Engine
	manifest *Manifest
	runID    string
	opts     RunOptions

	mu sync.Mutex
	// blocked maps a failed or skipped node to the failed node that caused it
	blocked map[string]string
	records map[string]*core.NodeRun
	errs    []error
}

// blockedBy reports the failed upstream model that prevents id from running.
func (r *runner) blockedBy(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, parent := range r.manifest.Graph.Parents(id) {
		if cause, ok := r.blocked[parent]; ok {
			return cause, true
		}
	}
	return "", false
}

func (r *runner) skip(ctx context.Context, id, upstream string) {
	now := time.Now().UTC()
	nr := &core.NodeRun{
		RunID:     r.runID,
		NodeID:    id,
		Status:    core.NodeRunStatusSkipped,
		StartedAt: now,
	}
	if upstream != "" {
		nr.Message = fmt.Sprintf("skipped: upstream model %s failed", upstream)
	}

	r.mu.Lock()
	if upstream != "" {
		r.blocked[id] = upstream
	}
	r.records[id] = nr
	r.mu.Unlock()

	r.engine.logger.Debug("model skipped", "node", id, "upstream", upstream)
	r.record(ctx, nr)
}

// execute runs one model and records the outcome.
func (r *runner) execute(ctx context.Context, id string) {
	n, _ := r.manifest.Graph.Node(id)
	nr := &core.NodeRun{
		RunID:     r.runID,
		NodeID:    id,
		Status:    core.NodeRunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	start := time.Now()
	status, err := r.engine.materialize(ctx, r.manifest, n, r.opts.FullRefresh)
	done := time.Now().UTC()
	nr.CompletedAt = &done
	nr.ExecutionMS = time.Since(start).Milliseconds()

	r.mu.Lock()
	if err != nil {
		nr.Status = core.NodeRunStatusFailed
		nr.Error = err.Error()
		r.blocked[id] = id
		r.errs = append(r.errs, &NodeError{NodeID: id, Err: err})
	} else {
		nr.Status = core.NodeRunStatusSuccess
		nr.Message = status
	}
	r.records[id] = nr
	r.mu.Unlock()

	if err != nil {
		r.engine.logger.Error("model failed", "node", id, "error", err)
	} else {
		r.engine.logger.Info("model built", "node", id, "status", status, "exec_ms", nr.ExecutionMS)
	}
	r.record(context.WithoutCancel(ctx), nr)
}

func (r *runner) record(ctx context.Context, nr *core.NodeRun) {
	if err := r.engine.store.RecordNodeRun(ctx, nr); err != nil {
		r.engine.logger.Warn("failed to record model run", "node", nr.NodeID, "error", err)
	}
}

// materialize compiles n and runs its materialization macro with
// execute=true. It returns the status reported through
// statement_result_callback, or "OK" when no statement captured one.
func (e *Engine) materialize(ctx context.Context, m *Manifest, n *core.Node, fullRefresh bool) (string, error) {
	strategy := n.Materialized()
	mat, err := m.Macros.FindMaterialization(strategy, e.db.DialectName())
	if err != nil {
		return "", err
	}

	mode := renderMode{execute: true}
	if strategy == core.MaterializationIncremental && !fullRefresh {
		mode.incremental = e.relationExists(ctx, n)
	}

	ec, err := e.newContext(m, n, e.db, mode)
	if err != nil {
		return "", err
	}

	sql, err := e.render(ctx, n, ec)
	if err != nil {
		return "", err
	}
	ec.Set("sql", starlark.String(sql))

	e.logger.Debug("running materialization", "node", n.UniqueID, "macro", mat.ID(), "incremental", mode.incremental)
	if _, err := template.CallMacro(ctx, ec, mat.Value, nil, nil); err != nil {
		return "", err
	}

	if status, ok := ec.StatementResult(); ok {
		return status, nil
	}
	return "OK", nil
}

// relationExists reports whether the relation of n is already in the database.
func (e *Engine) relationExists(ctx context.Context, n *core.Node) bool {
	_, err := e.db.GetTableMetadata(ctx, e.relationFor(n).String())
	return err == nil
}
