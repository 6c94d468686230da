package core

import "time"

// RunStatus represents the status of a pipeline run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run represents a pipeline execution session.
type Run struct {
	ID          string
	Target      string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// NodeRunStatus represents the status of an individual node execution.
type NodeRunStatus string

// Node run status constants.
const (
	NodeRunStatusPending NodeRunStatus = "pending"
	NodeRunStatusRunning NodeRunStatus = "running"
	NodeRunStatusSuccess NodeRunStatus = "success"
	NodeRunStatusFailed  NodeRunStatus = "failed"
	NodeRunStatusSkipped NodeRunStatus = "skipped"
)

// NodeRun represents a single execution of a node within a run.
type NodeRun struct {
	ID          string
	RunID       string
	NodeID      string
	Status      NodeRunStatus
	Message     string
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
	ExecutionMS int64
}
