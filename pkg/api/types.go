package api

import "time"

// v0 contains the public types shared by the fleetrm CLI, the host agent,
// and anything that consumes run reports.

// WorkItem is one row of the input table: delete Path on Host.
type WorkItem struct {
	Host string `json:"host" yaml:"host"`
	Path string `json:"path" yaml:"path"`
}

// Action records what the executor did to a path.
type Action string

const (
	ActionNone    Action = "none"
	ActionRemoved Action = "removed"
)

// Result is the outcome for a single WorkItem. Per-path failures are carried
// in Error; a Result is produced even when nothing was deleted.
type Result struct {
	Host          string    `json:"host"`
	Path          string    `json:"path"`
	Timestamp     time.Time `json:"timestamp"`
	ExistedBefore bool      `json:"existed_before"`
	ExistsAfter   bool      `json:"exists_after"`
	Action        Action    `json:"action"`
	Error         string    `json:"error,omitempty"`
}

// ErrPathNotFound is the Error value recorded for paths that were already
// absent when the executor reached them.
const ErrPathNotFound = "Path not found"

// Summary aggregates a run's results. Failed counts every result carrying an
// error, absent paths included; Removed counts confirmed deletions only.
type Summary struct {
	Total   int `json:"total"`
	Removed int `json:"removed"`
	Failed  int `json:"failed"`
	Absent  int `json:"absent"`
}

// PurgeRequest asks an agent to delete the listed paths on its own host.
type PurgeRequest struct {
	Host  string   `json:"host,omitempty"`
	Paths []string `json:"paths"`
}

type PurgeResponse struct {
	Results []Result `json:"results"`
}

// HeartbeatRequest is empty; the agent reports itself.
type HeartbeatRequest struct{}

type HeartbeatResponse struct {
	Time    time.Time `json:"time"`
	Host    string    `json:"host"`
	Version string    `json:"version"`
}

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)
