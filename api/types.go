package api

import (
	"time"

	"github.com/xraph/delayed/job"
)

// CreateJobRequest is the body of POST /v1/jobs. RunAt defaults to now.
type CreateJobRequest struct {
	ActorID string     `json:"actor_id"`
	Queue   job.Queue  `json:"queue"`
	RunAt   *time.Time `json:"run_at,omitempty"`
}

// RunResponse is returned by POST /v1/jobs/{jobId}/run.
type RunResponse struct {
	Outcome string   `json:"outcome"`
	Job     *job.Job `json:"job"`
}

// SweepResponse is returned by POST /v1/sweep.
type SweepResponse struct {
	Dispatched int `json:"dispatched"`
}

// StatsResponse holds job counts by derived state.
type StatsResponse struct {
	Pending int64 `json:"pending"`
	Running int64 `json:"running"`
	Done    int64 `json:"done"`
	Failed  int64 `json:"failed"`
	Total   int64 `json:"total"`
}
