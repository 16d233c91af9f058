package http

import (
	"github.com/fyrsmithlabs/nbpilot/internal/checkpoint"
	"github.com/fyrsmithlabs/nbpilot/internal/orchestrator"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// SubmitTaskRequest is the request body for POST /api/v1/tasks.
type SubmitTaskRequest struct {
	ID   string `json:"id,omitempty"`
	Task string `json:"task"`
}

// SubmitTaskResponse is the response body for POST /api/v1/tasks.
type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// SpeedRequest is the request body for PUT /api/v1/speed.
type SpeedRequest struct {
	Speed string `json:"speed"`
}

// SpeedResponse is the response body for PUT /api/v1/speed.
type SpeedResponse struct {
	Speed orchestrator.SpeedPreset `json:"speed"`
}

// CheckpointsResponse is the response body for GET /api/v1/checkpoints.
type CheckpointsResponse struct {
	Checkpoints []CheckpointSummary `json:"checkpoints"`
}

// CheckpointSummary describes a checkpoint without its cell contents.
type CheckpointSummary struct {
	ID            string   `json:"id"`
	StepNumber    int      `json:"step_number"`
	Description   string   `json:"description"`
	Variables     []string `json:"variables"`
	CreatedCells  []int    `json:"created_cells"`
	ModifiedCells []int    `json:"modified_cells"`
}

func summarize(cp *checkpoint.Checkpoint) CheckpointSummary {
	return CheckpointSummary{
		ID:            cp.ID,
		StepNumber:    cp.StepNumber,
		Description:   cp.Description,
		Variables:     cp.Variables,
		CreatedCells:  cp.CreatedCells,
		ModifiedCells: cp.ModifiedCells,
	}
}
