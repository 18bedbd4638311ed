package domain

import "time"

// BuildState tracks a build record through the queue.
type BuildState string

const (
	BuildPending   BuildState = "pending"
	BuildRunning   BuildState = "running"
	BuildSucceeded BuildState = "succeeded"
	BuildFailed    BuildState = "failed"
)

// Build is the record of one build attempt. A failed build never leaves a
// tagged image behind; ImageID is set only on success.
type Build struct {
	ID         string     `json:"id"`
	App        string     `json:"app"`
	Source     string     `json:"source"` // git URL or local context path
	ImageRef   string     `json:"image_ref,omitempty"`
	ImageID    string     `json:"image_id,omitempty"`
	State      BuildState `json:"state"`
	Error      string     `json:"error,omitempty"`
	FailedStep string     `json:"failed_step,omitempty"`
	StartedAt  time.Time  `json:"started_at,omitempty"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
}

// Done reports whether the build reached a terminal state.
func (b Build) Done() bool {
	return b.State == BuildSucceeded || b.State == BuildFailed
}
