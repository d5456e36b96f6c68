package model

import (
	"errors"
	"time"
)

type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobRunning  JobStatus = "running"
	JobFinished JobStatus = "finished"
	JobFailed   JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobFinished || s == JobFailed
}

type JobType string

const (
	JobFigurine        JobType = "figurine"
	JobEraStyle        JobType = "era_style"
	JobEnhance         JobType = "enhance"
	JobOldPhotoRestore JobType = "old_photo_restore"
	JobIDPhoto         JobType = "id_photo"
	JobHairstyleGrid   JobType = "hairstyle_grid"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Job is the lifecycle record of one image transformation request.
//
// - InputPath is a relative key in the blob store.
// - Results holds public URLs and is only populated once Status is finished.
// - Error is only set once Status is failed.
type Job struct {
	ID        string         `json:"id"`
	Type      JobType        `json:"type"`
	Status    JobStatus      `json:"status"`
	Progress  int            `json:"progress"`
	Params    map[string]any `json:"params"`
	InputPath string         `json:"input_path"`
	Results   []string       `json:"results"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// JobPatch is used for partial updates.
type JobPatch struct {
	Status   *JobStatus
	Progress *int
	Results  []string
	Error    *string
}

// CanTransition enforces pending -> running -> finished|failed.
// Staying in the same non-terminal state is allowed.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobPending:
		return to == JobPending || to == JobRunning || to == JobFailed
	case JobRunning:
		return to == JobRunning || to == JobFinished || to == JobFailed
	default:
		return false
	}
}

// Apply merges patch into job. Results and Error are only kept when they
// agree with the resulting status.
func (j *Job) Apply(patch JobPatch) error {
	if j.Status.Terminal() {
		return ErrInvalidTransition
	}
	if patch.Status != nil {
		if !CanTransition(j.Status, *patch.Status) {
			return ErrInvalidTransition
		}
		j.Status = *patch.Status
	}
	if patch.Progress != nil && *patch.Progress > j.Progress {
		j.Progress = min(*patch.Progress, 100)
	}
	if patch.Results != nil && j.Status == JobFinished {
		j.Results = append([]string{}, patch.Results...)
	}
	if patch.Error != nil && j.Status == JobFailed {
		j.Error = *patch.Error
	}
	return nil
}

func StatusPtr(s JobStatus) *JobStatus { return &s }

func IntPtr(v int) *int { return &v }

func StringPtr(v string) *string { return &v }
