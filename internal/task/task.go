package task

import (
	"time"

	"github.com/google/uuid"

	"github.com/example/id-verify/internal/verdict"
)

// Status is the lifecycle state of a verification task. Transitions are
// forward-only: pending -> running -> completed|failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var statusRank = map[Status]int{
	StatusPending:   0,
	StatusRunning:   1,
	StatusCompleted: 2,
	StatusFailed:    2,
}

// SubmittedImages holds the four raw input images. They are immutable once
// the task is created.
type SubmittedImages struct {
	IDCardFront []byte
	IDCardBack  []byte
	HealthCard  []byte
	Selfie      []byte
}

// Task is one verification request tracked through the pipeline.
type Task struct {
	ID           string
	Status       Status
	Images       *SubmittedImages
	StageResults map[verdict.StageKey]verdict.StageResult
	FinalResult  *verdict.Result
	CreatedAt    time.Time
	CompletedAt  time.Time
}

// New allocates a pending task with a fresh identifier.
func New(images *SubmittedImages) *Task {
	return &Task{
		ID:           uuid.NewString(),
		Status:       StatusPending,
		Images:       images,
		StageResults: make(map[verdict.StageKey]verdict.StageResult),
		CreatedAt:    time.Now().UTC(),
	}
}

// snapshot returns a copy safe for concurrent readers. StageResults is
// copied; FinalResult and Images are immutable once published and may be
// shared.
func (t *Task) snapshot() Task {
	out := *t
	out.StageResults = make(map[verdict.StageKey]verdict.StageResult, len(t.StageResults))
	for k, v := range t.StageResults {
		out.StageResults[k] = v
	}
	return out
}
