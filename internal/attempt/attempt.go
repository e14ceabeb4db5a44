// Package attempt runs a student's pass through an exercise: it owns the
// variable environment, grades submissions, moves through the stage graph
// and keeps the score.
package attempt

import (
	"sync"
	"time"

	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/score"
	"github.com/felixgeelhaar/stagegrade/internal/vars"
)

// Status represents the lifecycle of an attempt
type Status string

const (
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// Attempt is one student's run through a frozen copy of an exercise
type Attempt struct {
	mu sync.Mutex

	ID         int64
	ExerciseID int64
	Exercise   *domain.Exercise
	Current    domain.StageID
	Status     Status

	Env     *vars.Environment
	Tracker *score.Tracker

	Submissions []*domain.StageSubmission

	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
}

// Snapshot is the persisted, lock-free view of an attempt
type Snapshot struct {
	ID              int64          `json:"id"`
	ExerciseID      int64          `json:"exercise_id"`
	Current         domain.StageID `json:"current_stage"`
	Status          Status         `json:"status"`
	Progress        score.Progress `json:"progress"`
	SubmissionCount int            `json:"submission_count"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`

	// Resume is only filled for persistence
	Resume *Resume `json:"resume,omitempty"`
}

// Resume is what a restarted daemon needs to continue an attempt
type Resume struct {
	Variables   map[vars.Partition]map[string]vars.Value `json:"variables,omitempty"`
	Points      map[domain.StageID]int                   `json:"points,omitempty"`
	Submissions []int64                                  `json:"submissions,omitempty"`
}

// IsActive returns true if the attempt has not reached the end
func (a *Attempt) IsActive() bool {
	return a.Status == StatusActive
}

// Snapshot returns the current state for reporting and persistence
func (a *Attempt) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Attempt) snapshotLocked() Snapshot {
	next := a.Current
	if !a.IsActive() {
		next = domain.EndOfExercise
	}
	return Snapshot{
		ID:              a.ID,
		ExerciseID:      a.ExerciseID,
		Current:         a.Current,
		Status:          a.Status,
		Progress:        a.Tracker.Progress(next),
		SubmissionCount: len(a.Submissions),
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
		FinishedAt:      a.FinishedAt,
	}
}

// recordLocked is the snapshot plus the state needed to resume the attempt
func (a *Attempt) recordLocked() Snapshot {
	snap := a.snapshotLocked()
	r := &Resume{
		Variables: make(map[vars.Partition]map[string]vars.Value, len(vars.Partitions)),
		Points:    a.Tracker.Recorded(),
	}
	for _, p := range vars.Partitions {
		if m := a.Env.Snapshot(p); len(m) > 0 {
			r.Variables[p] = m
		}
	}
	for _, sub := range a.Submissions {
		r.Submissions = append(r.Submissions, sub.ID)
	}
	snap.Resume = r
	return snap
}

// Submission looks up a submission of this attempt
func (a *Attempt) Submission(id int64) (*domain.StageSubmission, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.submissionLocked(id)
}

func (a *Attempt) submissionLocked(id int64) (*domain.StageSubmission, bool) {
	for _, s := range a.Submissions {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Latest returns the most recent submission for a stage
func (a *Attempt) Latest(stage domain.StageID) (*domain.StageSubmission, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latestLocked(stage)
}

func (a *Attempt) latestLocked(stage domain.StageID) (*domain.StageSubmission, bool) {
	for i := len(a.Submissions) - 1; i >= 0; i-- {
		if a.Submissions[i].StageID == stage {
			return a.Submissions[i], true
		}
	}
	return nil, false
}

func (a *Attempt) touch() {
	a.UpdatedAt = time.Now()
}

func (a *Attempt) finish() {
	now := time.Now()
	a.Status = StatusFinished
	a.Current = domain.EndOfExercise
	a.FinishedAt = &now
	a.UpdatedAt = now
}
