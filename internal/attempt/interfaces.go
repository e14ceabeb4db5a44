package attempt

import (
	"context"
	"time"

	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/grading"
	"github.com/felixgeelhaar/stagegrade/internal/stagegraph"
)

// AttemptService defines the operations used by the daemon and MCP handlers
type AttemptService interface {
	StartAttempt(ctx context.Context, exerciseID int64) (*Attempt, error)
	Get(ctx context.Context, id int64) (*Attempt, error)

	PrepareSubmission(ctx context.Context, a *Attempt, stage domain.StageID) (*domain.StageSubmission, error)
	StartGrading(ctx context.Context, a *Attempt, stage domain.StageID, sub *domain.StageSubmission) (grading.Result, error)
	Submit(ctx context.Context, a *Attempt, ans Answer) (*domain.StageSubmission, grading.Result, error)
	EvaluateTransition(ctx context.Context, a *Attempt, stage domain.StageID, sub *domain.StageSubmission, t domain.StageTransition) (bool, error)
	UpdateStatus(ctx context.Context, a *Attempt, sub *domain.StageSubmission) (*domain.StageSubmission, error)
	SetManualResult(ctx context.Context, a *Attempt, submissionID int64, points *int) (*domain.StageSubmission, error)
	Advance(ctx context.Context, a *Attempt, stage domain.StageID, sub *domain.StageSubmission, exit stagegraph.Exit) (stagegraph.Outcome, error)

	RecordCheckResult(ctx context.Context, r CheckResult) error
}

// Ensure Service implements AttemptService
var _ AttemptService = (*Service)(nil)

// ExerciseSource provides the authored exercises attempts are started on
type ExerciseSource interface {
	Get(ctx context.Context, id int64) (*domain.Exercise, error)
}

// Store persists attempts and submissions. Writes are upserts keyed by id.
type Store interface {
	SaveAttempt(ctx context.Context, snap Snapshot) error
	SaveSubmission(ctx context.Context, sub *domain.StageSubmission) error

	// SetCheckResult resolves one persisted ledger entry. It backs check
	// results that arrive for submissions no longer held in memory.
	SetCheckResult(ctx context.Context, r CheckResult) error
}

// Loader reads persisted attempts back. A Store that also implements it
// lets the service resume attempts after a restart.
type Loader interface {
	GetAttempt(ctx context.Context, id int64) (Snapshot, error)
	GetSubmission(ctx context.Context, id int64) (*domain.StageSubmission, error)
}

// Dispatcher hands pending test cases to out-of-process checkers
type Dispatcher interface {
	DispatchChecks(ctx context.Context, reqs []CheckRequest) error
}

// Observer receives grading measurements
type Observer interface {
	ObserveGrading(kind domain.Kind, elapsed time.Duration, err error)
}

// CheckRequest asks a checker to resolve the pending cases of one tuple
type CheckRequest struct {
	AttemptID    int64
	SubmissionID int64
	StageID      domain.StageID
	Tuple        domain.TestCaseTuple
	CaseIDs      []int64
	Code         string
}

// CheckResult is one resolved ledger entry reported by a checker
type CheckResult struct {
	SubmissionID int64  `json:"submission_id" validate:"required"`
	TupleID      int64  `json:"tuple_id" validate:"required"`
	CaseID       int64  `json:"case_id" validate:"required"`
	Passed       bool   `json:"passed"`
	Signer       string `json:"signer" validate:"required"`
}

// Answer is a student's response to the current stage
type Answer struct {
	Fields []domain.SubmissionField `json:"fields,omitempty"`
	Ticked []bool                   `json:"ticked,omitempty"`
	Code   string                   `json:"code,omitempty"`
}
