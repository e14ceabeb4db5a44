package domain

import "errors"

// -----------------------------------------------------------------------------
// Domain Errors
// These errors represent domain-level failures and are used by stores,
// graders and the attempt service to communicate domain-specific conditions.
// -----------------------------------------------------------------------------

// Exercise errors
var (
	ErrExerciseNotFound  = errors.New("exercise not found")
	ErrNoStartStage      = errors.New("exercise has no start stage")
	ErrMultipleStart     = errors.New("exercise has more than one start stage")
	ErrStageNotFound     = errors.New("stage not found")
	ErrDuplicateVariable = errors.New("duplicate variable declaration")
	ErrInvalidOrder      = errors.New("stage order indices are not contiguous")
)

// Stage errors
var (
	ErrKindMismatch    = errors.New("stage kind does not match submission")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrInvalidBounds   = errors.New("value outside permitted bounds")
)

// Submission errors
var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrTupleNotFound      = errors.New("test case tuple not found")
	ErrTestCaseNotFound   = errors.New("test case not found")
	ErrChecksPending      = errors.New("checks still pending")
)

// Attempt errors
var (
	ErrAttemptNotFound = errors.New("attempt not found")
	ErrAttemptClosed   = errors.New("attempt already finished")
	ErrNotCurrentStage = errors.New("stage is not the attempt's current stage")
)
