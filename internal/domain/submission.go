package domain

import (
	"time"

	"github.com/felixgeelhaar/stagegrade/internal/ledger"
)

// SubmissionField is one named fill-in value as entered by the student
type SubmissionField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// StageSubmission is the per-attempt, per-stage record of a student's answer
// and its grading state.
type StageSubmission struct {
	ID        int64
	AttemptID int64
	StageID   StageID
	Kind      Kind
	Sequence  int

	Points        int
	PendingChecks bool
	InternalError bool
	ManualResult  *int
	Graded        bool

	Fields   []SubmissionField
	Ticked   []bool
	Code     string
	Feedback []string

	TupleResults []*ledger.TupleResult

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPendingChecks is true iff any tuple ledger still holds a pending entry
func (s *StageSubmission) HasPendingChecks() bool {
	return ledger.AnyPending(s.TupleResults)
}

// TupleResult returns the ledger of the given tuple
func (s *StageSubmission) TupleResult(tupleID int64) (*ledger.TupleResult, bool) {
	for _, r := range s.TupleResults {
		if r.TupleID == tupleID {
			return r, true
		}
	}
	return nil, false
}

// Field returns the submitted value of a named field
func (s *StageSubmission) Field(name string) (string, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// EffectivePoints returns the manual result when set, the computed points
// otherwise.
func (s *StageSubmission) EffectivePoints() int {
	if s.ManualResult != nil {
		return *s.ManualResult
	}
	return s.Points
}
