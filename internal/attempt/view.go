package attempt

import (
	"github.com/felixgeelhaar/stagegrade/internal/domain"
)

// SubmissionStatus is a copy of a submission's grading state, safe to read
// while checkers keep writing into the ledger
type SubmissionStatus struct {
	ID            int64          `json:"id"`
	StageID       domain.StageID `json:"stage_id"`
	Kind          domain.Kind    `json:"kind"`
	Sequence      int            `json:"sequence"`
	Points        int            `json:"points"`
	ManualResult  *int           `json:"manual_result,omitempty"`
	Effective     int            `json:"effective_points"`
	Graded        bool           `json:"graded"`
	PendingChecks bool           `json:"pending_checks"`
	PendingCases  int            `json:"pending_cases"`
	InternalError bool           `json:"internal_error"`
	Feedback      []string       `json:"feedback,omitempty"`
}

// SubmissionStatus returns the status of one submission
func (a *Attempt) SubmissionStatus(id int64) (SubmissionStatus, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sub, ok := a.submissionLocked(id)
	if !ok {
		return SubmissionStatus{}, false
	}
	return statusOf(sub), true
}

// LatestStatus returns the status of the most recent submission for a stage
func (a *Attempt) LatestStatus(stage domain.StageID) (SubmissionStatus, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sub, ok := a.latestLocked(stage)
	if !ok {
		return SubmissionStatus{}, false
	}
	return statusOf(sub), true
}

func statusOf(sub *domain.StageSubmission) SubmissionStatus {
	st := SubmissionStatus{
		ID:            sub.ID,
		StageID:       sub.StageID,
		Kind:          sub.Kind,
		Sequence:      sub.Sequence,
		Points:        sub.Points,
		Effective:     sub.EffectivePoints(),
		Graded:        sub.Graded,
		PendingChecks: sub.PendingChecks,
		InternalError: sub.InternalError,
		Feedback:      append([]string(nil), sub.Feedback...),
	}
	if sub.ManualResult != nil {
		m := *sub.ManualResult
		st.ManualResult = &m
	}
	for _, r := range sub.TupleResults {
		st.PendingCases += r.PendingCount()
	}
	return st
}

// StageView is what a student sees of a stage: no tags, rules or test cases
type StageView struct {
	ID           domain.StageID `json:"id"`
	Kind         domain.Kind    `json:"kind"`
	Title        string         `json:"title"`
	Task         string         `json:"task,omitempty"`
	Hints        []string       `json:"hints,omitempty"`
	Weight       float64        `json:"weight"`
	Choices      []string       `json:"choices,omitempty"`
	SingleChoice bool           `json:"single_choice,omitempty"`
	Fields       []FieldView    `json:"fields,omitempty"`
	Tuples       []string       `json:"tuples,omitempty"`
}

// FieldView is one fill-in input
type FieldView struct {
	Name  string           `json:"name"`
	Kind  domain.FieldKind `json:"kind"`
	Items []string         `json:"items,omitempty"`
	Size  int              `json:"size,omitempty"`
}

// ViewStage builds the student view of a stage
func ViewStage(st *domain.Stage) StageView {
	v := StageView{
		ID:     st.ID,
		Kind:   st.Kind,
		Title:  st.ExternalName,
		Task:   st.TaskDescription,
		Hints:  st.Hints,
		Weight: st.Weight,
	}
	switch {
	case st.MC != nil:
		v.SingleChoice = st.MC.SingleChoice
		for _, a := range st.MC.Answers {
			v.Choices = append(v.Choices, a.Text)
		}
	case st.FillIn != nil:
		for _, f := range st.FillIn.Fields {
			v.Fields = append(v.Fields, FieldView{Name: f.Name, Kind: f.Kind, Items: f.Items, Size: f.Size})
		}
	case st.R != nil:
		for _, t := range st.R.Tuples {
			v.Tuples = append(v.Tuples, t.VariableName())
		}
	}
	return v
}

// Overview is an attempt snapshot with the stage the student is on and the
// latest submission for it
type Overview struct {
	Snapshot
	Stage  *StageView        `json:"stage,omitempty"`
	Latest *SubmissionStatus `json:"latest_submission,omitempty"`
}

// Overview builds the student facing view of the attempt
func (a *Attempt) Overview() Overview {
	a.mu.Lock()
	defer a.mu.Unlock()

	o := Overview{Snapshot: a.snapshotLocked()}
	if !a.IsActive() {
		return o
	}
	if st, ok := a.Exercise.Stage(a.Current); ok {
		v := ViewStage(st)
		o.Stage = &v
	}
	if sub, ok := a.latestLocked(a.Current); ok {
		s := statusOf(sub)
		o.Latest = &s
	}
	return o
}
