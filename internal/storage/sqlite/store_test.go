package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/stagegrade/internal/attempt"
	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/ledger"
	"github.com/felixgeelhaar/stagegrade/internal/score"
	"github.com/felixgeelhaar/stagegrade/internal/vars"
)

func seedAttempt(t *testing.T, s *Store, id int64) attempt.Snapshot {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	snap := attempt.Snapshot{
		ID:         id,
		ExerciseID: 2,
		Current:    30,
		Status:     attempt.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.SaveAttempt(context.Background(), snap); err != nil {
		t.Fatalf("SaveAttempt() error = %v", err)
	}
	return snap
}

func rSubmission(attemptID int64) *domain.StageSubmission {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.StageSubmission{
		ID:            10,
		AttemptID:     attemptID,
		StageID:       30,
		Kind:          domain.KindR,
		Sequence:      1,
		PendingChecks: true,
		Code:          "vsum <- function(x) Reduce(`+`, x, 0)",
		TupleResults:  []*ledger.TupleResult{ledger.New(11, 10, 301, []int64{3011, 3012})},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestStore_Attempt(t *testing.T) {
	ctx := context.Background()
	s := NewStore(openTestDB(t))
	snap := seedAttempt(t, s, 1)

	finished := snap.UpdatedAt.Add(time.Minute)
	snap.Status = attempt.StatusFinished
	snap.Current = domain.EndOfExercise
	snap.Progress = score.Progress{PercentScored: 80, PercentComplete: 100}
	snap.FinishedAt = &finished
	snap.Resume = &attempt.Resume{
		Variables:   map[vars.Partition]map[string]vars.Value{vars.Exercise: {"n": vars.Int(4)}},
		Points:      map[domain.StageID]int{30: 50},
		Submissions: []int64{10},
	}
	if err := s.SaveAttempt(ctx, snap); err != nil {
		t.Fatalf("SaveAttempt(update) error = %v", err)
	}

	got, err := s.GetAttempt(ctx, 1)
	if err != nil {
		t.Fatalf("GetAttempt() error = %v", err)
	}
	if got.Status != attempt.StatusFinished || got.Current != domain.EndOfExercise {
		t.Errorf("status/current = %s/%d", got.Status, got.Current)
	}
	if got.Progress.PercentScored != 80 {
		t.Errorf("PercentScored = %v, want 80", got.Progress.PercentScored)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, finished)
	}
	if got.Resume == nil {
		t.Fatal("GetAttempt() lost the resume state")
	}
	if v := got.Resume.Variables[vars.Exercise]["n"]; !v.Equal(vars.Int(4)) {
		t.Errorf("resumed var n = %v, want int 4", v)
	}
	if got.Resume.Points[30] != 50 || len(got.Resume.Submissions) != 1 || got.Resume.Submissions[0] != 10 {
		t.Errorf("resume = %+v", got.Resume)
	}

	if _, err := s.GetAttempt(ctx, 99); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Errorf("GetAttempt(99) error = %v, want ErrAttemptNotFound", err)
	}
}

func TestStore_SubmissionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore(openTestDB(t))
	seedAttempt(t, s, 1)

	manual := 70
	sub := &domain.StageSubmission{
		ID:           5,
		AttemptID:    1,
		StageID:      20,
		Kind:         domain.KindFillIn,
		Sequence:     2,
		Points:       50,
		Graded:       true,
		ManualResult: &manual,
		Fields:       []domain.SubmissionField{{Name: "fillInField1", Value: "3,5"}},
		Feedback:     []string{"Close.", "Check the sign."},
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
		UpdatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	if err := s.SaveSubmission(ctx, sub); err != nil {
		t.Fatalf("SaveSubmission() error = %v", err)
	}

	got, err := s.GetSubmission(ctx, 5)
	if err != nil {
		t.Fatalf("GetSubmission() error = %v", err)
	}
	if got.Kind != domain.KindFillIn || got.Sequence != 2 || got.Points != 50 || !got.Graded {
		t.Errorf("submission = %+v", got)
	}
	if got.ManualResult == nil || *got.ManualResult != 70 || got.EffectivePoints() != 70 {
		t.Errorf("ManualResult = %v, want 70", got.ManualResult)
	}
	if v, ok := got.Field("fillInField1"); !ok || v != "3,5" {
		t.Errorf("Field() = %q, %v", v, ok)
	}
	if len(got.Feedback) != 2 || got.Feedback[1] != "Check the sign." {
		t.Errorf("Feedback = %v", got.Feedback)
	}
	if len(got.TupleResults) != 0 {
		t.Errorf("TupleResults = %d, want none", len(got.TupleResults))
	}

	if _, err := s.GetSubmission(ctx, 404); !errors.Is(err, domain.ErrSubmissionNotFound) {
		t.Errorf("GetSubmission(404) error = %v, want ErrSubmissionNotFound", err)
	}
}

func TestStore_Ledger(t *testing.T) {
	ctx := context.Background()
	s := NewStore(openTestDB(t))
	seedAttempt(t, s, 1)

	sub := rSubmission(1)
	if err := sub.TupleResults[0].Set(3011, true, "checker-a"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSubmission(ctx, sub); err != nil {
		t.Fatalf("SaveSubmission() error = %v", err)
	}

	got, err := s.GetSubmission(ctx, 10)
	if err != nil {
		t.Fatalf("GetSubmission() error = %v", err)
	}
	if !got.HasPendingChecks() {
		t.Error("HasPendingChecks() = false, want true")
	}
	tr, ok := got.TupleResult(301)
	if !ok {
		t.Fatal("tuple 301 missing")
	}
	if ids := tr.CaseIDs(); len(ids) != 2 || ids[0] != 3011 || ids[1] != 3012 {
		t.Errorf("CaseIDs() = %v, want creation order", ids)
	}
	if r := tr.Resolution(3011); r == nil || !r.Passed || r.Signer != "checker-a" {
		t.Errorf("Resolution(3011) = %+v", r)
	}

	pending, err := s.PendingSubmissions(ctx)
	if err != nil || len(pending) != 1 || pending[0] != 10 {
		t.Errorf("PendingSubmissions() = %v, %v", pending, err)
	}

	if err := s.SetCheckResult(ctx, attempt.CheckResult{SubmissionID: 10, TupleID: 301, CaseID: 3012, Passed: false, Signer: "checker-b"}); err != nil {
		t.Fatalf("SetCheckResult() error = %v", err)
	}
	got, _ = s.GetSubmission(ctx, 10)
	if got.HasPendingChecks() || got.PendingChecks {
		t.Error("submission still pending after last entry resolved")
	}
	tr, _ = got.TupleResult(301)
	if st, _ := tr.State(3012); st != ledger.Failed {
		t.Errorf("State(3012) = %s, want failed", st)
	}
	if pending, _ := s.PendingSubmissions(ctx); len(pending) != 0 {
		t.Errorf("PendingSubmissions() = %v, want none", pending)
	}

	// last write wins
	if err := s.SetCheckResult(ctx, attempt.CheckResult{SubmissionID: 10, TupleID: 301, CaseID: 3012, Passed: true, Signer: "checker-c"}); err != nil {
		t.Fatalf("SetCheckResult() error = %v", err)
	}
	got, _ = s.GetSubmission(ctx, 10)
	tr, _ = got.TupleResult(301)
	if r := tr.Resolution(3012); r == nil || !r.Passed || r.Signer != "checker-c" {
		t.Errorf("Resolution(3012) = %+v, want passed by checker-c", r)
	}
}

func TestStore_SetCheckResultErrors(t *testing.T) {
	ctx := context.Background()
	s := NewStore(openTestDB(t))
	seedAttempt(t, s, 1)
	if err := s.SaveSubmission(ctx, rSubmission(1)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		result  attempt.CheckResult
		wantErr error
	}{
		{"unknown submission", attempt.CheckResult{SubmissionID: 99, TupleID: 301, CaseID: 3011}, domain.ErrSubmissionNotFound},
		{"unknown tuple", attempt.CheckResult{SubmissionID: 10, TupleID: 999, CaseID: 3011}, domain.ErrTupleNotFound},
		{"unknown case", attempt.CheckResult{SubmissionID: 10, TupleID: 301, CaseID: 1}, ledger.ErrUnknownCase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.SetCheckResult(ctx, tt.result)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("SetCheckResult() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStore_MaxID(t *testing.T) {
	ctx := context.Background()
	s := NewStore(openTestDB(t))

	high, err := s.MaxID(ctx)
	if err != nil || high != 0 {
		t.Fatalf("MaxID() on empty db = %d, %v; want 0", high, err)
	}

	seedAttempt(t, s, 1)
	sub := rSubmission(1)
	sub.TupleResults = []*ledger.TupleResult{ledger.New(42, 10, 301, []int64{3011})}
	if err := s.SaveSubmission(ctx, sub); err != nil {
		t.Fatal(err)
	}
	if high, _ := s.MaxID(ctx); high != 42 {
		t.Errorf("MaxID() = %d, want 42", high)
	}
}
