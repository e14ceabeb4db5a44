package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/stagegrade/internal/attempt"
	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/ledger"
	"github.com/felixgeelhaar/stagegrade/internal/vars"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func TestNewStore_CreatesDirectories(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "data")
	if _, err := NewStore(base); err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	for _, dir := range []string{attemptsDir, submissionsDir} {
		info, err := os.Stat(filepath.Join(base, dir))
		if err != nil || !info.IsDir() {
			t.Errorf("directory %s not created: %v", dir, err)
		}
	}
}

func TestStore_Attempt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	snap := attempt.Snapshot{ID: 3, ExerciseID: 1, Current: 10, Status: attempt.StatusActive, CreatedAt: now, UpdatedAt: now}
	if err := s.SaveAttempt(ctx, snap); err != nil {
		t.Fatalf("SaveAttempt() error = %v", err)
	}
	snap.Current = 20
	snap.Resume = &attempt.Resume{
		Variables:   map[vars.Partition]map[string]vars.Value{vars.Exercise: {"n": vars.Int(4)}},
		Points:      map[domain.StageID]int{30: 50},
		Submissions: []int64{10},
	}
	if err := s.SaveAttempt(ctx, snap); err != nil {
		t.Fatalf("SaveAttempt(overwrite) error = %v", err)
	}

	got, err := s.GetAttempt(ctx, 3)
	if err != nil {
		t.Fatalf("GetAttempt() error = %v", err)
	}
	if got.Current != 20 || !got.CreatedAt.Equal(now) {
		t.Errorf("GetAttempt() = %+v", got)
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
	if _, err := s.GetAttempt(ctx, 4); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Errorf("GetAttempt(4) error = %v, want ErrAttemptNotFound", err)
	}
}

func TestStore_LedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sub := &domain.StageSubmission{
		ID:            10,
		AttemptID:     3,
		StageID:       30,
		Kind:          domain.KindR,
		PendingChecks: true,
		Code:          "f <- sum",
		TupleResults:  []*ledger.TupleResult{ledger.New(11, 10, 301, []int64{3012, 3011})},
	}
	if err := s.SaveSubmission(ctx, sub); err != nil {
		t.Fatalf("SaveSubmission() error = %v", err)
	}
	if pending, _ := s.PendingSubmissions(ctx); len(pending) != 1 {
		t.Errorf("PendingSubmissions() = %v, want [10]", pending)
	}

	results := []attempt.CheckResult{
		{SubmissionID: 10, TupleID: 301, CaseID: 3011, Passed: true, Signer: "a"},
		{SubmissionID: 10, TupleID: 301, CaseID: 3012, Passed: false, Signer: "b"},
	}
	for _, r := range results {
		if err := s.SetCheckResult(ctx, r); err != nil {
			t.Fatalf("SetCheckResult(%d) error = %v", r.CaseID, err)
		}
	}

	got, err := s.GetSubmission(ctx, 10)
	if err != nil {
		t.Fatalf("GetSubmission() error = %v", err)
	}
	if got.PendingChecks {
		t.Error("PendingChecks = true after all entries resolved")
	}
	tr, ok := got.TupleResult(301)
	if !ok {
		t.Fatal("tuple 301 missing")
	}
	if ids := tr.CaseIDs(); ids[0] != 3012 || ids[1] != 3011 {
		t.Errorf("CaseIDs() = %v, want creation order", ids)
	}
	if r := tr.Resolution(3011); r == nil || !r.Passed || r.Signer != "a" || r.At.IsZero() {
		t.Errorf("Resolution(3011) = %+v", r)
	}
	if pending, _ := s.PendingSubmissions(ctx); len(pending) != 0 {
		t.Errorf("PendingSubmissions() = %v, want none", pending)
	}
	if high, _ := s.MaxID(ctx); high != 11 {
		t.Errorf("MaxID() = %d, want 11", high)
	}
}

func TestStore_SetCheckResultErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sub := &domain.StageSubmission{ID: 10, Kind: domain.KindR, TupleResults: []*ledger.TupleResult{ledger.New(11, 10, 301, []int64{1})}}
	if err := s.SaveSubmission(ctx, sub); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		result  attempt.CheckResult
		wantErr error
	}{
		{"unknown submission", attempt.CheckResult{SubmissionID: 9, TupleID: 301, CaseID: 1}, domain.ErrSubmissionNotFound},
		{"unknown tuple", attempt.CheckResult{SubmissionID: 10, TupleID: 302, CaseID: 1}, domain.ErrTupleNotFound},
		{"unknown case", attempt.CheckResult{SubmissionID: 10, TupleID: 301, CaseID: 2}, ledger.ErrUnknownCase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.SetCheckResult(ctx, tt.result); !errors.Is(err, tt.wantErr) {
				t.Errorf("SetCheckResult() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStore_IgnoresForeignFiles(t *testing.T) {
	s := newTestStore(t)
	dir := filepath.Join(s.basePath, submissionsDir)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dir, "draft.json"), []byte("{}"), 0644)

	ids, err := s.ids(submissionsDir)
	if err != nil {
		t.Fatalf("ids() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids() = %v, want none", ids)
	}
}

func TestStore_ConcurrentCheckResults(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	caseIDs := make([]int64, 20)
	for i := range caseIDs {
		caseIDs[i] = int64(i + 1)
	}
	sub := &domain.StageSubmission{ID: 10, Kind: domain.KindR, TupleResults: []*ledger.TupleResult{ledger.New(11, 10, 301, caseIDs)}}
	if err := s.SaveSubmission(ctx, sub); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for _, id := range caseIDs {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			r := attempt.CheckResult{SubmissionID: 10, TupleID: 301, CaseID: id, Passed: id%2 == 0, Signer: "w"}
			if err := s.SetCheckResult(ctx, r); err != nil {
				t.Errorf("SetCheckResult(%d) error = %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	got, err := s.GetSubmission(ctx, 10)
	if err != nil {
		t.Fatalf("GetSubmission() error = %v", err)
	}
	if got.HasPendingChecks() {
		tr, _ := got.TupleResult(301)
		t.Errorf("%d entries still pending", tr.PendingCount())
	}
}
