//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/felixgeelhaar/stagegrade/internal/attempt"
	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/ledger"
	"github.com/felixgeelhaar/stagegrade/internal/vars"
	"github.com/felixgeelhaar/stagegrade/internal/storage/postgres"
)

func setupPostgres(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "stagegrade",
				"POSTGRES_PASSWORD": "stagegrade",
				"POSTGRES_DB":       "stagegrade",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	url := fmt.Sprintf("postgres://stagegrade:stagegrade@%s:%s/stagegrade?sslmode=disable", host, port.Port())

	pool, err := postgres.Connect(ctx, url)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(pool.Close)

	s := postgres.NewStore(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	// schema creation is idempotent
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("second EnsureSchema() error = %v", err)
	}
	return s
}

func TestIntegration_Store_AttemptAndLedger(t *testing.T) {
	ctx := context.Background()
	s := setupPostgres(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	snap := attempt.Snapshot{ID: 1, ExerciseID: 2, Current: 30, Status: attempt.StatusActive, CreatedAt: now, UpdatedAt: now}
	snap.Resume = &attempt.Resume{
		Variables:   map[vars.Partition]map[string]vars.Value{vars.Exercise: {"n": vars.Int(4)}},
		Points:      map[domain.StageID]int{30: 50},
		Submissions: []int64{10},
	}
	if err := s.SaveAttempt(ctx, snap); err != nil {
		t.Fatalf("SaveAttempt() error = %v", err)
	}
	got, err := s.GetAttempt(ctx, 1)
	if err != nil {
		t.Fatalf("GetAttempt() error = %v", err)
	}
	if got.Current != 30 || got.Status != attempt.StatusActive || got.FinishedAt != nil {
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
	if _, err := s.GetAttempt(ctx, 7); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Errorf("GetAttempt(7) error = %v, want ErrAttemptNotFound", err)
	}

	manual := 40
	sub := &domain.StageSubmission{
		ID:            10,
		AttemptID:     1,
		StageID:       30,
		Kind:          domain.KindR,
		Sequence:      1,
		PendingChecks: true,
		ManualResult:  &manual,
		Code:          "vsum <- sum",
		Feedback:      []string{"queued"},
		TupleResults:  []*ledger.TupleResult{ledger.New(11, 10, 301, []int64{3011, 3012})},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.SaveSubmission(ctx, sub); err != nil {
		t.Fatalf("SaveSubmission() error = %v", err)
	}

	pending, err := s.PendingSubmissions(ctx)
	if err != nil || len(pending) != 1 || pending[0] != 10 {
		t.Errorf("PendingSubmissions() = %v, %v", pending, err)
	}

	for _, r := range []attempt.CheckResult{
		{SubmissionID: 10, TupleID: 301, CaseID: 3011, Passed: true, Signer: "a"},
		{SubmissionID: 10, TupleID: 301, CaseID: 3012, Passed: false, Signer: "b"},
	} {
		if err := s.SetCheckResult(ctx, r); err != nil {
			t.Fatalf("SetCheckResult(%d) error = %v", r.CaseID, err)
		}
	}

	loaded, err := s.GetSubmission(ctx, 10)
	if err != nil {
		t.Fatalf("GetSubmission() error = %v", err)
	}
	if loaded.PendingChecks || loaded.HasPendingChecks() {
		t.Error("submission still pending")
	}
	if loaded.ManualResult == nil || *loaded.ManualResult != 40 {
		t.Errorf("ManualResult = %v, want 40", loaded.ManualResult)
	}
	if len(loaded.Feedback) != 1 || loaded.Feedback[0] != "queued" {
		t.Errorf("Feedback = %v", loaded.Feedback)
	}
	tr, ok := loaded.TupleResult(301)
	if !ok {
		t.Fatal("tuple 301 missing")
	}
	if st, _ := tr.State(3012); st != ledger.Failed {
		t.Errorf("State(3012) = %s, want failed", st)
	}

	err = s.SetCheckResult(ctx, attempt.CheckResult{SubmissionID: 10, TupleID: 999, CaseID: 1, Signer: "x"})
	if !errors.Is(err, domain.ErrTupleNotFound) {
		t.Errorf("SetCheckResult(unknown tuple) error = %v, want ErrTupleNotFound", err)
	}

	if high, err := s.MaxID(ctx); err != nil || high != 11 {
		t.Errorf("MaxID() = %d, %v; want 11", high, err)
	}
}
