package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/felixgeelhaar/stagegrade/internal/attempt"
	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/ledger"
	"github.com/felixgeelhaar/stagegrade/internal/queue"
)

type published struct {
	queue string
	data  any
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) PublishJSON(ctx context.Context, q string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{queue: q, data: data})
	return nil
}

func checkRequest() attempt.CheckRequest {
	return attempt.CheckRequest{
		AttemptID:    1,
		SubmissionID: 9,
		StageID:      3,
		Tuple: domain.TestCaseTuple{
			ID: 7,
			TestCases: []domain.TestCase{
				{ID: 11, Name: "returns", Code: "stopifnot(f(1) == 1)"},
				{ID: 12, Name: "vectorised", Code: "stopifnot(length(f(1:3)) == 3)"},
			},
			Checker: domain.CheckerConfiguration{Async: true, Image: "r-base:4.4", MemoryMB: 256},
		},
		CaseIDs: []int64{12},
		Code:    "f <- function(x) x",
	}
}

func TestNewCheckJob(t *testing.T) {
	job := queue.NewCheckJob(checkRequest())

	if job.SubmissionID != 9 || job.TupleID != 7 || job.StageID != 3 {
		t.Errorf("ids = %d/%d/%d; want 9/7/3", job.SubmissionID, job.TupleID, job.StageID)
	}
	if job.Timeout != 30 {
		t.Errorf("Timeout = %d; want default 30", job.Timeout)
	}
	if job.Image != "r-base:4.4" || job.MemoryMB != 256 {
		t.Errorf("checker config = %q/%d", job.Image, job.MemoryMB)
	}
	if len(job.Cases) != 1 || job.Cases[0].ID != 12 || job.Cases[0].Name != "vectorised" {
		t.Errorf("Cases = %+v; want only case 12", job.Cases)
	}
	if job.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestProducer_DispatchChecks(t *testing.T) {
	pub := &fakePublisher{}
	p := queue.NewProducer(pub)

	if err := p.DispatchChecks(context.Background(), []attempt.CheckRequest{checkRequest(), checkRequest()}); err != nil {
		t.Fatalf("DispatchChecks() error = %v", err)
	}
	if len(pub.msgs) != 2 {
		t.Fatalf("published %d messages; want 2", len(pub.msgs))
	}
	for _, m := range pub.msgs {
		if m.queue != queue.CheckQueueName {
			t.Errorf("queue = %q; want %q", m.queue, queue.CheckQueueName)
		}
	}
	a := pub.msgs[0].data.(*queue.CheckJob)
	b := pub.msgs[1].data.(*queue.CheckJob)
	if a.ID == b.ID {
		t.Error("jobs share an id")
	}

	pub.err = errors.New("channel closed")
	if err := p.DispatchChecks(context.Background(), []attempt.CheckRequest{checkRequest()}); err == nil {
		t.Error("DispatchChecks() error = nil; want publish error")
	}
}

func TestProducer_PublishResult(t *testing.T) {
	pub := &fakePublisher{}
	r := &queue.CheckResult{SubmissionID: 9, CaseID: 11, Passed: true}
	if err := queue.NewProducer(pub).PublishResult(context.Background(), r); err != nil {
		t.Fatalf("PublishResult() error = %v", err)
	}
	if pub.msgs[0].queue != queue.ResultQueueName || r.CompletedAt.IsZero() {
		t.Errorf("published to %q, completed %v", pub.msgs[0].queue, r.CompletedAt)
	}
}

type recorder struct {
	got []attempt.CheckResult
	err error
}

func (r *recorder) RecordCheckResult(ctx context.Context, c attempt.CheckResult) error {
	r.got = append(r.got, c)
	return r.err
}

func TestRecordResults(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	var observed []bool
	h := queue.RecordResults(rec, func(passed bool) { observed = append(observed, passed) })

	if err := h(ctx, &queue.CheckResult{SubmissionID: 9, TupleID: 7, CaseID: 11, Passed: true, Signer: "r-1"}); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if err := h(ctx, &queue.CheckResult{SubmissionID: 9, TupleID: 7, CaseID: 12, Error: "oom"}); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if len(rec.got) != 1 || rec.got[0].CaseID != 11 || rec.got[0].Signer != "r-1" {
		t.Errorf("recorded = %+v; want only case 11", rec.got)
	}
	if len(observed) != 1 || !observed[0] {
		t.Errorf("observed = %v; want [true]", observed)
	}

	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"unknown submission dropped", domain.ErrSubmissionNotFound, false},
		{"unknown case dropped", ledger.ErrUnknownCase, false},
		{"store failure retried", errors.New("database is locked"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec.err = tt.err
			err := h(ctx, &queue.CheckResult{SubmissionID: 9, TupleID: 7, CaseID: 11})
			if (err != nil) != tt.wantErr {
				t.Errorf("handler error = %v; wantErr %v", err, tt.wantErr)
			}
		})
	}
}
