package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/stagegrade/internal/attempt"
	"github.com/felixgeelhaar/stagegrade/internal/domain"
)

// defaultTimeout bounds a check job whose tuple sets no timeout, in seconds
const defaultTimeout = 30

// Publisher is the part of Connection the producer needs
type Publisher interface {
	PublishJSON(ctx context.Context, queue string, data any) error
}

// Producer publishes check jobs and results
type Producer struct {
	conn Publisher
}

// NewProducer creates a new queue producer
func NewProducer(conn Publisher) *Producer {
	return &Producer{conn: conn}
}

// Ensure Producer can dispatch checks for the attempt service
var _ attempt.Dispatcher = (*Producer)(nil)

// PublishCheckJob publishes a check job to the queue
func (p *Producer) PublishCheckJob(ctx context.Context, job *CheckJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	if err := p.conn.PublishJSON(ctx, CheckQueueName, job); err != nil {
		return fmt.Errorf("failed to publish check job: %w", err)
	}

	slog.Info("published check job",
		"job_id", job.ID,
		"submission_id", job.SubmissionID,
		"tuple_id", job.TupleID,
		"cases", len(job.Cases),
	)

	return nil
}

// PublishResult publishes one test case result
func (p *Producer) PublishResult(ctx context.Context, result *CheckResult) error {
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now()
	}

	if err := p.conn.PublishJSON(ctx, ResultQueueName, result); err != nil {
		return fmt.Errorf("failed to publish check result: %w", err)
	}

	slog.Debug("published check result",
		"job_id", result.JobID,
		"submission_id", result.SubmissionID,
		"case_id", result.CaseID,
		"passed", result.Passed,
	)

	return nil
}

// DispatchChecks publishes one job per request
func (p *Producer) DispatchChecks(ctx context.Context, reqs []attempt.CheckRequest) error {
	for _, req := range reqs {
		if err := p.PublishCheckJob(ctx, NewCheckJob(req)); err != nil {
			return err
		}
	}
	return nil
}

// NewCheckJob builds a job for the requested cases of a tuple
func NewCheckJob(req attempt.CheckRequest) *CheckJob {
	timeout := req.Tuple.Checker.TimeoutSeconds
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	job := &CheckJob{
		ID:           uuid.New(),
		AttemptID:    req.AttemptID,
		SubmissionID: req.SubmissionID,
		StageID:      int64(req.StageID),
		TupleID:      req.Tuple.ID,
		Image:        req.Tuple.Checker.Image,
		Timeout:      timeout,
		MemoryMB:     req.Tuple.Checker.MemoryMB,
		Code:         req.Code,
		CreatedAt:    time.Now(),
	}
	for _, id := range req.CaseIDs {
		tc, ok := req.Tuple.TestCase(id)
		if !ok {
			continue
		}
		job.Cases = append(job.Cases, jobCase(tc))
	}
	return job
}

func jobCase(tc domain.TestCase) JobCase {
	return JobCase{
		ID:         tc.ID,
		Name:       tc.Name,
		Code:       tc.Code,
		Expression: tc.Expression,
	}
}
