package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// CaseOutcome is the verdict of one test case: whether its rule holds
type CaseOutcome struct {
	CaseID int64
	Passed bool
}

// JobHandler runs the cases of a check job
type JobHandler func(ctx context.Context, job *CheckJob) ([]CaseOutcome, error)

// Consumer consumes check jobs from the queue
type Consumer struct {
	conn       *Connection
	handler    JobHandler
	producer   *Producer
	workers    int
	prefetch   int
	signer     string
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Workers  int    // Number of concurrent workers
	Prefetch int    // Prefetch count per worker
	Signer   string // Identity written into every result
}

// DefaultConsumerConfig returns sensible defaults
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Workers:  3,
		Prefetch: 1,
		Signer:   "checker",
	}
}

// NewConsumer creates a new queue consumer
func NewConsumer(conn *Connection, handler JobHandler, cfg ConsumerConfig) *Consumer {
	def := DefaultConsumerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = def.Prefetch
	}
	if cfg.Signer == "" {
		cfg.Signer = def.Signer
	}

	return &Consumer{
		conn:     conn,
		handler:  handler,
		producer: NewProducer(conn),
		workers:  cfg.Workers,
		prefetch: cfg.Prefetch,
		signer:   cfg.Signer,
	}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancelFunc = context.WithCancel(ctx)

	ch := c.conn.Channel()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		CheckQueueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	slog.Info("starting check queue consumer", "workers", c.workers, "prefetch", c.prefetch, "signer", c.signer)

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, msgs)
	}

	return nil
}

func (c *Consumer) worker(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopping", "worker_id", id)
			return

		case msg, ok := <-msgs:
			if !ok {
				slog.Info("message channel closed", "worker_id", id)
				return
			}

			c.processMessage(ctx, id, msg)
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, workerID int, msg amqp.Delivery) {
	var job CheckJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		slog.Error("failed to unmarshal check job",
			"worker_id", workerID,
			"error", err,
		)
		_ = msg.Reject(false)
		return
	}

	slog.Info("processing check job",
		"worker_id", workerID,
		"job_id", job.ID,
		"submission_id", job.SubmissionID,
		"cases", len(job.Cases),
	)

	for _, result := range c.run(ctx, &job) {
		if err := c.producer.PublishResult(ctx, result); err != nil {
			slog.Error("failed to publish result",
				"worker_id", workerID,
				"job_id", job.ID,
				"case_id", result.CaseID,
				"error", err,
			)
		}
	}

	if err := msg.Ack(false); err != nil {
		slog.Error("failed to ack message",
			"worker_id", workerID,
			"job_id", job.ID,
			"error", err,
		)
	}
}

// run executes the job under its timeout and turns the outcome into one
// result per case. A handler error or a missing verdict yields a failed
// result so the daemon can tell infrastructure faults from wrong code.
func (c *Consumer) run(ctx context.Context, job *CheckJob) []*CheckResult {
	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout(job))
	defer cancel()

	outcomes, err := c.handler(jobCtx, job)
	duration := time.Since(start)

	if err != nil {
		msg := err.Error()
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			msg = "execution timed out"
		}
		slog.Error("check job failed", "job_id", job.ID, "error", err, "duration", duration)
		return buildResults(job, nil, msg, c.signer, duration)
	}
	return buildResults(job, outcomes, "", c.signer, duration)
}

func jobTimeout(job *CheckJob) time.Duration {
	timeout := time.Duration(job.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout * time.Second
	}
	return timeout
}

func buildResults(job *CheckJob, outcomes []CaseOutcome, failure, signer string, duration time.Duration) []*CheckResult {
	verdicts := make(map[int64]bool, len(outcomes))
	for _, o := range outcomes {
		verdicts[o.CaseID] = o.Passed
	}
	now := time.Now()
	out := make([]*CheckResult, 0, len(job.Cases))
	for _, jc := range job.Cases {
		r := &CheckResult{
			JobID:        job.ID,
			SubmissionID: job.SubmissionID,
			TupleID:      job.TupleID,
			CaseID:       jc.ID,
			Signer:       signer,
			Duration:     duration,
			CompletedAt:  now,
		}
		passed, ok := verdicts[jc.ID]
		switch {
		case failure != "":
			r.Error = failure
		case !ok:
			r.Error = "no verdict for case"
		default:
			r.Passed = passed
		}
		out = append(out, r)
	}
	return out
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()
	slog.Info("consumer stopped")
}

// ResultHandler handles one check result. A returned error requeues the
// message once.
type ResultHandler func(ctx context.Context, result *CheckResult) error

// ResultConsumer feeds check results back into grading
type ResultConsumer struct {
	conn       *Connection
	handler    ResultHandler
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewResultConsumer creates a result consumer
func NewResultConsumer(conn *Connection, handler ResultHandler) *ResultConsumer {
	return &ResultConsumer{
		conn:    conn,
		handler: handler,
	}
}

// Start begins consuming results
func (rc *ResultConsumer) Start(ctx context.Context) error {
	ctx, rc.cancelFunc = context.WithCancel(ctx)

	ch := rc.conn.Channel()

	msgs, err := ch.Consume(
		ResultQueueName,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start result consumer: %w", err)
	}

	rc.wg.Add(1)
	go rc.consume(ctx, msgs)

	return nil
}

func (rc *ResultConsumer) consume(ctx context.Context, msgs <-chan amqp.Delivery) {
	defer rc.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			rc.deliver(ctx, msg)
		}
	}
}

func (rc *ResultConsumer) deliver(ctx context.Context, msg amqp.Delivery) {
	var result CheckResult
	if err := json.Unmarshal(msg.Body, &result); err != nil {
		slog.Error("failed to unmarshal check result", "error", err)
		_ = msg.Reject(false)
		return
	}

	if err := rc.handler(ctx, &result); err != nil {
		slog.Error("failed to handle check result",
			"submission_id", result.SubmissionID,
			"case_id", result.CaseID,
			"redelivered", msg.Redelivered,
			"error", err,
		)
		_ = msg.Nack(false, !msg.Redelivered)
		return
	}
	_ = msg.Ack(false)
}

// Stop stops the result consumer
func (rc *ResultConsumer) Stop() {
	if rc.cancelFunc != nil {
		rc.cancelFunc()
	}
	rc.wg.Wait()
}
