// Package queue carries asynchronous test case checks over RabbitMQ: the
// grading daemon publishes CheckJobs, checker workers answer with one
// CheckResult per test case.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue names
const (
	CheckQueueName  = "stagegrade.checks"
	ResultQueueName = "stagegrade.check_results"
)

// CheckJob asks a checker to run the pending test cases of one tuple
type CheckJob struct {
	ID           uuid.UUID `json:"id"`
	AttemptID    int64     `json:"attempt_id"`
	SubmissionID int64     `json:"submission_id"`
	StageID      int64     `json:"stage_id"`
	TupleID      int64     `json:"tuple_id"`
	Image        string    `json:"image,omitempty"`
	Timeout      int       `json:"timeout"` // seconds
	MemoryMB     int       `json:"memory_mb,omitempty"`
	Code         string    `json:"code"`
	Cases        []JobCase `json:"cases"`
	CreatedAt    time.Time `json:"created_at"`
}

// JobCase is one test case to run against the submitted code
type JobCase struct {
	ID         int64  `json:"id"`
	Name       string `json:"name,omitempty"`
	Code       string `json:"code,omitempty"`
	Expression string `json:"expression,omitempty"`
}

// CheckResult reports whether the rule of one test case holds
type CheckResult struct {
	JobID        uuid.UUID     `json:"job_id"`
	SubmissionID int64         `json:"submission_id"`
	TupleID      int64         `json:"tuple_id"`
	CaseID       int64         `json:"case_id"`
	Passed       bool          `json:"passed"`
	Signer       string        `json:"signer"`
	Error        string        `json:"error,omitempty"` // checker failure, not a student failure
	Duration     time.Duration `json:"duration"`
	CompletedAt  time.Time     `json:"completed_at"`
}

// Failed reports whether the checker could not produce a verdict
func (r *CheckResult) Failed() bool {
	return r.Error != ""
}

// Connection manages the RabbitMQ connection with automatic reconnection
type Connection struct {
	url        string
	conn       *amqp.Connection
	channel    *amqp.Channel
	mu         sync.RWMutex
	closed     bool
	reconnects int
}

// NewConnection creates a new RabbitMQ connection
func NewConnection(url string) (*Connection, error) {
	c := &Connection{
		url: url,
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Connection) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	c.conn, err = amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := c.declareQueues(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return err
	}

	go c.handleReconnect()

	slog.Info("connected to RabbitMQ", "url", sanitizeURL(c.url))
	return nil
}

// declareQueues creates the job and result queues. Results have no TTL: a
// lost result leaves a ledger entry pending forever.
func (c *Connection) declareQueues() error {
	_, err := c.channel.QueueDeclare(
		CheckQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-message-ttl": int32(900000), // 15 minutes
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare check queue: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		ResultQueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare result queue: %w", err)
	}

	return nil
}

// handleReconnect listens for connection close and attempts to reconnect
func (c *Connection) handleReconnect() {
	notifyClose := c.conn.NotifyClose(make(chan *amqp.Error, 1))

	err := <-notifyClose
	if err == nil {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	slog.Warn("RabbitMQ connection closed, attempting to reconnect",
		"error", err,
		"reconnects", c.reconnects,
	)

	for i := 0; i < 10; i++ {
		c.reconnects++
		time.Sleep(reconnectBackoff(i))

		if err := c.connect(); err != nil {
			slog.Error("reconnection failed", "error", err, "attempt", i+1)
			continue
		}

		slog.Info("reconnected to RabbitMQ", "attempts", i+1)
		return
	}

	slog.Error("failed to reconnect to RabbitMQ after 10 attempts")
}

func reconnectBackoff(attempt int) time.Duration {
	backoff := time.Duration(1<<attempt) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}

// Channel returns the current channel (thread-safe)
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// Close closes the connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected checks if the connection is active
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// PublishJSON publishes a JSON message to a queue
func (c *Connection) PublishJSON(ctx context.Context, queue string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	return ch.PublishWithContext(
		ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// sanitizeURL hides the password of an AMQP URL for logging
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<invalid url>"
	}
	return u.Redacted()
}
