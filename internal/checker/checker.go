// Package checker runs dynamic R test cases against submitted code, either
// in process during grading or as a queue worker.
package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/grading"
	"github.com/felixgeelhaar/stagegrade/internal/queue"
)

// File names inside the working directory of a run
const (
	SubmissionFile = "submission.R"
	CaseFile       = "case.R"
)

// ErrNoCheck is returned for a case with neither code nor expression
var ErrNoCheck = errors.New("test case has nothing to run")

// Spec describes the environment one case runs in
type Spec struct {
	Image      string
	MemoryMB   int
	CPULimit   float64
	NetworkOff bool
}

// ExecResult holds the output of one run
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// Backend executes a command over a set of files
type Backend interface {
	Exec(ctx context.Context, spec Spec, files map[string]string, cmd []string, timeout time.Duration) (*ExecResult, error)
	Close() error
}

// Config holds runner configuration
type Config struct {
	Image      string
	Rscript    string
	MemoryMB   int
	CPULimit   float64
	NetworkOff bool
	Parallel   int
	Timeout    time.Duration
}

// DefaultConfig returns sensible defaults for an R checker
func DefaultConfig() Config {
	return Config{
		Image:      "r-base:4.4.1",
		Rscript:    "Rscript",
		MemoryMB:   256,
		CPULimit:   0.5,
		NetworkOff: true,
		Parallel:   4,
		Timeout:    30 * time.Second,
	}
}

// Runner decides whether the rule of a dynamic case holds: the case script
// sources the submission and holds iff it exits with status zero.
type Runner struct {
	backend Backend
	cfg     Config
	logger  *slog.Logger
}

// Ensure Runner can grade synchronous tuples in process
var _ grading.CaseRunner = (*Runner)(nil)

// NewRunner creates a runner; zero config fields fall back to defaults
func NewRunner(backend Backend, cfg Config) *Runner {
	def := DefaultConfig()
	if cfg.Image == "" {
		cfg.Image = def.Image
	}
	if cfg.Rscript == "" {
		cfg.Rscript = def.Rscript
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = def.MemoryMB
	}
	if cfg.CPULimit <= 0 {
		cfg.CPULimit = def.CPULimit
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = def.Parallel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Runner{backend: backend, cfg: cfg, logger: slog.Default()}
}

// RunCase runs one case of a tuple against the submitted code
func (r *Runner) RunCase(ctx context.Context, tuple domain.TestCaseTuple, tc domain.TestCase, code string) (bool, error) {
	c := queue.JobCase{ID: tc.ID, Name: tc.Name, Code: tc.Code, Expression: tc.Expression}
	return r.run(ctx, r.spec(tuple.Checker.Image, tuple.Checker.MemoryMB), r.timeout(tuple.Checker.TimeoutSeconds), c, code)
}

// HandleJob runs all cases of a queued job in parallel
func (r *Runner) HandleJob(ctx context.Context, job *queue.CheckJob) ([]queue.CaseOutcome, error) {
	spec := r.spec(job.Image, job.MemoryMB)
	timeout := r.timeout(job.Timeout)
	out := make([]queue.CaseOutcome, len(job.Cases))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallel)
	for i, c := range job.Cases {
		g.Go(func() error {
			holds, err := r.run(ctx, spec, timeout, c, job.Code)
			if err != nil {
				return fmt.Errorf("case %d: %w", c.ID, err)
			}
			out[i] = queue.CaseOutcome{CaseID: c.ID, Passed: holds}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Runner) run(ctx context.Context, spec Spec, timeout time.Duration, c queue.JobCase, code string) (bool, error) {
	script, err := CaseScript(c)
	if err != nil {
		return false, err
	}
	files := map[string]string{
		SubmissionFile: code,
		CaseFile:       script,
	}
	res, err := r.backend.Exec(ctx, spec, files, []string{r.cfg.Rscript, CaseFile}, timeout)
	if err != nil {
		return false, fmt.Errorf("run case %d: %w", c.ID, err)
	}
	if res.TimedOut {
		r.logger.Info("test case timed out", "case_id", c.ID, "timeout", timeout)
		return false, nil
	}
	r.logger.Debug("test case finished",
		"case_id", c.ID,
		"exit_code", res.ExitCode,
		"duration", res.Duration)
	return res.ExitCode == 0, nil
}

func (r *Runner) spec(image string, memoryMB int) Spec {
	s := Spec{
		Image:      r.cfg.Image,
		MemoryMB:   r.cfg.MemoryMB,
		CPULimit:   r.cfg.CPULimit,
		NetworkOff: r.cfg.NetworkOff,
	}
	if image != "" {
		s.Image = image
	}
	if memoryMB > 0 {
		s.MemoryMB = memoryMB
	}
	return s
}

func (r *Runner) timeout(seconds int) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return r.cfg.Timeout
}

// CaseScript builds the R script of one case. The case code runs after the
// submission has been sourced; an expression alone must evaluate to TRUE.
func CaseScript(c queue.JobCase) (string, error) {
	body := strings.TrimSpace(c.Code)
	if body == "" {
		expr := strings.TrimSpace(c.Expression)
		if expr == "" {
			return "", fmt.Errorf("case %d: %w", c.ID, ErrNoCheck)
		}
		body = "stopifnot(isTRUE(" + expr + "))"
	}
	var b strings.Builder
	b.WriteString("source(\"" + SubmissionFile + "\")\n")
	b.WriteString(body)
	b.WriteString("\n")
	return b.String(), nil
}
