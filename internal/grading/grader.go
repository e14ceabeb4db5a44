package grading

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/evaluator"
	"github.com/felixgeelhaar/stagegrade/internal/vars"
)

// Grader dispatches a submission to the grader of its stage kind
type Grader struct {
	client     evaluator.Client
	runner     CaseRunner
	runnerName string
	logger     *slog.Logger
}

// Option configures a Grader
type Option func(*Grader)

// WithCaseRunner runs dynamic test cases of synchronous tuples in process
func WithCaseRunner(name string, r CaseRunner) Option {
	return func(g *Grader) {
		g.runner = r
		g.runnerName = name
	}
}

// WithLogger sets the logger used for best-effort feedback substitution
func WithLogger(l *slog.Logger) Option {
	return func(g *Grader) { g.logger = l }
}

// NewGrader creates a grader
func NewGrader(client evaluator.Client, opts ...Option) *Grader {
	g := &Grader{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Grade scores sub against stage s. The input partition of env is replaced
// by the submission's values.
func (g *Grader) Grade(ctx context.Context, s *domain.Stage, sub *domain.StageSubmission, env *vars.Environment) (Result, error) {
	if sub.Kind != s.Kind || sub.StageID != s.ID {
		return Result{}, fmt.Errorf("grade %s submission %d on %s stage %d: %w",
			sub.Kind, sub.ID, s.Kind, s.ID, domain.ErrKindMismatch)
	}
	if env == nil {
		env = vars.NewEnvironment()
	}
	env.Reset(vars.Input)

	switch s.Kind {
	case domain.KindMC:
		return g.gradeMC(ctx, s, sub, env)
	case domain.KindFillIn:
		return g.gradeFillIn(ctx, s, sub, env)
	case domain.KindR:
		return g.gradeR(ctx, s, sub, env)
	default:
		panic(fmt.Sprintf("grading: unknown stage kind %q", s.Kind))
	}
}

func (g *Grader) defaultResult(points int, feedback string, env *vars.Environment) Result {
	res := Result{Points: clamp(points), Default: true}
	if feedback != "" {
		res.Feedback = []string{env.Substitute(g.logger, feedback)}
	}
	return res
}
