package grading

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/expr"
	"github.com/felixgeelhaar/stagegrade/internal/vars"
)

// MetaCorrect is the meta variable holding whether the ticked pattern
// satisfies every option tag
const MetaCorrect = "mcCorrect"

// A correct pattern scores 100 with the correct feedback. Otherwise the
// feedback rules run against mcindex_<i> booleans, falling back to the stage
// default when none matches.
func (g *Grader) gradeMC(ctx context.Context, s *domain.Stage, sub *domain.StageSubmission, env *vars.Environment) (Result, error) {
	p := s.MC
	if len(sub.Ticked) != len(p.Answers) {
		return Result{}, fmt.Errorf("stage %d: %d options ticked of %d: %w",
			s.ID, len(sub.Ticked), len(p.Answers), domain.ErrIndexOutOfRange)
	}
	for i, ticked := range sub.Ticked {
		env.Set(vars.Input, expr.Placeholder(i), vars.Bool(ticked))
	}
	correct := p.IsCorrect(sub.Ticked)
	env.Set(vars.Meta, MetaCorrect, vars.Bool(correct))

	if correct {
		res := Result{Points: 100, Correct: true}
		if p.CorrectFeedback != "" {
			res.Feedback = []string{env.Substitute(g.logger, p.CorrectFeedback)}
		}
		return res, nil
	}

	out, err := RunRules(ctx, g.client, p.Rules, env, g.logger)
	if err != nil {
		return Result{}, err
	}
	if !out.Any() {
		return g.defaultResult(p.DefaultResult, p.DefaultFeedback, env), nil
	}
	return Result{
		Points:   clamp(out.Points),
		Feedback: out.Feedback,
		Matched:  out.Matched,
	}, nil
}
