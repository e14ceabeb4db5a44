package grading

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/evaluator"
	"github.com/felixgeelhaar/stagegrade/internal/ledger"
	"github.com/felixgeelhaar/stagegrade/internal/vars"
)

// EvaluatorSigner signs ledger entries resolved through the evaluator
const EvaluatorSigner = "evaluator"

// InputCode is the input variable holding the submitted source code
const InputCode = "code"

// finalTask is the task name of the stage level result expression
const finalTask = "final"

// CaseRunner executes a dynamic test case against student code and reports
// whether its rule holds.
type CaseRunner interface {
	RunCase(ctx context.Context, tuple domain.TestCaseTuple, tc domain.TestCase, code string) (bool, error)
}

// TupleScore combines the resolved entries of a tuple. A tuple without GAIN
// cases starts at 100, otherwise at 0. A satisfied GAIN case adds its points,
// an unsatisfied DEDUCTION case subtracts them. The score is clamped to
// [0,100]. pending is true while any entry is unresolved; the score is then
// meaningless.
func TupleScore(t domain.TestCaseTuple, r *ledger.TupleResult) (score int, failed []domain.TestCase, pending bool) {
	if r.HasPending() {
		return 0, nil, true
	}
	base := 100
	for _, tc := range t.TestCases {
		if tc.PointsMode == domain.PointsGain {
			base = 0
			break
		}
	}
	score = base
	for _, tc := range t.TestCases {
		st, ok := r.State(tc.ID)
		if !ok {
			continue
		}
		satisfied := tc.Satisfied(st == ledger.Passed)
		switch tc.PointsMode {
		case domain.PointsDeduction:
			if !satisfied {
				score -= tc.Points
			}
		default:
			if satisfied {
				score += tc.Points
			}
		}
		if !satisfied {
			failed = append(failed, tc)
		}
	}
	return clamp(score), failed, false
}

// runSyncChecks resolves the entries of synchronous tuples: static cases in
// one evaluator batch, dynamic cases through the runner when one is set.
// Entries that already have a result are left alone.
func (g *Grader) runSyncChecks(ctx context.Context, s *domain.Stage, sub *domain.StageSubmission, env *vars.Environment) error {
	type ref struct {
		result *ledger.TupleResult
		caseID int64
	}
	var (
		tasks []evaluator.Task
		refs  = make(map[string]ref)
	)
	for _, t := range s.R.Tuples {
		if t.Checker.Async {
			continue
		}
		r, ok := sub.TupleResult(t.ID)
		if !ok {
			return fmt.Errorf("stage %d tuple %d: %w", s.ID, t.ID, domain.ErrTupleNotFound)
		}
		for _, tc := range t.TestCases {
			if st, _ := r.State(tc.ID); st != ledger.Pending {
				continue
			}
			switch tc.Kind {
			case domain.TestCaseStatic:
				name := "case" + strconv.FormatInt(tc.ID, 10)
				tasks = append(tasks, evaluator.Task{Name: name, Expression: tc.Expression, Domain: tc.Domain})
				refs[name] = ref{result: r, caseID: tc.ID}
			case domain.TestCaseDynamic:
				if g.runner == nil {
					continue
				}
				holds, err := g.runner.RunCase(ctx, t, tc, sub.Code)
				if err != nil {
					return fmt.Errorf("run case %d: %w", tc.ID, err)
				}
				if err := r.Set(tc.ID, holds, g.runnerName); err != nil {
					return err
				}
			}
		}
	}

	res, err := g.client.Booleanize(ctx, tasks, env)
	if err != nil {
		return fmt.Errorf("evaluate static cases: %w", err)
	}
	for name, rf := range refs {
		if err := rf.result.Set(rf.caseID, res[name], EvaluatorSigner); err != nil {
			return err
		}
	}
	return nil
}

// ScoreR computes the stage score from the ledgers. While any entry of any
// tuple is pending the result is marked pending and carries no points.
func (g *Grader) ScoreR(ctx context.Context, s *domain.Stage, sub *domain.StageSubmission, env *vars.Environment) (Result, error) {
	if s.Kind != domain.KindR || s.R == nil {
		return Result{}, fmt.Errorf("score stage %d: %w", s.ID, domain.ErrKindMismatch)
	}
	if sub.HasPendingChecks() {
		return Result{Pending: true}, nil
	}
	p := s.R

	var (
		feedback []string
		sum      int
	)
	for _, t := range p.Tuples {
		r, ok := sub.TupleResult(t.ID)
		if !ok {
			return Result{}, fmt.Errorf("stage %d tuple %d: %w", s.ID, t.ID, domain.ErrTupleNotFound)
		}
		score, failed, _ := TupleScore(t, r)
		env.Set(vars.Meta, t.VariableName(), vars.Int(int64(score)))
		sum += score
		for _, tc := range failed {
			if tc.FailureFeedback != "" {
				feedback = append(feedback, env.Substitute(g.logger, tc.FailureFeedback))
			}
		}
	}

	var points int
	switch {
	case len(p.Tuples) == 0:
		points = 0
	case p.FinalResultExpression == "":
		points = int(math.Round(float64(sum) / float64(len(p.Tuples))))
	default:
		vals, err := g.client.Evaluate(ctx, []evaluator.Task{{
			Name:       finalTask,
			Expression: p.FinalResultExpression,
			Domain:     p.FinalResultDomain,
		}}, env)
		if err != nil {
			return Result{}, fmt.Errorf("evaluate final result: %w", err)
		}
		f, ok := vals[finalTask].AsFloat()
		if !ok {
			return Result{}, fmt.Errorf("final result of stage %d is %s, not numeric", s.ID, vals[finalTask].Type)
		}
		points = int(math.Round(f))
	}
	points = clamp(points)

	if len(feedback) == 0 && p.DefaultFeedback != "" {
		feedback = append(feedback, env.Substitute(g.logger, p.DefaultFeedback))
	}
	return Result{Points: points, Feedback: feedback, Correct: points == 100}, nil
}

func (g *Grader) gradeR(ctx context.Context, s *domain.Stage, sub *domain.StageSubmission, env *vars.Environment) (Result, error) {
	env.Set(vars.Input, InputCode, vars.String(sub.Code))
	if err := g.runSyncChecks(ctx, s, sub, env); err != nil {
		return Result{}, err
	}
	return g.ScoreR(ctx, s, sub, env)
}
