// Package stagegraph selects the next stage of an attempt.
package stagegraph

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/evaluator"
	"github.com/felixgeelhaar/stagegrade/internal/vars"
)

// Exit is how the student left a stage
type Exit string

const (
	ExitNormal Exit = "normal"
	ExitSkip   Exit = "skip"
)

// Path names the transition list the chosen transition came from
type Path string

const (
	PathExtra   Path = "extra"
	PathSkip    Path = "skip"
	PathDefault Path = "default"
)

// Outcome is the result of transition selection
type Outcome struct {
	Transition domain.StageTransition
	Path       Path
	Target     domain.StageID
	End        bool
	Repeat     bool
}

// Navigator evaluates transition guards through the evaluator
type Navigator struct {
	client evaluator.Client
}

// NewNavigator creates a navigator
func NewNavigator(client evaluator.Client) *Navigator {
	return &Navigator{client: client}
}

// Guard evaluates the condition and then, only when it holds, the stage
// expression of one transition. Both default to true when empty.
func (n *Navigator) Guard(ctx context.Context, t domain.StageTransition, env *vars.Environment) (bool, error) {
	ok, err := n.guard(ctx, t, env)
	if err != nil {
		return false, fmt.Errorf("evaluate transition %d: %w", t.ID, err)
	}
	return ok, nil
}

// Select picks the next stage: extra transitions in order, then skip
// transitions when the stage was skipped, then the default transition.
func (n *Navigator) Select(ctx context.Context, s *domain.Stage, env *vars.Environment, exit Exit) (Outcome, error) {
	t, ok, err := n.first(ctx, s.ExtraTransitions, env)
	if err != nil {
		return Outcome{}, fmt.Errorf("stage %d extra transitions: %w", s.ID, err)
	}
	if ok {
		return outcome(s, t, PathExtra), nil
	}

	if exit == ExitSkip {
		t, ok, err = n.first(ctx, s.SkipTransitions, env)
		if err != nil {
			return Outcome{}, fmt.Errorf("stage %d skip transitions: %w", s.ID, err)
		}
		if ok {
			return outcome(s, t, PathSkip), nil
		}
	}

	return outcome(s, s.DefaultTransition, PathDefault), nil
}

// first walks the list in order and returns the first transition whose
// guards both hold. Nothing after the winner is evaluated.
func (n *Navigator) first(ctx context.Context, list []domain.StageTransition, env *vars.Environment) (domain.StageTransition, bool, error) {
	for _, t := range list {
		ok, err := n.guard(ctx, t, env)
		if err != nil {
			return domain.StageTransition{}, false, fmt.Errorf("transition %d: %w", t.ID, err)
		}
		if ok {
			return t, true, nil
		}
	}
	return domain.StageTransition{}, false, nil
}

func (n *Navigator) guard(ctx context.Context, t domain.StageTransition, env *vars.Environment) (bool, error) {
	ok, err := n.holds(ctx, "cond", t.ConditionExpression, env)
	if err != nil || !ok {
		return false, err
	}
	return n.holds(ctx, "stage", t.StageExpression, env)
}

// holds evaluates one boolean expression; an empty one is true without a
// round trip
func (n *Navigator) holds(ctx context.Context, name, expression string, env *vars.Environment) (bool, error) {
	if expression == "" {
		return true, nil
	}
	res, err := n.client.Booleanize(ctx, []evaluator.Task{{Name: name, Expression: expression, Domain: domain.DomainBoolean}}, env)
	if err != nil {
		return false, err
	}
	return res[name], nil
}

func outcome(s *domain.Stage, t domain.StageTransition, p Path) Outcome {
	return Outcome{
		Transition: t,
		Path:       p,
		Target:     t.Target,
		End:        t.IsEnd(),
		Repeat:     t.IsRepeatOf(s.ID),
	}
}
