// Package evaluator talks to the external expression evaluation service.
//
// Every grading step sends one batched request: a list of named tasks plus
// the four variable partitions. The service answers with a map from task name
// to either a typed value (Evaluate) or a boolean (Booleanize).
package evaluator

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/vars"
)

// ErrUnavailable marks evaluator transport or service failures. It is an
// internal error signal, distinct from a student's answer being wrong.
var ErrUnavailable = errors.New("expression evaluator unavailable")

// Task is one named expression to evaluate
type Task struct {
	Name       string            `json:"name"`
	Expression string            `json:"expression"`
	Domain     domain.EvalDomain `json:"domain,omitempty"`
}

// Client evaluates batches of tasks against an environment
type Client interface {
	Evaluate(ctx context.Context, tasks []Task, env *vars.Environment) (map[string]vars.Value, error)
	Booleanize(ctx context.Context, tasks []Task, env *vars.Environment) (map[string]bool, error)
}

// StatusError is returned for non-2xx evaluator responses
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("evaluator error (status %d): %s", e.Code, e.Body)
}

// Is makes every StatusError match ErrUnavailable
func (e *StatusError) Is(target error) bool {
	return target == ErrUnavailable
}

// split separates tasks with an empty expression, which are true by
// definition, from those that need the service.
func split(tasks []Task) (remote []Task, local []string) {
	for _, t := range tasks {
		if t.Expression == "" {
			local = append(local, t.Name)
			continue
		}
		remote = append(remote, t)
	}
	return remote, local
}

// checkNames verifies that every requested task has a result
func checkNames[V any](tasks []Task, got map[string]V) error {
	for _, t := range tasks {
		if _, ok := got[t.Name]; !ok {
			return fmt.Errorf("%w: no result for task %q", ErrUnavailable, t.Name)
		}
	}
	return nil
}

// FuncClient adapts plain functions to Client while keeping the batching
// contract (empty batches never reach the functions, empty expressions are
// true). It backs in-process evaluation and tests.
type FuncClient struct {
	EvaluateFunc   func(ctx context.Context, tasks []Task, env *vars.Environment) (map[string]vars.Value, error)
	BooleanizeFunc func(ctx context.Context, tasks []Task, env *vars.Environment) (map[string]bool, error)
}

func (c *FuncClient) Evaluate(ctx context.Context, tasks []Task, env *vars.Environment) (map[string]vars.Value, error) {
	remote, local := split(tasks)
	out := make(map[string]vars.Value, len(tasks))
	for _, name := range local {
		out[name] = vars.Bool(true)
	}
	if len(remote) == 0 {
		return out, nil
	}
	if c.EvaluateFunc == nil {
		return nil, fmt.Errorf("%w: evaluate not supported", ErrUnavailable)
	}
	got, err := c.EvaluateFunc(ctx, remote, env)
	if err != nil {
		return nil, err
	}
	if err := checkNames(remote, got); err != nil {
		return nil, err
	}
	for k, v := range got {
		out[k] = v
	}
	return out, nil
}

func (c *FuncClient) Booleanize(ctx context.Context, tasks []Task, env *vars.Environment) (map[string]bool, error) {
	remote, local := split(tasks)
	out := make(map[string]bool, len(tasks))
	for _, name := range local {
		out[name] = true
	}
	if len(remote) == 0 {
		return out, nil
	}
	if c.BooleanizeFunc == nil {
		return nil, fmt.Errorf("%w: booleanize not supported", ErrUnavailable)
	}
	got, err := c.BooleanizeFunc(ctx, remote, env)
	if err != nil {
		return nil, err
	}
	if err := checkNames(remote, got); err != nil {
		return nil, err
	}
	for k, v := range got {
		out[k] = v
	}
	return out, nil
}
