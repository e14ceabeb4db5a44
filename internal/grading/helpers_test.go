package grading

import (
	"context"
	"strings"
	"sync"

	"github.com/felixgeelhaar/stagegrade/internal/evaluator"
	"github.com/felixgeelhaar/stagegrade/internal/vars"
)

// fakeEvaluator understands just enough to drive the graders: the literals
// true and false, conjunctions with &&, negation with a leading !, bare
// boolean input names and "name == literal" comparisons against the input
// partition. Meta numbers can be read through "meta:name".
type fakeEvaluator struct {
	mu      sync.Mutex
	batches [][]evaluator.Task
	values  map[string]vars.Value
}

func (f *fakeEvaluator) client() *evaluator.FuncClient {
	return &evaluator.FuncClient{
		BooleanizeFunc: func(ctx context.Context, tasks []evaluator.Task, env *vars.Environment) (map[string]bool, error) {
			f.record(tasks)
			out := make(map[string]bool, len(tasks))
			for _, t := range tasks {
				out[t.Name] = evalBool(t.Expression, env)
			}
			return out, nil
		},
		EvaluateFunc: func(ctx context.Context, tasks []evaluator.Task, env *vars.Environment) (map[string]vars.Value, error) {
			f.record(tasks)
			out := make(map[string]vars.Value, len(tasks))
			for _, t := range tasks {
				if v, ok := f.values[t.Expression]; ok {
					out[t.Name] = v
					continue
				}
				if name, ok := strings.CutPrefix(t.Expression, "meta:"); ok {
					v, _ := env.Lookup(vars.Meta, name)
					out[t.Name] = v
					continue
				}
				out[t.Name] = vars.String(t.Expression)
			}
			return out, nil
		},
	}
}

func (f *fakeEvaluator) record(tasks []evaluator.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]evaluator.Task(nil), tasks...))
}

func (f *fakeEvaluator) sent(expression string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.batches {
		for _, t := range b {
			if t.Expression == expression {
				return true
			}
		}
	}
	return false
}

func evalBool(expression string, env *vars.Environment) bool {
	for _, part := range strings.Split(expression, "&&") {
		if !evalAtom(strings.TrimSpace(part), env) {
			return false
		}
	}
	return true
}

func evalAtom(a string, env *vars.Environment) bool {
	switch a {
	case "true":
		return true
	case "false":
		return false
	}
	if rest, ok := strings.CutPrefix(a, "!"); ok {
		return !evalAtom(rest, env)
	}
	if name, lit, ok := strings.Cut(a, "=="); ok {
		v, err := env.Lookup(vars.Input, strings.TrimSpace(name))
		if err != nil {
			return false
		}
		return v.Equal(Normalize(strings.Trim(strings.TrimSpace(lit), "'")))
	}
	v, err := env.Lookup(vars.Input, a)
	if err != nil {
		return false
	}
	b, _ := v.AsBool()
	return b
}
