// Package grading scores stage submissions.
//
// All stage kinds share the ordered rule loop in this file. Kind specific
// graders prepare the input partition of the environment and then run the
// loop (multiple choice, fill-in) or score test case tuples (R).
package grading

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/evaluator"
	"github.com/felixgeelhaar/stagegrade/internal/vars"
)

// Result is the outcome of one grading pass
type Result struct {
	Points   int
	Feedback []string
	Matched  []int
	Default  bool
	Correct  bool
	Pending  bool
}

// RuleOutcome is what the rule loop produced before kind specific defaults
type RuleOutcome struct {
	Points   int
	Feedback []string
	Matched  []int
}

// Any reports whether at least one rule matched
func (o RuleOutcome) Any() bool {
	return len(o.Matched) > 0
}

// RunRules evaluates rules in their stored order. Every matching rule adds
// its points and feedback; a matching terminal rule stops the loop. Rules
// are sent to the evaluator in segments that end at a terminal rule, so a
// rule behind a matched terminal rule is never evaluated.
func RunRules(ctx context.Context, client evaluator.Client, rules []domain.Rule, env *vars.Environment, logger *slog.Logger) (RuleOutcome, error) {
	if env == nil {
		env = vars.NewEnvironment()
	}
	var out RuleOutcome
	for start := 0; start < len(rules); {
		end := start
		for end < len(rules)-1 && !rules[end].Terminal {
			end++
		}
		segment := rules[start : end+1]

		tasks := make([]evaluator.Task, len(segment))
		for i, r := range segment {
			tasks[i] = evaluator.Task{Name: ruleTaskName(start + i), Expression: r.Expression, Domain: r.Domain}
		}
		res, err := client.Booleanize(ctx, tasks, env)
		if err != nil {
			return RuleOutcome{}, fmt.Errorf("evaluate rules %d-%d: %w", start, end, err)
		}

		for i, r := range segment {
			if !res[ruleTaskName(start+i)] {
				continue
			}
			out.Points += r.Points
			out.Matched = append(out.Matched, start+i)
			if r.Feedback != "" {
				out.Feedback = append(out.Feedback, env.Substitute(logger, r.Feedback))
			}
			if r.Terminal {
				return out, nil
			}
		}
		start = end + 1
	}
	return out, nil
}

func ruleTaskName(i int) string {
	return "rule" + strconv.Itoa(i)
}

// clamp limits points to [0,100]
func clamp(points int) int {
	switch {
	case points < 0:
		return 0
	case points > 100:
		return 100
	default:
		return points
	}
}
