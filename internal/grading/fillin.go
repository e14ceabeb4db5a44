package grading

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/vars"
)

var numericRe = regexp.MustCompile(`^[+-]?(\d+([.,]\d*)?|[.,]\d+)$`)

// Normalize turns raw field input into a typed value. Numeric looking input
// becomes an int or a float (comma or dot as decimal separator, optional
// leading sign); everything else stays a string. Empty input is "".
func Normalize(raw string) vars.Value {
	s := strings.TrimSpace(raw)
	if s == "" || !numericRe.MatchString(s) {
		return vars.String(s)
	}
	s = strings.Replace(s, ",", ".", 1)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return vars.Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return vars.Float(f)
	}
	return vars.String(strings.TrimSpace(raw))
}

// loadFields writes the normalised fields into the input partition. Fields
// the student left out are bound to the empty string so rules can still
// reference them.
func loadFields(p *domain.FillInPayload, sub *domain.StageSubmission, env *vars.Environment) {
	for _, f := range p.Fields {
		raw, _ := sub.Field(f.Name)
		env.Set(vars.Input, f.Name, Normalize(raw))
	}
	for _, f := range sub.Fields {
		if _, err := env.Lookup(vars.Input, f.Name); err != nil {
			env.Set(vars.Input, f.Name, Normalize(f.Value))
		}
	}
}

func (g *Grader) gradeFillIn(ctx context.Context, s *domain.Stage, sub *domain.StageSubmission, env *vars.Environment) (Result, error) {
	p := s.FillIn
	loadFields(p, sub, env)

	out, err := RunRules(ctx, g.client, p.Rules, env, g.logger)
	if err != nil {
		return Result{}, err
	}
	if !out.Any() {
		return g.defaultResult(p.DefaultResult, p.DefaultFeedback, env), nil
	}

	res := Result{
		Points:   clamp(out.Points),
		Feedback: out.Feedback,
		Matched:  out.Matched,
	}
	if res.Points == 100 {
		res.Correct = true
		if p.CorrectFeedback != "" {
			res.Feedback = append(res.Feedback, env.Substitute(g.logger, p.CorrectFeedback))
		}
	}
	return res, nil
}
