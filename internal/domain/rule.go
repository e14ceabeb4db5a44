package domain

import "fmt"

// Rule is an ordered grading rule. When Expression holds, Points is applied
// and Feedback is appended; a matching Terminal rule ends the pass.
type Rule struct {
	ID         int64
	Name       string
	Expression string
	Domain     EvalDomain
	Feedback   string
	Points     int `validate:"gte=-100,lte=100"`
	Terminal   bool
	Order      int
}

// ValidateRule checks the points bounds of a rule
func ValidateRule(r Rule) error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("rule %q: %w: %v", r.Name, ErrInvalidBounds, err)
	}
	return nil
}

func (s *Stage) ruleList() (*[]Rule, error) {
	switch s.Kind {
	case KindMC:
		return &s.MC.Rules, nil
	case KindFillIn:
		return &s.FillIn.Rules, nil
	case KindR:
		return nil, fmt.Errorf("stage %d has no feedback rules: %w", s.ID, ErrKindMismatch)
	default:
		panic(fmt.Sprintf("domain: unknown stage kind %q", s.Kind))
	}
}

// Rules returns the stage's ordered feedback rules (nil for R stages)
func (s *Stage) Rules() []Rule {
	rules, err := s.ruleList()
	if err != nil {
		return nil
	}
	return *rules
}

// AddRule validates and appends a rule
func (s *Stage) AddRule(r Rule) error {
	rules, err := s.ruleList()
	if err != nil {
		return err
	}
	if err := ValidateRule(r); err != nil {
		return err
	}
	r.Order = len(*rules)
	*rules = append(*rules, r)
	return nil
}

// UpdateRule replaces the rule at index i after validation
func (s *Stage) UpdateRule(i int, r Rule) error {
	rules, err := s.ruleList()
	if err != nil {
		return err
	}
	if i < 0 || i >= len(*rules) {
		return ErrIndexOutOfRange
	}
	if err := ValidateRule(r); err != nil {
		return err
	}
	r.Order = i
	(*rules)[i] = r
	return nil
}

// ReorderRule moves the rule at from to position to and renumbers the
// affected range.
func (s *Stage) ReorderRule(from, to int) error {
	rules, err := s.ruleList()
	if err != nil {
		return err
	}
	if err := moveItem(*rules, from, to); err != nil {
		return err
	}
	lo, hi := span(from, to)
	for i := lo; i <= hi; i++ {
		(*rules)[i].Order = i
	}
	return nil
}

// RemoveRule deletes the rule at index i and renumbers the rules after it.
func (s *Stage) RemoveRule(i int) error {
	rules, err := s.ruleList()
	if err != nil {
		return err
	}
	out, err := removeItem(*rules, i)
	if err != nil {
		return err
	}
	for j := i; j < len(out); j++ {
		out[j].Order = j
	}
	*rules = out
	return nil
}
