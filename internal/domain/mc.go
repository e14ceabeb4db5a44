package domain

import (
	"fmt"

	"github.com/felixgeelhaar/stagegrade/internal/expr"
)

// AnswerTag is the static rule of a multiple-choice option
type AnswerTag string

const (
	TagCorrect  AnswerTag = "CORRECT"
	TagWrong    AnswerTag = "WRONG"
	TagNoMatter AnswerTag = "NO_MATTER"
)

// MCAnswer is one answer option
type MCAnswer struct {
	ID    int64
	Text  string
	Tag   AnswerTag `validate:"oneof=CORRECT WRONG NO_MATTER"`
	Order int
}

// MCPayload holds the multiple-choice specific part of a stage
type MCPayload struct {
	Answers         []MCAnswer `validate:"dive"`
	Rules           []Rule     `validate:"dive"`
	SingleChoice    bool
	CorrectFeedback string
	DefaultFeedback string
	DefaultResult   int `validate:"gte=0,lte=100"`
}

func (p *MCPayload) clone() *MCPayload {
	c := *p
	c.Answers = append([]MCAnswer(nil), p.Answers...)
	c.Rules = append([]Rule(nil), p.Rules...)
	return &c
}

// IsCorrect reports whether the ticked pattern satisfies every option tag
func (p *MCPayload) IsCorrect(ticked []bool) bool {
	if len(ticked) != len(p.Answers) {
		return false
	}
	for i, a := range p.Answers {
		switch a.Tag {
		case TagCorrect:
			if !ticked[i] {
				return false
			}
		case TagWrong:
			if ticked[i] {
				return false
			}
		}
	}
	return true
}

func (s *Stage) mcPayload() (*MCPayload, error) {
	if s.Kind != KindMC || s.MC == nil {
		return nil, fmt.Errorf("stage %d is %s: %w", s.ID, s.Kind, ErrKindMismatch)
	}
	return s.MC, nil
}

// rewriteMCExpressions applies fn to every rule and transition expression
// that references option placeholders.
func (s *Stage) rewriteMCExpressions(fn func(string) string) {
	for i := range s.MC.Rules {
		s.MC.Rules[i].Expression = fn(s.MC.Rules[i].Expression)
	}
	s.forEachTransition(func(t *StageTransition) {
		t.ConditionExpression = fn(t.ConditionExpression)
		t.StageExpression = fn(t.StageExpression)
	})
}

// AddAnswer appends an answer option
func (s *Stage) AddAnswer(a MCAnswer) error {
	p, err := s.mcPayload()
	if err != nil {
		return err
	}
	return s.InsertAnswer(len(p.Answers), a)
}

// InsertAnswer inserts an option at index i. Pattern expressions gain a
// conjunct requiring the new option to be unticked.
func (s *Stage) InsertAnswer(i int, a MCAnswer) error {
	p, err := s.mcPayload()
	if err != nil {
		return err
	}
	if a.Tag == "" {
		a.Tag = TagWrong
	}
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("answer %q: %w: %v", a.Text, ErrInvalidBounds, err)
	}
	out, err := insertItem(p.Answers, i, a)
	if err != nil {
		return err
	}
	for j := i; j < len(out); j++ {
		out[j].Order = j
	}
	p.Answers = out
	s.rewriteMCExpressions(func(e string) string {
		return expr.InsertConjunct(e, i, "!"+expr.Placeholder(i))
	})
	return nil
}

// RemoveAnswer deletes option i and the i-th conjunct of every pattern
// expression, renumbering later conjuncts down by one.
func (s *Stage) RemoveAnswer(i int) error {
	p, err := s.mcPayload()
	if err != nil {
		return err
	}
	out, err := removeItem(p.Answers, i)
	if err != nil {
		return err
	}
	for j := i; j < len(out); j++ {
		out[j].Order = j
	}
	p.Answers = out
	s.rewriteMCExpressions(func(e string) string {
		return expr.RemoveConjunct(e, i)
	})
	return nil
}

// SwapAnswers exchanges options i and j together with their conjuncts.
func (s *Stage) SwapAnswers(i, j int) error {
	p, err := s.mcPayload()
	if err != nil {
		return err
	}
	if i < 0 || j < 0 || i >= len(p.Answers) || j >= len(p.Answers) {
		return ErrIndexOutOfRange
	}
	if i == j {
		return nil
	}
	p.Answers[i], p.Answers[j] = p.Answers[j], p.Answers[i]
	p.Answers[i].Order = i
	p.Answers[j].Order = j
	s.rewriteMCExpressions(func(e string) string {
		return expr.SwapConjuncts(e, i, j)
	})
	return nil
}
