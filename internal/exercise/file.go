package exercise

import "github.com/felixgeelhaar/stagegrade/internal/domain"

// ExerciseFile represents the YAML structure of an exercise. List positions
// carry the order of stages, transitions, rules, answers and tuples.
type ExerciseFile struct {
	ID          int64             `yaml:"id"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Start       int64             `yaml:"start,omitempty"`
	Variables   []DeclarationFile `yaml:"variables,omitempty"`
	Stages      []StageFile       `yaml:"stages"`
}

// DeclarationFile is an exercise variable declaration
type DeclarationFile struct {
	ID         int64  `yaml:"id,omitempty"`
	Name       string `yaml:"name"`
	Expression string `yaml:"expression,omitempty"`
	Domain     string `yaml:"domain,omitempty"`
}

// StageFile represents one stage. Exactly one of MC, FillIn and R is set,
// matching Kind.
type StageFile struct {
	ID      int64                   `yaml:"id"`
	Kind    string                  `yaml:"kind"`
	Name    string                  `yaml:"name"`
	Title   string                  `yaml:"title,omitempty"`
	Task    string                  `yaml:"task,omitempty"`
	Weight  *float64                `yaml:"weight,omitempty"`
	Hints   []string                `yaml:"hints,omitempty"`
	Default int64                   `yaml:"next,omitempty"`
	Skip    []TransitionFile        `yaml:"skip,omitempty"`
	Extra   []TransitionFile        `yaml:"extra,omitempty"`
	Updates map[string][]UpdateFile `yaml:"updates,omitempty"`
	MC      *MCFile                 `yaml:"mc,omitempty"`
	FillIn  *FillInFile             `yaml:"fillin,omitempty"`
	R       *RFile                  `yaml:"r,omitempty"`
}

// TransitionFile is a skip or extra transition; target 0 ends the exercise
type TransitionFile struct {
	ID        int64  `yaml:"id,omitempty"`
	Condition string `yaml:"condition,omitempty"`
	Selector  string `yaml:"selector,omitempty"`
	Target    int64  `yaml:"target"`
}

// UpdateFile is a variable update action
type UpdateFile struct {
	ID         int64  `yaml:"id,omitempty"`
	Variable   string `yaml:"variable"`
	Expression string `yaml:"expression"`
	Domain     string `yaml:"domain,omitempty"`
}

// RuleFile is a feedback rule
type RuleFile struct {
	ID         int64  `yaml:"id,omitempty"`
	Name       string `yaml:"name,omitempty"`
	Expression string `yaml:"expression"`
	Domain     string `yaml:"domain,omitempty"`
	Feedback   string `yaml:"feedback,omitempty"`
	Points     int    `yaml:"points"`
	Terminal   bool   `yaml:"terminal,omitempty"`
}

type MCFile struct {
	SingleChoice    bool         `yaml:"single_choice,omitempty"`
	Answers         []AnswerFile `yaml:"answers"`
	Rules           []RuleFile   `yaml:"rules,omitempty"`
	CorrectFeedback string       `yaml:"correct_feedback,omitempty"`
	DefaultFeedback string       `yaml:"default_feedback,omitempty"`
	DefaultResult   int          `yaml:"default_result"`
}

type AnswerFile struct {
	ID   int64  `yaml:"id,omitempty"`
	Text string `yaml:"text"`
	Tag  string `yaml:"tag"`
}

type FillInFile struct {
	Fields          []FieldFile `yaml:"fields"`
	Rules           []RuleFile  `yaml:"rules,omitempty"`
	CorrectFeedback string      `yaml:"correct_feedback,omitempty"`
	DefaultFeedback string      `yaml:"default_feedback,omitempty"`
	DefaultResult   int         `yaml:"default_result"`
}

type FieldFile struct {
	Name  string   `yaml:"name,omitempty"`
	Kind  string   `yaml:"kind"`
	Items []string `yaml:"items,omitempty"`
	Size  int      `yaml:"size,omitempty"`
}

type RFile struct {
	Tuples          []TupleFile `yaml:"tuples"`
	FinalExpression string      `yaml:"final_expression,omitempty"`
	FinalDomain     string      `yaml:"final_domain,omitempty"`
	DefaultFeedback string      `yaml:"default_feedback,omitempty"`
}

type TupleFile struct {
	ID      int64       `yaml:"id"`
	Name    string      `yaml:"name,omitempty"`
	Checker CheckerFile `yaml:"checker,omitempty"`
	Cases   []CaseFile  `yaml:"cases"`
}

type CheckerFile struct {
	Async          bool   `yaml:"async,omitempty"`
	Image          string `yaml:"image,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
	MemoryMB       int    `yaml:"memory_mb,omitempty"`
}

type CaseFile struct {
	ID              int64  `yaml:"id"`
	Kind            string `yaml:"kind,omitempty"`
	Name            string `yaml:"name,omitempty"`
	Expression      string `yaml:"expression,omitempty"`
	Code            string `yaml:"code,omitempty"`
	Domain          string `yaml:"domain,omitempty"`
	Points          int    `yaml:"points"`
	PointsMode      string `yaml:"points_mode,omitempty"`
	RuleMode        string `yaml:"rule_mode,omitempty"`
	FailureFeedback string `yaml:"failure_feedback,omitempty"`
}

func rulesToFile(rules []domain.Rule) []RuleFile {
	if len(rules) == 0 {
		return nil
	}
	out := make([]RuleFile, len(rules))
	for i, r := range rules {
		out[i] = RuleFile{
			ID:         r.ID,
			Name:       r.Name,
			Expression: r.Expression,
			Domain:     string(r.Domain),
			Feedback:   r.Feedback,
			Points:     r.Points,
			Terminal:   r.Terminal,
		}
	}
	return out
}

func rulesFromFile(rules []RuleFile) []domain.Rule {
	if len(rules) == 0 {
		return nil
	}
	out := make([]domain.Rule, len(rules))
	for i, r := range rules {
		out[i] = domain.Rule{
			ID:         r.ID,
			Name:       r.Name,
			Expression: r.Expression,
			Domain:     domain.EvalDomain(r.Domain),
			Feedback:   r.Feedback,
			Points:     r.Points,
			Terminal:   r.Terminal,
			Order:      i,
		}
	}
	return out
}

func transitionsToFile(ts []domain.StageTransition) []TransitionFile {
	if len(ts) == 0 {
		return nil
	}
	out := make([]TransitionFile, len(ts))
	for i, t := range ts {
		out[i] = TransitionFile{
			ID:        t.ID,
			Condition: t.ConditionExpression,
			Selector:  t.StageExpression,
			Target:    int64(t.Target),
		}
	}
	return out
}

func transitionFromFile(t TransitionFile) domain.StageTransition {
	return domain.StageTransition{
		ID:                  t.ID,
		ConditionExpression: t.Condition,
		StageExpression:     t.Selector,
		Target:              domain.StageID(t.Target),
	}
}
