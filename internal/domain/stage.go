package domain

import "fmt"

// Kind is the closed set of stage variants
type Kind string

const (
	KindMC     Kind = "mc"
	KindFillIn Kind = "fillin"
	KindR      Kind = "r"
)

// Valid reports whether k is a known stage kind
func (k Kind) Valid() bool {
	switch k {
	case KindMC, KindFillIn, KindR:
		return true
	default:
		return false
	}
}

// Trigger is the point in a stage's life at which variable updates run
type Trigger string

const (
	TriggerBeforeCheck  Trigger = "before_check"
	TriggerAfterCheck   Trigger = "after_check"
	TriggerOnRepeat     Trigger = "on_repeat"
	TriggerOnSkip       Trigger = "on_skip"
	TriggerOnNormalExit Trigger = "on_normal_exit"
)

// Triggers lists all triggers in execution order
var Triggers = []Trigger{
	TriggerBeforeCheck,
	TriggerAfterCheck,
	TriggerOnRepeat,
	TriggerOnSkip,
	TriggerOnNormalExit,
}

// Stage is one step of an exercise. Exactly one of MC, FillIn or R is set,
// matching Kind.
type Stage struct {
	ID              StageID
	Kind            Kind
	ExternalName    string
	InternalName    string
	TaskDescription string
	Weight          float64 `validate:"gte=0"`
	Hints           []string
	OrderIndex      int

	DefaultTransition StageTransition
	SkipTransitions   []StageTransition
	ExtraTransitions  []StageTransition

	Updates map[Trigger][]VariableUpdate

	MC     *MCPayload     `validate:"omitempty"`
	FillIn *FillInPayload `validate:"omitempty"`
	R      *RPayload      `validate:"omitempty"`
}

// NewStage creates a stage of the given kind with weight 1, an end-of-exercise
// default transition and an empty payload for the kind.
func NewStage(id StageID, kind Kind, name string) *Stage {
	s := &Stage{
		ID:           id,
		Kind:         kind,
		InternalName: name,
		ExternalName: name,
		Weight:       1,
		Updates:      make(map[Trigger][]VariableUpdate),
	}
	switch kind {
	case KindMC:
		s.MC = &MCPayload{}
	case KindFillIn:
		s.FillIn = &FillInPayload{}
	case KindR:
		s.R = &RPayload{}
	default:
		panic(fmt.Sprintf("domain: unknown stage kind %q", kind))
	}
	return s
}

// MustWaitForPendingJobs reports whether grading of this stage can be
// completed by out-of-process checkers after StartGrading returns.
func (s *Stage) MustWaitForPendingJobs() bool {
	switch s.Kind {
	case KindR:
		return true
	case KindMC, KindFillIn:
		return false
	default:
		panic(fmt.Sprintf("domain: unknown stage kind %q", s.Kind))
	}
}

// HasTestCaseTuples reports whether the stage is graded through test case
// tuples and therefore owns a pending-check ledger.
func (s *Stage) HasTestCaseTuples() bool {
	switch s.Kind {
	case KindR:
		return len(s.R.Tuples) > 0
	case KindMC, KindFillIn:
		return false
	default:
		panic(fmt.Sprintf("domain: unknown stage kind %q", s.Kind))
	}
}

// IsEndStage is true when the default transition ends the exercise and no
// skip or extra transition leads anywhere else.
func (s *Stage) IsEndStage() bool {
	if !s.DefaultTransition.IsEnd() {
		return false
	}
	for _, t := range s.SkipTransitions {
		if !t.IsEnd() {
			return false
		}
	}
	for _, t := range s.ExtraTransitions {
		if !t.IsEnd() {
			return false
		}
	}
	return true
}

// LeadsTo reports whether other is a direct default, skip or extra target of
// s. It deliberately looks one hop only.
func (s *Stage) LeadsTo(other StageID) bool {
	if other == EndOfExercise {
		return false
	}
	found := false
	s.forEachTransition(func(t *StageTransition) {
		if t.Target == other {
			found = true
		}
	})
	return found
}

// SetDefaultTarget points the default transition at target
func (s *Stage) SetDefaultTarget(target StageID) {
	s.DefaultTransition.Target = target
}

// AddSkipTransition appends a skip transition
func (s *Stage) AddSkipTransition(t StageTransition) {
	t.Order = len(s.SkipTransitions)
	s.SkipTransitions = append(s.SkipTransitions, t)
}

// AddExtraTransition appends a conditional transition
func (s *Stage) AddExtraTransition(t StageTransition) {
	t.Order = len(s.ExtraTransitions)
	s.ExtraTransitions = append(s.ExtraTransitions, t)
}

// AddUpdate registers a variable update for a trigger point
func (s *Stage) AddUpdate(trigger Trigger, u VariableUpdate) {
	if s.Updates == nil {
		s.Updates = make(map[Trigger][]VariableUpdate)
	}
	u.Order = len(s.Updates[trigger])
	s.Updates[trigger] = append(s.Updates[trigger], u)
}

// DisplayName returns the external name, falling back to the internal one
func (s *Stage) DisplayName() string {
	if s.ExternalName != "" {
		return s.ExternalName
	}
	return s.InternalName
}

func (s *Stage) forEachTransition(fn func(t *StageTransition)) {
	fn(&s.DefaultTransition)
	for i := range s.SkipTransitions {
		fn(&s.SkipTransitions[i])
	}
	for i := range s.ExtraTransitions {
		fn(&s.ExtraTransitions[i])
	}
}

// Clone returns a deep copy of the stage
func (s *Stage) Clone() *Stage {
	c := *s
	c.Hints = append([]string(nil), s.Hints...)
	c.SkipTransitions = append([]StageTransition(nil), s.SkipTransitions...)
	c.ExtraTransitions = append([]StageTransition(nil), s.ExtraTransitions...)
	c.Updates = make(map[Trigger][]VariableUpdate, len(s.Updates))
	for k, v := range s.Updates {
		c.Updates[k] = append([]VariableUpdate(nil), v...)
	}
	if s.MC != nil {
		c.MC = s.MC.clone()
	}
	if s.FillIn != nil {
		c.FillIn = s.FillIn.clone()
	}
	if s.R != nil {
		c.R = s.R.clone()
	}
	return &c
}

// -----------------------------------------------------------------------------
// Transitions
// -----------------------------------------------------------------------------

// StageTransition is a directed edge to Target, guarded by an optional
// condition and an optional stage (selector) expression.
type StageTransition struct {
	ID                  int64
	ConditionExpression string
	StageExpression     string
	Target              StageID
	Order               int
}

// IsEnd reports whether following the transition ends the exercise
func (t StageTransition) IsEnd() bool {
	return t.Target == EndOfExercise
}

// IsRepeatOf reports whether the transition loops back to stage id
func (t StageTransition) IsRepeatOf(id StageID) bool {
	return t.Target != EndOfExercise && t.Target == id
}
