package domain

import (
	"fmt"
	"sort"
)

// StageID identifies a stage inside an exercise arena. The zero value is
// never allocated and, used as a transition target, marks the end of the
// exercise.
type StageID int64

// EndOfExercise is the transition target that finishes an attempt.
const EndOfExercise StageID = 0

// EvalDomain tags the expression dialect an expression is evaluated under.
type EvalDomain string

const (
	DomainMath    EvalDomain = "MATH"
	DomainChem    EvalDomain = "CHEM"
	DomainR       EvalDomain = "R"
	DomainBoolean EvalDomain = "BOOLEAN"
)

// Exercise is an ordered collection of stages with one start stage and a set
// of variable declarations. Stages are stored in an arena keyed by StageID so
// that cyclic graphs need no ownership cycles.
type Exercise struct {
	ID          int64
	Name        string
	Description string
	Variables   []VariableDeclaration
	StartStage  StageID

	stages   map[StageID]*Stage
	order    []StageID
	revision uint64
}

// NewExercise creates an empty exercise
func NewExercise(id int64, name string) *Exercise {
	return &Exercise{
		ID:     id,
		Name:   name,
		stages: make(map[StageID]*Stage),
	}
}

// Revision changes with every exercise-level mutation (stage sequence,
// weights, start). Edits made directly on a Stage do not bump it.
func (e *Exercise) Revision() uint64 {
	return e.revision
}

// Touch marks the topology as changed.
func (e *Exercise) Touch() {
	e.revision++
}

// AddStage appends a stage at the end of the sequence. The first stage added
// becomes the start stage unless one is already set.
func (e *Exercise) AddStage(s *Stage) error {
	if s.ID == EndOfExercise {
		return fmt.Errorf("add stage %q: zero id", s.InternalName)
	}
	if _, exists := e.stages[s.ID]; exists {
		return fmt.Errorf("add stage %d: already present", s.ID)
	}
	if err := ValidateStage(s); err != nil {
		return fmt.Errorf("add stage %d: %w", s.ID, err)
	}
	s.OrderIndex = len(e.order)
	e.stages[s.ID] = s
	e.order = append(e.order, s.ID)
	if e.StartStage == EndOfExercise {
		e.StartStage = s.ID
	}
	e.Touch()
	return nil
}

// RemoveStage deletes a stage and renumbers the remaining order indices.
// Transitions pointing at the removed stage are redirected to the end.
func (e *Exercise) RemoveStage(id StageID) error {
	if _, ok := e.stages[id]; !ok {
		return ErrStageNotFound
	}
	delete(e.stages, id)
	for i, sid := range e.order {
		if sid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	for i, sid := range e.order {
		s := e.stages[sid]
		s.OrderIndex = i
		s.forEachTransition(func(t *StageTransition) {
			if t.Target == id {
				t.Target = EndOfExercise
			}
		})
	}
	if e.StartStage == id {
		e.StartStage = EndOfExercise
		if len(e.order) > 0 {
			e.StartStage = e.order[0]
		}
	}
	e.Touch()
	return nil
}

// MoveStage moves the stage at index from to index to, shifting the stages
// in between.
func (e *Exercise) MoveStage(from, to int) error {
	if err := moveItem(e.order, from, to); err != nil {
		return err
	}
	lo, hi := from, to
	if lo > hi {
		lo, hi = hi, lo
	}
	for i := lo; i <= hi; i++ {
		e.stages[e.order[i]].OrderIndex = i
	}
	e.Touch()
	return nil
}

// SetWeight changes a stage weight.
func (e *Exercise) SetWeight(id StageID, weight float64) error {
	s, ok := e.stages[id]
	if !ok {
		return ErrStageNotFound
	}
	if weight < 0 {
		return fmt.Errorf("stage %d weight %v: %w", id, weight, ErrInvalidBounds)
	}
	s.Weight = weight
	e.Touch()
	return nil
}

// SetStart marks a stage as the start stage.
func (e *Exercise) SetStart(id StageID) error {
	if _, ok := e.stages[id]; !ok {
		return ErrStageNotFound
	}
	e.StartStage = id
	e.Touch()
	return nil
}

// Stage looks a stage up by id
func (e *Exercise) Stage(id StageID) (*Stage, bool) {
	s, ok := e.stages[id]
	return s, ok
}

// Stages returns the stages in order
func (e *Exercise) Stages() []*Stage {
	out := make([]*Stage, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.stages[id])
	}
	return out
}

// Start returns the start stage
func (e *Exercise) Start() (*Stage, error) {
	s, ok := e.stages[e.StartStage]
	if !ok {
		return nil, ErrNoStartStage
	}
	return s, nil
}

// DeclareVariable adds a variable declaration; names must be unique.
func (e *Exercise) DeclareVariable(v VariableDeclaration) error {
	for _, existing := range e.Variables {
		if existing.Name == v.Name {
			return fmt.Errorf("declare %q: %w", v.Name, ErrDuplicateVariable)
		}
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("declare %q: %w", v.Name, err)
	}
	e.Variables = append(e.Variables, v)
	return nil
}

// Variable looks a declaration up by name
func (e *Exercise) Variable(name string) (VariableDeclaration, bool) {
	for _, v := range e.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return VariableDeclaration{}, false
}

// Check verifies the built-graph invariants: a start stage exists, order
// indices are contiguous from zero and every transition targets a known stage.
func (e *Exercise) Check() error {
	if _, ok := e.stages[e.StartStage]; !ok {
		return ErrNoStartStage
	}
	for i, id := range e.order {
		s := e.stages[id]
		if s.OrderIndex != i {
			return fmt.Errorf("stage %d has order %d at position %d: %w", id, s.OrderIndex, i, ErrInvalidOrder)
		}
		var bad error
		s.forEachTransition(func(t *StageTransition) {
			if t.Target == EndOfExercise || bad != nil {
				return
			}
			if _, ok := e.stages[t.Target]; !ok {
				bad = fmt.Errorf("stage %d transition to %d: %w", id, t.Target, ErrStageNotFound)
			}
		})
		if bad != nil {
			return bad
		}
	}
	return nil
}

// Clone returns a deep copy used as the frozen per-attempt graph.
func (e *Exercise) Clone() *Exercise {
	c := &Exercise{
		ID:          e.ID,
		Name:        e.Name,
		Description: e.Description,
		StartStage:  e.StartStage,
		Variables:   append([]VariableDeclaration(nil), e.Variables...),
		stages:      make(map[StageID]*Stage, len(e.stages)),
		order:       append([]StageID(nil), e.order...),
		revision:    e.revision,
	}
	for id, s := range e.stages {
		c.stages[id] = s.Clone()
	}
	return c
}

// StageIDs returns the ids of all stages sorted ascending; useful for
// deterministic iteration over the arena.
func (e *Exercise) StageIDs() []StageID {
	ids := make([]StageID, 0, len(e.stages))
	for id := range e.stages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
