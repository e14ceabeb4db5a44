package domain

import (
	"fmt"
	"strconv"
)

// TestCaseKind distinguishes test cases checked by running student code
// (dynamic) from those checked by an evaluator expression (static).
type TestCaseKind string

const (
	TestCaseDynamic TestCaseKind = "dynamic"
	TestCaseStatic  TestCaseKind = "static"
)

// PointsMode decides whether a test case adds or removes points
type PointsMode string

const (
	PointsGain      PointsMode = "GAIN"
	PointsDeduction PointsMode = "DEDUCTION"
)

// RuleMode decides whether the test case's rule must hold or must not hold
type RuleMode string

const (
	RulePresence RuleMode = "PRESENCE"
	RuleAbsence  RuleMode = "ABSENCE"
)

// TestCase is one check inside a tuple
type TestCase struct {
	ID              int64
	Kind            TestCaseKind `validate:"oneof=dynamic static"`
	Name            string
	Expression      string
	Code            string
	Domain          EvalDomain
	Points          int        `validate:"gte=0,lte=100"`
	PointsMode      PointsMode `validate:"oneof=GAIN DEDUCTION"`
	RuleMode        RuleMode   `validate:"oneof=PRESENCE ABSENCE"`
	FailureFeedback string
	Order           int
}

// Satisfied reports whether a check outcome fulfils the case's rule mode
func (tc TestCase) Satisfied(holds bool) bool {
	if tc.RuleMode == RuleAbsence {
		return !holds
	}
	return holds
}

// CheckerConfiguration describes how the test cases of a tuple are executed
type CheckerConfiguration struct {
	Async          bool
	Image          string
	TimeoutSeconds int `validate:"gte=0"`
	MemoryMB       int `validate:"gte=0"`
}

// TestCaseTuple is an ordered group of test cases scored together
type TestCaseTuple struct {
	ID        int64
	Name      string
	Order     int
	TestCases []TestCase `validate:"dive"`
	Checker   CheckerConfiguration
}

// VariableName is the meta variable the tuple score is published under
func (t TestCaseTuple) VariableName() string {
	if t.Name != "" {
		return t.Name
	}
	return "tuple" + strconv.Itoa(t.Order)
}

// TestCase looks a case up by id
func (t TestCaseTuple) TestCase(id int64) (TestCase, bool) {
	for _, tc := range t.TestCases {
		if tc.ID == id {
			return tc, true
		}
	}
	return TestCase{}, false
}

// CaseIDs returns the ids of the tuple's test cases in order
func (t TestCaseTuple) CaseIDs() []int64 {
	ids := make([]int64, len(t.TestCases))
	for i, tc := range t.TestCases {
		ids[i] = tc.ID
	}
	return ids
}

// RPayload holds the test-tuple part of a stage
type RPayload struct {
	Tuples                []TestCaseTuple `validate:"dive"`
	FinalResultExpression string
	FinalResultDomain     EvalDomain
	DefaultFeedback       string
}

func (p *RPayload) clone() *RPayload {
	c := *p
	c.Tuples = make([]TestCaseTuple, len(p.Tuples))
	for i, t := range p.Tuples {
		t.TestCases = append([]TestCase(nil), t.TestCases...)
		c.Tuples[i] = t
	}
	return &c
}

func (s *Stage) rPayload() (*RPayload, error) {
	if s.Kind != KindR || s.R == nil {
		return nil, fmt.Errorf("stage %d is %s: %w", s.ID, s.Kind, ErrKindMismatch)
	}
	return s.R, nil
}

// AddTuple validates and appends a tuple
func (s *Stage) AddTuple(t TestCaseTuple) error {
	p, err := s.rPayload()
	if err != nil {
		return err
	}
	for i := range t.TestCases {
		if t.TestCases[i].Kind == "" {
			t.TestCases[i].Kind = TestCaseStatic
		}
		if t.TestCases[i].PointsMode == "" {
			t.TestCases[i].PointsMode = PointsGain
		}
		if t.TestCases[i].RuleMode == "" {
			t.TestCases[i].RuleMode = RulePresence
		}
		t.TestCases[i].Order = i
	}
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("tuple %q: %w: %v", t.Name, ErrInvalidBounds, err)
	}
	t.Order = len(p.Tuples)
	p.Tuples = append(p.Tuples, t)
	return nil
}

// Tuple looks a tuple up by id
func (s *Stage) Tuple(id int64) (TestCaseTuple, error) {
	p, err := s.rPayload()
	if err != nil {
		return TestCaseTuple{}, err
	}
	for _, t := range p.Tuples {
		if t.ID == id {
			return t, nil
		}
	}
	return TestCaseTuple{}, fmt.Errorf("stage %d tuple %d: %w", s.ID, id, ErrTupleNotFound)
}

// ReorderTuple moves a tuple and renumbers the affected range
func (s *Stage) ReorderTuple(from, to int) error {
	p, err := s.rPayload()
	if err != nil {
		return err
	}
	if err := moveItem(p.Tuples, from, to); err != nil {
		return err
	}
	lo, hi := span(from, to)
	for i := lo; i <= hi; i++ {
		p.Tuples[i].Order = i
	}
	return nil
}

// RemoveTuple deletes the tuple at index i and renumbers the tail
func (s *Stage) RemoveTuple(i int) error {
	p, err := s.rPayload()
	if err != nil {
		return err
	}
	out, err := removeItem(p.Tuples, i)
	if err != nil {
		return err
	}
	for j := i; j < len(out); j++ {
		out[j].Order = j
	}
	p.Tuples = out
	return nil
}
