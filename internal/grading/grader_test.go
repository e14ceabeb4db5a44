package grading

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"testing"

	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/ledger"
	"github.com/felixgeelhaar/stagegrade/internal/vars"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want vars.Value
	}{
		{"", vars.String("")},
		{"   ", vars.String("")},
		{"42", vars.Int(42)},
		{" +7 ", vars.Int(7)},
		{"-3", vars.Int(-3)},
		{"2.5", vars.Float(2.5)},
		{"2,5", vars.Float(2.5)},
		{"-0,25", vars.Float(-0.25)},
		{".5", vars.Float(0.5)},
		{"1,2,3", vars.String("1,2,3")},
		{"1e5", vars.String("1e5")},
		{"abc", vars.String("abc")},
		{"NaN", vars.String("NaN")},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Normalize(tt.in); !got.Equal(tt.want) {
				t.Errorf("Normalize(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

// fillInScenario has four numeric fields, a correct and an incorrect 25
// point rule per field, a terminal always rule and a -100 rule behind it.
func fillInScenario(t *testing.T) *domain.Stage {
	t.Helper()
	s := domain.NewStage(1, domain.KindFillIn, "fill")
	answers := []string{"3", "1.5", "-2", "10"}
	for range answers {
		if _, err := s.AddField(domain.FieldText); err != nil {
			t.Fatalf("AddField() error = %v", err)
		}
	}
	for i, a := range answers {
		name := domain.FieldName(domain.FieldText, i+1)
		mustAddRule(t, s, domain.Rule{
			Name:       "correct" + strconv.Itoa(i+1),
			Expression: name + " == " + a,
			Points:     25,
			Feedback:   name + " correct",
		})
		mustAddRule(t, s, domain.Rule{
			Name:       "incorrect" + strconv.Itoa(i+1),
			Expression: "!" + name + " == " + a,
			Points:     -25,
			Feedback:   name + " wrong",
		})
	}
	mustAddRule(t, s, domain.Rule{Name: "always", Expression: "true", Points: 0, Feedback: "done", Terminal: true})
	mustAddRule(t, s, domain.Rule{Name: "unreachable", Expression: "true && unreachable", Points: -100, Feedback: "unreachable"})
	return s
}

func mustAddRule(t *testing.T, s *domain.Stage, r domain.Rule) {
	t.Helper()
	if err := s.AddRule(r); err != nil {
		t.Fatalf("AddRule(%s) error = %v", r.Name, err)
	}
}

func TestGrade_FillInScenario(t *testing.T) {
	s := fillInScenario(t)
	sub := &domain.StageSubmission{
		ID: 1, StageID: s.ID, Kind: domain.KindFillIn,
		Fields: []domain.SubmissionField{
			{Name: "fillInField1", Value: "3"},
			{Name: "fillInField2", Value: "1,5"},
			{Name: "fillInField3", Value: " -2"},
			{Name: "fillInField4", Value: "+10"},
		},
	}

	fe := &fakeEvaluator{}
	g := NewGrader(fe.client())
	res, err := g.Grade(context.Background(), s, sub, vars.NewEnvironment())
	if err != nil {
		t.Fatalf("Grade() error = %v", err)
	}

	if res.Points != 100 {
		t.Errorf("Points = %d, want 100", res.Points)
	}
	if !slices.Contains(res.Feedback, "done") {
		t.Errorf("Feedback = %q, want terminal rule text", res.Feedback)
	}
	if slices.Contains(res.Feedback, "unreachable") {
		t.Errorf("Feedback = %q contains unreachable rule text", res.Feedback)
	}
	if fe.sent("true && unreachable") {
		t.Error("rule behind matched terminal rule was sent to the evaluator")
	}
	if res.Default {
		t.Error("Default = true although rules matched")
	}
}

func TestGrade_FillInPartial(t *testing.T) {
	s := fillInScenario(t)
	sub := &domain.StageSubmission{
		ID: 1, StageID: s.ID, Kind: domain.KindFillIn,
		Fields: []domain.SubmissionField{
			{Name: "fillInField1", Value: "3"},
			{Name: "fillInField2", Value: "1.5"},
			{Name: "fillInField3", Value: "2"},
		},
	}

	fe := &fakeEvaluator{}
	res, err := NewGrader(fe.client()).Grade(context.Background(), s, sub, nil)
	if err != nil {
		t.Fatalf("Grade() error = %v", err)
	}
	// 25 + 25 - 25 - 25 = 0
	if res.Points != 0 {
		t.Errorf("Points = %d, want 0", res.Points)
	}
	if !slices.Contains(res.Feedback, "fillInField4 wrong") {
		t.Errorf("Feedback = %q, want missing field reported wrong", res.Feedback)
	}
}

func TestGrade_FillInDefault(t *testing.T) {
	s := domain.NewStage(1, domain.KindFillIn, "fill")
	_, _ = s.AddField(domain.FieldText)
	s.FillIn.DefaultResult = 20
	s.FillIn.DefaultFeedback = "try again"
	mustAddRule(t, s, domain.Rule{Expression: "fillInField1 == 1", Points: 100, Feedback: "yes"})

	sub := &domain.StageSubmission{StageID: 1, Kind: domain.KindFillIn, Fields: []domain.SubmissionField{{Name: "fillInField1", Value: ""}}}
	fe := &fakeEvaluator{}
	res, err := NewGrader(fe.client()).Grade(context.Background(), s, sub, nil)
	if err != nil {
		t.Fatalf("Grade() error = %v", err)
	}
	if !res.Default || res.Points != 20 || !slices.Equal(res.Feedback, []string{"try again"}) {
		t.Errorf("Grade() = %+v, want default 20 / try again", res)
	}
}

func TestGrade_MC(t *testing.T) {
	newStage := func() *domain.Stage {
		s := domain.NewStage(1, domain.KindMC, "mc")
		for _, tag := range []domain.AnswerTag{domain.TagCorrect, domain.TagWrong, domain.TagNoMatter} {
			if err := s.AddAnswer(domain.MCAnswer{Tag: tag}); err != nil {
				t.Fatalf("AddAnswer() error = %v", err)
			}
		}
		s.MC.CorrectFeedback = "well done"
		s.MC.DefaultFeedback = "no"
		s.MC.DefaultResult = 0
		mustAddRule(t, s, domain.Rule{Expression: "mcindex_0 && mcindex_1", Points: 50, Feedback: "half"})
		return s
	}

	tests := []struct {
		name         string
		ticked       []bool
		wantPoints   int
		wantFeedback []string
		wantDefault  bool
	}{
		{"correct", []bool{true, false, true}, 100, []string{"well done"}, false},
		{"rule matches", []bool{true, true, false}, 50, []string{"half"}, false},
		{"default", []bool{false, true, false}, 0, []string{"no"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStage()
			sub := &domain.StageSubmission{StageID: 1, Kind: domain.KindMC, Ticked: tt.ticked}
			fe := &fakeEvaluator{}
			env := vars.NewEnvironment()
			res, err := NewGrader(fe.client()).Grade(context.Background(), s, sub, env)
			if err != nil {
				t.Fatalf("Grade() error = %v", err)
			}
			if res.Points != tt.wantPoints || res.Default != tt.wantDefault || !slices.Equal(res.Feedback, tt.wantFeedback) {
				t.Errorf("Grade() = %+v, want points=%d feedback=%q default=%v", res, tt.wantPoints, tt.wantFeedback, tt.wantDefault)
			}
			if v, err := env.Lookup(vars.Input, "mcindex_1"); err != nil || !v.Equal(vars.Bool(tt.ticked[1])) {
				t.Errorf("mcindex_1 = %v, %v", v, err)
			}
		})
	}
}

func TestGrade_KindMismatch(t *testing.T) {
	s := domain.NewStage(1, domain.KindFillIn, "fill")
	sub := &domain.StageSubmission{StageID: 1, Kind: domain.KindMC}

	fe := &fakeEvaluator{}
	_, err := NewGrader(fe.client()).Grade(context.Background(), s, sub, nil)
	if !errors.Is(err, domain.ErrKindMismatch) {
		t.Errorf("Grade() error = %v, want ErrKindMismatch", err)
	}
}

func TestGrade_MCTickCountMismatch(t *testing.T) {
	s := domain.NewStage(1, domain.KindMC, "mc")
	_ = s.AddAnswer(domain.MCAnswer{Tag: domain.TagCorrect})
	sub := &domain.StageSubmission{StageID: 1, Kind: domain.KindMC, Ticked: []bool{true, false}}

	fe := &fakeEvaluator{}
	if _, err := NewGrader(fe.client()).Grade(context.Background(), s, sub, nil); !errors.Is(err, domain.ErrIndexOutOfRange) {
		t.Errorf("Grade() error = %v, want ErrIndexOutOfRange", err)
	}
}

// rStage builds a stage with one tuple holding one dynamic GAIN/PRESENCE
// case worth 100.
func rStage(t *testing.T, async bool) *domain.Stage {
	t.Helper()
	s := domain.NewStage(1, domain.KindR, "r")
	err := s.AddTuple(domain.TestCaseTuple{
		ID:      10,
		Name:    "t1",
		Checker: domain.CheckerConfiguration{Async: async},
		TestCases: []domain.TestCase{{
			ID: 100, Kind: domain.TestCaseDynamic, Points: 100,
			PointsMode: domain.PointsGain, RuleMode: domain.RulePresence,
			FailureFeedback: "case failed",
		}},
	})
	if err != nil {
		t.Fatalf("AddTuple() error = %v", err)
	}
	return s
}

func rSubmission(s *domain.Stage) *domain.StageSubmission {
	sub := &domain.StageSubmission{ID: 5, StageID: s.ID, Kind: domain.KindR}
	for _, tu := range s.R.Tuples {
		sub.TupleResults = append(sub.TupleResults, ledger.New(tu.ID+1000, sub.ID, tu.ID, tu.CaseIDs()))
	}
	return sub
}

func TestGrade_RPendingThenResolved(t *testing.T) {
	s := rStage(t, true)
	sub := rSubmission(s)
	fe := &fakeEvaluator{}
	g := NewGrader(fe.client())
	env := vars.NewEnvironment()

	res, err := g.Grade(context.Background(), s, sub, env)
	if err != nil {
		t.Fatalf("Grade() error = %v", err)
	}
	if !res.Pending || !sub.HasPendingChecks() {
		t.Fatalf("Grade() = %+v, HasPendingChecks() = %v; want pending", res, sub.HasPendingChecks())
	}

	r, _ := sub.TupleResult(10)
	if err := r.Set(100, true, "checker"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if sub.HasPendingChecks() {
		t.Fatal("HasPendingChecks() = true after last entry resolved")
	}

	res, err = g.ScoreR(context.Background(), s, sub, env)
	if err != nil {
		t.Fatalf("ScoreR() error = %v", err)
	}
	if res.Pending || res.Points != 100 {
		t.Errorf("ScoreR() = %+v, want 100 and not pending", res)
	}
	if v, _ := env.Lookup(vars.Meta, "t1"); !v.Equal(vars.Int(100)) {
		t.Errorf("meta t1 = %v, want 100", v)
	}
}

type stubRunner struct {
	holds bool
	calls int
}

func (r *stubRunner) RunCase(ctx context.Context, tuple domain.TestCaseTuple, tc domain.TestCase, code string) (bool, error) {
	r.calls++
	return r.holds, nil
}

func TestGrade_RSyncRunner(t *testing.T) {
	s := rStage(t, false)
	sub := rSubmission(s)
	sub.Code = "f <- function(x) x"

	runner := &stubRunner{holds: false}
	fe := &fakeEvaluator{}
	res, err := NewGrader(fe.client(), WithCaseRunner("local", runner)).Grade(context.Background(), s, sub, nil)
	if err != nil {
		t.Fatalf("Grade() error = %v", err)
	}
	if runner.calls != 1 {
		t.Errorf("runner calls = %d, want 1", runner.calls)
	}
	if res.Pending || res.Points != 0 || !slices.Equal(res.Feedback, []string{"case failed"}) {
		t.Errorf("Grade() = %+v", res)
	}
	r, _ := sub.TupleResult(10)
	if res := r.Resolution(100); res == nil || res.Signer != "local" {
		t.Errorf("Resolution() = %+v, want signed by local", res)
	}
}

func TestGrade_RStaticCases(t *testing.T) {
	s := domain.NewStage(1, domain.KindR, "r")
	_ = s.AddTuple(domain.TestCaseTuple{
		ID: 10,
		TestCases: []domain.TestCase{
			{ID: 1, Kind: domain.TestCaseStatic, Expression: "true", Points: 60},
			{ID: 2, Kind: domain.TestCaseStatic, Expression: "false", Points: 40},
		},
	})
	_ = s.AddTuple(domain.TestCaseTuple{
		ID: 11,
		TestCases: []domain.TestCase{
			{ID: 3, Kind: domain.TestCaseStatic, Expression: "true", Points: 30, PointsMode: domain.PointsDeduction, RuleMode: domain.RuleAbsence},
		},
	})
	s.R.FinalResultExpression = "final"

	fe := &fakeEvaluator{values: map[string]vars.Value{"final": vars.Float(64.6)}}
	sub := rSubmission(s)
	res, err := NewGrader(fe.client()).Grade(context.Background(), s, sub, nil)
	if err != nil {
		t.Fatalf("Grade() error = %v", err)
	}
	if res.Points != 65 {
		t.Errorf("Points = %d, want 65", res.Points)
	}

	r0, _ := sub.TupleResult(10)
	score, _, _ := TupleScore(s.R.Tuples[0], r0)
	if score != 60 {
		t.Errorf("TupleScore(t0) = %d, want 60", score)
	}
	r1, _ := sub.TupleResult(11)
	score, _, _ = TupleScore(s.R.Tuples[1], r1)
	if score != 70 {
		t.Errorf("TupleScore(t1) = %d, want 70", score)
	}
}

func TestTupleScore(t *testing.T) {
	tests := []struct {
		name  string
		cases []domain.TestCase
		holds []bool
		want  int
	}{
		{
			name:  "gain presence",
			cases: []domain.TestCase{{ID: 1, Points: 40, PointsMode: domain.PointsGain, RuleMode: domain.RulePresence}, {ID: 2, Points: 60, PointsMode: domain.PointsGain, RuleMode: domain.RulePresence}},
			holds: []bool{true, false},
			want:  40,
		},
		{
			name:  "gain absence",
			cases: []domain.TestCase{{ID: 1, Points: 100, PointsMode: domain.PointsGain, RuleMode: domain.RuleAbsence}},
			holds: []bool{false},
			want:  100,
		},
		{
			name:  "deduction only clamps at zero",
			cases: []domain.TestCase{{ID: 1, Points: 80, PointsMode: domain.PointsDeduction, RuleMode: domain.RulePresence}, {ID: 2, Points: 80, PointsMode: domain.PointsDeduction, RuleMode: domain.RulePresence}},
			holds: []bool{false, false},
			want:  0,
		},
		{
			name:  "gain clamps at hundred",
			cases: []domain.TestCase{{ID: 1, Points: 80, PointsMode: domain.PointsGain, RuleMode: domain.RulePresence}, {ID: 2, Points: 80, PointsMode: domain.PointsGain, RuleMode: domain.RulePresence}},
			holds: []bool{true, true},
			want:  100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tuple := domain.TestCaseTuple{ID: 1, TestCases: tt.cases}
			r := ledger.New(1, 1, 1, tuple.CaseIDs())
			for i, h := range tt.holds {
				_ = r.Set(tt.cases[i].ID, h, "t")
			}
			got, _, pending := TupleScore(tuple, r)
			if pending {
				t.Fatal("TupleScore() pending = true")
			}
			if got != tt.want {
				t.Errorf("TupleScore() = %d, want %d", got, tt.want)
			}
		})
	}
}
