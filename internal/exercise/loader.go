package exercise

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"gopkg.in/yaml.v3"
)

// ErrUnknownTrigger is returned for an update list under an unknown key
var ErrUnknownTrigger = errors.New("unknown update trigger")

// Parse builds an exercise from its YAML form. Stages, transitions, rules,
// answers and tuples keep the order they are listed in.
func Parse(data []byte) (*domain.Exercise, error) {
	var f ExerciseFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse exercise file: %w", err)
	}
	return FromFile(f)
}

// FromFile converts the file representation into a checked exercise
func FromFile(f ExerciseFile) (*domain.Exercise, error) {
	ex := domain.NewExercise(f.ID, f.Name)
	ex.Description = f.Description

	for _, v := range f.Variables {
		decl := domain.VariableDeclaration{
			ID:         v.ID,
			Name:       v.Name,
			Expression: v.Expression,
			Domain:     domain.EvalDomain(v.Domain),
		}
		if err := ex.DeclareVariable(decl); err != nil {
			return nil, err
		}
	}

	for _, sf := range f.Stages {
		s, err := stageFromFile(sf)
		if err != nil {
			return nil, err
		}
		if err := ex.AddStage(s); err != nil {
			return nil, err
		}
	}

	if f.Start != 0 {
		if err := ex.SetStart(domain.StageID(f.Start)); err != nil {
			return nil, fmt.Errorf("start stage %d: %w", f.Start, err)
		}
	}
	if err := ex.Check(); err != nil {
		return nil, fmt.Errorf("exercise %d: %w", f.ID, err)
	}
	return ex, nil
}

func stageFromFile(sf StageFile) (*domain.Stage, error) {
	kind := domain.Kind(sf.Kind)
	if !kind.Valid() {
		return nil, fmt.Errorf("stage %d kind %q: %w", sf.ID, sf.Kind, domain.ErrKindMismatch)
	}
	s := domain.NewStage(domain.StageID(sf.ID), kind, sf.Name)
	if sf.Title != "" {
		s.ExternalName = sf.Title
	}
	s.TaskDescription = sf.Task
	s.Hints = sf.Hints
	if sf.Weight != nil {
		s.Weight = *sf.Weight
	}

	s.SetDefaultTarget(domain.StageID(sf.Default))
	for _, t := range sf.Skip {
		s.AddSkipTransition(transitionFromFile(t))
	}
	for _, t := range sf.Extra {
		s.AddExtraTransition(transitionFromFile(t))
	}

	for _, trigger := range domain.Triggers {
		for _, u := range sf.Updates[string(trigger)] {
			s.AddUpdate(trigger, domain.VariableUpdate{
				ID:         u.ID,
				Variable:   u.Variable,
				Expression: u.Expression,
				Domain:     domain.EvalDomain(u.Domain),
			})
		}
	}
	for key := range sf.Updates {
		if !knownTrigger(key) {
			return nil, fmt.Errorf("stage %d updates %q: %w", sf.ID, key, ErrUnknownTrigger)
		}
	}

	var err error
	switch kind {
	case domain.KindMC:
		err = mcFromFile(s, sf.MC)
	case domain.KindFillIn:
		err = fillInFromFile(s, sf.FillIn)
	case domain.KindR:
		err = rFromFile(s, sf.R)
	}
	if err != nil {
		return nil, fmt.Errorf("stage %d: %w", sf.ID, err)
	}
	return s, nil
}

func knownTrigger(key string) bool {
	for _, t := range domain.Triggers {
		if string(t) == key {
			return true
		}
	}
	return false
}

func mcFromFile(s *domain.Stage, f *MCFile) error {
	if f == nil {
		return nil
	}
	p := s.MC
	p.SingleChoice = f.SingleChoice
	p.CorrectFeedback = f.CorrectFeedback
	p.DefaultFeedback = f.DefaultFeedback
	p.DefaultResult = f.DefaultResult
	for i, a := range f.Answers {
		tag := domain.AnswerTag(a.Tag)
		if tag == "" {
			tag = domain.TagWrong
		}
		p.Answers = append(p.Answers, domain.MCAnswer{ID: a.ID, Text: a.Text, Tag: tag, Order: i})
	}
	for _, r := range rulesFromFile(f.Rules) {
		if err := s.AddRule(r); err != nil {
			return err
		}
	}
	return nil
}

func fillInFromFile(s *domain.Stage, f *FillInFile) error {
	if f == nil {
		return nil
	}
	p := s.FillIn
	p.CorrectFeedback = f.CorrectFeedback
	p.DefaultFeedback = f.DefaultFeedback
	p.DefaultResult = f.DefaultResult
	counts := map[domain.FieldKind]int{}
	for i, ff := range f.Fields {
		kind := domain.FieldKind(ff.Kind)
		if kind == "" {
			kind = domain.FieldText
		}
		counts[kind]++
		name := ff.Name
		if name == "" {
			name = domain.FieldName(kind, counts[kind])
		}
		p.Fields = append(p.Fields, domain.FillInField{
			Name:  name,
			Kind:  kind,
			Items: ff.Items,
			Size:  ff.Size,
			Order: i,
		})
	}
	for _, r := range rulesFromFile(f.Rules) {
		if err := s.AddRule(r); err != nil {
			return err
		}
	}
	return nil
}

func rFromFile(s *domain.Stage, f *RFile) error {
	if f == nil {
		return nil
	}
	s.R.FinalResultExpression = f.FinalExpression
	s.R.FinalResultDomain = domain.EvalDomain(f.FinalDomain)
	s.R.DefaultFeedback = f.DefaultFeedback
	for _, tf := range f.Tuples {
		t := domain.TestCaseTuple{
			ID:   tf.ID,
			Name: tf.Name,
			Checker: domain.CheckerConfiguration{
				Async:          tf.Checker.Async,
				Image:          tf.Checker.Image,
				TimeoutSeconds: tf.Checker.TimeoutSeconds,
				MemoryMB:       tf.Checker.MemoryMB,
			},
		}
		for _, c := range tf.Cases {
			t.TestCases = append(t.TestCases, domain.TestCase{
				ID:              c.ID,
				Kind:            domain.TestCaseKind(c.Kind),
				Name:            c.Name,
				Expression:      c.Expression,
				Code:            c.Code,
				Domain:          domain.EvalDomain(c.Domain),
				Points:          c.Points,
				PointsMode:      domain.PointsMode(c.PointsMode),
				RuleMode:        domain.RuleMode(c.RuleMode),
				FailureFeedback: c.FailureFeedback,
			})
		}
		if err := s.AddTuple(t); err != nil {
			return err
		}
	}
	return nil
}

// Marshal renders an exercise in its YAML form
func Marshal(ex *domain.Exercise) ([]byte, error) {
	data, err := yaml.Marshal(ToFile(ex))
	if err != nil {
		return nil, fmt.Errorf("marshal exercise %d: %w", ex.ID, err)
	}
	return data, nil
}

// ToFile converts an exercise into its file representation
func ToFile(ex *domain.Exercise) ExerciseFile {
	f := ExerciseFile{
		ID:          ex.ID,
		Name:        ex.Name,
		Description: ex.Description,
		Start:       int64(ex.StartStage),
	}
	for _, v := range ex.Variables {
		f.Variables = append(f.Variables, DeclarationFile{
			ID:         v.ID,
			Name:       v.Name,
			Expression: v.Expression,
			Domain:     string(v.Domain),
		})
	}
	for _, s := range ex.Stages() {
		f.Stages = append(f.Stages, stageToFile(s))
	}
	return f
}

func stageToFile(s *domain.Stage) StageFile {
	sf := StageFile{
		ID:      int64(s.ID),
		Kind:    string(s.Kind),
		Name:    s.InternalName,
		Task:    s.TaskDescription,
		Hints:   s.Hints,
		Default: int64(s.DefaultTransition.Target),
		Skip:    transitionsToFile(s.SkipTransitions),
		Extra:   transitionsToFile(s.ExtraTransitions),
	}
	if s.ExternalName != s.InternalName {
		sf.Title = s.ExternalName
	}
	if s.Weight != 1 {
		w := s.Weight
		sf.Weight = &w
	}
	for trigger, updates := range s.Updates {
		if len(updates) == 0 {
			continue
		}
		if sf.Updates == nil {
			sf.Updates = make(map[string][]UpdateFile)
		}
		for _, u := range updates {
			sf.Updates[string(trigger)] = append(sf.Updates[string(trigger)], UpdateFile{
				ID:         u.ID,
				Variable:   u.Variable,
				Expression: u.Expression,
				Domain:     string(u.Domain),
			})
		}
	}

	switch s.Kind {
	case domain.KindMC:
		mf := &MCFile{
			SingleChoice:    s.MC.SingleChoice,
			Rules:           rulesToFile(s.MC.Rules),
			CorrectFeedback: s.MC.CorrectFeedback,
			DefaultFeedback: s.MC.DefaultFeedback,
			DefaultResult:   s.MC.DefaultResult,
		}
		for _, a := range s.MC.Answers {
			mf.Answers = append(mf.Answers, AnswerFile{ID: a.ID, Text: a.Text, Tag: string(a.Tag)})
		}
		sf.MC = mf
	case domain.KindFillIn:
		ff := &FillInFile{
			Rules:           rulesToFile(s.FillIn.Rules),
			CorrectFeedback: s.FillIn.CorrectFeedback,
			DefaultFeedback: s.FillIn.DefaultFeedback,
			DefaultResult:   s.FillIn.DefaultResult,
		}
		for _, fld := range s.FillIn.Fields {
			ff.Fields = append(ff.Fields, FieldFile{Name: fld.Name, Kind: string(fld.Kind), Items: fld.Items, Size: fld.Size})
		}
		sf.FillIn = ff
	case domain.KindR:
		rf := &RFile{
			FinalExpression: s.R.FinalResultExpression,
			FinalDomain:     string(s.R.FinalResultDomain),
			DefaultFeedback: s.R.DefaultFeedback,
		}
		for _, t := range s.R.Tuples {
			tf := TupleFile{
				ID:   t.ID,
				Name: t.Name,
				Checker: CheckerFile{
					Async:          t.Checker.Async,
					Image:          t.Checker.Image,
					TimeoutSeconds: t.Checker.TimeoutSeconds,
					MemoryMB:       t.Checker.MemoryMB,
				},
			}
			for _, c := range t.TestCases {
				tf.Cases = append(tf.Cases, CaseFile{
					ID:              c.ID,
					Kind:            string(c.Kind),
					Name:            c.Name,
					Expression:      c.Expression,
					Code:            c.Code,
					Domain:          string(c.Domain),
					Points:          c.Points,
					PointsMode:      string(c.PointsMode),
					RuleMode:        string(c.RuleMode),
					FailureFeedback: c.FailureFeedback,
				})
			}
			rf.Tuples = append(rf.Tuples, tf)
		}
		sf.R = rf
	default:
		panic(fmt.Sprintf("exercise: unknown stage kind %q", s.Kind))
	}
	return sf
}

// Loader reads exercise files from a directory
type Loader struct {
	basePath string
}

// NewLoader creates a new exercise loader
func NewLoader(basePath string) *Loader {
	return &Loader{basePath: basePath}
}

// BasePath returns the directory the loader reads from
func (l *Loader) BasePath() string {
	return l.basePath
}

// LoadFile loads a single exercise; name is relative to the base path
func (l *Loader) LoadFile(name string) (*domain.Exercise, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, name))
	if err != nil {
		return nil, fmt.Errorf("read exercise file: %w", err)
	}
	ex, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return ex, nil
}

// LoadAll loads every *.yaml and *.yml file of the base directory, sorted
// by file name
func (l *Loader) LoadAll() ([]*domain.Exercise, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("read exercises directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	exercises := make([]*domain.Exercise, 0, len(names))
	for _, name := range names {
		ex, err := l.LoadFile(name)
		if err != nil {
			return nil, err
		}
		exercises = append(exercises, ex)
	}
	return exercises, nil
}
