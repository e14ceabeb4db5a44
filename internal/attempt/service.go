package attempt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/evaluator"
	"github.com/felixgeelhaar/stagegrade/internal/grading"
	"github.com/felixgeelhaar/stagegrade/internal/idgen"
	"github.com/felixgeelhaar/stagegrade/internal/ledger"
	"github.com/felixgeelhaar/stagegrade/internal/score"
	"github.com/felixgeelhaar/stagegrade/internal/stagegraph"
	"github.com/felixgeelhaar/stagegrade/internal/vars"
)

// ErrDispatch marks a graded submission whose pending checks could not be
// handed to the checkers. The grading result itself is valid.
var ErrDispatch = errors.New("check dispatch failed")

// Service manages attempts and grades their submissions
type Service struct {
	exercises ExerciseSource
	client    evaluator.Client
	grader    *grading.Grader
	navigator *stagegraph.Navigator
	ids       idgen.Allocator
	weights   *score.Cache

	store      Store                   // Optional: write-through persistence
	dispatcher Dispatcher              // Optional: async checker dispatch
	events     *domain.EventDispatcher // Optional: domain events
	observer   Observer                // Optional: metrics
	logger     *slog.Logger

	mu       sync.RWMutex
	attempts map[int64]*Attempt
	bySub    map[int64]*Attempt
}

// NewService creates a new attempt service. A nil grader is replaced by one
// without an in-process case runner.
func NewService(exercises ExerciseSource, client evaluator.Client, ids idgen.Allocator, grader *grading.Grader) *Service {
	if grader == nil {
		grader = grading.NewGrader(client)
	}
	return &Service{
		exercises: exercises,
		client:    client,
		grader:    grader,
		navigator: stagegraph.NewNavigator(client),
		ids:       ids,
		weights:   score.NewCache(),
		logger:    slog.Default(),
		attempts:  make(map[int64]*Attempt),
		bySub:     make(map[int64]*Attempt),
	}
}

// SetStore sets the persistence backend
func (s *Service) SetStore(st Store) {
	s.store = st
}

// SetDispatcher sets the dispatcher for asynchronous test cases
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// SetEventDispatcher sets the domain event dispatcher
func (s *Service) SetEventDispatcher(d *domain.EventDispatcher) {
	s.events = d
}

// SetObserver sets the grading metrics observer
func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

// SetLogger sets the logger
func (s *Service) SetLogger(l *slog.Logger) {
	s.logger = l
}

// StartAttempt freezes a copy of the exercise, seeds the exercise partition
// from the variable declarations and places the student on the start stage.
func (s *Service) StartAttempt(ctx context.Context, exerciseID int64) (*Attempt, error) {
	src, err := s.exercises.Get(ctx, exerciseID)
	if err != nil {
		return nil, fmt.Errorf("start attempt: %w", err)
	}
	if err := src.Check(); err != nil {
		return nil, fmt.Errorf("start attempt on exercise %d: %w", exerciseID, err)
	}
	ex := src.Clone()

	env := vars.NewEnvironment()
	if err := s.seedDeclarations(ctx, ex, env); err != nil {
		return nil, fmt.Errorf("start attempt on exercise %d: %w", exerciseID, err)
	}

	now := time.Now()
	a := &Attempt{
		ID:         s.ids.Next(),
		ExerciseID: ex.ID,
		Exercise:   ex,
		Current:    ex.StartStage,
		Status:     StatusActive,
		Env:        env,
		Tracker:    score.NewTracker(ex, s.weights.Get(ex)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.saveAttempt(ctx, a); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.attempts[a.ID] = a
	s.mu.Unlock()

	s.logger.Info("attempt started", "attempt_id", a.ID, "exercise_id", ex.ID, "stage", a.Current)
	s.events.Publish(domain.NewAttemptStartedEvent(a.ID, ex.ID, a.Current))
	return a, nil
}

// Get retrieves an attempt by id. Attempts not held in memory are loaded
// from the store when it can read them back.
func (s *Service) Get(ctx context.Context, id int64) (*Attempt, error) {
	s.mu.RLock()
	a, ok := s.attempts[id]
	s.mu.RUnlock()
	if ok {
		return a, nil
	}
	return s.load(ctx, id)
}

// load rebuilds an attempt from its persisted record on the current version
// of its exercise and registers it with its submissions
func (s *Service) load(ctx context.Context, id int64) (*Attempt, error) {
	loader, ok := s.store.(Loader)
	if !ok {
		return nil, domain.ErrAttemptNotFound
	}
	snap, err := loader.GetAttempt(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load attempt %d: %w", id, err)
	}
	if snap.Resume == nil {
		return nil, fmt.Errorf("load attempt %d: no resume state: %w", id, domain.ErrAttemptNotFound)
	}
	src, err := s.exercises.Get(ctx, snap.ExerciseID)
	if err != nil {
		return nil, fmt.Errorf("load attempt %d: %w", id, err)
	}
	ex := src.Clone()

	env := vars.NewEnvironment()
	env.Restore(snap.Resume.Variables)
	tracker := score.NewTracker(ex, s.weights.Get(ex))
	for stage, points := range snap.Resume.Points {
		tracker.Record(stage, points)
	}

	a := &Attempt{
		ID:         snap.ID,
		ExerciseID: snap.ExerciseID,
		Exercise:   ex,
		Current:    snap.Current,
		Status:     snap.Status,
		Env:        env,
		Tracker:    tracker,
		CreatedAt:  snap.CreatedAt,
		UpdatedAt:  snap.UpdatedAt,
		FinishedAt: snap.FinishedAt,
	}
	for _, sid := range snap.Resume.Submissions {
		sub, err := loader.GetSubmission(ctx, sid)
		if err != nil {
			return nil, fmt.Errorf("load attempt %d submission %d: %w", id, sid, err)
		}
		a.Submissions = append(a.Submissions, sub)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.attempts[id]; ok {
		return existing, nil
	}
	s.attempts[id] = a
	for _, sub := range a.Submissions {
		s.bySub[sub.ID] = a
	}
	s.logger.Info("attempt loaded", "attempt_id", id, "submissions", len(a.Submissions))
	return a, nil
}

// PrepareSubmission creates an empty submission for a stage, with a pending
// ledger entry for every test case of every tuple.
func (s *Service) PrepareSubmission(ctx context.Context, a *Attempt, stage domain.StageID) (*domain.StageSubmission, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return s.prepareLocked(ctx, a, stage)
}

func (s *Service) prepareLocked(ctx context.Context, a *Attempt, stage domain.StageID) (*domain.StageSubmission, error) {
	if !a.IsActive() {
		return nil, domain.ErrAttemptClosed
	}
	st, ok := a.Exercise.Stage(stage)
	if !ok {
		return nil, fmt.Errorf("prepare submission for stage %d: %w", stage, domain.ErrStageNotFound)
	}

	seq := 1
	for _, prev := range a.Submissions {
		if prev.StageID == st.ID {
			seq++
		}
	}

	now := time.Now()
	sub := &domain.StageSubmission{
		ID:        s.ids.Next(),
		AttemptID: a.ID,
		StageID:   st.ID,
		Kind:      st.Kind,
		Sequence:  seq,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if st.HasTestCaseTuples() {
		for _, t := range st.R.Tuples {
			sub.TupleResults = append(sub.TupleResults, ledger.New(s.ids.Next(), sub.ID, t.ID, t.CaseIDs()))
		}
	}
	sub.PendingChecks = sub.HasPendingChecks()

	a.Submissions = append(a.Submissions, sub)
	a.touch()

	s.mu.Lock()
	s.bySub[sub.ID] = a
	s.mu.Unlock()

	if err := s.saveSubmission(ctx, sub); err != nil {
		return nil, err
	}
	if err := s.saveAttempt(ctx, a); err != nil {
		return nil, err
	}
	return sub, nil
}

// Submit prepares a submission for the current stage, fills in the answer
// and grades it.
func (s *Service) Submit(ctx context.Context, a *Attempt, ans Answer) (*domain.StageSubmission, grading.Result, error) {
	a.mu.Lock()
	stage := a.Current
	sub, err := s.prepareLocked(ctx, a, stage)
	if err == nil {
		sub.Fields = ans.Fields
		sub.Ticked = ans.Ticked
		sub.Code = ans.Code
	}
	a.mu.Unlock()
	if err != nil {
		return nil, grading.Result{}, err
	}

	res, err := s.StartGrading(ctx, a, stage, sub)
	return sub, res, err
}

// StartGrading runs the before-check updates, grades the submission and,
// unless checks are still pending, runs the after-check updates and records
// the points. Pending test cases are handed to the dispatcher. An evaluator
// outage flags the submission with an internal error.
func (s *Service) StartGrading(ctx context.Context, a *Attempt, stage domain.StageID, sub *domain.StageSubmission) (grading.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.IsActive() {
		return grading.Result{}, domain.ErrAttemptClosed
	}
	st, ok := a.Exercise.Stage(stage)
	if !ok {
		return grading.Result{}, fmt.Errorf("grade stage %d: %w", stage, domain.ErrStageNotFound)
	}

	start := time.Now()
	res, err := s.grade(ctx, a, st, sub)
	if s.observer != nil {
		s.observer.ObserveGrading(st.Kind, time.Since(start), err)
	}
	if err != nil {
		return grading.Result{}, s.failGrading(ctx, sub, err)
	}

	sub.InternalError = false
	sub.Points = res.Points
	sub.Feedback = res.Feedback
	sub.PendingChecks = res.Pending
	sub.Graded = !res.Pending
	sub.UpdatedAt = time.Now()
	a.touch()

	if sub.Graded {
		a.Tracker.Record(st.ID, sub.EffectivePoints())
	}

	var dispatchErr error
	if sub.PendingChecks {
		dispatchErr = s.dispatch(ctx, a, st, sub)
	}

	if err := s.saveSubmission(ctx, sub); err != nil {
		return res, err
	}
	if err := s.saveAttempt(ctx, a); err != nil {
		return res, err
	}

	s.logger.Info("submission graded",
		"attempt_id", a.ID,
		"submission_id", sub.ID,
		"stage", st.ID,
		"kind", st.Kind,
		"points", sub.Points,
		"pending", sub.PendingChecks)
	s.events.Publish(domain.NewSubmissionGradedEvent(a.ID, sub))

	return res, dispatchErr
}

func (s *Service) grade(ctx context.Context, a *Attempt, st *domain.Stage, sub *domain.StageSubmission) (grading.Result, error) {
	if err := s.runUpdates(ctx, a, st, domain.TriggerBeforeCheck); err != nil {
		return grading.Result{}, err
	}
	res, err := s.grader.Grade(ctx, st, sub, a.Env)
	if err != nil {
		return grading.Result{}, err
	}
	if !res.Pending {
		if err := s.runUpdates(ctx, a, st, domain.TriggerAfterCheck); err != nil {
			return grading.Result{}, err
		}
	}
	return res, nil
}

func (s *Service) failGrading(ctx context.Context, sub *domain.StageSubmission, err error) error {
	if !errors.Is(err, evaluator.ErrUnavailable) {
		return fmt.Errorf("grade submission %d: %w", sub.ID, err)
	}
	sub.InternalError = true
	sub.UpdatedAt = time.Now()
	s.logger.Error("grading failed, evaluator unavailable", "submission_id", sub.ID, "error", err)
	if saveErr := s.saveSubmission(ctx, sub); saveErr != nil {
		s.logger.Warn("failed to save submission", "submission_id", sub.ID, "error", saveErr)
	}
	return fmt.Errorf("grade submission %d: %w", sub.ID, err)
}

// dispatch hands every tuple that still has pending entries to the checkers
func (s *Service) dispatch(ctx context.Context, a *Attempt, st *domain.Stage, sub *domain.StageSubmission) error {
	var reqs []CheckRequest
	for _, t := range st.R.Tuples {
		r, ok := sub.TupleResult(t.ID)
		if !ok || !r.HasPending() {
			continue
		}
		var pending []int64
		for _, id := range r.CaseIDs() {
			if state, _ := r.State(id); state == ledger.Pending {
				pending = append(pending, id)
			}
		}
		reqs = append(reqs, CheckRequest{
			AttemptID:    a.ID,
			SubmissionID: sub.ID,
			StageID:      st.ID,
			Tuple:        t,
			CaseIDs:      pending,
			Code:         sub.Code,
		})
	}
	if len(reqs) == 0 {
		return nil
	}
	if s.dispatcher == nil {
		s.logger.Warn("no checker dispatcher configured, checks stay pending",
			"submission_id", sub.ID, "tuples", len(reqs))
		return nil
	}
	if err := s.dispatcher.DispatchChecks(ctx, reqs); err != nil {
		return fmt.Errorf("dispatch checks for submission %d: %w: %w", sub.ID, ErrDispatch, err)
	}
	s.logger.Debug("checks dispatched", "submission_id", sub.ID, "tuples", len(reqs))
	return nil
}

// EvaluateTransition reports whether both guards of a transition hold in the
// attempt's environment. Guards may read tuple scores, so a submission with
// pending checks cannot be navigated yet.
func (s *Service) EvaluateTransition(ctx context.Context, a *Attempt, stage domain.StageID, sub *domain.StageSubmission, t domain.StageTransition) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.Exercise.Stage(stage)
	if !ok {
		return false, fmt.Errorf("evaluate transition of stage %d: %w", stage, domain.ErrStageNotFound)
	}
	if sub != nil && sub.PendingChecks && st.MustWaitForPendingJobs() {
		return false, domain.ErrChecksPending
	}
	return s.navigator.Guard(ctx, t, a.Env)
}

// UpdateStatus recomputes the pending flag and the points of a submission
// from its ledger. When the last pending check resolves, the after-check
// updates run and the points are recorded.
func (s *Service) UpdateStatus(ctx context.Context, a *Attempt, sub *domain.StageSubmission) (*domain.StageSubmission, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := s.updateStatusLocked(ctx, a, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) updateStatusLocked(ctx context.Context, a *Attempt, sub *domain.StageSubmission) error {
	st, ok := a.Exercise.Stage(sub.StageID)
	if !ok {
		return fmt.Errorf("update status of submission %d: %w", sub.ID, domain.ErrStageNotFound)
	}
	wasPending := sub.PendingChecks

	switch st.Kind {
	case domain.KindR:
		res, err := s.grader.ScoreR(ctx, st, sub, a.Env)
		if err != nil {
			return s.failGrading(ctx, sub, err)
		}
		sub.PendingChecks = res.Pending
		if !res.Pending {
			sub.Points = res.Points
			sub.Feedback = res.Feedback
			sub.Graded = true
			sub.InternalError = false
		}
	case domain.KindMC, domain.KindFillIn:
		sub.PendingChecks = false
	default:
		panic(fmt.Sprintf("attempt: unknown stage kind %q", st.Kind))
	}
	sub.UpdatedAt = time.Now()

	resolved := wasPending && !sub.PendingChecks
	if resolved {
		if err := s.runUpdates(ctx, a, st, domain.TriggerAfterCheck); err != nil {
			return s.failGrading(ctx, sub, err)
		}
	}
	if latest, ok := a.latestLocked(st.ID); ok && latest.ID == sub.ID && sub.Graded {
		a.Tracker.Record(st.ID, sub.EffectivePoints())
	}
	a.touch()

	if err := s.saveSubmission(ctx, sub); err != nil {
		return err
	}
	if err := s.saveAttempt(ctx, a); err != nil {
		return err
	}
	if resolved {
		s.logger.Info("checks resolved", "attempt_id", a.ID, "submission_id", sub.ID, "points", sub.EffectivePoints())
		s.events.Publish(domain.NewChecksResolvedEvent(a.ID, sub))
	}
	return nil
}

// SetManualResult overrides the computed points of a submission. A nil
// points value removes the override.
func (s *Service) SetManualResult(ctx context.Context, a *Attempt, submissionID int64, points *int) (*domain.StageSubmission, error) {
	if points != nil && (*points < 0 || *points > 100) {
		return nil, fmt.Errorf("manual result %d: %w", *points, domain.ErrInvalidBounds)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	sub, ok := a.submissionLocked(submissionID)
	if !ok {
		return nil, domain.ErrSubmissionNotFound
	}
	if points != nil {
		p := *points
		sub.ManualResult = &p
	} else {
		sub.ManualResult = nil
	}
	if err := s.updateStatusLocked(ctx, a, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Advance leaves the current stage. The navigator picks the next stage, the
// exit updates for the outcome run and the stage result is recorded; a
// skipped or ungraded stage counts zero points. Reaching the end finishes
// the attempt.
func (s *Service) Advance(ctx context.Context, a *Attempt, stage domain.StageID, sub *domain.StageSubmission, exit stagegraph.Exit) (stagegraph.Outcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.IsActive() {
		return stagegraph.Outcome{}, domain.ErrAttemptClosed
	}
	if stage != a.Current {
		return stagegraph.Outcome{}, fmt.Errorf("advance from stage %d while on %d: %w", stage, a.Current, domain.ErrNotCurrentStage)
	}
	st, ok := a.Exercise.Stage(stage)
	if !ok {
		return stagegraph.Outcome{}, fmt.Errorf("advance from stage %d: %w", stage, domain.ErrStageNotFound)
	}
	if exit == stagegraph.ExitNormal && sub != nil && sub.PendingChecks && st.MustWaitForPendingJobs() {
		return stagegraph.Outcome{}, domain.ErrChecksPending
	}

	out, err := s.navigator.Select(ctx, st, a.Env, exit)
	if err != nil {
		return stagegraph.Outcome{}, fmt.Errorf("advance from stage %d: %w", stage, err)
	}

	trigger := domain.TriggerOnNormalExit
	switch {
	case out.Repeat:
		trigger = domain.TriggerOnRepeat
	case exit == stagegraph.ExitSkip:
		trigger = domain.TriggerOnSkip
	}
	if err := s.runUpdates(ctx, a, st, trigger); err != nil {
		return stagegraph.Outcome{}, fmt.Errorf("advance from stage %d: %w", stage, err)
	}

	points := 0
	if sub != nil && sub.Graded && exit == stagegraph.ExitNormal {
		points = sub.EffectivePoints()
	}
	a.Tracker.Record(st.ID, points)

	if out.End {
		a.finish()
	} else {
		a.Current = out.Target
		a.touch()
	}

	if err := s.saveAttempt(ctx, a); err != nil {
		return out, err
	}

	s.logger.Info("stage left",
		"attempt_id", a.ID,
		"from", st.ID,
		"to", out.Target,
		"path", out.Path,
		"exit", exit)
	s.events.Publish(domain.NewStageEnteredEvent(a.ID, st.ID, out.Target, out.Repeat))
	if out.End {
		p := a.Tracker.Progress(domain.EndOfExercise)
		s.events.Publish(domain.NewAttemptFinishedEvent(a.ID, p.PercentScored))
	}
	return out, nil
}

// RecordCheckResult writes one checker result into the submission's ledger
// and refreshes its status. An attempt not held in memory is loaded first;
// when the store cannot load it the entry is written to the store directly.
func (s *Service) RecordCheckResult(ctx context.Context, r CheckResult) error {
	a, err := s.attemptOf(ctx, r.SubmissionID)
	if err != nil {
		return fmt.Errorf("record check for submission %d: %w", r.SubmissionID, err)
	}
	if a == nil {
		if s.store == nil {
			return fmt.Errorf("record check for submission %d: %w", r.SubmissionID, domain.ErrSubmissionNotFound)
		}
		if err := s.store.SetCheckResult(ctx, r); err != nil {
			return fmt.Errorf("record check for submission %d: %w", r.SubmissionID, err)
		}
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	sub, ok := a.submissionLocked(r.SubmissionID)
	if !ok {
		return domain.ErrSubmissionNotFound
	}
	tr, ok := sub.TupleResult(r.TupleID)
	if !ok {
		return fmt.Errorf("record check for submission %d tuple %d: %w", sub.ID, r.TupleID, domain.ErrTupleNotFound)
	}
	if err := tr.Set(r.CaseID, r.Passed, r.Signer); err != nil {
		return fmt.Errorf("record check for submission %d: %w", sub.ID, err)
	}
	s.logger.Debug("check recorded",
		"submission_id", sub.ID,
		"tuple_id", r.TupleID,
		"case_id", r.CaseID,
		"passed", r.Passed,
		"signer", r.Signer)
	return s.updateStatusLocked(ctx, a, sub)
}

// attemptOf finds the attempt owning a submission, loading it when the store
// can. A nil attempt without error means nothing could be loaded.
func (s *Service) attemptOf(ctx context.Context, submissionID int64) (*Attempt, error) {
	s.mu.RLock()
	a, ok := s.bySub[submissionID]
	s.mu.RUnlock()
	if ok {
		return a, nil
	}
	loader, ok := s.store.(Loader)
	if !ok {
		return nil, nil
	}
	sub, err := loader.GetSubmission(ctx, submissionID)
	if errors.Is(err, domain.ErrSubmissionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a, err = s.load(ctx, sub.AttemptID)
	if errors.Is(err, domain.ErrAttemptNotFound) || errors.Is(err, domain.ErrExerciseNotFound) {
		s.logger.Warn("attempt cannot be resumed, writing check to the store", "submission_id", submissionID, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	owner, ok := s.bySub[submissionID]
	s.mu.RUnlock()
	if !ok {
		// the record predates this submission
		return nil, nil
	}
	return owner, nil
}

// ReorderRule moves a grading rule of an authored stage
func (s *Service) ReorderRule(stage *domain.Stage, from, to int) error {
	if err := stage.ReorderRule(from, to); err != nil {
		return fmt.Errorf("reorder rule of stage %d: %w", stage.ID, err)
	}
	return nil
}

// RemoveRule deletes a grading rule of an authored stage
func (s *Service) RemoveRule(stage *domain.Stage, index int) error {
	if err := stage.RemoveRule(index); err != nil {
		return fmt.Errorf("remove rule of stage %d: %w", stage.ID, err)
	}
	return nil
}

// seedDeclarations evaluates every declaration in one batch. Declarations
// without an expression stay undefined.
func (s *Service) seedDeclarations(ctx context.Context, ex *domain.Exercise, env *vars.Environment) error {
	var (
		tasks []evaluator.Task
		names []string
	)
	for _, v := range ex.Variables {
		if v.Expression == "" {
			continue
		}
		tasks = append(tasks, evaluator.Task{
			Name:       "decl" + strconv.Itoa(len(tasks)),
			Expression: v.Expression,
			Domain:     v.Domain,
		})
		names = append(names, v.Name)
	}
	if len(tasks) == 0 {
		return nil
	}
	vals, err := s.client.Evaluate(ctx, tasks, env)
	if err != nil {
		return fmt.Errorf("evaluate declarations: %w", err)
	}
	for i, name := range names {
		env.Set(vars.Exercise, name, vals[tasks[i].Name])
	}
	return nil
}

// runUpdates evaluates the updates of one trigger in a single batch against
// the environment as it was before the batch, then assigns them in order.
func (s *Service) runUpdates(ctx context.Context, a *Attempt, st *domain.Stage, trigger domain.Trigger) error {
	updates := st.Updates[trigger]
	if len(updates) == 0 {
		return nil
	}
	tasks := make([]evaluator.Task, len(updates))
	for i, u := range updates {
		tasks[i] = evaluator.Task{
			Name:       "update" + strconv.Itoa(i),
			Expression: u.Expression,
			Domain:     u.Domain,
		}
	}
	vals, err := s.client.Evaluate(ctx, tasks, a.Env)
	if err != nil {
		return fmt.Errorf("run %s updates of stage %d: %w", trigger, st.ID, err)
	}
	for i, u := range updates {
		a.Env.Set(vars.Exercise, u.Variable, vals[tasks[i].Name])
	}
	return nil
}

func (s *Service) saveAttempt(ctx context.Context, a *Attempt) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveAttempt(ctx, a.recordLocked()); err != nil {
		return fmt.Errorf("save attempt %d: %w", a.ID, err)
	}
	return nil
}

func (s *Service) saveSubmission(ctx context.Context, sub *domain.StageSubmission) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveSubmission(ctx, sub); err != nil {
		return fmt.Errorf("save submission %d: %w", sub.ID, err)
	}
	return nil
}
