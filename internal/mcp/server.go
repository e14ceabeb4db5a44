// Package mcp exposes attempts as MCP tools so an agent can walk a student
// through an exercise.
package mcp

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"

	"github.com/felixgeelhaar/stagegrade/internal/attempt"
	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/evaluator"
	"github.com/felixgeelhaar/stagegrade/internal/stagegraph"
)

// Server wraps the MCP server with grading tools
type Server struct {
	mcpServer *server.Server
	service   attempt.AttemptService
	exercises ExerciseLister
}

// ExerciseLister lists the exercises an attempt can be started on
type ExerciseLister interface {
	List() []*domain.Exercise
}

// Config contains configuration for the MCP server
type Config struct {
	Version   string
	Service   attempt.AttemptService
	Exercises ExerciseLister
}

// NewServer creates a new MCP server
func NewServer(cfg Config) *Server {
	s := &Server{
		service:   cfg.Service,
		exercises: cfg.Exercises,
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "stagegrade",
		Version: version,
	}, server.WithInstructions(`
stagegrade grades staged exercises: multiple choice, fill-in and R code stages
linked into a graph.

Available tools:
- stagegrade_exercises: List the exercises
- stagegrade_start: Start an attempt on an exercise
- stagegrade_submit: Answer the current stage of an attempt
- stagegrade_advance: Leave the current stage (exit normal or skip)
- stagegrade_status: Show the current stage, latest result and score

R stages may report pending checks; call stagegrade_status until they resolve
before advancing.
`))

	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcpServer.Tool("stagegrade_exercises").
		Description("List the exercises an attempt can be started on").
		Handler(s.handleExercises)

	s.mcpServer.Tool("stagegrade_start").
		Description("Start an attempt on an exercise and show its first stage").
		Handler(s.handleStart)

	s.mcpServer.Tool("stagegrade_submit").
		Description("Submit an answer for the current stage of an attempt").
		Handler(s.handleSubmit)

	s.mcpServer.Tool("stagegrade_advance").
		Description("Leave the current stage and move along the exercise graph").
		Handler(s.handleAdvance)

	s.mcpServer.Tool("stagegrade_status").
		Description("Get the current stage, latest submission and score of an attempt").
		Handler(s.handleStatus)
}

type ExercisesInput struct{}

type ExerciseItem struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Stages int    `json:"stages"`
}

type ExercisesOutput struct {
	Exercises []ExerciseItem `json:"exercises"`
}

type StartInput struct {
	ExerciseID int64 `json:"exercise_id" jsonschema:"description=Numeric exercise id from stagegrade_exercises"`
}

type SubmitInput struct {
	AttemptID int64             `json:"attempt_id" jsonschema:"description=Attempt id from stagegrade_start"`
	Ticked    []bool            `json:"ticked,omitempty" jsonschema:"description=Multiple choice: one flag per option in display order"`
	Fields    map[string]string `json:"fields,omitempty" jsonschema:"description=Fill-in: field name -> value"`
	Code      string            `json:"code,omitempty" jsonschema:"description=R stage: the submitted code"`
}

type SubmitOutput struct {
	SubmissionID  int64    `json:"submission_id"`
	Points        int      `json:"points"`
	Correct       bool     `json:"correct"`
	PendingChecks bool     `json:"pending_checks"`
	Feedback      []string `json:"feedback,omitempty"`
	Summary       string   `json:"summary"`
}

type AdvanceInput struct {
	AttemptID int64  `json:"attempt_id" jsonschema:"description=Attempt id from stagegrade_start"`
	Exit      string `json:"exit,omitempty" jsonschema:"description=How the stage is left (default: normal),enum=normal,enum=skip"`
}

type AdvanceOutput struct {
	From    int64  `json:"from"`
	To      int64  `json:"to"`
	End     bool   `json:"end"`
	Repeat  bool   `json:"repeat"`
	Message string `json:"message"`
}

type StatusInput struct {
	AttemptID int64 `json:"attempt_id" jsonschema:"description=Attempt id from stagegrade_start"`
}

// StageOutput describes what the student has to answer next
type StageOutput struct {
	AttemptID     int64                     `json:"attempt_id"`
	Status        string                    `json:"status"`
	PercentScored float64                   `json:"percent_scored"`
	Stage         *attempt.StageView        `json:"stage,omitempty"`
	Latest        *attempt.SubmissionStatus `json:"latest_submission,omitempty"`
}

func (s *Server) handleExercises(ctx context.Context, input ExercisesInput) (ExercisesOutput, error) {
	out := ExercisesOutput{Exercises: []ExerciseItem{}}
	if s.exercises == nil {
		return out, nil
	}
	for _, ex := range s.exercises.List() {
		out.Exercises = append(out.Exercises, ExerciseItem{ID: ex.ID, Name: ex.Name, Stages: len(ex.StageIDs())})
	}
	return out, nil
}

func (s *Server) handleStart(ctx context.Context, input StartInput) (StageOutput, error) {
	a, err := s.service.StartAttempt(ctx, input.ExerciseID)
	if err != nil {
		return StageOutput{}, fmt.Errorf("start attempt: %w", err)
	}
	return stageOutput(a), nil
}

func (s *Server) handleSubmit(ctx context.Context, input SubmitInput) (SubmitOutput, error) {
	a, err := s.service.Get(ctx, input.AttemptID)
	if err != nil {
		return SubmitOutput{}, fmt.Errorf("attempt not found: %w", err)
	}

	ans := attempt.Answer{Ticked: input.Ticked, Code: input.Code}
	for _, name := range sortedKeys(input.Fields) {
		ans.Fields = append(ans.Fields, domain.SubmissionField{Name: name, Value: input.Fields[name]})
	}

	sub, res, err := s.service.Submit(ctx, a, ans)
	switch {
	case err == nil, errors.Is(err, attempt.ErrDispatch):
	case sub != nil && errors.Is(err, evaluator.ErrUnavailable):
		return SubmitOutput{
			SubmissionID: sub.ID,
			Summary:      "Grading is unavailable right now; submit again later.",
		}, nil
	default:
		return SubmitOutput{}, fmt.Errorf("submit: %w", err)
	}

	st, _ := a.SubmissionStatus(sub.ID)
	out := SubmitOutput{
		SubmissionID:  st.ID,
		Points:        st.Effective,
		Correct:       res.Correct,
		PendingChecks: st.PendingChecks,
		Feedback:      st.Feedback,
	}
	switch {
	case st.PendingChecks:
		out.Summary = fmt.Sprintf("Submitted; %d checks still running.", st.PendingCases)
	case res.Correct:
		out.Summary = fmt.Sprintf("Correct: %d points.", st.Effective)
	default:
		out.Summary = fmt.Sprintf("%d points.", st.Effective)
	}
	return out, nil
}

func (s *Server) handleAdvance(ctx context.Context, input AdvanceInput) (AdvanceOutput, error) {
	a, err := s.service.Get(ctx, input.AttemptID)
	if err != nil {
		return AdvanceOutput{}, fmt.Errorf("attempt not found: %w", err)
	}
	exit := stagegraph.ExitNormal
	switch input.Exit {
	case "", string(stagegraph.ExitNormal):
	case string(stagegraph.ExitSkip):
		exit = stagegraph.ExitSkip
	default:
		return AdvanceOutput{}, fmt.Errorf("unknown exit %q", input.Exit)
	}

	current := a.Snapshot().Current
	sub, _ := a.Latest(current)
	res, err := s.service.Advance(ctx, a, current, sub, exit)
	if err != nil {
		return AdvanceOutput{}, fmt.Errorf("advance: %w", err)
	}

	out := AdvanceOutput{From: int64(current), To: int64(res.Target), End: res.End, Repeat: res.Repeat}
	switch {
	case res.End:
		out.Message = fmt.Sprintf("Exercise finished with %.0f%%.", a.Snapshot().Progress.PercentScored)
	case res.Repeat:
		out.Message = fmt.Sprintf("Repeat stage %d.", res.Target)
	default:
		out.Message = fmt.Sprintf("Moved to stage %d.", res.Target)
	}
	return out, nil
}

func (s *Server) handleStatus(ctx context.Context, input StatusInput) (StageOutput, error) {
	a, err := s.service.Get(ctx, input.AttemptID)
	if err != nil {
		return StageOutput{}, fmt.Errorf("attempt not found: %w", err)
	}
	return stageOutput(a), nil
}

func stageOutput(a *attempt.Attempt) StageOutput {
	ov := a.Overview()
	return StageOutput{
		AttemptID:     ov.ID,
		Status:        string(ov.Status),
		PercentScored: ov.Progress.PercentScored,
		Stage:         ov.Stage,
		Latest:        ov.Latest,
	}
}

// sortedKeys keeps fill-in fields in a stable order; fillInField10 sorts
// after fillInField9
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if strings.HasPrefix(a, domain.FillInFieldPrefix) && strings.HasPrefix(b, domain.FillInFieldPrefix) {
			if c := cmp.Compare(len(a), len(b)); c != 0 {
				return c
			}
		}
		return strings.Compare(a, b)
	})
	return keys
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
