package daemon

import (
	"github.com/felixgeelhaar/stagegrade/internal/attempt"
	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/stagegraph"
)

type exerciseSummary struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	StartStage  domain.StageID `json:"start_stage"`
	StageCount  int            `json:"stage_count"`
}

type exerciseDetail struct {
	exerciseSummary
	Stages []attempt.StageView `json:"stages"`
}

func summarize(ex *domain.Exercise) exerciseSummary {
	return exerciseSummary{
		ID:          ex.ID,
		Name:        ex.Name,
		Description: ex.Description,
		StartStage:  ex.StartStage,
		StageCount:  len(ex.StageIDs()),
	}
}

func describe(ex *domain.Exercise) exerciseDetail {
	d := exerciseDetail{exerciseSummary: summarize(ex)}
	for _, st := range ex.Stages() {
		d.Stages = append(d.Stages, attempt.ViewStage(st))
	}
	return d
}

type submitResponse struct {
	Submission attempt.SubmissionStatus `json:"submission"`
	Correct    bool                     `json:"correct"`
	Attempt    attempt.Snapshot         `json:"attempt"`
}

type advanceResponse struct {
	From    domain.StageID   `json:"from"`
	To      domain.StageID   `json:"to"`
	Path    stagegraph.Path  `json:"path"`
	End     bool             `json:"end"`
	Repeat  bool             `json:"repeat"`
	Attempt attempt.Overview `json:"attempt"`
}
