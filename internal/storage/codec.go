// Package storage holds what the SQL stores share: the JSON encoding of the
// attempt and submission columns that have no relational shape.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/sqlc-dev/pqtype"

	"github.com/felixgeelhaar/stagegrade/internal/attempt"
	"github.com/felixgeelhaar/stagegrade/internal/domain"
)

// answer is the JSON form of the student's input columns
type answer struct {
	Fields []domain.SubmissionField `json:"fields,omitempty"`
	Ticked []bool                   `json:"ticked,omitempty"`
}

// EncodeAnswer returns the answer column of a submission; NULL when the
// submission carries neither fields nor ticks.
func EncodeAnswer(sub *domain.StageSubmission) (pqtype.NullRawMessage, error) {
	if len(sub.Fields) == 0 && len(sub.Ticked) == 0 {
		return pqtype.NullRawMessage{}, nil
	}
	data, err := json.Marshal(answer{Fields: sub.Fields, Ticked: sub.Ticked})
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("marshal answer: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: data, Valid: true}, nil
}

// DecodeAnswer fills the submission's fields and ticks from the column
func DecodeAnswer(col pqtype.NullRawMessage, sub *domain.StageSubmission) error {
	if !col.Valid {
		return nil
	}
	var a answer
	if err := json.Unmarshal(col.RawMessage, &a); err != nil {
		return fmt.Errorf("unmarshal answer: %w", err)
	}
	sub.Fields, sub.Ticked = a.Fields, a.Ticked
	return nil
}

// EncodeResume returns the resume column of an attempt; NULL without one
func EncodeResume(r *attempt.Resume) (pqtype.NullRawMessage, error) {
	if r == nil {
		return pqtype.NullRawMessage{}, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("marshal resume state: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: data, Valid: true}, nil
}

// DecodeResume reads the resume column; rows written before the column
// existed have none
func DecodeResume(col pqtype.NullRawMessage) (*attempt.Resume, error) {
	if !col.Valid {
		return nil, nil
	}
	var r attempt.Resume
	if err := json.Unmarshal(col.RawMessage, &r); err != nil {
		return nil, fmt.Errorf("unmarshal resume state: %w", err)
	}
	return &r, nil
}

// EncodeFeedback returns the feedback column; NULL without feedback
func EncodeFeedback(feedback []string) (pqtype.NullRawMessage, error) {
	if len(feedback) == 0 {
		return pqtype.NullRawMessage{}, nil
	}
	data, err := json.Marshal(feedback)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("marshal feedback: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: data, Valid: true}, nil
}

func DecodeFeedback(col pqtype.NullRawMessage) ([]string, error) {
	if !col.Valid {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(col.RawMessage, &out); err != nil {
		return nil, fmt.Errorf("unmarshal feedback: %w", err)
	}
	return out, nil
}
