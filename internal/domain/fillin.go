package domain

import (
	"fmt"
	"strconv"
)

// FieldKind distinguishes free-text fields from drop-down fields
type FieldKind string

const (
	FieldText     FieldKind = "text"
	FieldDropDown FieldKind = "dropdown"
)

// Field name prefixes as referenced from rule expressions
const (
	FillInFieldPrefix   = "fillInField"
	DropDownFieldPrefix = "dropDownField"
)

// FillInField is one input element of a fill-in stage
type FillInField struct {
	Name  string    `validate:"required"`
	Kind  FieldKind `validate:"oneof=text dropdown"`
	Items []string
	Size  int
	Order int
}

// FillInPayload holds the fill-in specific part of a stage
type FillInPayload struct {
	Fields          []FillInField `validate:"dive"`
	Rules           []Rule        `validate:"dive"`
	CorrectFeedback string
	DefaultFeedback string
	DefaultResult   int `validate:"gte=0,lte=100"`
}

func (p *FillInPayload) clone() *FillInPayload {
	c := *p
	c.Fields = make([]FillInField, len(p.Fields))
	for i, f := range p.Fields {
		f.Items = append([]string(nil), f.Items...)
		c.Fields[i] = f
	}
	c.Rules = append([]Rule(nil), p.Rules...)
	return &c
}

// FieldName builds the expression name of the n-th (1-based) field of a kind
func FieldName(kind FieldKind, n int) string {
	if kind == FieldDropDown {
		return DropDownFieldPrefix + strconv.Itoa(n)
	}
	return FillInFieldPrefix + strconv.Itoa(n)
}

// AddField appends a field of the given kind, naming it after the number of
// existing fields of that kind.
func (s *Stage) AddField(kind FieldKind, items ...string) (FillInField, error) {
	if s.Kind != KindFillIn || s.FillIn == nil {
		return FillInField{}, fmt.Errorf("stage %d is %s: %w", s.ID, s.Kind, ErrKindMismatch)
	}
	n := 1
	for _, f := range s.FillIn.Fields {
		if f.Kind == kind {
			n++
		}
	}
	f := FillInField{
		Name:  FieldName(kind, n),
		Kind:  kind,
		Items: items,
		Order: len(s.FillIn.Fields),
	}
	s.FillIn.Fields = append(s.FillIn.Fields, f)
	return f, nil
}
