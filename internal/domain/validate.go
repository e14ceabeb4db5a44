package domain

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is shared by every mutation helper; validator caches struct
// metadata so a single instance is reused.
var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateStage checks that the payload matches the kind and that all
// bounded values (weight, rule points, default results, test case points)
// are inside their permitted ranges.
func ValidateStage(s *Stage) error {
	if !s.Kind.Valid() {
		return fmt.Errorf("stage %d kind %q: %w", s.ID, s.Kind, ErrKindMismatch)
	}
	var ok bool
	switch s.Kind {
	case KindMC:
		ok = s.MC != nil && s.FillIn == nil && s.R == nil
	case KindFillIn:
		ok = s.FillIn != nil && s.MC == nil && s.R == nil
	case KindR:
		ok = s.R != nil && s.MC == nil && s.FillIn == nil
	}
	if !ok {
		return fmt.Errorf("stage %d payload does not match kind %s: %w", s.ID, s.Kind, ErrKindMismatch)
	}
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("stage %d: %w: %v", s.ID, ErrInvalidBounds, err)
	}
	return nil
}
