package cognition

import (
	"errors"
	"strings"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("invalid cognition definition")

	// ErrNotFound indicates a definition id is not present in the catalog.
	ErrNotFound = errors.New("cognition definition not found")

	// ErrUnsupportedFormat indicates a definition file extension we cannot parse.
	ErrUnsupportedFormat = errors.New("unsupported definition format")
)

// ValidationError lists every problem found in a Definition.
type ValidationError struct {
	DefinitionID string
	Problems     []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(ErrValidation.Error())
	if e.DefinitionID != "" {
		b.WriteString(" ")
		b.WriteString(e.DefinitionID)
	}
	b.WriteString(": ")
	b.WriteString(strings.Join(e.Problems, "; "))
	return b.String()
}

// Is makes errors.Is(err, ErrValidation) true.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
