package order

import (
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/orderdesk/internal/lineitem"
)

var (
	// ErrValidationFailed marks rejected edits and blocked submissions.
	ErrValidationFailed = errors.New("validation failed")
	// ErrToggleInProgress is returned when a parent request is toggled while its fetch is outstanding.
	ErrToggleInProgress = errors.New("parent request toggle in progress")
	// ErrSelectionChanged is returned when a fetch completes after its parent was deselected.
	ErrSelectionChanged = errors.New("parent request selection changed during fetch")
	// ErrInvalidInput wraps malformed caller input.
	ErrInvalidInput = errors.New("invalid input")
)

// Field names used in FieldError.
const (
	FieldQuantity  = "quantity"
	FieldUnitPrice = "unit_price"
	FieldDiscount  = "discount"
	FieldItems     = "items"
)

// FieldError describes one offending value.
type FieldError struct {
	Kind   lineitem.Kind `json:"kind,omitempty"`
	Index  int           `json:"index,omitempty"`
	Field  string        `json:"field"`
	Value  string        `json:"value,omitempty"`
	Reason string        `json:"reason"`

	cause error
}

func newFieldError(kind lineitem.Kind, index int, field, value string, cause error) FieldError {
	return FieldError{Kind: kind, Index: index, Field: field, Value: value, Reason: cause.Error(), cause: cause}
}

func (e FieldError) String() string {
	if e.Index == 0 {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s #%d %s: %s", e.Kind, e.Index, e.Field, e.Reason)
}

// ValidationError aggregates every offending field into one error.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidationFailed.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	return ErrValidationFailed.Error() + ": " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidationFailed) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// Unwrap exposes the policy errors behind each field.
func (e *ValidationError) Unwrap() []error {
	var out []error
	for _, f := range e.Fields {
		if f.cause != nil {
			out = append(out, f.cause)
		}
	}
	return out
}

// reasonLabel maps a policy error to a metric label.
func reasonLabel(err error) string {
	switch {
	case errors.Is(err, lineitem.ErrNonPositiveQuantity):
		return "non_positive"
	case errors.Is(err, lineitem.ErrFractionalQuantity):
		return "fractional"
	case errors.Is(err, lineitem.ErrAboveCeiling):
		return "above_ceiling"
	case errors.Is(err, lineitem.ErrNegativeAmount):
		return "negative_amount"
	default:
		return "other"
	}
}
