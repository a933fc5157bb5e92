package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Sentinels matched by the typed scoring errors through errors.Is.
var (
	ErrUnknownActor         = errors.New("unknown actor")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrOutOfRange           = errors.New("value out of range")
)

// UnknownActorError reports an actor identifier with no rows in the dataset.
type UnknownActorError struct {
	ActorID string
}

func (e *UnknownActorError) Error() string {
	return fmt.Sprintf("actor %q not found", e.ActorID)
}

// Is matches ErrUnknownActor.
func (e *UnknownActorError) Is(target error) bool {
	return target == ErrUnknownActor
}

// MissingRequiredFieldError lists every scoring input that could not be resolved.
type MissingRequiredFieldError struct {
	Fields []string
}

func (e *MissingRequiredFieldError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// Is matches ErrMissingRequiredField.
func (e *MissingRequiredFieldError) Is(target error) bool {
	return target == ErrMissingRequiredField
}

// OutOfRangeError reports a value outside its declared domain.
type OutOfRangeError struct {
	Field string
	Value float64
	Min   float64
	Max   float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%s = %v is outside %s", e.Field, e.Value, e.ExpectedRange())
}

// ExpectedRange renders the closed interval the field must fall into.
func (e *OutOfRangeError) ExpectedRange() string {
	if math.IsInf(e.Max, 1) {
		return fmt.Sprintf("[%g, +inf)", e.Min)
	}
	return fmt.Sprintf("[%g, %g]", e.Min, e.Max)
}

// Is matches ErrOutOfRange.
func (e *OutOfRangeError) Is(target error) bool {
	return target == ErrOutOfRange
}
