package types

import (
	"errors"
	"fmt"
)

// Error categories surfaced by a run. None of them are recovered locally; callers
// classify failures with errors.Is.
var (
	ErrDataFormat      = errors.New("data format error")
	ErrTokenization    = errors.New("tokenization error")
	ErrTrainingFailure = errors.New("training failure")
	ErrPersistence     = errors.New("persistence error")
)

func DataFormatErrorf(format string, args ...any) error {
	return wrapf(ErrDataFormat, format, args...)
}

func TokenizationErrorf(format string, args ...any) error {
	return wrapf(ErrTokenization, format, args...)
}

func TrainingFailuref(format string, args ...any) error {
	return wrapf(ErrTrainingFailure, format, args...)
}

func PersistenceErrorf(format string, args ...any) error {
	return wrapf(ErrPersistence, format, args...)
}

type categorizedError struct {
	category error
	err      error
}

func (e *categorizedError) Error() string {
	return fmt.Sprintf("%v: %v", e.category, e.err)
}

func (e *categorizedError) Unwrap() []error {
	return []error{e.category, e.err}
}

// wrapf keeps both the category and any %w cause reachable through errors.Is/As.
func wrapf(category error, format string, args ...any) error {
	return &categorizedError{category: category, err: fmt.Errorf(format, args...)}
}
