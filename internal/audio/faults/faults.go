// Package faults defines the error taxonomy shared by the audio control
// plane and runtime: caller-input validation faults, missing-target faults,
// duplex policy rejections, and wrapped runtime/backend faults.
package faults

import (
	"errors"
	"fmt"
)

// ValidationError reports a caller-input fault: an unknown node kind, policy
// mode, stream state name, or a request missing required update fields.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown route/stream/control target.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

// NotFound builds a NotFoundError for the given entity and key.
func NotFound(entity, key string) error {
	return &NotFoundError{Entity: entity, Key: key}
}

// PolicyViolationError reports a duplex arbitration rejection. State is left
// unchanged when this is returned.
type PolicyViolationError struct {
	Msg string
}

func (e *PolicyViolationError) Error() string { return e.Msg }

// PolicyViolationf builds a PolicyViolationError from a format string.
func PolicyViolationf(format string, args ...any) error {
	return &PolicyViolationError{Msg: fmt.Sprintf(format, args...)}
}

// RuntimeError reports a hardware/backend acquisition or control failure
// while binding, pausing, or stopping a stream. It always carries the
// underlying cause when one exists.
type RuntimeError struct {
	Op  string
	Err error
}

func (e *RuntimeError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Runtime wraps err with an operation description.
func Runtime(op string, err error) error {
	return &RuntimeError{Op: op, Err: err}
}

// Runtimef builds a RuntimeError without an underlying cause.
func Runtimef(format string, args ...any) error {
	return &RuntimeError{Op: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsPolicyViolation reports whether err is (or wraps) a PolicyViolationError.
func IsPolicyViolation(err error) bool {
	var target *PolicyViolationError
	return errors.As(err, &target)
}

// IsRuntime reports whether err is (or wraps) a RuntimeError.
func IsRuntime(err error) bool {
	var target *RuntimeError
	return errors.As(err, &target)
}
