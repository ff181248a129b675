package fault

import (
	"errors"
	"fmt"
)

// ValidationError reports bad operator input. Surfaces as a 4xx on the HTTP
// API and never creates a run.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing schedule, message or token. Aborts the run
// and marks it failed.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func NotFound(kind, id string) error { return &NotFoundError{Kind: kind, ID: id} }

// DependencyError wraps a failure from an external collaborator (query
// engine, renderer, object store, messaging API).
type DependencyError struct {
	Dep string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Dep, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

func Dependency(dep string, err error) error {
	if err == nil {
		return nil
	}
	return &DependencyError{Dep: dep, Err: err}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Stringify renders any recovered value as an error summary. External errors
// do not always carry a message, so this never assumes one.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return "unknown error"
	case error:
		if s := x.Error(); s != "" {
			return s
		}
		return fmt.Sprintf("%T", x)
	case string:
		if x != "" {
			return x
		}
		return "unknown error"
	default:
		return fmt.Sprint(x)
	}
}
