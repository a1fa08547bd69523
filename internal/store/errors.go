package store

import "fmt"

// ValidationError reports a request the store refuses to act on: an unknown
// permanence class, forget/confirm on an episode, malformed weights. It is
// surfaced to the caller and never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown entity id or kind.
type NotFoundError struct {
	Kind EntityKind
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("unknown entity kind %q", e.Kind)
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ConflictError reports a supersession race: two writers hit the live-fact
// uniqueness constraint for the same key and the internal retry also lost.
type ConflictError struct {
	Subject   string
	Predicate string
	Scope     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent write conflict on fact (%s, %s, %s)", e.Subject, e.Predicate, e.Scope)
}
