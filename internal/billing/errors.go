package billing

import "fmt"

// ValidationError reports a bad input rejected before any store interaction.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ReferenceError reports a catalog reference that no longer resolves.
type ReferenceError struct {
	Entity string
	ID     string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// PermissionError wraps a storage permission failure so callers can tell a
// credentials or access-rule problem apart from a generic storage fault.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied by the storage layer, check credentials and access rules: %v", e.Err)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}
