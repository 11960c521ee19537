package errors

import (
	stderrors "errors"
	"fmt"
)

// PreconditionError is returned when the input of an operation is unusable:
// a missing or multi-row zone, missing columns, invalid dimensions or thresholds.
// Nothing is created when an operation fails with a PreconditionError.
type PreconditionError struct {
	// Subject is the table or parameter at fault.
	Subject string
	Message string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Subject, e.Message)
}

// Precondition creates a PreconditionError for subject.
func Precondition(subject string, format string, args ...any) error {
	return &PreconditionError{
		Subject: subject,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsPrecondition reports whether err, or an error it wraps, is a PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return stderrors.As(err, &pe)
}
