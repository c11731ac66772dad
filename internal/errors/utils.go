package errors

import (
	"errors"
)

// Wrap wraps an error with additional context, creating a PagegraphError if
// the input is not already one.
func Wrap(err error, errType ErrorType, code, message string) *PagegraphError {
	if err == nil {
		return nil
	}

	var pe *PagegraphError
	if errors.As(err, &pe) {
		return &PagegraphError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       pe,
			Context:     pe.Context,
			Module:      pe.Module,
			Recoverable: pe.Recoverable,
		}
	}

	return &PagegraphError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeValidation || errType == ErrorTypeBuild,
	}
}

// Flatten expands errors produced by errors.Join into their leaves, dropping nils.
func Flatten(err error) []error {
	if err == nil {
		return nil
	}

	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, Flatten(e)...)
		}
		return out
	}

	return []error{err}
}

// FirstError returns the first non-nil error from a list
func FirstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
