package checkout

import (
	"errors"
	"fmt"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/models"
)

var (
	ErrSessionNotFound   = models.ErrSessionNotFound
	ErrForbidden         = errors.New("checkout session belongs to another parent")
	ErrInvalidTransition = errors.New("action not allowed at this checkout step")

	// errSuperseded marks the result of a request that a newer request replaced.
	errSuperseded = errors.New("superseded by a newer request")
)

// ValidationError is a user-correctable problem with the requested action.
// Nothing is persisted when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// StepError is a collaborator failure surfaced inline at the step where it
// happened. The session, with the message recorded on it, is persisted.
type StepError struct {
	Op      string
	Message string
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// RedirectError tells the caller to navigate away instead of checking out.
type RedirectError struct {
	Location string
	Reason   string
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("redirect to %s: %s", e.Location, e.Reason)
}

func invalidTransition(step models.Step, action string) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, action, step)
}
