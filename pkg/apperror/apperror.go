package apperror

import "fmt"

// NotFoundError signals that a referenced entity does not exist. Handlers map
// it to 404; message adapters treat it as non-retryable and dead-letter.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewNotFound builds a NotFoundError for the given resource kind and id.
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// InvalidInputError signals a violated precondition. It carries the
// summary/message pair surfaced to API callers and is never retried.
type InvalidInputError struct {
	Summary string
	Message string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Summary, e.Message)
}

// NewInvalidInput builds an InvalidInputError with a summary and message.
func NewInvalidInput(summary, message string) *InvalidInputError {
	return &InvalidInputError{Summary: summary, Message: message}
}

// AuthMethodError signals that an operation requiring an interactive human
// user received a non-interactive service credential.
type AuthMethodError struct {
	Operation string
}

func (e *AuthMethodError) Error() string {
	return fmt.Sprintf("%s requires an interactive user login", e.Operation)
}

// NewAuthMethodMismatch builds an AuthMethodError for the given operation.
func NewAuthMethodMismatch(operation string) *AuthMethodError {
	return &AuthMethodError{Operation: operation}
}
