package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInput              = errors.New("no usable input supplied")
	ErrPermission         = errors.New("media device access denied")
	ErrTransport          = errors.New("transport failure")
	ErrRetryableService   = errors.New("service overloaded or rate limited")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrSchema             = errors.New("malformed model response")
	ErrCredential         = errors.New("missing or invalid credential")
	ErrDecode             = errors.New("malformed wire payload")
)

// ServiceUnavailableMessage is shown when retries are exhausted.
const ServiceUnavailableMessage = "通信限界だわ！あんたのプロジェクト、ちゃんと支払い設定してあるの？"

// ServiceUnavailableError is returned once every retry attempt failed with a transient error.
type ServiceUnavailableError struct {
	Attempts int
	Cause    error
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("%s (after %d attempts)", ServiceUnavailableMessage, e.Attempts)
}

// UserMessage is the text shown to the user, independent of the transport cause.
func (e *ServiceUnavailableError) UserMessage() string {
	return ServiceUnavailableMessage
}

func (e *ServiceUnavailableError) Unwrap() []error {
	return []error{ErrServiceUnavailable, e.Cause}
}

// SchemaError reports a response that does not match the analysis schema.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed model response: %s", e.Reason)
	}
	return fmt.Sprintf("malformed model response: %s: %s", e.Field, e.Reason)
}

func (e *SchemaError) Unwrap() error {
	return ErrSchema
}

// StatusError carries an HTTP-like status code from a provider.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}
