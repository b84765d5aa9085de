// Package apperr holds the error taxonomy shared by the reminder core and the
// HTTP surface.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports a malformed or incomplete request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError reports a referenced record that does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// UpstreamAuthError reports a missing or unrefreshable provider credential.
type UpstreamAuthError struct {
	Provider string
	Reason   string
}

func (e *UpstreamAuthError) Error() string {
	return fmt.Sprintf("%s auth: %s", e.Provider, e.Reason)
}

// DeliveryError reports a notification the provider rejected or timed out.
type DeliveryError struct {
	Provider string
	Detail   string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failed: %s", e.Provider, e.Detail)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// StoreError reports a failing data store call.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Validation is shorthand for a *ValidationError.
func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NotFound is shorthand for a *NotFoundError.
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// Store wraps err as a *StoreError unless it already carries a taxonomy type.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// HTTPStatus maps an error to the status code the HTTP surface responds with.
func HTTPStatus(err error) int {
	var (
		validation *ValidationError
		notFound   *NotFoundError
		upstream   *UpstreamAuthError
		delivery   *DeliveryError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &upstream), errors.As(err, &delivery):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
