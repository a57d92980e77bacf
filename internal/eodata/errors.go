package eodata

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrParameter is returned when a query parameter is missing or invalid. It is raised before any network call.
	ErrParameter = errors.New("invalid query parameter")
	// ErrAuthentication is returned when a provider rejects the credentials (HTTP 401). It is never retried.
	ErrAuthentication = errors.New("authentication failed")
	// ErrProvider is returned when a provider answers with an unexpected status.
	ErrProvider = errors.New("provider error")
	// ErrTransport is returned when a request failed at the I/O level or timed out.
	ErrTransport = errors.New("transport error")
	// ErrNotFound is returned when an expected resource is absent.
	ErrNotFound = errors.New("not found")
)

// ProviderError is returned when a provider answers with a status other than the expected one.
type ProviderError struct {
	Status int
	Reason string
}

func (e *ProviderError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = http.StatusText(e.Status)
	}
	return fmt.Sprintf("provider error: status %d: %s", e.Status, reason)
}

// Is matches ErrProvider, and ErrNotFound for a 404 status.
func (e *ProviderError) Is(target error) bool {
	if target == ErrProvider {
		return true
	}
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// TransportError wraps an I/O failure on a given request.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s %s: %v", e.Op, e.URL, e.Err)
}

// Is matches ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParameterErrorf returns an error matching ErrParameter with the formatted message.
func ParameterErrorf(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrParameter, fmt.Sprintf(format, a...))
}
