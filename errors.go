// SPDX-License-Identifier: GPL-3.0-or-later

package gnomecups

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotInitialized is returned when submitting to an [*Engine]
	// whose reference count is zero.
	ErrNotInitialized = errors.New("gnomecups: engine not initialized")

	// ErrEngineClosed is delivered to records still queued when the
	// last [*Engine.Shutdown] runs.
	ErrEngineClosed = errors.New("gnomecups: engine shut down")

	// ErrMalformedRequest indicates a record carrying neither an IPP
	// payload nor an output sink.
	ErrMalformedRequest = errors.New("gnomecups: request lacks both an IPP payload and an output sink")

	// ErrShortResponse indicates a response shorter than the IPP header.
	ErrShortResponse = errors.New("gnomecups: short IPP response")

	// ErrNoResponse wraps round trip failures that happened before any
	// response arrived. The connection is unusable afterwards.
	ErrNoResponse = errors.New("gnomecups: no response from server")
)

// ConnectError reports that the connection to Server could not be opened.
//
// Only the record that triggered the open fails; the cached connection
// stays available and the next record tries to open it again.
type ConnectError struct {
	Server string
	Err    error
}

// Error implements error.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("gnomecups: cannot connect to %s: %v", e.Server, e.Err)
}

// Unwrap returns the underlying dial, resolve or handshake error.
func (e *ConnectError) Unwrap() error {
	return e.Err
}

// StatusError reports an IPP request that did not succeed.
//
// When the server answered, Status is the status it returned and Err is
// nil. When no status is available (transport failure or malformed
// record), Status is [StatusInternalError] and Err holds the cause.
type StatusError struct {
	Status Status
	Err    error
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gnomecups: %s: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("gnomecups: %s", e.Status)
}

// Unwrap returns the cause, if any.
func (e *StatusError) Unwrap() error {
	return e.Err
}

// HTTPStatusError reports an HTTP exchange that did not return 200 OK.
type HTTPStatusError struct {
	Code int
}

// Error implements error.
func (e *HTTPStatusError) Error() string {
	text := http.StatusText(e.Code)
	if text == "" {
		text = "Unknown"
	}
	return fmt.Sprintf("gnomecups: HTTP %d %s", e.Code, text)
}

// internalError wraps a cause that carries no IPP status.
func internalError(cause error) *StatusError {
	return &StatusError{Status: StatusInternalError, Err: cause}
}
