package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	CodeDependencyUnavailable ErrorCode = "DEPENDENCY_UNAVAILABLE"
	CodeInternal              ErrorCode = "INTERNAL"
	CodeInvalidInput          ErrorCode = "INVALID_INPUT"
	CodeNotFound              ErrorCode = "NOT_FOUND"
	CodeMethodNotAllowed      ErrorCode = "METHOD_NOT_ALLOWED"
)

// ErrDependencyUnavailable marks a backing store that is down, unreachable or not configured.
var ErrDependencyUnavailable = errors.New("dependency unavailable")

// APIError carries a code alongside the client-facing message.
type APIError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

func newAPIError(code ErrorCode, message string, err error) *APIError {
	return &APIError{Code: code, Message: message, Err: err}
}

// Classify maps an error to its code. Timeouts and connection failures are
// dependency errors, everything unrecognised is internal.
func Classify(err error) ErrorCode {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var netErr net.Error
	switch {
	case errors.Is(err, ErrDependencyUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, redis.ErrClosed),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.As(err, &netErr):
		return CodeDependencyUnavailable
	}
	return CodeInternal
}

// StatusFor maps a code to its HTTP status.
func StatusFor(code ErrorCode) int {
	switch code {
	case CodeDependencyUnavailable:
		return http.StatusServiceUnavailable
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Error   ErrorCode `json:"error"`
}

// writeError logs err and writes the standard failure body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, message string, err error) {
	code := Classify(err)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		message = apiErr.Message
	}
	entry := s.log.WithError(err).WithFields(logrus.Fields{
		"path": r.URL.Path,
		"code": code,
	})
	if code == CodeInvalidInput || code == CodeNotFound || code == CodeMethodNotAllowed {
		entry.Debug(message)
	} else {
		entry.Error(message)
	}
	writeJSON(w, StatusFor(code), errorBody{Success: false, Message: message, Error: code})
}
