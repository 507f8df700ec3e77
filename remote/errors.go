package remote

import (
	"fmt"
	"net/http"
)

// Error codes used by the document API.
const (
	CodeNotAllowed       = "not_allowed"
	CodeValidationFailed = "validation_failed"
	CodeNotFound         = "not_found"
	CodeUnauthorized     = "unauthorized"
	CodeTokenExpired     = "token_expired"
)

// APIError is a non-2xx response from the authority.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// TransportError is a request that never produced a response (network failure, timeout).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Transient() bool {
	return true
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
