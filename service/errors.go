package service

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthentication means the credentials or the stored token were rejected.
	ErrAuthentication = errors.New("authentication failed")
	// ErrAuthorization means the caller lacks the role for the operation.
	ErrAuthorization = errors.New("not authorized")
	// ErrNotFound means the referenced document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNetwork covers transport failures and any other unexpected response.
	ErrNetwork = errors.New("api request failed")
)

// APIError describes a failed call to the document API.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Err.Error()
	if e.Message != "" {
		msg = e.Message
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %d %s", e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classify maps an HTTP status onto one of the sentinel errors.
func classify(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return ErrAuthentication
	case http.StatusForbidden:
		return ErrAuthorization
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return ErrNetwork
	}
}
