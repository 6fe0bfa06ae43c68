package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed backend call.
type Kind string

const (
	// KindTransport means the request never produced an HTTP response
	KindTransport Kind = "transport"
	// KindHTTPStatus means the backend answered with a non-2xx status
	KindHTTPStatus Kind = "http_status"
	// KindInvalidResponse means the body was not JSON, usually a login
	// page served after the backend session expired
	KindInvalidResponse Kind = "invalid_response"
	// KindDecode means the JSON body could not be decoded
	KindDecode Kind = "decode"
	// KindBusiness means the backend answered success:false
	KindBusiness Kind = "business"
	// KindUnavailable means the endpoint's circuit breaker is open
	KindUnavailable Kind = "unavailable"
)

// ErrUnknownEndpoint is returned for a route name missing from the table.
var ErrUnknownEndpoint = errors.New("unknown backend endpoint")

// Error is the tagged failure returned by every backend call.
type Error struct {
	Kind     Kind
	Endpoint string
	Status   int
	Message  string
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindHTTPStatus:
		return fmt.Sprintf("backend %s: HTTP %d", e.Endpoint, e.Status)
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("backend %s: %s: %s: %v", e.Endpoint, e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("backend %s: %s: %s", e.Endpoint, e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("backend %s: %s: %v", e.Endpoint, e.Kind, e.Err)
	default:
		return fmt.Sprintf("backend %s: %s", e.Endpoint, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage returns the text shown to the investigator.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindBusiness:
		if e.Message != "" {
			return e.Message
		}
		return "The request failed."
	case KindInvalidResponse:
		return "The server returned an unexpected response. Your session may have expired; please sign in again."
	case KindHTTPStatus:
		if e.Status == http.StatusForbidden {
			return "The request was rejected (HTTP 403). Your session may have expired; please sign in again."
		}
		return fmt.Sprintf("The server returned an error (HTTP %d).", e.Status)
	case KindUnavailable:
		return "The server is temporarily unavailable. Please try again shortly."
	case KindDecode:
		return "The server response could not be read."
	default:
		return "Could not reach the server."
	}
}

// IsKind reports whether err is a backend Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == kind
}

// UserMessage extracts a user-facing message from any error, falling back
// to def for errors that did not come from the backend.
func UserMessage(err error, def string) string {
	var be *Error
	if errors.As(err, &be) {
		return be.UserMessage()
	}
	return def
}

// countsAgainstBreaker reports whether a failure indicates an unhealthy
// endpoint. Business failures and expired sessions do not.
func countsAgainstBreaker(err error) bool {
	var be *Error
	if !errors.As(err, &be) {
		return true
	}
	switch be.Kind {
	case KindTransport:
		return true
	case KindHTTPStatus:
		return be.Status >= http.StatusInternalServerError
	default:
		return false
	}
}
