// Package httperr classifies errors from the pipeline's outbound HTTP
// collaborators (ObjectStore, RemoteASR, RemoteLLM) into the kinds the
// taskgraph retry policy understands.
package httperr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the classification the taskgraph retry policy acts on.
type Kind int

const (
	// KindPermanent fails the task immediately; retrying cannot help.
	KindPermanent Kind = iota
	// KindTransient is safe to retry with backoff (timeouts, 5xx, 429).
	KindTransient
	// KindNotFound means the referenced resource does not exist.
	KindNotFound
	// KindForbidden means a presigned URL expired or credentials were rejected.
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	default:
		return "permanent"
	}
}

// Error wraps a collaborator failure with its retry classification.
type Error struct {
	Provider   string
	StatusCode int
	Kind       Kind
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s error (HTTP %d, %s): %s", e.Provider, e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("error (HTTP %d, %s): %s", e.StatusCode, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, httperr.ErrTransient)-style classification checks.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// ErrTransient, ErrPermanent, ErrNotFound, ErrForbidden are sentinel markers
// usable with errors.Is against a classified *Error.
var (
	ErrTransient = &Error{Kind: KindTransient}
	ErrPermanent = &Error{Kind: KindPermanent}
	ErrNotFound  = &Error{Kind: KindNotFound}
	ErrForbidden = &Error{Kind: KindForbidden}
)

// IsTransient reports whether err should be retried by the taskgraph engine.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindTransient
	}
	return false
}

// ClassifyStatusCode maps an HTTP status code to a Kind using the
// conventions shared by ObjectStore, RemoteASR, and RemoteLLM: 5xx and
// 429 are transient, 404 is not-found, 401/403 is forbidden, all other
// 4xx are permanent.
func ClassifyStatusCode(statusCode int) Kind {
	switch {
	case statusCode == 404:
		return KindNotFound
	case statusCode == 401 || statusCode == 403:
		return KindForbidden
	case statusCode == 429 || statusCode >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

// FromHTTP builds a classified *Error from a provider name, status code,
// and response body. It tries to parse a {"message":"..."} JSON body
// (the shape every remote collaborator in this system returns) before
// falling back to the raw body text.
func FromHTTP(provider string, statusCode int, body []byte) error {
	kind := ClassifyStatusCode(statusCode)

	var parsed struct {
		Message string `json:"message"`
	}
	msg := string(body)
	if json.Unmarshal(body, &parsed) == nil && parsed.Message != "" {
		msg = parsed.Message
	}

	return &Error{
		Provider:   provider,
		StatusCode: statusCode,
		Kind:       kind,
		Message:    msg,
	}
}

// Wrap classifies a non-HTTP error (network timeout, connection refused)
// as transient, since those are always safe to retry.
func Wrap(provider string, cause error) error {
	return &Error{Provider: provider, Kind: KindTransient, Message: cause.Error(), Cause: cause}
}
