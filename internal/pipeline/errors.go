package pipeline

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindForbidden
	KindRateLimited
	KindUpstreamUnreachable
	KindUpstreamError
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstreamUnreachable:
		return "upstream_unreachable"
	case KindUpstreamError:
		return "upstream_error"
	default:
		return "internal"
	}
}

// Status is the response code for the kind. UpstreamError has none of its
// own: the upstream response is passed through.
func (k Kind) Status() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamUnreachable, KindUpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error terminates the pipeline. Reason is a short machine tag used for
// metrics and audit; Message is what the caller sees.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func Unauthenticated(reason, message string, err error) *Error {
	return &Error{Kind: KindUnauthenticated, Reason: reason, Message: message, Err: err}
}

func Forbidden(reason, message string) *Error {
	return &Error{Kind: KindForbidden, Reason: reason, Message: message}
}

func RateLimited(message string) *Error {
	return &Error{Kind: KindRateLimited, Reason: "rate_limited", Message: message}
}

func UpstreamUnreachable(reason string, err error) *Error {
	return &Error{Kind: KindUpstreamUnreachable, Reason: reason, Message: "Bad Gateway", Err: err}
}

func Internal(reason string, err error) *Error {
	return &Error{Kind: KindInternal, Reason: reason, Message: "Internal Server Error", Err: err}
}

// Classify maps any error to a pipeline error; unknown errors are Internal.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return Internal("unexpected", fmt.Errorf("unclassified stage error: %w", err))
}
