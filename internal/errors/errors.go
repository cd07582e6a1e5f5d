// Package errors wraps github.com/cockroachdb/errors and defines the failure
// classes the pipeline reports over HTTP.
//
// Errors are classified by marking them with one of the sentinels below:
//
//	return errors.Mark(errors.Wrap(err, "list schedules"), errors.ErrUpstream)
//
// and mapped to a status code at the edge with HTTPStatus.
package errors

import (
	"net/http"

	crdb "github.com/cockroachdb/errors"
)

var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
	FlattenHints       = crdb.FlattenHints
)

var (
	Is     = crdb.Is
	IsAny  = crdb.IsAny
	As     = crdb.As
	Mark   = crdb.Mark
	Unwrap = crdb.Unwrap
)

// Failure classes.
var (
	// ErrMisconfigured is a missing secret or token. Reported before any external call.
	ErrMisconfigured = New("misconfigured")

	// ErrInvalidRequest is a malformed or incomplete request.
	ErrInvalidRequest = New("invalid request")

	// ErrUnauthorized is a missing or bad webhook signature or admin token.
	ErrUnauthorized = New("unauthorized")

	// ErrUpstream is a failing CMS, queue or LLM call.
	ErrUpstream = New("upstream failure")

	// ErrNotFound is a missing CMS document or schedule.
	ErrNotFound = New("not found")
)

// Misconfigured returns an ErrMisconfigured-marked error.
func Misconfigured(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrMisconfigured)
}

// Invalid returns an ErrInvalidRequest-marked error.
func Invalid(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidRequest)
}

// Unauthorized returns an ErrUnauthorized-marked error.
func Unauthorized(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrUnauthorized)
}

// Upstream wraps err and marks it as ErrUpstream. A nil err stays nil.
func Upstream(err error, msg string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, msg), ErrUpstream)
}

// HTTPStatus maps a classified error to a response code. Unclassified errors
// are 500, and so is a not-found that an upstream call ran into.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case Is(err, ErrUpstream):
		return http.StatusInternalServerError
	case Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
