package apierrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies errors returned by the gateway and the orchestration layers
type Kind string

const (
	KindBadRequest     Kind = "BadRequest"
	KindForbidden      Kind = "Forbidden"
	KindNotFound       Kind = "NotFound"
	KindConflict       Kind = "Conflict"
	KindResourceAction Kind = "ResourceActionError"
	KindStale          Kind = "ReplicationStale"
	KindTimeout        Kind = "Timeout"
	KindInternal       Kind = "Internal"
)

// Error is a classified error
type Error struct {
	Kind   Kind
	Msg    string
	Field  string
	RID    string
	Action string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindResourceAction && e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.RID, e.Action, e.Err)
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// BadRequest reports an invalid request parameter
func BadRequest(field, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	if field != "" {
		msg = fmt.Sprintf("%s: %s", field, msg)
	}
	return &Error{Kind: KindBadRequest, Field: field, Msg: msg}
}

// Forbidden reports a request denied by the access policy
func Forbidden(format string, args ...interface{}) *Error {
	return &Error{Kind: KindForbidden, Msg: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing object, route or resource
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Conflict reports a request incompatible with the current state
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Stale reports a decision deferred because replicated data is too old
func Stale(format string, args ...interface{}) *Error {
	return &Error{Kind: KindStale, Msg: fmt.Sprintf(format, args...)}
}

// Timeout reports an operation that exceeded its deadline
func Timeout(format string, args ...interface{}) *Error {
	return &Error{Kind: KindTimeout, Msg: fmt.Sprintf(format, args...)}
}

// ResourceAction wraps a driver error with the resource id and the action
func ResourceAction(rid, action string, err error) *Error {
	return &Error{Kind: KindResourceAction, RID: rid, Action: action, Err: err}
}

// Internal wraps an unexpected error
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Err: err}
}

// KindOf returns the kind of err. Context deadline errors classify as Timeout,
// unclassified errors as Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// Is reports whether err is classified as kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

var grpcCodes = map[Kind]codes.Code{
	KindBadRequest:     codes.InvalidArgument,
	KindForbidden:      codes.PermissionDenied,
	KindNotFound:       codes.NotFound,
	KindConflict:       codes.FailedPrecondition,
	KindResourceAction: codes.Aborted,
	KindStale:          codes.Unavailable,
	KindTimeout:        codes.DeadlineExceeded,
	KindInternal:       codes.Internal,
}

var httpStatuses = map[Kind]int{
	KindBadRequest:     http.StatusBadRequest,
	KindForbidden:      http.StatusForbidden,
	KindNotFound:       http.StatusNotFound,
	KindConflict:       http.StatusConflict,
	KindResourceAction: http.StatusInternalServerError,
	KindStale:          http.StatusServiceUnavailable,
	KindTimeout:        http.StatusGatewayTimeout,
	KindInternal:       http.StatusInternalServerError,
}

// HTTPStatus maps an error to the HTTP status code the gateway answers with
func HTTPStatus(err error) int {
	if code, ok := httpStatuses[KindOf(err)]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// KindFromHTTP is the inverse of HTTPStatus, used by HTTP clients
func KindFromHTTP(code int) Kind {
	switch code {
	case http.StatusBadRequest:
		return KindBadRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	case http.StatusServiceUnavailable:
		return KindStale
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return KindTimeout
	}
	return KindInternal
}

// ToGRPC converts err to a gRPC status error
func ToGRPC(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		var e *Error
		if !errors.As(err, &e) {
			return err
		}
	}
	return status.Error(grpcCodes[KindOf(err)], err.Error())
}

// FromGRPC converts a gRPC status error back into a classified error
func FromGRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return Internal(err)
	}
	for kind, code := range grpcCodes {
		if code == st.Code() {
			return &Error{Kind: kind, Msg: st.Message()}
		}
	}
	if st.Code() == codes.Unauthenticated {
		return &Error{Kind: KindForbidden, Msg: st.Message()}
	}
	return &Error{Kind: KindInternal, Msg: st.Message()}
}
