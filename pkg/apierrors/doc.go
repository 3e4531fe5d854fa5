// Package apierrors classifies the errors surfaced by the Hive gateway.
//
// Handlers and the orchestration layers return *Error values built with the
// constructors of this package. The gateway maps the Kind onto a gRPC code or
// an HTTP status, and the client maps it back, so callers on both sides of a
// connection can branch on KindOf or Is instead of matching strings.
package apierrors
