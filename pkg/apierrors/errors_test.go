package apierrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"nil", nil, ""},
		{"bad request", BadRequest("peer", "required"), KindBadRequest},
		{"wrapped conflict", fmt.Errorf("ask full: %w", Conflict("self")), KindConflict},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", fmt.Errorf("start: %w", context.DeadlineExceeded), KindTimeout},
		{"plain", errors.New("boom"), KindInternal},
		{"resource action", ResourceAction("app#1", "start", errors.New("exit 1")), KindResourceAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(tt.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "peer: required", BadRequest("peer", "required").Error())
	assert.Equal(t, "app#1 start: exit 1", ResourceAction("app#1", "start", errors.New("exit 1")).Error())

	cause := errors.New("disk full")
	err := ResourceAction("fs#1", "provision", cause)
	assert.ErrorIs(t, err, cause)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(BadRequest("x", "bad")))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(Forbidden("no")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(Conflict("no")))
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatus(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("x")))

	for kind, code := range httpStatuses {
		if kind == KindResourceAction {
			continue
		}
		assert.Equal(t, kind, KindFromHTTP(code), "round trip of %s", kind)
	}
}

func TestGRPCRoundTrip(t *testing.T) {
	kinds := []*Error{
		BadRequest("peer", "required"),
		Forbidden("denied"),
		NotFound("no such object"),
		Conflict("self"),
		ResourceAction("app#1", "start", errors.New("exit 1")),
		Stale("peer node2 is stale"),
		Timeout("too slow"),
		Internal(errors.New("oops")),
	}

	for _, in := range kinds {
		t.Run(string(in.Kind), func(t *testing.T) {
			wire := ToGRPC(in)
			st, ok := status.FromError(wire)
			require.True(t, ok)
			assert.Equal(t, grpcCodes[in.Kind], st.Code())

			out := FromGRPC(wire)
			assert.Equal(t, in.Kind, KindOf(out))
			assert.Equal(t, in.Error(), out.Error())
		})
	}
}

func TestFromGRPCUnauthenticated(t *testing.T) {
	err := FromGRPC(status.Error(codes.Unauthenticated, "bad token"))
	assert.True(t, Is(err, KindForbidden))
}

func TestToGRPCPassesStatusThrough(t *testing.T) {
	in := status.Error(codes.Unimplemented, "nope")
	assert.Equal(t, in, ToGRPC(in))
	assert.NoError(t, ToGRPC(nil))
}
