package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/hive/pkg/apierrors"
	"github.com/cuemby/hive/pkg/config"
	"github.com/cuemby/hive/pkg/security"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"github.com/grpc-ecosystem/go-grpc-middleware/util/metautils"
	"google.golang.org/grpc"
)

// PeerCaller is the name of the caller authenticated with the cluster secret
const PeerCaller = "node"

type user struct {
	token  string
	caller *Caller
}

// Authenticator maps bearer tokens to callers
type Authenticator struct {
	users  []user
	secret string
}

// NewAuthenticator builds an authenticator from the configured users. The
// cluster secret authenticates peers and local tooling as root.
func NewAuthenticator(users []config.User, secret string) (*Authenticator, error) {
	a := &Authenticator{secret: secret}
	for _, u := range users {
		grants, err := ParseGrants(u.Grants)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", u.Name, err)
		}
		a.users = append(a.users, user{token: u.Token, caller: &Caller{Name: u.Name, Grants: grants}})
	}
	return a, nil
}

// Authenticate returns the caller owning token
func (a *Authenticator) Authenticate(token string) (*Caller, error) {
	if token == "" {
		return nil, apierrors.Forbidden("missing bearer token")
	}
	if a.secret != "" && security.TokenEqual(token, a.secret) {
		return &Caller{
			Name:   PeerCaller,
			Grants: []Grant{{Role: RoleRoot}, {Role: RoleHeartbeat}},
		}, nil
	}
	for _, u := range a.users {
		if security.TokenEqual(token, u.token) {
			return u.caller, nil
		}
	}
	return nil, apierrors.Forbidden("invalid bearer token")
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" value
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type callerKey struct{}

// WithCaller returns a context carrying caller
func WithCaller(ctx context.Context, caller *Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller stored in ctx, nil when unauthenticated
func CallerFrom(ctx context.Context) *Caller {
	c, _ := ctx.Value(callerKey{}).(*Caller)
	return c
}

func (a *Authenticator) fromMetadata(ctx context.Context) (context.Context, error) {
	token := BearerToken(metautils.ExtractIncoming(ctx).Get("authorization"))
	caller, err := a.Authenticate(token)
	if err != nil {
		return nil, apierrors.ToGRPC(err)
	}
	return WithCaller(ctx, caller), nil
}

// UnaryServerInterceptor authenticates unary calls
func (a *Authenticator) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		newCtx, err := a.fromMetadata(ctx)
		if err != nil {
			return nil, err
		}
		return handler(newCtx, req)
	}
}

// StreamServerInterceptor authenticates streaming calls
func (a *Authenticator) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		newCtx, err := a.fromMetadata(stream.Context())
		if err != nil {
			return err
		}
		wrapped := grpc_middleware.WrapServerStream(stream)
		wrapped.WrappedContext = newCtx
		return handler(srv, wrapped)
	}
}

// TokenCredentials attaches a bearer token to every client call
type TokenCredentials string

// GetRequestMetadata implements credentials.PerRPCCredentials
func (t TokenCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + string(t)}, nil
}

// RequireTransportSecurity implements credentials.PerRPCCredentials. The
// gateway runs on plaintext connections inside the cluster network.
func (t TokenCredentials) RequireTransportSecurity() bool {
	return false
}
