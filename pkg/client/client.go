package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cuemby/hive/pkg/api"
	"github.com/cuemby/hive/pkg/apierrors"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the gateway of one node
type Client struct {
	addr string
	conn *grpc.ClientConn
}

// New creates a client of the gateway listening on addr, authenticating
// with token. The connection is established lazily.
func New(addr, token string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(api.TokenCredentials(token)),
		grpc.WithUnaryInterceptor(grpc_middleware.ChainUnaryClient(
			grpc_prometheus.UnaryClientInterceptor,
		)),
		grpc.WithStreamInterceptor(grpc_middleware.ChainStreamClient(
			grpc_prometheus.StreamClientInterceptor,
		)),
	}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Client{addr: addr, conn: conn}, nil
}

// Addr returns the gateway address
func (c *Client) Addr() string {
	return c.addr
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call runs a unary action and decodes the result into out, following the
// encoding/json rules. A nil out discards the result.
func (c *Client) Call(ctx context.Context, method, action string, params map[string]interface{}, out interface{}) error {
	resp, err := c.invoke(ctx, &api.Request{Method: method, Action: action, Params: params})
	if err != nil {
		return err
	}
	if err := api.DecodeResponse(resp, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", action, err)
	}
	return nil
}

// Do runs a unary request and returns the result as generic JSON values
func (c *Client) Do(ctx context.Context, req *api.Request) (interface{}, error) {
	resp, err := c.invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.GetFields()["data"].AsInterface(), nil
}

func (c *Client) invoke(ctx context.Context, req *api.Request) (*structpb.Struct, error) {
	in, err := api.EncodeRequest(req)
	if err != nil {
		return nil, apierrors.BadRequest("params", "%v", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.CallMethod, in, out); err != nil {
		return nil, apierrors.FromGRPC(err)
	}
	return out, nil
}

// Stream runs a request on the streaming method and calls fn with every
// result, as generic JSON values, until the server ends the stream, ctx is
// done or fn fails.
func (c *Client) Stream(ctx context.Context, req *api.Request, fn func(v interface{}) error) error {
	in, err := api.EncodeRequest(req)
	if err != nil {
		return apierrors.BadRequest("params", "%v", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(ctx, &api.StreamDesc, api.StreamMethod)
	if err != nil {
		return apierrors.FromGRPC(err)
	}
	if err := stream.SendMsg(in); err != nil {
		return apierrors.FromGRPC(err)
	}
	if err := stream.CloseSend(); err != nil {
		return apierrors.FromGRPC(err)
	}

	for {
		out := new(structpb.Struct)
		err := stream.RecvMsg(out)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return apierrors.FromGRPC(err)
		}
		if err := fn(out.GetFields()["data"].AsInterface()); err != nil {
			return err
		}
	}
}
