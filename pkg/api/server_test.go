package api

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/cuemby/hive/pkg/apierrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func newGRPCFixture(t *testing.T) (*fixture, *bufconn.Listener) {
	t.Helper()
	f := newFixture(t)
	auth, err := NewAuthenticator(nil, "s3cret")
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(f.gw, auth)
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)
	return f, lis
}

func dialBufconn(t *testing.T, lis *bufconn.Listener, token string) *grpc.ClientConn {
	t.Helper()
	opts := []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(TokenCredentials(token)))
	}
	conn, err := grpc.NewClient("passthrough:///bufnet", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPCCall(t *testing.T) {
	_, lis := newGRPCFixture(t)
	conn := dialBufconn(t, lis, "s3cret")

	in, err := EncodeRequest(&Request{Method: "GET", Action: "nodes_info"})
	require.NoError(t, err)
	out := new(structpb.Struct)
	require.NoError(t, conn.Invoke(context.Background(), CallMethod, in, out))

	var nodes []NodeInfo
	require.NoError(t, DecodeResponse(out, &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "n1", nodes[0].Node)

	in, err = EncodeRequest(&Request{Method: "POST", Action: "ask_full", Params: map[string]interface{}{"peer": "n1"}})
	require.NoError(t, err)
	err = conn.Invoke(context.Background(), CallMethod, in, new(structpb.Struct))
	require.Error(t, err)
	assert.True(t, apierrors.Is(apierrors.FromGRPC(err), apierrors.KindConflict))
}

func TestGRPCAuthentication(t *testing.T) {
	_, lis := newGRPCFixture(t)

	in, err := EncodeRequest(&Request{Method: "GET", Action: "nodes_info"})
	require.NoError(t, err)
	for _, token := range []string{"", "wrong"} {
		conn := dialBufconn(t, lis, token)
		err = conn.Invoke(context.Background(), CallMethod, in, new(structpb.Struct))
		require.Error(t, err)
		assert.True(t, apierrors.Is(apierrors.FromGRPC(err), apierrors.KindForbidden), "token %q: %v", token, err)
	}
}

func TestGRPCStream(t *testing.T) {
	f, lis := newGRPCFixture(t)
	conn := dialBufconn(t, lis, "s3cret")
	_, _ = f.hub.Write([]byte(`{"message":"one"}`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := conn.NewStream(ctx, &StreamDesc, StreamMethod)
	require.NoError(t, err)

	in, err := EncodeRequest(&Request{Method: "GET", Action: "node_logs", Params: map[string]interface{}{"backlog": 1}})
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(in))
	require.NoError(t, stream.CloseSend())

	out := new(structpb.Struct)
	require.NoError(t, stream.RecvMsg(out))
	var entry map[string]interface{}
	require.NoError(t, DecodeResponse(out, &entry))
	assert.Equal(t, "one", entry["message"])

	cancel()
	for {
		if err := stream.RecvMsg(out); err != nil {
			assert.NotEqual(t, io.EOF, err)
			break
		}
	}
}

func TestGRPCStreamUnaryRoute(t *testing.T) {
	_, lis := newGRPCFixture(t)
	conn := dialBufconn(t, lis, "s3cret")

	stream, err := conn.NewStream(context.Background(), &StreamDesc, StreamMethod)
	require.NoError(t, err)
	in, err := EncodeRequest(&Request{Method: "GET", Action: "daemon_status"})
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(in))
	require.NoError(t, stream.CloseSend())

	out := new(structpb.Struct)
	require.NoError(t, stream.RecvMsg(out))
	var status DaemonStatus
	require.NoError(t, DecodeResponse(out, &status))
	assert.Equal(t, "n1", status.Node)
	assert.Equal(t, io.EOF, stream.RecvMsg(out))
}

func TestCodecRoundTrip(t *testing.T) {
	in, err := EncodeRequest(&Request{Action: "keywords", Params: map[string]interface{}{"kind": "cfg"}})
	require.NoError(t, err)
	req, err := DecodeRequest(in)
	require.NoError(t, err)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "cfg", req.Params["kind"])

	_, err = DecodeRequest(&structpb.Struct{})
	assert.Error(t, err)
}
