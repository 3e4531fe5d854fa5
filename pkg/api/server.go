package api

import (
	"context"
	"fmt"
	"net"

	"github.com/cuemby/hive/pkg/apierrors"
	"github.com/cuemby/hive/pkg/log"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// gRPC service and method names. Requests and responses are
// google.protobuf.Struct messages, see EncodeRequest and EncodeResponse.
const (
	ServiceName  = "hive.v1.Gateway"
	CallMethod   = "/hive.v1.Gateway/Call"
	StreamMethod = "/hive.v1.Gateway/Stream"
)

// GatewayServer is the server API of the Gateway gRPC service
type GatewayServer interface {
	Call(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Stream(in *structpb.Struct, stream grpc.ServerStream) error
}

// StreamDesc describes the server streaming method to clients
var StreamDesc = grpc.StreamDesc{
	StreamName:    "Stream",
	ServerStreams: true,
}

// ServiceDesc is the grpc.ServiceDesc of the Gateway service
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Call",
			Handler:    gatewayCallHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    StreamDesc.StreamName,
			Handler:       gatewayStreamHandler,
			ServerStreams: true,
		},
	},
	Metadata: "hive/v1/gateway.proto",
}

func gatewayCallHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GatewayServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: CallMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GatewayServer).Call(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func gatewayStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(GatewayServer).Stream(in, stream)
}

// Server exposes a Gateway over gRPC
type Server struct {
	gateway *Gateway
	grpc    *grpc.Server
	logger  zerolog.Logger
}

// NewServer creates a gRPC server authenticating callers with auth
func NewServer(gateway *Gateway, auth *Authenticator, opts ...grpc.ServerOption) *Server {
	opts = append(opts, grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
		auth.UnaryServerInterceptor(),
		grpc_prometheus.UnaryServerInterceptor,
	)))
	opts = append(opts, grpc.StreamInterceptor(grpc_middleware.ChainStreamServer(
		auth.StreamServerInterceptor(),
		grpc_prometheus.StreamServerInterceptor,
	)))

	s := &Server{
		gateway: gateway,
		grpc:    grpc.NewServer(opts...),
		logger:  log.WithComponent("grpc"),
	}
	s.grpc.RegisterService(&ServiceDesc, s)
	grpc_prometheus.Register(s.grpc)
	return s
}

// Start listens on addr and serves until Stop
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC gateway listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

// Call implements GatewayServer
func (s *Server) Call(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := DecodeRequest(in)
	if err != nil {
		return nil, apierrors.ToGRPC(apierrors.BadRequest("", "%v", err))
	}
	result, err := s.gateway.Call(ctx, CallerFrom(ctx), req)
	if err != nil {
		return nil, apierrors.ToGRPC(err)
	}
	out, err := EncodeResponse(result)
	if err != nil {
		return nil, apierrors.ToGRPC(apierrors.Internal(err))
	}
	return out, nil
}

// Stream implements GatewayServer
func (s *Server) Stream(in *structpb.Struct, stream grpc.ServerStream) error {
	req, err := DecodeRequest(in)
	if err != nil {
		return apierrors.ToGRPC(apierrors.BadRequest("", "%v", err))
	}
	ctx := stream.Context()
	err = s.gateway.Stream(ctx, CallerFrom(ctx), req, grpcSink{stream: stream})
	if err != nil && ctx.Err() != nil {
		// client went away
		return nil
	}
	return apierrors.ToGRPC(err)
}

type grpcSink struct {
	stream grpc.ServerStream
}

func (g grpcSink) Send(v interface{}) error {
	out, err := EncodeResponse(v)
	if err != nil {
		return err
	}
	return g.stream.SendMsg(out)
}
