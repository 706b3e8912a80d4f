// Package rpc exposes the callables as the gRPC service salonbook.v1.Callables. Payloads
// and results travel as google.protobuf.Struct, mirroring the JSON bodies of the HTTP
// transport.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"salonbook.app/internal/auth"
	"salonbook.app/internal/callable"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "salonbook.v1.Callables"

// gRPC method names.
const (
	MethodValidateLogin             = "ValidateLogin"
	MethodCreateProfile             = "CreateProfile"
	MethodLinkProfessional          = "LinkProfessionalToBusiness"
	MethodCreateInitialUserDocument = "CreateInitialUserDocument"
)

// FullMethod returns the invocation path of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// CallablesServer is the server API of salonbook.v1.Callables.
type CallablesServer interface {
	ValidateLogin(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateProfile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LinkProfessionalToBusiness(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateInitialUserDocument(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// CallablesServiceDesc describes salonbook.v1.Callables for grpc.Server.RegisterService.
var CallablesServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CallablesServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodValidateLogin, CallablesServer.ValidateLogin),
		unary(MethodCreateProfile, CallablesServer.CreateProfile),
		unary(MethodLinkProfessional, CallablesServer.LinkProfessionalToBusiness),
		unary(MethodCreateInitialUserDocument, CallablesServer.CreateInitialUserDocument),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "salonbook/v1/callables.proto",
}

func unary(method string, call func(CallablesServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CallablesServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(CallablesServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Server adapts callable.Service to CallablesServer.
type Server struct {
	svc *callable.Service
}

var _ CallablesServer = (*Server)(nil)

// NewServer wraps svc.
func NewServer(svc *callable.Service) *Server {
	return &Server{svc: svc}
}

func (s *Server) ValidateLogin(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.invoke(ctx, callable.FuncValidateLogin, in)
}

func (s *Server) CreateProfile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.invoke(ctx, callable.FuncCreateProfile, in)
}

func (s *Server) LinkProfessionalToBusiness(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.invoke(ctx, callable.FuncLinkProfessional, in)
}

func (s *Server) CreateInitialUserDocument(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.invoke(ctx, callable.FuncCreateInitialUserDocument, in)
}

// invoke runs the callable. *callable.Error values carry their own gRPC status.
func (s *Server) invoke(ctx context.Context, name string, in *structpb.Struct) (*structpb.Struct, error) {
	data, err := protojson.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	result, err := s.svc.Call(ctx, name, data)
	if err != nil {
		return nil, err
	}
	return toStruct(result)
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return out, nil
}

// New builds a gRPC server exposing the callables and the standard health service. The
// returned health server starts in NOT_SERVING; MonitorReadiness flips it.
func New(svc *callable.Service, verifier auth.TokenVerifier, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(UnaryInterceptor(verifier))}, opts...)
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&CallablesServiceDesc, NewServer(svc))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}
