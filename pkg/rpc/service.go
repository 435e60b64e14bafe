// Package rpc exposes the prediction service over gRPC.
//
// Messages are google.protobuf.Struct values, so the service needs no
// generated code. A Predict request carries "junction" (number), "date"
// (YYYY-MM-DD) and "time" (HH:MM); the reply mirrors the HTTP prediction
// body.
package rpc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/HatiCode/junctioncast/pkg/prediction"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "junctioncast.v1.Predictor"

const (
	predictMethod       = "/" + ServiceName + "/Predict"
	listJunctionsMethod = "/" + ServiceName + "/ListJunctions"
)

// PredictorServer is the server API for the Predictor service.
type PredictorServer interface {
	Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListJunctions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the Predictor service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PredictorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: unaryHandler(predictMethod, PredictorServer.Predict)},
		{MethodName: "ListJunctions", Handler: unaryHandler(listJunctionsMethod, PredictorServer.ListJunctions)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "junctioncast/v1/predictor.proto",
}

type unaryMethod func(PredictorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PredictorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(PredictorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Register attaches srv to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv PredictorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Server implements PredictorServer on top of a prediction.Service.
type Server struct {
	svc    *prediction.Service
	logger *slog.Logger
}

// NewServer creates a Predictor server.
func NewServer(svc *prediction.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, logger: logger}
}

// Predict answers a single prediction request.
func (s *Server) Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()

	junction, ok := fields["junction"].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "junction must be a number")
	}
	j := junction.NumberValue
	if j != float64(int(j)) {
		return nil, status.Errorf(codes.InvalidArgument, "junction %v is not an integer", j)
	}

	at, err := prediction.ParseDateTime(fields["date"].GetStringValue(), fields["time"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	result, err := s.svc.Predict(ctx, int(j), at)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		s.logger.Error("grpc predict failed", "junction", int(j), "error", err)
		return nil, status.Error(codes.Internal, "prediction failed")
	}

	return encodeResult(result)
}

// ListJunctions returns the junction ids seen during training.
func (s *Server) ListJunctions(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	ids := s.svc.Junctions()
	list := make([]any, len(ids))
	for i, id := range ids {
		list[i] = id
	}
	return structpb.NewStruct(map[string]any{"junctions": list})
}

func encodeResult(r prediction.Result) (*structpb.Struct, error) {
	feats := make(map[string]any, len(r.Features))
	for k, v := range r.Features {
		feats[k] = v
	}
	out, err := structpb.NewStruct(map[string]any{
		"junction":       r.Junction,
		"at":             r.At.Format(time.RFC3339),
		"vehicles":       r.Vehicles,
		"level":          r.Level.String(),
		"banner":         r.Banner,
		"color":          r.Color,
		"known_junction": r.KnownJunction,
		"features":       feats,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return out, nil
}

// UnaryLoggingInterceptor logs method, status code and duration of each call.
func UnaryLoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("gRPC request",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}
