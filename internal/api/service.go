// Package api serves the backtester over gRPC. Messages are
// google.protobuf.Struct values carrying the same JSON shapes as the HTTP
// API, so no generated stubs are needed.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"openalpha/internal/engine"
	"openalpha/internal/report"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "openalpha.v1.BacktestService"

// Full method names.
const (
	MethodRunBacktest    = "/" + ServiceName + "/RunBacktest"
	MethodCompare        = "/" + ServiceName + "/Compare"
	MethodListStrategies = "/" + ServiceName + "/ListStrategies"
	MethodGetRun         = "/" + ServiceName + "/GetRun"
)

// BacktestServer is the server API for the backtest service.
type BacktestServer interface {
	RunBacktest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Compare(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListStrategies(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(BacktestServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryMethod) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BacktestServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BacktestServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the backtest service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BacktestServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("RunBacktest", BacktestServer.RunBacktest),
		unary("Compare", BacktestServer.Compare),
		unary("ListStrategies", BacktestServer.ListStrategies),
		unary("GetRun", BacktestServer.GetRun),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "openalpha/v1/backtest.proto",
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// Service implements BacktestServer on top of an Engine.
type Service struct {
	engine *engine.Engine
	log    *slog.Logger
}

var _ BacktestServer = (*Service)(nil)

// NewService creates a Service backed by e.
func NewService(e *engine.Engine, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{engine: e, log: log.With("component", "grpc")}
}

// RegisterGRPC registers the service on the given gRPC server instance.
func (s *Service) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&ServiceDesc, s)
}

// RunBacktest runs one backtest. The request has the shape of
// report.BacktestRequest and the response that of report.BacktestView.
func (s *Service) RunBacktest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body report.BacktestRequest
	if err := fromStruct(in, &body); err != nil {
		return nil, err
	}
	req, err := body.EngineRequest()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out, err := s.engine.Run(ctx, req)
	if err != nil {
		return nil, s.statusError(MethodRunBacktest, err)
	}
	return toStruct(report.NewBacktestViewFromOutcome(out))
}

// Compare runs several strategies over one history.
func (s *Service) Compare(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body report.CompareRequest
	if err := fromStruct(in, &body); err != nil {
		return nil, err
	}
	req, err := body.EngineRequest()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	outs, err := s.engine.Compare(ctx, req, body.Strategies)
	if err != nil {
		return nil, s.statusError(MethodCompare, err)
	}
	return toStruct(report.NewCompareView(outs))
}

// ListStrategies ignores its request and lists the registered strategies.
func (s *Service) ListStrategies(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(report.NewStrategiesView(s.engine.Strategies()))
}

// GetRun returns a recorded run. The request carries {"id": "..."}.
func (s *Service) GetRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := in.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	run, equity, err := s.engine.GetRun(ctx, id)
	if err != nil {
		return nil, s.statusError(MethodGetRun, err)
	}
	return toStruct(report.NewRunView(run, equity))
}

// Code maps an engine error to a gRPC status code.
func Code(err error) codes.Code {
	switch engine.ErrorKind(err) {
	case engine.KindInvalid:
		return codes.InvalidArgument
	case engine.KindNotFound:
		return codes.NotFound
	case engine.KindUpstream:
		return codes.Unavailable
	case engine.KindCanceled:
		if errors.Is(err, context.Canceled) {
			return codes.Canceled
		}
		return codes.DeadlineExceeded
	case engine.KindUnavailable:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

func (s *Service) statusError(method string, err error) error {
	code := Code(err)
	if code == codes.Internal {
		s.log.Error("rpc failed", "method", method, "error", err)
	}
	return status.Error(code, err.Error())
}

// ---------------------------------------------------------------------------
// Struct conversion
// ---------------------------------------------------------------------------

func fromStruct(in *structpb.Struct, v any) error {
	raw, err := in.MarshalJSON()
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "encoding request: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decoding request: %v", err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	out := new(structpb.Struct)
	if err := out.UnmarshalJSON(raw); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}

// decodeStruct converts a response Struct into v.
func decodeStruct(in *structpb.Struct, v any) error {
	raw, err := in.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	return json.Unmarshal(raw, v)
}
