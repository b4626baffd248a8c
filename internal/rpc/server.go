// Package rpc exposes the planner over gRPC. Messages are
// google.protobuf.Struct values carrying the same JSON documents as the
// HTTP API, so no generated code is needed.
package rpc

import (
	"context"
	"errors"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/speedplan/internal/db"
	pj "github.com/banshee-data/speedplan/internal/piecewisejerk"
	"github.com/banshee-data/speedplan/internal/planner"
)

const (
	ServiceName     = "speedplan.Planner"
	solveMethod     = "Solve"
	solveFullMethod = "/" + ServiceName + "/" + solveMethod
)

// PlannerServer is the server API for speedplan.Planner.
type PlannerServer interface {
	Solve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var _ PlannerServer = (*Server)(nil)

// Server implements PlannerServer on top of a planner.Service.
type Server struct {
	svc   *planner.Service
	store *db.RunStore
}

// NewServer returns a Server. store may be nil, in which case runs are not
// recorded.
func NewServer(svc *planner.Service, store *db.RunStore) *Server {
	return &Server{svc: svc, store: store}
}

// Solve decodes the request struct, plans it and returns the response
// struct.
func (s *Server) Solve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := requestFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	resp, solveErr := s.svc.Solve(ctx, req)
	if s.store != nil {
		if _, err := s.store.Record(req, resp, solveErr); err != nil {
			log.Printf("[gRPC] failed to record run: %v", err)
		}
	}
	if solveErr != nil {
		return nil, statusFromError(solveErr)
	}

	out, err := responseToStruct(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// statusFromError maps planner errors to gRPC status codes.
func statusFromError(err error) error {
	var oe *pj.OptimizationError
	switch {
	case errors.Is(err, pj.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &oe):
		return status.Errorf(codes.Aborted, "optimization failed: status=%s iterations=%d", oe.Status, oe.Iterations)
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, planner.ErrBudgetExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// RegisterService registers srv on s.
func RegisterService(s grpc.ServiceRegistrar, srv PlannerServer) {
	s.RegisterService(&plannerServiceDesc, srv)
}

func solveHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PlannerServer).Solve(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: solveFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PlannerServer).Solve(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var plannerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PlannerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: solveMethod, Handler: solveHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "speedplan/planner.proto",
}
