package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/speedplan/internal/config"
	"github.com/banshee-data/speedplan/internal/db"
	pj "github.com/banshee-data/speedplan/internal/piecewisejerk"
	"github.com/banshee-data/speedplan/internal/planner"
	"github.com/banshee-data/speedplan/internal/qp"
)

func cruiseRequest() *planner.Request {
	return &planner.Request{
		Knots: 5,
		Delta: 0.5,
		Init:  [3]float64{0, 5, 0},
		Bounds: planner.Bounds{
			DX:  &planner.BoundSpec{Uniform: &[2]float64{0, 20}},
			DDX: &planner.BoundSpec{Uniform: &[2]float64{-4, 2}},
		},
	}
}

// startServer serves srv over an in-memory listener and returns a client.
func startServer(t *testing.T, srv PlannerServer) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	RegisterService(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn)
}

func TestSolve_RoundTrip(t *testing.T) {
	t.Parallel()

	database, err := db.OpenDB(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	store := db.NewRunStore(database)

	cfg := config.DefaultPlannerConfig()
	budget := "5s"
	cfg.TimeBudget = &budget
	client := startServer(t, NewServer(planner.NewService(cfg), store))
	resp, err := client.Solve(context.Background(), cruiseRequest())
	require.NoError(t, err)

	assert.Equal(t, "solved", resp.Stats.Status)
	assert.Equal(t, []float64{0, 0.5, 1, 1.5, 2}, resp.T)
	require.Len(t, resp.DX, 5)
	assert.InDelta(t, 5.0, resp.DX[4], 1e-3)

	runs, err := store.List(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "solved", runs[0].Status)
}

func TestSolve_InvalidArgument(t *testing.T) {
	t.Parallel()

	client := startServer(t, NewServer(planner.NewService(nil), nil))
	req := cruiseRequest()
	req.XReference = []float64{1, 2}

	_, err := client.Solve(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestSolve_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	srv := NewServer(planner.NewService(nil), nil)
	in, err := structpb.NewStruct(map[string]any{"knots": 5, "delta": 0.5, "speed": 3})
	require.NoError(t, err)

	_, err = srv.Solve(context.Background(), in)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestSolve_OptimizationFailedIsAborted(t *testing.T) {
	t.Parallel()

	solver := qp.SolverFunc(func(*qp.Problem, qp.Settings) (*qp.Result, error) {
		return &qp.Result{Status: qp.StatusMaxIterations, Iterations: 4000}, nil
	})
	svc := planner.NewService(nil, planner.WithSolver(solver))
	client := startServer(t, NewServer(svc, nil))

	_, err := client.Solve(context.Background(), cruiseRequest())
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Aborted, st.Code())
	assert.Contains(t, st.Message(), "status=max_iterations")
}

func TestStatusFromError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("%w: knots", pj.ErrInvalidArgument), codes.InvalidArgument},
		{&pj.OptimizationError{Status: qp.StatusInfeasible}, codes.Aborted},
		{fmt.Errorf("%w: no result after 50ms", planner.ErrBudgetExceeded), codes.DeadlineExceeded},
		{fmt.Errorf("%w: %w", planner.ErrBudgetExceeded, context.Canceled), codes.Canceled},
		{errors.New("disk on fire"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(statusFromError(tt.err)))
		})
	}
}

func TestRequestStructRoundTrip(t *testing.T) {
	t.Parallel()

	req := cruiseRequest()
	req.DDDXBound = &[2]float64{-1e30, 2}
	st, err := toStruct(req)
	require.NoError(t, err)

	got, err := requestFromStruct(st)
	require.NoError(t, err)
	assert.Equal(t, req, got)

	_, err = requestFromStruct(nil)
	assert.Error(t, err)
}
