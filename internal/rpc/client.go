package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/speedplan/internal/planner"
)

// Client calls a remote speedplan.Planner.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Solve sends req and decodes the planned profile. Planner failures come
// back as gRPC status errors.
func (c *Client) Solve(ctx context.Context, req *planner.Request, opts ...grpc.CallOption) (*planner.Response, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, solveFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return responseFromStruct(out)
}
