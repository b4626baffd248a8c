package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/speedplan/internal/planner"
)

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

func requestFromStruct(in *structpb.Struct) (*planner.Request, error) {
	if in == nil {
		return nil, fmt.Errorf("empty request")
	}
	b, err := protojson.Marshal(in)
	if err != nil {
		return nil, err
	}
	return planner.DecodeRequest(bytes.NewReader(b))
}

func responseToStruct(resp *planner.Response) (*structpb.Struct, error) {
	return toStruct(resp)
}

func responseFromStruct(in *structpb.Struct) (*planner.Response, error) {
	b, err := protojson.Marshal(in)
	if err != nil {
		return nil, err
	}
	var resp planner.Response
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}
