package rpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/HatiCode/junctioncast/pkg/congestion"
	"github.com/HatiCode/junctioncast/pkg/prediction"
)

// Client calls the Predictor service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Predict asks for the prediction at junction on date (YYYY-MM-DD) at clock (HH:MM).
func (c *Client) Predict(ctx context.Context, junction int, date, clock string, opts ...grpc.CallOption) (*prediction.Result, error) {
	req, err := structpb.NewStruct(map[string]any{
		"junction": junction,
		"date":     date,
		"time":     clock,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, predictMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return decodeResult(out)
}

// ListJunctions returns the junction ids known to the server.
func (c *Client) ListJunctions(ctx context.Context, opts ...grpc.CallOption) ([]int, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listJunctionsMethod, &structpb.Struct{}, out, opts...); err != nil {
		return nil, err
	}

	values := out.GetFields()["junctions"].GetListValue().GetValues()
	ids := make([]int, len(values))
	for i, v := range values {
		ids[i] = int(v.GetNumberValue())
	}
	return ids, nil
}

func decodeResult(s *structpb.Struct) (*prediction.Result, error) {
	f := s.GetFields()

	level, err := congestion.ParseLevel(f["level"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	at, err := time.Parse(time.RFC3339, f["at"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}

	feats := make(map[string]float64)
	for k, v := range f["features"].GetStructValue().GetFields() {
		feats[k] = v.GetNumberValue()
	}

	return &prediction.Result{
		Junction:      int(f["junction"].GetNumberValue()),
		At:            at,
		Vehicles:      int(f["vehicles"].GetNumberValue()),
		Level:         level,
		Banner:        f["banner"].GetStringValue(),
		Color:         f["color"].GetStringValue(),
		KnownJunction: f["known_junction"].GetBoolValue(),
		Features:      feats,
	}, nil
}
