package tickwise

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

// gRPC names of the backtest service.
const (
	BacktestService = "tickwise.v1.Backtest"
	runMethod       = "/" + BacktestService + "/Run"
)

// GRPCClient calls the tickwise.v1.Backtest service.
type GRPCClient struct {
	conn *grpc.ClientConn
}

// DialGRPC connects to a tickwise gRPC endpoint without transport security.
// Extra options are appended.
func DialGRPC(target string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &GRPCClient{conn: conn}, nil
}

// Close closes the connection.
func (c *GRPCClient) Close() error { return c.conn.Close() }

// Healthy reports whether the backtest service is serving.
func (c *GRPCClient) Healthy(ctx context.Context) (bool, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: BacktestService})
	if err != nil {
		return false, err
	}
	return resp.Status == healthpb.HealthCheckResponse_SERVING, nil
}

// Run starts a backtest. Nil params run the server defaults.
func (c *GRPCClient) Run(ctx context.Context, params *Params) (*RunResponse, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if params != nil {
		var m map[string]any
		if err := roundTrip(params, &m); err != nil {
			return nil, err
		}
		s, err := structpb.NewStruct(m)
		if err != nil {
			return nil, err
		}
		req = s
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, runMethod, req, out); err != nil {
		return nil, err
	}
	var resp RunResponse
	if err := roundTrip(out.AsMap(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// roundTrip converts in to out through JSON.
func roundTrip(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
