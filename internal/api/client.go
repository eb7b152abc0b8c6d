package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"openalpha/internal/report"
)

// Client calls a remote backtest service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for the server at addr. Extra options are appended
// after the insecure transport credentials.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// RunBacktest runs one backtest remotely.
func (c *Client) RunBacktest(ctx context.Context, req report.BacktestRequest) (*report.BacktestView, error) {
	var out report.BacktestView
	if err := c.call(ctx, MethodRunBacktest, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Compare runs several strategies remotely over one history.
func (c *Client) Compare(ctx context.Context, req report.CompareRequest) (*report.CompareView, error) {
	var out report.CompareView
	if err := c.call(ctx, MethodCompare, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListStrategies lists the strategies the server can run.
func (c *Client) ListStrategies(ctx context.Context) (*report.StrategiesView, error) {
	var out report.StrategiesView
	if err := c.call(ctx, MethodListStrategies, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRun fetches a recorded run.
func (c *Client) GetRun(ctx context.Context, id string) (*report.RunView, error) {
	var out report.RunView
	if err := c.call(ctx, MethodGetRun, map[string]string{"id": id}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Healthy reports whether the backtest service is serving.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

func (c *Client) call(ctx context.Context, method string, req, out any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, resp); err != nil {
		return err
	}
	return decodeStruct(resp, out)
}
