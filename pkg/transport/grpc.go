package transport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Service method names on the worker side
const (
	methodSubmit           = "/prism.v1.QueryDispatch/Submit"
	methodExplain          = "/prism.v1.QueryDispatch/Explain"
	methodCancel           = "/prism.v1.QueryDispatch/Cancel"
	methodTimeSeriesSubmit = "/prism.v1.TimeSeriesDispatch/Submit"
)

// grpcQueryClient implements QueryClient over one persistent connection
type grpcQueryClient struct {
	conn *grpc.ClientConn
}

// NewQueryClient dials the query endpoint of a server. The connection is
// persistent and safe for concurrent in-flight requests.
func NewQueryClient(host string, port int) (QueryClient, error) {
	conn, err := dial(host, port)
	if err != nil {
		return nil, err
	}
	return &grpcQueryClient{conn: conn}, nil
}

func (c *grpcQueryClient) Submit(ctx context.Context, req *QueryRequest, cb func(*QueryResponse, error)) {
	go func() {
		resp := &QueryResponse{}
		if err := c.invoke(ctx, methodSubmit, req, resp); err != nil {
			cb(nil, err)
			return
		}
		cb(resp, nil)
	}()
}

func (c *grpcQueryClient) Explain(ctx context.Context, req *QueryRequest, cb func([]*ExplainResponse, error)) {
	go func() {
		reply := &ExplainReply{}
		if err := c.invoke(ctx, methodExplain, req, reply); err != nil {
			cb(nil, err)
			return
		}
		cb(reply.Responses, nil)
	}()
}

func (c *grpcQueryClient) Cancel(ctx context.Context, requestID int64) error {
	return c.invoke(ctx, methodCancel, &CancelRequest{RequestID: requestID}, &CancelResponse{})
}

func (c *grpcQueryClient) Close() error {
	return c.conn.Close()
}

func (c *grpcQueryClient) invoke(ctx context.Context, method string, req, resp any) error {
	return c.conn.Invoke(ctx, method, req, resp, grpc.CallContentSubtype(CodecName))
}

// grpcTimeSeriesClient implements TimeSeriesClient over one persistent
// connection
type grpcTimeSeriesClient struct {
	conn *grpc.ClientConn
}

// NewTimeSeriesClient dials the time-series endpoint of a server
func NewTimeSeriesClient(host string, port int) (TimeSeriesClient, error) {
	conn, err := dial(host, port)
	if err != nil {
		return nil, err
	}
	return &grpcTimeSeriesClient{conn: conn}, nil
}

func (c *grpcTimeSeriesClient) Submit(ctx context.Context, req *TimeSeriesQueryRequest, cb func(*TimeSeriesResponse, error)) {
	go func() {
		resp := &TimeSeriesResponse{}
		err := c.conn.Invoke(ctx, methodTimeSeriesSubmit, req, resp, grpc.CallContentSubtype(CodecName))
		if err != nil {
			cb(nil, err)
			return
		}
		cb(resp, nil)
	}()
}

func (c *grpcTimeSeriesClient) Close() error {
	return c.conn.Close()
}

func dial(host string, port int) (*grpc.ClientConn, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial server %s: %w", addr, err)
	}
	return conn, nil
}
