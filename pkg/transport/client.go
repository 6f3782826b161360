package transport

import "context"

// QueryClient is the per-server control-plane client. Submit and Explain are
// asynchronous: the call returns once the RPC is in flight and the callback
// fires from an I/O goroutine with either a response or an error. Cancel is
// synchronous fire-and-forget.
type QueryClient interface {
	Submit(ctx context.Context, req *QueryRequest, cb func(*QueryResponse, error))
	Explain(ctx context.Context, req *QueryRequest, cb func([]*ExplainResponse, error))
	Cancel(ctx context.Context, requestID int64) error
	Close() error
}

// TimeSeriesClient is the per-server time-series client
type TimeSeriesClient interface {
	Submit(ctx context.Context, req *TimeSeriesQueryRequest, cb func(*TimeSeriesResponse, error))
	Close() error
}
