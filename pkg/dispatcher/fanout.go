package dispatcher

import (
	"context"
	"time"

	"github.com/prismdb/prism/pkg/metrics"
	"github.com/prismdb/prism/pkg/transport"
	"github.com/prismdb/prism/pkg/types"
)

// asyncResponse tags a server's callback outcome for the drain loop
type asyncResponse[R any] struct {
	server   types.ServerInstance
	response R
	err      error
}

// sender issues one asynchronous RPC against a server's client
type sender[R any] func(ctx context.Context, client transport.QueryClient, req *transport.QueryRequest, cb func(R, error))

// fanOut serializes the given remote stages, assembles one request per
// participating server, dispatches them all in parallel, and drains the
// responses serially in arrival order. The first observed error aborts the
// drain; in-flight callbacks land in the bounded channel and are discarded
// when the request context dies. Remote-side cleanup after a failure is the
// canceller's job, not fanOut's.
func fanOut[R any](
	ctx context.Context,
	requestID int64,
	stages []*types.StagePlan,
	deadline time.Time,
	queryOptions map[string]string,
	pool *transport.Pool[transport.QueryClient],
	serializer *serializerPool,
	send sender[R],
	consume func(types.ServerInstance, R) error,
) error {
	timer := metrics.NewTimer()
	servers := make(map[types.ServerInstance]struct{})
	serialized, err := serializer.serializeStages(requestID, stages, deadline, servers)
	timer.ObserveDuration(metrics.SerializationDuration)
	if err != nil {
		return err
	}
	metrics.ServersPerQuery.Observe(float64(len(servers)))

	metadata := buildRequestMetadata(requestID, deadline, queryOptions)

	sendCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	// Capacity matches the expected response count so producers never block
	responses := make(chan asyncResponse[R], len(servers))
	for server := range servers {
		req, err := assembleRequest(server, stages, serialized, metadata)
		if err != nil {
			return err
		}
		client, err := pool.Get(server.Host, server.Port)
		if err != nil {
			return &DispatchError{RequestID: requestID, Server: server.Key(), Err: err}
		}
		server := server
		send(sendCtx, client, req, func(resp R, err error) {
			responses <- asyncResponse[R]{server: server, response: resp, err: err}
		})
	}

	successes := 0
	for successes < len(servers) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &TimeoutError{RequestID: requestID, Phase: "dispatch"}
		}
		wait := time.NewTimer(remaining)
		select {
		case r := <-responses:
			wait.Stop()
			if r.err != nil {
				return &DispatchError{RequestID: requestID, Server: r.server.Key(), Err: r.err}
			}
			if err := consume(r.server, r.response); err != nil {
				return err
			}
			successes++
		case <-wait.C:
			return &TimeoutError{RequestID: requestID, Phase: "dispatch"}
		}
	}
	return nil
}
