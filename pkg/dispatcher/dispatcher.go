package dispatcher

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/prismdb/prism/pkg/events"
	"github.com/prismdb/prism/pkg/journal"
	"github.com/prismdb/prism/pkg/log"
	"github.com/prismdb/prism/pkg/mailbox"
	"github.com/prismdb/prism/pkg/metrics"
	"github.com/prismdb/prism/pkg/plannode"
	"github.com/prismdb/prism/pkg/transport"
	"github.com/prismdb/prism/pkg/types"
	"github.com/rs/zerolog"
)

// Config holds construction options for a Dispatcher. Every field is
// optional; zero values select the production defaults.
type Config struct {
	// QueryClientFactory builds control-plane clients; defaults to the
	// gRPC implementation
	QueryClientFactory transport.Factory[transport.QueryClient]

	// TimeSeriesClientFactory builds time-series clients; defaults to the
	// gRPC implementation
	TimeSeriesClientFactory transport.Factory[transport.TimeSeriesClient]

	// Mailboxes is the broker-local mailbox service; defaults to a fresh
	// service owned by the dispatcher
	Mailboxes *mailbox.Service

	// Events receives query lifecycle events; nil disables publishing
	Events *events.Broker

	// Journal records finished requests; nil disables journaling
	Journal *journal.Journal
}

// Dispatcher is the broker-side query dispatcher: it fans stage plans out
// to the worker servers, runs the local reduce stage, and cancels workers
// on failure. One instance lives for the broker's lifetime.
type Dispatcher struct {
	queryClients      *transport.Pool[transport.QueryClient]
	timeSeriesClients *transport.Pool[transport.TimeSeriesClient]
	serializer        *serializerPool
	mailboxes         *mailbox.Service
	events            *events.Broker
	journal           *journal.Journal
	logger            zerolog.Logger
}

// New creates a dispatcher
func New(cfg Config) *Dispatcher {
	queryFactory := cfg.QueryClientFactory
	if queryFactory == nil {
		queryFactory = transport.NewQueryClient
	}
	tsFactory := cfg.TimeSeriesClientFactory
	if tsFactory == nil {
		tsFactory = transport.NewTimeSeriesClient
	}
	mailboxes := cfg.Mailboxes
	if mailboxes == nil {
		mailboxes = mailbox.NewService()
	}
	return &Dispatcher{
		queryClients:      transport.NewPool(queryFactory),
		timeSeriesClients: transport.NewPool(tsFactory),
		serializer:        newSerializerPool(2 * runtime.NumCPU()),
		mailboxes:         mailboxes,
		events:            cfg.Events,
		journal:           cfg.Journal,
		logger:            log.WithComponent("dispatcher"),
	}
}

// SubmitAndReduce dispatches stages 1..N of the sub-plan to their servers,
// runs the stage-0 reducer locally, and returns the assembled result. On
// any failure every participating server is told to cancel and the error is
// returned; partial results are never returned.
func (d *Dispatcher) SubmitAndReduce(
	ctx context.Context,
	requestID int64,
	plan *types.DispatchableSubPlan,
	timeout time.Duration,
	queryOptions map[string]string,
) (*types.QueryResult, error) {
	if len(plan.Stages) == 0 {
		return nil, invariantf("sub-plan has no stages")
	}
	deadline := time.Now().Add(timeout)
	traceID := uuid.NewString()
	timer := metrics.NewTimer()

	d.publish(events.NewSubmitted(requestID, events.Submitted{
		TraceID:    traceID,
		NumStages:  len(plan.Stages),
		NumServers: len(plan.RemoteServers()),
	}))

	result, err := d.submitAndReduce(ctx, requestID, plan, deadline, queryOptions, traceID)
	if err != nil {
		d.logger.Error().Err(err).Int64("request_id", requestID).Msg("query failed")
		d.cancelQuery(requestID, plan.RemoteServers())
		d.finish(requestID, plan, timer, nil, err)
		return nil, err
	}
	d.finish(requestID, plan, timer, result, nil)
	return result, nil
}

func (d *Dispatcher) submitAndReduce(
	ctx context.Context,
	requestID int64,
	plan *types.DispatchableSubPlan,
	deadline time.Time,
	queryOptions map[string]string,
	traceID string,
) (*types.QueryResult, error) {
	dispatchTimer := metrics.NewTimer()
	err := fanOut(ctx, requestID, plan.Stages[1:], deadline, queryOptions, d.queryClients, d.serializer,
		func(ctx context.Context, client transport.QueryClient, req *transport.QueryRequest, cb func(*transport.QueryResponse, error)) {
			client.Submit(ctx, req, cb)
		},
		func(server types.ServerInstance, resp *transport.QueryResponse) error {
			if msg, ok := resp.Metadata[transport.MetadataKeyStatusError]; ok {
				return &DispatchError{RequestID: requestID, Server: server.Key(), Err: errors.New(msg)}
			}
			return nil
		},
	)
	dispatchTimer.ObserveDuration(metrics.DispatchDuration)
	if err != nil {
		return nil, err
	}
	return d.runReducer(requestID, plan, deadline, queryOptions, traceID)
}

// ExplainedFragment is one decoded plan fragment returned by a server on
// the explain path
type ExplainedFragment struct {
	Server types.ServerInstance
	Root   *plannode.Node
}

// Explain dispatches a single stage plan with the explain operation and
// decodes every returned fragment root. A server-error metadata entry on
// any response is fatal.
func (d *Dispatcher) Explain(
	ctx context.Context,
	requestID int64,
	stage *types.StagePlan,
	timeout time.Duration,
	queryOptions map[string]string,
) ([]ExplainedFragment, error) {
	deadline := time.Now().Add(timeout)
	stages := []*types.StagePlan{stage}

	var fragments []ExplainedFragment
	err := fanOut(ctx, requestID, stages, deadline, queryOptions, d.queryClients, d.serializer,
		func(ctx context.Context, client transport.QueryClient, req *transport.QueryRequest, cb func([]*transport.ExplainResponse, error)) {
			client.Explain(ctx, req, cb)
		},
		func(server types.ServerInstance, resps []*transport.ExplainResponse) error {
			for _, resp := range resps {
				if msg, ok := resp.Metadata[transport.MetadataKeyStatusError]; ok {
					return &ExplainError{RequestID: requestID, Server: server.Key(), Message: msg}
				}
				for _, sp := range resp.StagePlans {
					root, err := plannode.Decode(sp.RootNode)
					if err != nil {
						return &DispatchError{RequestID: requestID, Server: server.Key(), Err: err}
					}
					fragments = append(fragments, ExplainedFragment{Server: server, Root: root})
				}
			}
			return nil
		},
	)
	if err != nil {
		servers := make(map[types.ServerInstance]struct{})
		for server := range stage.Workers {
			servers[server] = struct{}{}
		}
		d.cancelQuery(requestID, servers)
		return nil, err
	}
	return fragments, nil
}

// Shutdown releases every process-wide resource: both client pools, the
// mailbox service, and the serializer worker pool
func (d *Dispatcher) Shutdown() {
	d.queryClients.Shutdown()
	d.timeSeriesClients.Shutdown()
	d.mailboxes.Shutdown()
	d.serializer.shutdown()
	d.logger.Info().Msg("dispatcher shut down")
}

func (d *Dispatcher) publish(event *events.Event) {
	if d.events != nil {
		d.events.Publish(event)
	}
}

func (d *Dispatcher) finish(requestID int64, plan *types.DispatchableSubPlan, timer *metrics.Timer, result *types.QueryResult, err error) {
	entry := &journal.Entry{
		RequestID:  requestID,
		NumServers: len(plan.RemoteServers()),
		ElapsedMs:  timer.Duration().Milliseconds(),
	}
	switch {
	case err == nil:
		metrics.QueriesDispatched.WithLabelValues("success").Inc()
		entry.Outcome = journal.OutcomeCompleted
		entry.NumRows = int64(len(result.Table.Rows))
		d.publish(events.NewCompleted(requestID, events.Completed{
			NumRows:   entry.NumRows,
			ElapsedMs: entry.ElapsedMs,
		}))
	default:
		var timeoutErr *TimeoutError
		if errors.As(err, &timeoutErr) {
			metrics.QueriesDispatched.WithLabelValues("timeout").Inc()
			metrics.DispatchFailures.WithLabelValues("timeout").Inc()
			entry.Outcome = journal.OutcomeTimedOut
		} else {
			metrics.QueriesDispatched.WithLabelValues("error").Inc()
			metrics.DispatchFailures.WithLabelValues(failureKind(err)).Inc()
			entry.Outcome = journal.OutcomeFailed
		}
		entry.Error = err.Error()
		d.publish(events.NewFailed(requestID, err))
	}
	metrics.PooledClients.WithLabelValues("query").Set(float64(d.queryClients.Size()))

	if d.journal != nil {
		if jerr := d.journal.Record(entry); jerr != nil {
			d.logger.Warn().Err(jerr).Int64("request_id", requestID).Msg("failed to journal query")
		}
	}
}

func failureKind(err error) string {
	var (
		dispatchErr  *DispatchError
		explainErr   *ExplainError
		reduceErr    *ReduceError
		invariantErr *InvariantError
	)
	switch {
	case errors.As(err, &dispatchErr):
		return "dispatch"
	case errors.As(err, &explainErr):
		return "explain"
	case errors.As(err, &reduceErr):
		return "reduce"
	case errors.As(err, &invariantErr):
		return "invariant"
	default:
		return "other"
	}
}
