package dispatcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prismdb/prism/pkg/block"
	"github.com/prismdb/prism/pkg/datatype"
	"github.com/prismdb/prism/pkg/events"
	"github.com/prismdb/prism/pkg/log"
	"github.com/prismdb/prism/pkg/mailbox"
	"github.com/prismdb/prism/pkg/plannode"
	"github.com/prismdb/prism/pkg/transport"
	"github.com/prismdb/prism/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, Output: io.Discard})
	os.Exit(m.Run())
}

// fakeQueryClient scripts per-server submit/explain behavior and records
// cancels
type fakeQueryClient struct {
	mu      sync.Mutex
	submits []*transport.QueryRequest
	cancels []int64
	closed  bool

	// silent suppresses the callback entirely
	silent bool

	submitFn  func(*transport.QueryRequest) (*transport.QueryResponse, error)
	explainFn func(*transport.QueryRequest) ([]*transport.ExplainResponse, error)
}

func (c *fakeQueryClient) Submit(ctx context.Context, req *transport.QueryRequest, cb func(*transport.QueryResponse, error)) {
	c.mu.Lock()
	c.submits = append(c.submits, req)
	c.mu.Unlock()
	if c.silent {
		return
	}
	go func() {
		if c.submitFn != nil {
			cb(c.submitFn(req))
			return
		}
		cb(&transport.QueryResponse{Metadata: map[string]string{}}, nil)
	}()
}

func (c *fakeQueryClient) Explain(ctx context.Context, req *transport.QueryRequest, cb func([]*transport.ExplainResponse, error)) {
	c.mu.Lock()
	c.submits = append(c.submits, req)
	c.mu.Unlock()
	if c.silent {
		return
	}
	go func() {
		cb(c.explainFn(req))
	}()
}

func (c *fakeQueryClient) Cancel(ctx context.Context, requestID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels = append(c.cancels, requestID)
	return nil
}

func (c *fakeQueryClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeQueryClient) cancelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cancels)
}

func (c *fakeQueryClient) submitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.submits)
}

var (
	broker  = types.ServerInstance{Host: "broker", Port: 8000, MailboxPort: 9000}
	serverA = types.ServerInstance{Host: "server-a", Port: 8098, MailboxPort: 9098}
	serverB = types.ServerInstance{Host: "server-b", Port: 8098, MailboxPort: 9098}
	serverC = types.ServerInstance{Host: "server-c", Port: 8098, MailboxPort: 9098}
)

// newTestHarness builds a dispatcher over scripted fake clients and a
// shared mailbox service
func newTestHarness(clients map[string]*fakeQueryClient) (*Dispatcher, *mailbox.Service) {
	mailboxes := mailbox.NewService()
	d := New(Config{
		QueryClientFactory: func(host string, port int) (transport.QueryClient, error) {
			key := fmt.Sprintf("%s_%d", host, port)
			client, ok := clients[key]
			if !ok {
				return nil, fmt.Errorf("no fake client for %s", key)
			}
			return client, nil
		},
		Mailboxes: mailboxes,
	})
	return d, mailboxes
}

func fakeClients(servers ...types.ServerInstance) map[string]*fakeQueryClient {
	clients := make(map[string]*fakeQueryClient)
	for _, s := range servers {
		clients[s.Key()] = &fakeQueryClient{}
	}
	return clients
}

// testSubPlan builds a three-server, two-remote-stage plan whose reduce
// stage reads (id LONG, name STRING, score DOUBLE, at TIMESTAMP) and
// projects (name, score, at)
func testSubPlan() *types.DispatchableSubPlan {
	reduceRoot := &plannode.Node{
		Kind:        plannode.KindMailboxReceive,
		ColumnNames: []string{"id", "name", "score", "at"},
		ColumnTypes: []datatype.ColumnType{datatype.Long, datatype.String, datatype.Double, datatype.Timestamp},
		SenderStageID: 1,
	}
	reduceStage := &types.StagePlan{
		Root:           reduceRoot,
		Workers:        map[types.ServerInstance][]int{broker: {0}},
		WorkerMetadata: []types.WorkerMetadata{{Server: broker, WorkerID: 0}},
	}
	stage1 := &types.StagePlan{
		Root: &plannode.Node{
			Kind:            plannode.KindAggregate,
			GroupKeys:       []int{1},
			Aggregations:    []string{"SUM(score)"},
			ColumnNames:     []string{"id", "name", "score", "at"},
			ColumnTypes:     []datatype.ColumnType{datatype.Long, datatype.String, datatype.Double, datatype.Timestamp},
		},
		Workers: map[types.ServerInstance][]int{
			serverA: {0},
			serverB: {1},
			serverC: {2},
		},
		WorkerMetadata: []types.WorkerMetadata{
			{Server: serverA, WorkerID: 0},
			{Server: serverB, WorkerID: 1},
			{Server: serverC, WorkerID: 2},
		},
		CustomProperties: map[string]string{"partitioning": "hash"},
	}
	stage2 := &types.StagePlan{
		Root: &plannode.Node{
			Kind:        plannode.KindTableScan,
			Table:       "events",
			ColumnNames: []string{"id", "name", "score", "at"},
			ColumnTypes: []datatype.ColumnType{datatype.Long, datatype.String, datatype.Double, datatype.Timestamp},
		},
		Workers: map[types.ServerInstance][]int{
			serverA: {0, 1},
			serverC: {2},
		},
		WorkerMetadata: []types.WorkerMetadata{
			{Server: serverA, WorkerID: 0},
			{Server: serverA, WorkerID: 1},
			{Server: serverC, WorkerID: 2},
		},
	}
	return &types.DispatchableSubPlan{
		Stages: []*types.StagePlan{reduceStage, stage1, stage2},
		ResultFields: []types.ResultField{
			{SourceIndex: 1, Name: "name"},
			{SourceIndex: 2, Name: "score"},
			{SourceIndex: 3, Name: "at"},
		},
	}
}

func feedReduceStream(t *testing.T, mailboxes *mailbox.Service, requestID int64, blocks ...*block.DataBlock) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	id := mailbox.ID(requestID, 0, 0)
	for _, b := range blocks {
		require.NoError(t, mailboxes.Send(id, b, deadline))
	}
}

func successStats() *types.MultiStageQueryStats {
	return &types.MultiStageQueryStats{
		CurrentStageID: 0,
		Current:        &types.StageStats{StageID: 0, NumWorkers: 1},
		Upstream: []*types.StageStats{
			nil,
			{StageID: 1, NumWorkers: 3, NumRows: 6},
			{StageID: 2, NumWorkers: 3, NumRows: 12},
		},
	}
}

func TestSubmitAndReduceSuccess(t *testing.T) {
	clients := fakeClients(serverA, serverB, serverC)
	d, mailboxes := newTestHarness(clients)
	defer d.Shutdown()

	const requestID = int64(42)
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC).UnixMilli()
	feedReduceStream(t, mailboxes, requestID,
		block.NewDataBlock([][]any{
			{int64(1), "alpha", 1.5, at},
			{int64(2), "beta", nil, at},
		}),
		block.NewDataBlock([][]any{
			{int64(3), nil, 2.25, at},
		}),
		block.NewSuccessEOS(successStats()),
	)

	result, err := d.SubmitAndReduce(context.Background(), requestID, testSubPlan(), time.Second, map[string]string{"useMultistageEngine": "true"})
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "score", "at"}, result.Table.Schema.ColumnNames)
	assert.Equal(t,
		[]datatype.ColumnType{datatype.String, datatype.Double, datatype.Timestamp},
		result.Table.Schema.ColumnTypes)
	require.Len(t, result.Table.Rows, 3)
	assert.Equal(t, []any{"alpha", 1.5, "2025-03-14 09:26:53"}, result.Table.Rows[0])
	assert.Equal(t, []any{"beta", nil, "2025-03-14 09:26:53"}, result.Table.Rows[1])
	assert.Nil(t, result.Table.Rows[2][0])

	// Stats: closed local stage plus both upstream stages
	require.Len(t, result.StageStats, 3)
	assert.True(t, result.StageStats[0].Closed)
	assert.Equal(t, int64(6), result.StageStats[1].NumRows)
	assert.Equal(t, int64(12), result.StageStats[2].NumRows)
	assert.GreaterOrEqual(t, result.BrokerReduceTimeMs, int64(0))

	// Every server got exactly one request, nobody was cancelled
	for key, client := range clients {
		assert.Equal(t, 1, client.submitCount(), key)
		assert.Equal(t, 0, client.cancelCount(), key)
	}
}

func TestSubmitAndReduceServerError(t *testing.T) {
	clients := fakeClients(serverA, serverB, serverC)
	clients[serverB.Key()].submitFn = func(*transport.QueryRequest) (*transport.QueryResponse, error) {
		return &transport.QueryResponse{
			Metadata: map[string]string{transport.MetadataKeyStatusError: "broken"},
		}, nil
	}
	d, _ := newTestHarness(clients)
	defer d.Shutdown()

	const requestID = int64(43)
	_, err := d.SubmitAndReduce(context.Background(), requestID, testSubPlan(), time.Second, nil)
	require.Error(t, err)

	var dispatchErr *DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, requestID, dispatchErr.RequestID)
	assert.Equal(t, serverB.Key(), dispatchErr.Server)
	assert.Contains(t, err.Error(), "broken")

	// Cancel reaches all three servers
	require.Eventually(t, func() bool {
		for _, client := range clients {
			if client.cancelCount() != 1 {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)
	for _, client := range clients {
		assert.Equal(t, []int64{requestID}, client.cancels)
	}
}

func TestSubmitAndReduceTimeout(t *testing.T) {
	clients := fakeClients(serverA, serverB, serverC)
	for _, client := range clients {
		client.silent = true
	}
	d, _ := newTestHarness(clients)
	defer d.Shutdown()

	const requestID = int64(44)
	_, err := d.SubmitAndReduce(context.Background(), requestID, testSubPlan(), 200*time.Millisecond, nil)
	require.Error(t, err)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, requestID, timeoutErr.RequestID)

	require.Eventually(t, func() bool {
		for _, client := range clients {
			if client.cancelCount() != 1 {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)
}

func TestSubmitAndReduceErrorBlock(t *testing.T) {
	clients := fakeClients(serverA, serverB, serverC)
	d, mailboxes := newTestHarness(clients)
	defer d.Shutdown()

	const requestID = int64(45)
	feedReduceStream(t, mailboxes, requestID,
		block.NewErrorEOS([]types.WorkerError{{Message: "shard-7 OOM"}}),
	)

	_, err := d.SubmitAndReduce(context.Background(), requestID, testSubPlan(), time.Second, nil)
	require.Error(t, err)

	var reduceErr *ReduceError
	require.ErrorAs(t, err, &reduceErr)
	assert.Contains(t, err.Error(), "shard-7 OOM")

	require.Eventually(t, func() bool {
		for _, client := range clients {
			if client.cancelCount() != 1 {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)
}

func TestSubmitAndReduceRejectsBadReduceStage(t *testing.T) {
	clients := fakeClients(serverA, serverB, serverC)
	d, mailboxes := newTestHarness(clients)
	defer d.Shutdown()

	plan := testSubPlan()
	plan.Stages[0].Root = &plannode.Node{Kind: plannode.KindSort}

	const requestID = int64(46)
	feedReduceStream(t, mailboxes, requestID, block.NewSuccessEOS(successStats()))

	_, err := d.SubmitAndReduce(context.Background(), requestID, plan, time.Second, nil)
	var invariantErr *InvariantError
	require.ErrorAs(t, err, &invariantErr)
	assert.Contains(t, err.Error(), "mailbox receive")
}

func TestSubmitAndReduceRejectsWrongStatsStage(t *testing.T) {
	clients := fakeClients(serverA, serverB, serverC)
	d, mailboxes := newTestHarness(clients)
	defer d.Shutdown()

	stats := successStats()
	stats.CurrentStageID = 1

	const requestID = int64(47)
	feedReduceStream(t, mailboxes, requestID, block.NewSuccessEOS(stats))

	_, err := d.SubmitAndReduce(context.Background(), requestID, testSubPlan(), time.Second, nil)
	var invariantErr *InvariantError
	require.ErrorAs(t, err, &invariantErr)
}

func TestExplain(t *testing.T) {
	stage := testSubPlan().Stages[1]
	encodedRoot, err := plannode.Encode(stage.Root)
	require.NoError(t, err)

	clients := fakeClients(serverA, serverB, serverC)
	for _, client := range clients {
		client.explainFn = func(req *transport.QueryRequest) ([]*transport.ExplainResponse, error) {
			return []*transport.ExplainResponse{{
				StagePlans: []transport.StagePlan{{
					RootNode:      encodedRoot,
					StageMetadata: req.StagePlans[0].StageMetadata,
				}},
				Metadata: map[string]string{},
			}}, nil
		}
	}
	d, _ := newTestHarness(clients)
	defer d.Shutdown()

	fragments, err := d.Explain(context.Background(), 48, stage, time.Second, nil)
	require.NoError(t, err)
	require.Len(t, fragments, 3)
	for _, fragment := range fragments {
		assert.Equal(t, stage.Root, fragment.Root)
	}
}

func TestExplainServerError(t *testing.T) {
	stage := testSubPlan().Stages[1]
	clients := fakeClients(serverA, serverB, serverC)
	for _, client := range clients {
		client.explainFn = func(*transport.QueryRequest) ([]*transport.ExplainResponse, error) {
			return []*transport.ExplainResponse{{
				Metadata: map[string]string{transport.MetadataKeyStatusError: "no such table"},
			}}, nil
		}
	}
	d, _ := newTestHarness(clients)
	defer d.Shutdown()

	_, err := d.Explain(context.Background(), 49, stage, time.Second, nil)
	var explainErr *ExplainError
	require.ErrorAs(t, err, &explainErr)
	assert.Contains(t, err.Error(), "no such table")

	require.Eventually(t, func() bool {
		total := 0
		for _, client := range clients {
			total += client.cancelCount()
		}
		return total == 3
	}, time.Second, 10*time.Millisecond)
}

func TestShutdownClosesClients(t *testing.T) {
	clients := fakeClients(serverA, serverB, serverC)
	d, mailboxes := newTestHarness(clients)

	const requestID = int64(50)
	feedReduceStream(t, mailboxes, requestID, block.NewSuccessEOS(successStats()))
	_, err := d.SubmitAndReduce(context.Background(), requestID, testSubPlan(), time.Second, nil)
	require.NoError(t, err)

	d.Shutdown()
	for key, client := range clients {
		assert.True(t, client.closed, key)
	}
}

func TestRequestIDGenerator(t *testing.T) {
	g := NewRequestIDGenerator()
	seen := make(map[int64]struct{})
	for i := 0; i < 1000; i++ {
		id := g.Next()
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestLifecycleEvents(t *testing.T) {
	clients := fakeClients(serverA, serverB, serverC)
	clients[serverB.Key()].submitFn = func(*transport.QueryRequest) (*transport.QueryResponse, error) {
		return &transport.QueryResponse{
			Metadata: map[string]string{transport.MetadataKeyStatusError: "broken"},
		}, nil
	}
	eventBroker := events.NewBroker()
	defer eventBroker.Close()
	sub := eventBroker.Subscribe(8)
	defer sub.Cancel()

	mailboxes := mailbox.NewService()
	d := New(Config{
		QueryClientFactory: func(host string, port int) (transport.QueryClient, error) {
			return clients[fmt.Sprintf("%s_%d", host, port)], nil
		},
		Mailboxes: mailboxes,
		Events:    eventBroker,
	})
	defer d.Shutdown()

	const requestID = int64(70)
	_, err := d.SubmitAndReduce(context.Background(), requestID, testSubPlan(), time.Second, nil)
	require.Error(t, err)

	var kinds []events.Kind
	for i := 0; i < 3; i++ {
		select {
		case e := <-sub.Events():
			assert.Equal(t, requestID, e.RequestID)
			kinds = append(kinds, e.Kind)
			switch e.Kind {
			case events.KindSubmitted:
				require.NotNil(t, e.Submitted)
				assert.Equal(t, 3, e.Submitted.NumStages)
				assert.Equal(t, 3, e.Submitted.NumServers)
			case events.KindFailed:
				require.NotNil(t, e.Failed)
				assert.Contains(t, e.Failed.Error, "broken")
			case events.KindCancelled:
				require.NotNil(t, e.Cancelled)
				assert.Equal(t, 3, e.Cancelled.NumServers)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing lifecycle event, got %v", kinds)
		}
	}
	assert.Equal(t, []events.Kind{events.KindSubmitted, events.KindCancelled, events.KindFailed}, kinds)
}
