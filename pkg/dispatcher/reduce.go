package dispatcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/prismdb/prism/pkg/block"
	"github.com/prismdb/prism/pkg/datatype"
	"github.com/prismdb/prism/pkg/mailbox"
	"github.com/prismdb/prism/pkg/metrics"
	"github.com/prismdb/prism/pkg/plannode"
	"github.com/prismdb/prism/pkg/types"
)

// receiveRootCheck accepts only a mailbox-receive root. Any other node kind
// at the top of the reduce stage is a planner bug.
type receiveRootCheck struct {
	node *plannode.Node
}

func (c *receiveRootCheck) VisitMailboxReceive(n *plannode.Node) error {
	c.node = n
	return nil
}

func (c *receiveRootCheck) VisitMailboxSend(n *plannode.Node) error {
	return invariantf("reduce stage root is a mailbox send, expected mailbox receive")
}

func (c *receiveRootCheck) VisitDefault(n *plannode.Node) error {
	return invariantf("reduce stage root is a %s node, expected mailbox receive", n.Kind)
}

// runReducer drains the stage-0 mailbox into the declared result schema and
// assembles the per-stage statistics delivered with the terminating block
func (d *Dispatcher) runReducer(
	requestID int64,
	plan *types.DispatchableSubPlan,
	deadline time.Time,
	queryOptions map[string]string,
	traceID string,
) (*types.QueryResult, error) {
	start := time.Now()

	reduceStage := plan.ReduceStage()
	if reduceStage.Root == nil {
		return nil, invariantf("reduce stage has no root node")
	}
	check := &receiveRootCheck{}
	if err := reduceStage.Root.Accept(check); err != nil {
		return nil, err
	}
	if len(reduceStage.WorkerMetadata) != 1 {
		return nil, invariantf("reduce stage must have exactly one worker, got %d", len(reduceStage.WorkerMetadata))
	}

	op, err := d.mailboxes.OpenReceive(mailbox.ExecutionContext{
		RequestID:    requestID,
		Deadline:     deadline,
		StageID:      0,
		Worker:       reduceStage.WorkerMetadata[0],
		QueryOptions: queryOptions,
		TraceID:      traceID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open receive operator for request %d: %w", requestID, err)
	}
	defer op.Close()

	schema, err := projectSchema(check.node, plan.ResultFields)
	if err != nil {
		return nil, err
	}

	var (
		rows      [][]any
		stats     *types.MultiStageQueryStats
		numBlocks int64
	)
	for {
		b, err := op.NextBlock()
		if err != nil {
			if errors.Is(err, mailbox.ErrTimeout) {
				return nil, &TimeoutError{RequestID: requestID, Phase: "reduce"}
			}
			return nil, fmt.Errorf("failed to pull block for request %d: %w", requestID, err)
		}
		if b.IsError() {
			return nil, &ReduceError{RequestID: requestID, Exceptions: b.Exceptions}
		}
		if b.Kind == block.KindSuccessEOS {
			if b.Stats == nil {
				return nil, invariantf("successful end-of-stream block carries no stats")
			}
			stats = b.Stats
			break
		}
		numBlocks++
		for _, raw := range b.Rows {
			row, err := projectRow(raw, plan.ResultFields, schema.ColumnTypes)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
	}

	if stats.CurrentStageID != 0 {
		return nil, invariantf("reduce stats arrived for stage %d, expected stage 0", stats.CurrentStageID)
	}
	perStage := make([]*types.StageStats, 0, stats.MaxStageID()+1)
	perStage = append(perStage, stats.Current.Close())
	for i := 1; i <= stats.MaxStageID(); i++ {
		perStage = append(perStage, stats.UpstreamStats(i))
	}

	elapsed := time.Since(start)
	metrics.ReduceDuration.Observe(elapsed.Seconds())
	metrics.ReduceBlocks.Add(float64(numBlocks))
	metrics.ReduceRows.Add(float64(len(rows)))

	return &types.QueryResult{
		Table:              &types.ResultTable{Schema: schema, Rows: rows},
		StageStats:         perStage,
		BrokerReduceTimeMs: elapsed.Milliseconds(),
	}, nil
}

// projectSchema maps the receive node's source schema onto the declared
// result fields
func projectSchema(receive *plannode.Node, fields []types.ResultField) (types.Schema, error) {
	schema := types.Schema{
		ColumnNames: make([]string, len(fields)),
		ColumnTypes: make([]datatype.ColumnType, len(fields)),
	}
	for i, f := range fields {
		if f.SourceIndex < 0 || f.SourceIndex >= len(receive.ColumnTypes) {
			return types.Schema{}, invariantf("result field %q reads source column %d outside source schema (len %d)",
				f.Name, f.SourceIndex, len(receive.ColumnTypes))
		}
		schema.ColumnNames[i] = f.Name
		schema.ColumnTypes[i] = receive.ColumnTypes[f.SourceIndex]
	}
	return schema, nil
}

// projectRow externalizes one raw row into the output schema. Nil values
// propagate as nil.
func projectRow(raw []any, fields []types.ResultField, columnTypes []datatype.ColumnType) ([]any, error) {
	row := make([]any, len(fields))
	for i, f := range fields {
		if f.SourceIndex >= len(raw) {
			return nil, invariantf("raw row has %d columns, result field %q reads column %d",
				len(raw), f.Name, f.SourceIndex)
		}
		external, err := columnTypes[i].ToExternal(raw[f.SourceIndex])
		if err != nil {
			return nil, fmt.Errorf("failed to externalize column %q: %w", fields[i].Name, err)
		}
		row[i] = columnTypes[i].Format(external)
	}
	return row, nil
}
