package types

import (
	"fmt"

	"github.com/prismdb/prism/pkg/datatype"
	"github.com/prismdb/prism/pkg/plannode"
)

// ServerInstance identifies one worker server. Port carries the query RPC
// endpoint, MailboxPort the data-plane endpoint; two instances differing
// only in mailbox port are the same dispatch target.
type ServerInstance struct {
	Host        string
	Port        int
	MailboxPort int
}

// Key returns the client-pool key for this instance. The mailbox port is
// deliberately excluded so both plane variants share one query client.
func (s ServerInstance) Key() string {
	return fmt.Sprintf("%s_%d", s.Host, s.Port)
}

// MailboxKey returns the data-plane key for this instance
func (s ServerInstance) MailboxKey() string {
	return fmt.Sprintf("%s_%d", s.Host, s.MailboxPort)
}

// WorkerMetadata describes one logical worker of a stage: the server it
// runs on plus stage-local routing info for the mailbox layer
type WorkerMetadata struct {
	Server      ServerInstance
	WorkerID    int
	MailboxInfo map[string]string
}

// StagePlan is one fragment of a partitioned query plan, pinned to a set of
// workers
type StagePlan struct {
	Root *plannode.Node

	// Workers maps each participating server to the worker ids it hosts.
	// The ids index into WorkerMetadata.
	Workers map[ServerInstance][]int

	// WorkerMetadata is the full ordered worker list of this stage
	WorkerMetadata []WorkerMetadata

	// CustomProperties is an opaque planner-supplied key/value map
	CustomProperties map[string]string
}

// DispatchableSubPlan is an ordered list of stage plans. Index 0 is the
// reduce stage and runs broker-side; indices 1..N are remote.
type DispatchableSubPlan struct {
	Stages []*StagePlan

	// ResultFields projects the reduce stage's source schema onto the
	// declared result columns
	ResultFields []ResultField
}

// ReduceStage returns the local stage-0 plan
func (p *DispatchableSubPlan) ReduceStage() *StagePlan {
	return p.Stages[0]
}

// RemoteServers returns the union of servers across stages 1..N, each
// counted once
func (p *DispatchableSubPlan) RemoteServers() map[ServerInstance]struct{} {
	servers := make(map[ServerInstance]struct{})
	for _, stage := range p.Stages[1:] {
		for server := range stage.Workers {
			servers[server] = struct{}{}
		}
	}
	return servers
}

// ResultField names one output column and the source-schema position it
// reads from
type ResultField struct {
	SourceIndex int
	Name        string
}

// Schema describes the columns of a result table
type Schema struct {
	ColumnNames []string
	ColumnTypes []datatype.ColumnType
}

// ResultTable is the tabular query result
type ResultTable struct {
	Schema Schema
	Rows   [][]any
}

// QueryResult bundles the result table with per-stage execution statistics
type QueryResult struct {
	Table *ResultTable

	// StageStats has length maxStageId+1; index 0 is the closed local
	// reduce stage, index i>0 the stats streamed from stage i
	StageStats []*StageStats

	BrokerReduceTimeMs int64
}

// StageStats accumulates execution statistics for one stage
type StageStats struct {
	StageID         int
	NumWorkers      int
	NumBlocks       int64
	NumRows         int64
	ExecutionTimeMs int64
	Closed          bool
}

// Close finalizes the stats; further accumulation is a bug
func (s *StageStats) Close() *StageStats {
	s.Closed = true
	return s
}

// MultiStageQueryStats is the stats tree delivered with a successful
// end-of-stream block. Current holds the receiving stage's own stats,
// Upstream the per-stage stats collected from all upstream stages, indexed
// by stage id.
type MultiStageQueryStats struct {
	CurrentStageID int
	Current        *StageStats
	Upstream       []*StageStats
}

// MaxStageID returns the highest stage id present in the stats tree
func (m *MultiStageQueryStats) MaxStageID() int {
	return len(m.Upstream) - 1
}

// UpstreamStats returns the stats of stage i. Positions 1..MaxStageID are
// guaranteed to exist on a well-formed stats tree.
func (m *MultiStageQueryStats) UpstreamStats(i int) *StageStats {
	return m.Upstream[i]
}

// WorkerError is one worker-reported failure carried by an error block
type WorkerError struct {
	Code    int
	Message string
}

func (e WorkerError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("worker error %d: %s", e.Code, e.Message)
	}
	return e.Message
}
