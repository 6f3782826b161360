package plannode

import (
	"fmt"

	"github.com/prismdb/prism/pkg/datatype"
)

// Kind identifies the shape of a plan node. The set is closed: every node a
// planner can emit is one of these.
type Kind string

const (
	KindMailboxReceive Kind = "mailbox_receive"
	KindMailboxSend    Kind = "mailbox_send"
	KindTableScan      Kind = "table_scan"
	KindFilter         Kind = "filter"
	KindProject        Kind = "project"
	KindAggregate      Kind = "aggregate"
	KindJoin           Kind = "join"
	KindSort           Kind = "sort"
	KindValues         Kind = "values"
)

// Node is one node of a stage-plan fragment tree. Only the fields relevant
// to its Kind are populated; Inputs holds the child fragments in plan order.
type Node struct {
	Kind Kind `json:"kind"`

	// Output schema of this node
	ColumnNames []string              `json:"columnNames,omitempty"`
	ColumnTypes []datatype.ColumnType `json:"columnTypes,omitempty"`

	// Mailbox exchange fields
	SenderStageID   int    `json:"senderStageId,omitempty"`
	ReceiverStageID int    `json:"receiverStageId,omitempty"`
	Distribution    string `json:"distribution,omitempty"`

	// Scan fields
	Table    string   `json:"table,omitempty"`
	Segments []string `json:"segments,omitempty"`

	// Filter / project fields
	Predicate   string   `json:"predicate,omitempty"`
	Expressions []string `json:"expressions,omitempty"`

	// Aggregate fields
	GroupKeys    []int    `json:"groupKeys,omitempty"`
	Aggregations []string `json:"aggregations,omitempty"`

	// Join fields
	JoinType  string `json:"joinType,omitempty"`
	LeftKeys  []int  `json:"leftKeys,omitempty"`
	RightKeys []int  `json:"rightKeys,omitempty"`

	// Sort fields
	SortKeys       []int    `json:"sortKeys,omitempty"`
	SortDirections []string `json:"sortDirections,omitempty"`
	Limit          int      `json:"limit,omitempty"`

	// Values fields
	Rows [][]any `json:"rows,omitempty"`

	Inputs []*Node `json:"inputs,omitempty"`
}

// Visitor dispatches over the closed node set. Kinds without a dedicated
// hook fall through to VisitDefault.
type Visitor interface {
	VisitMailboxReceive(n *Node) error
	VisitMailboxSend(n *Node) error
	VisitDefault(n *Node) error
}

// Accept invokes the visitor hook matching this node's kind
func (n *Node) Accept(v Visitor) error {
	switch n.Kind {
	case KindMailboxReceive:
		return v.VisitMailboxReceive(n)
	case KindMailboxSend:
		return v.VisitMailboxSend(n)
	case KindTableScan, KindFilter, KindProject, KindAggregate, KindJoin, KindSort, KindValues:
		return v.VisitDefault(n)
	default:
		return fmt.Errorf("unknown plan node kind %q", n.Kind)
	}
}

// Walk applies the visitor to the node and all descendants, parents first
func Walk(n *Node, v Visitor) error {
	if err := n.Accept(v); err != nil {
		return err
	}
	for _, in := range n.Inputs {
		if err := Walk(in, v); err != nil {
			return err
		}
	}
	return nil
}
