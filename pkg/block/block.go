// Package block defines the columnar data blocks exchanged through the
// mailbox layer. A stream of blocks is zero or more data blocks followed by
// exactly one end-of-stream block, which either carries the final stats tree
// (successful EOS) or a list of worker-reported errors (error EOS).
package block

import (
	"github.com/prismdb/prism/pkg/types"
)

// Kind discriminates the block variants
type Kind int

const (
	KindData Kind = iota
	KindSuccessEOS
	KindErrorEOS
)

// DataBlock is one batch of rows, or a stream terminator
type DataBlock struct {
	Kind Kind

	// Rows holds the raw engine-internal row tuples of a data block
	Rows [][]any

	// Exceptions lists worker failures on an error EOS
	Exceptions []types.WorkerError

	// Stats is the stats tree attached to a successful EOS
	Stats *types.MultiStageQueryStats
}

// NewDataBlock builds a row-carrying block
func NewDataBlock(rows [][]any) *DataBlock {
	return &DataBlock{Kind: KindData, Rows: rows}
}

// NewSuccessEOS builds a successful stream terminator
func NewSuccessEOS(stats *types.MultiStageQueryStats) *DataBlock {
	return &DataBlock{Kind: KindSuccessEOS, Stats: stats}
}

// NewErrorEOS builds a failed stream terminator
func NewErrorEOS(exceptions []types.WorkerError) *DataBlock {
	return &DataBlock{Kind: KindErrorEOS, Exceptions: exceptions}
}

// IsEOS reports whether the block terminates its stream
func (b *DataBlock) IsEOS() bool {
	return b.Kind == KindSuccessEOS || b.Kind == KindErrorEOS
}

// IsError reports whether the block is a failed terminator
func (b *DataBlock) IsError() bool {
	return b.Kind == KindErrorEOS
}
