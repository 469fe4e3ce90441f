// Package indexanalysis derives indexing maps over the graph of a fusion.
//
// OperandIndexing gives, for one instruction, the map from the index of its output to the index of each of its
// operands (one hop). ComputeGroupedIndexing composes those hops from a root down to every instruction it
// reaches, starting from any map into the root index space: the identity (output-to-input indexing) or a
// launch grid map (ThreadIDToOutputMap), giving, for each instruction, the distinct maps from the execution
// coordinates to the elements of that instruction used by the root.
package indexanalysis

import (
	"github.com/pkg/errors"
)

var (
	// ErrUnsupportedOperation is returned (wrapped) when an instruction has no indexing rule.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrMalformedGraph is returned (wrapped) when the parameters of an instruction don't match the shapes
	// of its operands.
	ErrMalformedGraph = errors.New("malformed graph")
)
