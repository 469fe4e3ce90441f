package indexanalysis

import (
	"slices"

	"github.com/gomlx/loopemit/pkg/hlo"
	"github.com/gomlx/loopemit/pkg/indexing"
	"github.com/gomlx/loopemit/pkg/types/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MapSet is an insertion ordered set of indexing maps, where maps with the same canonical key are the same.
type MapSet struct {
	maps []*indexing.Map
	keys map[string]int
}

// NewMapSet returns a set with the given maps.
func NewMapSet(maps ...*indexing.Map) *MapSet {
	s := &MapSet{keys: make(map[string]int)}
	for _, m := range maps {
		s.Insert(m)
	}
	return s
}

// Insert m in the set, and returns false if an equal map was already present.
func (s *MapSet) Insert(m *indexing.Map) bool {
	key := m.Key()
	if _, found := s.keys[key]; found {
		return false
	}
	s.keys[key] = len(s.maps)
	s.maps = append(s.maps, m)
	return true
}

// Len returns the number of distinct maps.
func (s *MapSet) Len() int {
	return len(s.maps)
}

// Maps returns the maps in insertion order. The returned slice must not be modified.
func (s *MapSet) Maps() []*indexing.Map {
	return s.maps
}

// GroupedIndexing holds, for each instruction reached from a root, the distinct maps from the root's starting
// coordinates to the elements of the instruction used to compute the root.
type GroupedIndexing map[*hlo.Instruction]*MapSet

// Composer composes operand indexing maps over a graph. It caches the hops (OperandIndexing) it uses,
// so it should be reused for several walks over the same graph.
type Composer struct {
	hops map[hop]*indexing.Map
}

type hop struct {
	instr        *hlo.Instruction
	operandIndex int
}

// NewComposer creates a Composer with an empty cache.
func NewComposer() *Composer {
	return &Composer{hops: make(map[hop]*indexing.Map)}
}

// OperandIndexing returns the cached OperandIndexing(instr, operandIndex).
func (c *Composer) OperandIndexing(instr *hlo.Instruction, operandIndex int) (*indexing.Map, error) {
	key := hop{instr, operandIndex}
	if m, found := c.hops[key]; found {
		return m, nil
	}
	m, err := OperandIndexing(instr, operandIndex)
	if err != nil {
		return nil, err
	}
	c.hops[key] = m
	return m, nil
}

// ComposeOperand returns the map to the operand #operandIndex of instr, given the map m into the output of instr.
func (c *Composer) ComposeOperand(m *indexing.Map, instr *hlo.Instruction, operandIndex int) (*indexing.Map, error) {
	operandMap, err := c.OperandIndexing(instr, operandIndex)
	if err != nil {
		return nil, err
	}
	return m.Compose(operandMap), nil
}

// ComputeGroupedIndexing walks the graph from root towards its operands, composing the hops from rootMap,
// a map into the output index of root. If stop is not nil, the walk doesn't go past instructions for which
// it returns true (their maps are still computed).
//
// Instructions are visited in reverse topological order, so every map of an instruction is known before its
// operands are composed.
func (c *Composer) ComputeGroupedIndexing(root *hlo.Instruction, rootMap *indexing.Map,
	stop func(*hlo.Instruction) bool) (GroupedIndexing, error) {
	if rootMap.NumResults() != root.OutputShape(0).Rank() {
		return nil, errors.Wrapf(ErrMalformedGraph, "starting map has %d results, but root %q has rank %d",
			rootMap.NumResults(), root.Name(), root.OutputShape(0).Rank())
	}
	grouped := GroupedIndexing{root: NewMapSet(rootMap)}
	reached := []*hlo.Instruction{root}
	for len(reached) > 0 {
		// Pop the reached instruction with the highest ID: all its users in the walk were already processed.
		slices.SortFunc(reached, func(a, b *hlo.Instruction) int { return a.ID() - b.ID() })
		instr := reached[len(reached)-1]
		reached = reached[:len(reached)-1]
		if instr != root && stop != nil && stop(instr) {
			continue
		}
		for operandIndex, operand := range instr.Operands() {
			for _, m := range grouped[instr].Maps() {
				composed, err := c.ComposeOperand(m, instr, operandIndex)
				if err != nil {
					return nil, err
				}
				set, found := grouped[operand]
				if !found {
					set = NewMapSet()
					grouped[operand] = set
					reached = append(reached, operand)
				}
				set.Insert(composed)
			}
		}
	}
	if klog.V(2).Enabled() {
		for instr, set := range grouped {
			klog.Infof("indexing of %q from %q: %d distinct maps", instr.Name(), root.Name(), set.Len())
		}
	}
	return grouped, nil
}

// ComputeOutputToInputIndexing returns, for each instruction reached from root, the maps from the output index
// of root to the instruction elements it uses.
func (c *Composer) ComputeOutputToInputIndexing(root *hlo.Instruction) (GroupedIndexing, error) {
	return c.ComputeGroupedIndexing(root, indexing.IdentityMap(root.OutputShape(0).Dimensions), nil)
}

// OutputToOutputIndexing returns the map from the index of an output of a fusion to the index of the element
// of another output computed by the same thread: the outputs of a loop fusion share the launch grid, so this
// is the identity when the dimensions match, and a row-major relinearization when they only have the same
// number of elements.
func OutputToOutputIndexing(from, to shapes.Shape) (*indexing.Map, error) {
	if slices.Equal(from.Dimensions, to.Dimensions) {
		return indexing.IdentityMap(from.Dimensions), nil
	}
	if from.Size() != to.Size() {
		return nil, errors.Wrapf(ErrMalformedGraph, "outputs %s and %s have different number of elements", from, to)
	}
	return indexing.NewMap(indexing.DimVarsForShape(from.Dimensions), nil,
		Delinearize(Linearize(identityResults(from.Rank()), from.Dimensions), to.Dimensions)).Simplify(), nil
}
