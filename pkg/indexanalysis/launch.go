package indexanalysis

import (
	"fmt"

	"github.com/gomlx/loopemit/pkg/indexing"
	"github.com/gomlx/loopemit/pkg/types/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DeviceInfo holds the device limits the launch configuration policy depends on.
type DeviceInfo struct {
	Name                 string
	CoreCount            int
	ThreadsPerCoreLimit  int
	ThreadsPerBlockLimit int
	ThreadsPerWarp       int
}

// DefaultDeviceInfo describes an RTX A6000 class GPU.
func DefaultDeviceInfo() DeviceInfo {
	return DeviceInfo{
		Name:                 "RTX A6000",
		CoreCount:            84,
		ThreadsPerCoreLimit:  1536,
		ThreadsPerBlockLimit: 1024,
		ThreadsPerWarp:       32,
	}
}

// DefaultThreadsPerBlock used by ComputeLaunchConfig, unless configured otherwise.
const DefaultThreadsPerBlock = 128

// LaunchConfig is the execution shape of a loop fusion: the grid is ThreadsPerBlock x NumBlocks threads,
// each thread computes UnrollFactor consecutive elements per chunk, and the grid loops over NumChunks
// chunks to cover outputs larger than the grid.
type LaunchConfig struct {
	ThreadsPerBlock int
	NumBlocks       int
	UnrollFactor    int
	NumChunks       int

	// NumElements of the output covered by the launch.
	NumElements int
}

// String implements fmt.Stringer.
func (c LaunchConfig) String() string {
	return fmt.Sprintf("threads=%d, blocks=%d, unroll=%d, chunks=%d", c.ThreadsPerBlock, c.NumBlocks, c.UnrollFactor, c.NumChunks)
}

// launchOptions configure ComputeLaunchConfig.
type launchOptions struct {
	threadsPerBlock int
	unrollFactor    int
}

// LaunchOption configures ComputeLaunchConfig.
type LaunchOption func(*launchOptions)

// WithThreadsPerBlock sets the maximum number of threads per block. Default is DefaultThreadsPerBlock.
func WithThreadsPerBlock(threads int) LaunchOption {
	return func(o *launchOptions) {
		o.threadsPerBlock = threads
	}
}

// WithUnrollFactor forces the unroll factor, which must divide the number of elements.
// By default, outputs large enough to fill the device are unrolled by 4, 2 or 1, the largest dividing the
// number of elements.
func WithUnrollFactor(unroll int) LaunchOption {
	return func(o *launchOptions) {
		o.unrollFactor = unroll
	}
}

// ComputeLaunchConfig selects the launch configuration of a loop fusion with the given output shape.
func ComputeLaunchConfig(shape shapes.Shape, device DeviceInfo, opts ...LaunchOption) (LaunchConfig, error) {
	options := launchOptions{threadsPerBlock: DefaultThreadsPerBlock}
	for _, opt := range opts {
		opt(&options)
	}
	if options.threadsPerBlock <= 0 || options.threadsPerBlock > device.ThreadsPerBlockLimit {
		return LaunchConfig{}, errors.Errorf("invalid threads per block %d for device %s (limit %d)",
			options.threadsPerBlock, device.Name, device.ThreadsPerBlockLimit)
	}
	if shape.IsTuple() || !shape.Ok() {
		return LaunchConfig{}, errors.Errorf("invalid output shape %s for a loop fusion", shape)
	}
	numElements := shape.Size()
	deviceThreads := device.CoreCount * device.ThreadsPerCoreLimit

	unroll := options.unrollFactor
	if unroll == 0 {
		unroll = 1
		if numElements >= deviceThreads {
			for _, candidate := range []int{4, 2} {
				if numElements%candidate == 0 {
					unroll = candidate
					break
				}
			}
		}
	} else if unroll < 0 || numElements%unroll != 0 {
		return LaunchConfig{}, errors.Errorf("unroll factor %d must divide the number of elements %d of %s",
			unroll, numElements, shape)
	}

	numThreads := ceilDiv(numElements, unroll)
	threadsPerBlock := max(1, min(options.threadsPerBlock, numThreads))
	numBlocks := max(1, min(ceilDiv(numThreads, threadsPerBlock), max(1, deviceThreads/threadsPerBlock)))
	config := LaunchConfig{
		ThreadsPerBlock: threadsPerBlock,
		NumBlocks:       numBlocks,
		UnrollFactor:    unroll,
		NumChunks:       max(1, ceilDiv(numThreads, threadsPerBlock*numBlocks)),
		NumElements:     numElements,
	}
	klog.V(1).Infof("launch configuration for %s on %s: %s", shape, device.Name, config)
	return config, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Names of the launch grid variables of ThreadIDToOutputMap.
var (
	ThreadDimNames    = []string{"th_x", "th_y", "th_z", "bl_x", "bl_y", "bl_z"}
	ThreadSymbolNames = []string{"chunk_id", "unroll_id"}
)

// Positions of the launch grid variables.
const (
	ThreadX = 0
	BlockX  = 3

	ChunkSymbol  = 0
	UnrollSymbol = 1
)

// ThreadIDToOutputMap returns the map from the launch grid coordinates to the element of the output computed
// by the thread: the dimensions are (th_x, th_y, th_z, bl_x, bl_y, bl_z) and the symbols (chunk_id, unroll_id).
//
// The threads enumerate the elements in row-major order: the linear index is
// ((th_x + bl_x * T) * U + chunk_id * (T * B * U) + unroll_id), constrained to be within the output.
func ThreadIDToOutputMap(config LaunchConfig, outputDims []int) *indexing.Map {
	threads, blocks := int64(config.ThreadsPerBlock), int64(config.NumBlocks)
	unroll, chunks := int64(config.UnrollFactor), int64(config.NumChunks)
	dims := []indexing.Variable{
		indexing.DimVar(ThreadDimNames[0], 0, threads-1),
		indexing.DimVar(ThreadDimNames[1], 0, 0),
		indexing.DimVar(ThreadDimNames[2], 0, 0),
		indexing.DimVar(ThreadDimNames[3], 0, blocks-1),
		indexing.DimVar(ThreadDimNames[4], 0, 0),
		indexing.DimVar(ThreadDimNames[5], 0, 0),
	}
	symbols := []indexing.Variable{
		indexing.SymbolVar(ThreadSymbolNames[0], 0, chunks-1),
		indexing.SymbolVar(ThreadSymbolNames[1], 0, unroll-1),
	}
	base := indexing.Dim(ThreadX).Add(indexing.Dim(BlockX).Mul(threads)).Mul(unroll).
		Add(indexing.Sym(ChunkSymbol).Mul(threads * blocks * unroll))
	linear := base.Add(indexing.Sym(UnrollSymbol))
	numElements := int64(product(outputDims))
	m := indexing.NewMap(dims, symbols, Delinearize(linear, outputDims),
		indexing.Constraint{Expr: base, Bounds: indexing.Interval{Lower: 0, Upper: numElements - unroll}})
	return m.Simplify()
}
