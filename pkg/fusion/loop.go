package fusion

import (
	"github.com/gomlx/loopemit/pkg/hlo"
	"github.com/gomlx/loopemit/pkg/indexanalysis"
	"github.com/gomlx/loopemit/pkg/indexing"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LoopFusion is a fusion computed one output element per thread (and unrolled iteration): it holds the launch
// configuration, answers the indexing queries from the launch grid, and emits the program.
type LoopFusion struct {
	fusion   *hlo.Computation
	device   indexanalysis.DeviceInfo
	config   indexanalysis.LaunchConfig
	composer *indexanalysis.Composer
	plan     *Plan
}

type options struct {
	device        indexanalysis.DeviceInfo
	launchOptions []indexanalysis.LaunchOption
	config        *indexanalysis.LaunchConfig
}

// Option configures NewLoopFusion.
type Option func(*options)

// WithDevice sets the device the launch configuration is computed for. The default is
// indexanalysis.DefaultDeviceInfo.
func WithDevice(device indexanalysis.DeviceInfo) Option {
	return func(o *options) {
		o.device = device
	}
}

// WithLaunchOptions are passed to indexanalysis.ComputeLaunchConfig.
func WithLaunchOptions(launchOptions ...indexanalysis.LaunchOption) Option {
	return func(o *options) {
		o.launchOptions = append(o.launchOptions, launchOptions...)
	}
}

// WithLaunchConfig sets the launch configuration, instead of computing it.
func WithLaunchConfig(config indexanalysis.LaunchConfig) Option {
	return func(o *options) {
		o.config = &config
	}
}

// NewLoopFusion verifies the fusion and computes its launch configuration from the shape of its first output.
// All outputs must have the same number of elements.
func NewLoopFusion(fusion *hlo.Computation, opts ...Option) (*LoopFusion, error) {
	o := &options{device: indexanalysis.DefaultDeviceInfo()}
	for _, opt := range opts {
		opt(o)
	}
	if err := fusion.Verify(); err != nil {
		return nil, errors.WithMessagef(err, "invalid loop fusion %q", fusion.Name())
	}
	outputs := fusion.Outputs()
	shape := outputs[0].Shape()
	for _, output := range outputs[1:] {
		if output.Shape().Size() != shape.Size() {
			return nil, errors.Wrapf(indexanalysis.ErrMalformedGraph,
				"loop fusion %q outputs %s and %s have different number of elements", fusion.Name(), shape, output.Shape())
		}
	}
	f := &LoopFusion{
		fusion:   fusion,
		device:   o.device,
		composer: indexanalysis.NewComposer(),
	}
	if o.config != nil {
		f.config = *o.config
		if f.config.NumElements == 0 {
			f.config.NumElements = shape.Size()
		}
		if f.config.ThreadsPerBlock <= 0 || f.config.NumBlocks <= 0 || f.config.UnrollFactor <= 0 || f.config.NumChunks <= 0 {
			return nil, errors.Errorf("invalid launch configuration %s for loop fusion %q", f.config, fusion.Name())
		}
	} else {
		var err error
		f.config, err = indexanalysis.ComputeLaunchConfig(shape, f.device, o.launchOptions...)
		if err != nil {
			return nil, errors.WithMessagef(err, "loop fusion %q", fusion.Name())
		}
	}
	return f, nil
}

// Fusion returns the computation of the fusion.
func (f *LoopFusion) Fusion() *hlo.Computation {
	return f.fusion
}

// LaunchConfig returns the launch configuration of the fusion.
func (f *LoopFusion) LaunchConfig() indexanalysis.LaunchConfig {
	return f.config
}

// ComputeThreadIDToOutputIndexing returns the map from the launch grid coordinates to the index of the output
// #outputIndex computed by the thread. Outputs other than the first are indexed through the first one (see
// indexanalysis.OutputToOutputIndexing).
func (f *LoopFusion) ComputeThreadIDToOutputIndexing(outputIndex int) (*indexing.Map, error) {
	outputs := f.fusion.Outputs()
	if outputIndex < 0 || outputIndex >= len(outputs) {
		return nil, errors.Errorf("loop fusion %q has %d outputs, output #%d requested", f.fusion.Name(), len(outputs), outputIndex)
	}
	first := outputs[0].Shape()
	m := indexanalysis.ThreadIDToOutputMap(f.config, first.Dimensions)
	if outputIndex == 0 {
		return m, nil
	}
	toOutput, err := indexanalysis.OutputToOutputIndexing(first, outputs[outputIndex].Shape())
	if err != nil {
		return nil, err
	}
	return m.Compose(toOutput), nil
}

// ComputeThreadIDToInputIndexing returns the map from the launch grid coordinates to the index of the operand
// #heroOperand of the root producing the output #outputIndex.
func (f *LoopFusion) ComputeThreadIDToInputIndexing(outputIndex, heroOperand int) (*indexing.Map, error) {
	m, err := f.ComputeThreadIDToOutputIndexing(outputIndex)
	if err != nil {
		return nil, err
	}
	root := f.fusion.Outputs()[outputIndex].Instruction
	if heroOperand < 0 || heroOperand >= len(root.Operands()) {
		return nil, errors.Errorf("root %q of loop fusion %q has %d operands, operand #%d requested",
			root.Name(), f.fusion.Name(), len(root.Operands()), heroOperand)
	}
	return f.composer.ComposeOperand(m, root, heroOperand)
}

// Plan returns the emission plan of the fusion, computed on first use.
func (f *LoopFusion) Plan() (*Plan, error) {
	if f.plan != nil {
		return f.plan, nil
	}
	plan, err := NewPlan(f.fusion, f.composer)
	if err != nil {
		return nil, err
	}
	f.plan = plan
	return plan, nil
}

// Emit returns the program text of the fusion. It is all-or-nothing: on error no text is returned.
func (f *LoopFusion) Emit() (string, error) {
	plan, err := f.Plan()
	if err != nil {
		return "", errors.WithMessagef(err, "planning loop fusion %q", f.fusion.Name())
	}
	threadMaps := make([]*indexing.Map, len(f.fusion.Outputs()))
	for i := range threadMaps {
		threadMaps[i], err = f.ComputeThreadIDToOutputIndexing(i)
		if err != nil {
			return "", err
		}
	}
	klog.V(1).Infof("emitting loop fusion %q with launch configuration %s", f.fusion.Name(), f.config)
	program, err := Emit(plan, f.config, threadMaps)
	if err != nil {
		return "", err
	}
	return string(program), nil
}
