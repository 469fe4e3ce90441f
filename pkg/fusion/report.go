package fusion

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// IndexingReport describes the loop fusion as a protobuf Struct: the launch configuration, the map from the
// launch grid to each output and to each operand of the root producing it, and the routines of the plan.
func IndexingReport(f *LoopFusion) (*structpb.Struct, error) {
	config := f.LaunchConfig()
	outputs := make([]any, 0, len(f.fusion.Outputs()))
	for i, output := range f.fusion.Outputs() {
		threadToOutput, err := f.ComputeThreadIDToOutputIndexing(i)
		if err != nil {
			return nil, err
		}
		root := output.Instruction
		operands := make([]any, 0, len(root.Operands()))
		for j, operand := range root.Operands() {
			threadToInput, err := f.ComputeThreadIDToInputIndexing(i, j)
			if err != nil {
				return nil, err
			}
			operands = append(operands, map[string]any{
				"operand":         operand.Name(),
				"thread_to_input": threadToInput.String(),
			})
		}
		outputs = append(outputs, map[string]any{
			"root":             root.Name(),
			"output_index":     output.Index,
			"shape":            output.Shape().String(),
			"thread_to_output": threadToOutput.String(),
			"operands":         operands,
		})
	}

	plan, err := f.Plan()
	if err != nil {
		return nil, err
	}
	routines := make([]any, 0, len(plan.Routines))
	for _, r := range plan.Routines {
		routines = append(routines, map[string]any{
			"name":     r.Name,
			"root":     r.Root.Name(),
			"steps":    len(r.Steps),
			"combiner": r.IsCombiner(),
		})
	}

	report, err := structpb.NewStruct(map[string]any{
		"fusion": f.fusion.Name(),
		"device": f.device.Name,
		"launch": map[string]any{
			"threads_per_block": config.ThreadsPerBlock,
			"blocks":            config.NumBlocks,
			"unroll_factor":     config.UnrollFactor,
			"chunks":            config.NumChunks,
			"elements":          config.NumElements,
		},
		"outputs":  outputs,
		"routines": routines,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "building indexing report of loop fusion %q", f.fusion.Name())
	}
	return report, nil
}

// IndexingReportJSON returns the IndexingReport of f as indented JSON.
func IndexingReportJSON(f *LoopFusion) ([]byte, error) {
	report, err := IndexingReport(f)
	if err != nil {
		return nil, err
	}
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(report)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding indexing report of loop fusion %q", f.fusion.Name())
	}
	return data, nil
}
