// loopemit prints the program emitted for the sample loop fusions, or their indexing maps.
//
// Usage:
//
//	loopemit -sample=two_users
//	loopemit -all -format=indexing
//
// Without -sample or -all, and on a terminal, it asks which sample to emit.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
	"github.com/gomlx/loopemit/internal/samples"
	"github.com/gomlx/loopemit/pkg/fusion"
	"github.com/gomlx/loopemit/pkg/indexanalysis"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Output formats.
const (
	formatMLIR     = "mlir"
	formatIndexing = "indexing"
	formatJSON     = "json"
)

var (
	flagSample = flag.String("sample", "", "Sample fusion to emit. Valid values: "+strings.Join(samples.Names(), ", "))
	flagAll    = flag.Bool("all", false, "Emit all sample fusions.")
	flagFormat = flag.String("format", formatMLIR,
		fmt.Sprintf("Output format: %q prints the emitted program, %q the indexing maps from the launch grid "+
			"and %q the indexing report in JSON.", formatMLIR, formatIndexing, formatJSON))
	flagThreads = flag.Int("threads", indexanalysis.DefaultThreadsPerBlock, "Maximum number of threads per block.")
	flagUnroll  = flag.Int("unroll", 0, "Unroll factor, it must divide the number of elements of the outputs. "+
		"If 0 it is selected automatically.")
	flagParallelism = flag.Int("parallelism", runtime.NumCPU(), "Number of fusions emitted in parallel with -all.")
)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#7D56F4")).
	BorderStyle(lipgloss.NormalBorder()).
	BorderBottom(true)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	switch *flagFormat {
	case formatMLIR, formatIndexing, formatJSON:
	default:
		klog.Fatalf("invalid -format=%q, valid values are %s, %s and %s", *flagFormat, formatMLIR, formatIndexing, formatJSON)
	}

	if *flagAll {
		if err := emitAll(); err != nil {
			klog.Fatalf("Failed on error: %+v", err)
		}
		return
	}

	name := *flagSample
	if name == "" {
		var err error
		name, err = pickSample()
		if err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				fmt.Println("Aborted.")
				return
			}
			klog.Fatalf("Failed on error: %+v", err)
		}
	}
	sample, err := samples.Get(name)
	if err != nil {
		klog.Fatalf("Failed on error: %+v", err)
	}
	output, err := emit(sample)
	if err != nil {
		klog.Fatalf("Failed on error: %+v", err)
	}
	printSample(sample, output)
}

// isInteractive returns whether both stdin and stdout are terminals.
func isInteractive() bool {
	return term.IsTerminal(os.Stdin.Fd()) && term.IsTerminal(os.Stdout.Fd())
}

// pickSample asks the user which sample to emit.
func pickSample() (string, error) {
	if !isInteractive() {
		return "", errors.New("no -sample or -all given, and not running on a terminal")
	}
	options := make([]huh.Option[string], 0, len(samples.All()))
	for _, s := range samples.All() {
		options = append(options, huh.NewOption(fmt.Sprintf("%s: %s", s.Name, s.Description), s.Name))
	}
	var name string
	err := huh.NewSelect[string]().
		Title("Loop fusion to emit").
		Options(options...).
		Value(&name).
		Run()
	return name, err
}

// emit builds the sample and returns its rendering in the selected format.
func emit(sample samples.Sample) (string, error) {
	computation, err := sample.Build()
	if err != nil {
		return "", errors.WithMessagef(err, "building sample %q", sample.Name)
	}
	var launchOptions []indexanalysis.LaunchOption
	launchOptions = append(launchOptions, indexanalysis.WithThreadsPerBlock(*flagThreads))
	if *flagUnroll > 0 {
		launchOptions = append(launchOptions, indexanalysis.WithUnrollFactor(*flagUnroll))
	}
	f, err := fusion.NewLoopFusion(computation, fusion.WithLaunchOptions(launchOptions...))
	if err != nil {
		return "", errors.WithMessagef(err, "sample %q", sample.Name)
	}
	switch *flagFormat {
	case formatIndexing:
		return indexingText(f)
	case formatJSON:
		data, err := fusion.IndexingReportJSON(f)
		return string(data), err
	default:
		return f.Emit()
	}
}

// indexingText lists the maps from the launch grid to each output and to the operands of its root.
func indexingText(f *fusion.LoopFusion) (string, error) {
	var sb strings.Builder
	w := func(format string, args ...any) {
		_, _ = fmt.Fprintf(&sb, format, args...)
	}
	w("launch: %s\n", f.LaunchConfig())
	for i, output := range f.Fusion().Outputs() {
		m, err := f.ComputeThreadIDToOutputIndexing(i)
		if err != nil {
			return "", err
		}
		w("output #%d (%s %s):\n  %s\n", i, output.Instruction.Name(), output.Shape(), m)
		for j, operand := range output.Instruction.Operands() {
			m, err := f.ComputeThreadIDToInputIndexing(i, j)
			if err != nil {
				return "", err
			}
			w("  operand #%d (%s %s):\n    %s\n", j, operand.Name(), operand.Shape(), m)
		}
	}
	return sb.String(), nil
}

// emitAll emits all samples in parallel and prints them in order. Failed samples are reported together,
// after the ones that succeeded are printed.
func emitAll() error {
	all := samples.All()
	outputs := make([]string, len(all))
	sampleErrs := make([]error, len(all))
	run := func() {
		var g errgroup.Group
		g.SetLimit(max(1, *flagParallelism))
		for i, sample := range all {
			g.Go(func() error {
				outputs[i], sampleErrs[i] = emit(sample)
				return nil
			})
		}
		_ = g.Wait()
	}
	if isInteractive() {
		if err := spinner.New().Title(fmt.Sprintf("Emitting %d loop fusions...", len(all))).Action(run).Run(); err != nil {
			return err
		}
	} else {
		run()
	}

	var err error
	for i, sample := range all {
		if sampleErrs[i] != nil {
			err = multierr.Append(err, sampleErrs[i])
			continue
		}
		printSample(sample, outputs[i])
	}
	return err
}

func printSample(sample samples.Sample, output string) {
	fmt.Println(headerStyle.Render(fmt.Sprintf("%s: %s", sample.Name, sample.Description)))
	fmt.Println(output)
}
