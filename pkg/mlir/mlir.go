// Package mlir builds the text of MLIR-like programs: a module with functions, whose bodies are lists of
// statements over SSA values, with nested regions for loops and conditionals.
//
// Operations are methods of the Function (or closure) they are appended to, e.g. Function.Extract or
// Function.For. They validate their inputs, including that the values are visible from the function, and
// return an error, so a program that builds is well-typed.
//
// Affine maps used by Function.AffineApply are deduplicated into "#mapN" aliases at the top of the program.
package mlir

import (
	"bytes"
	"fmt"

	"github.com/gomlx/loopemit/internal/pool"
	"github.com/gomlx/loopemit/internal/utils"
	"github.com/gomlx/loopemit/pkg/indexing"
	"github.com/pkg/errors"
)

// Builder of one program (module).
type Builder struct {
	name      string
	functions []*Function
	names     *utils.UniqueNames

	// affineMaps holds the text of the distinct affine maps, in order of first use, and aliases their alias.
	affineMaps []string
	aliases    map[string]string
}

// New creates a Builder for a module with the given name.
func New(name string) *Builder {
	return &Builder{
		name:    utils.NormalizeIdentifier(name),
		names:   utils.NewUniqueNames(),
		aliases: make(map[string]string),
	}
}

// Name of the module.
func (b *Builder) Name() string {
	return b.name
}

// NewFunction creates a new top-level function in the module. Functions are rendered in the order of
// creation. The name is normalized to a valid identifier and made unique within the module.
func (b *Builder) NewFunction(name string) *Function {
	fn := &Function{
		Builder: b,
		Name:    b.names.Name(utils.NormalizeIdentifier(name)),
	}
	b.functions = append(b.functions, fn)
	return fn
}

// Functions returns the top-level functions, in the order they were created.
func (b *Builder) Functions() []*Function {
	return b.functions
}

// affineMapAlias returns the alias ("#map", "#map1", ...) of the affine map of m.
func (b *Builder) affineMapAlias(m *indexing.Map) string {
	text := m.AffineMapString()
	if alias, found := b.aliases[text]; found {
		return alias
	}
	alias := "#map"
	if n := len(b.affineMaps); n > 0 {
		alias = fmt.Sprintf("#map%d", n)
	}
	b.aliases[text] = alias
	b.affineMaps = append(b.affineMaps, text)
	return alias
}

// maxRetainedBuffer is the largest render buffer kept for reuse.
const maxRetainedBuffer = 4 << 20

// buffers used to render programs.
var buffers = pool.NewBuffers(maxRetainedBuffer)

// Build checks that every function and region is complete, and returns the program text.
func (b *Builder) Build() ([]byte, error) {
	if len(b.functions) == 0 {
		return nil, errors.Errorf("module %q has no functions", b.name)
	}
	for _, fn := range b.functions {
		if err := fn.validate(); err != nil {
			return nil, errors.WithMessagef(err, "module %q", b.name)
		}
	}

	buf := buffers.Get()
	defer buffers.Put(buf)
	w := &writer{buf: buf}
	for i, text := range b.affineMaps {
		alias := "#map"
		if i > 0 {
			alias = fmt.Sprintf("#map%d", i)
		}
		w.printf("%s = affine_map<%s>\n", alias, text)
	}
	if len(b.affineMaps) > 0 {
		w.printf("\n")
	}
	w.printf("module @%s {\n", b.name)
	for i, fn := range b.functions {
		if i > 0 {
			w.printf("\n")
		}
		fn.write(w, indentation)
	}
	w.printf("}\n")
	return bytes.Clone(buf.Bytes()), nil
}

// indentation of each nesting level.
const indentation = "  "

type writer struct {
	buf *bytes.Buffer
}

func (w *writer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(w.buf, format, args...)
}
