package pool

import (
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardLayout(t *testing.T) {
	if unsafe.Sizeof(uintptr(0)) != 8 {
		t.Skip("padding assumes 64 bits")
	}
	assert.EqualValues(t, cacheLineSize, unsafe.Sizeof(shard{}))
}

func TestBuffers(t *testing.T) {
	p := NewBuffers(0)
	const numGoroutines = 500
	const numIterations = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for range numGoroutines {
		go func() {
			defer wg.Done()
			for range numIterations {
				buf := p.Get()
				if buf.Len() != 0 {
					t.Errorf("Get returned a buffer with %d bytes", buf.Len())
				}
				buf.WriteString("func.func @f() {}")
				time.Sleep(time.Duration(rand.Intn(10)) * time.Microsecond)
				p.Put(buf)
			}
		}()
	}
	wg.Wait()

	allocated := p.Allocated()
	t.Logf("buffers allocated: %d", allocated)
	assert.Less(t, allocated, int64(numGoroutines*numIterations), "pool is not reusing buffers")
}

func TestBuffersMaxRetained(t *testing.T) {
	p := NewBuffers(1024)
	buf := p.Get()
	require.EqualValues(t, 1, p.Allocated())
	buf.WriteString(strings.Repeat("x", 4096))
	p.Put(buf)

	// The grown buffer was dropped, and the pool has no other one.
	again := p.Get()
	assert.NotSame(t, buf, again)
	assert.EqualValues(t, 2, p.Allocated())
	assert.Zero(t, again.Len())

	p.Put(nil)
}

func BenchmarkBuffers(b *testing.B) {
	p := NewBuffers(0)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			p.Put(p.Get())
		}
	})
}
