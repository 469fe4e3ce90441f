// Package pool recycles the buffers programs are rendered into: a batch of fusions rendered concurrently
// reuses a handful of large buffers instead of growing new ones for every program.
//
// Free buffers are kept per P (the runtime's logical processor), so Get and Put don't contend with each
// other across goroutines: the calling goroutine is pinned to its P while it touches that P's free list.
package pool

import (
	"bytes"
	"runtime"
	"sync/atomic"
)

// cacheLineSize is the cache line size (64 bytes on amd64 and arm64).
const cacheLineSize = 64

// slotsPerShard is the number of free buffers kept per P. Buffers returned to a full shard are dropped.
const slotsPerShard = 4

// shard holds the free buffers of one P.
// It is padded to cacheLineSize to prevent false sharing, assuming 8 bytes pointers and ints.
type shard struct {
	free [slotsPerShard]*bytes.Buffer
	n    int

	// shardLock only synchronizes in race builds, where it tells the race detector about the
	// happens-before relation given by the pinning.
	shardLock

	_ [cacheLineSize - (slotsPerShard+2)*8]byte
}

// Buffers is a pool of byte buffers with one free list per P. Buffers in the pool never expire, but
// buffers grown beyond MaxRetained bytes are not kept, so one very large program doesn't pin its memory.
type Buffers struct {
	shards      []shard
	maxRetained int
	allocated   atomic.Int64
}

// NewBuffers creates a pool that keeps buffers of capacity up to maxRetained bytes.
// If maxRetained <= 0 buffers of any capacity are kept.
func NewBuffers(maxRetained int) *Buffers {
	return &Buffers{
		shards:      make([]shard, runtime.GOMAXPROCS(0)),
		maxRetained: maxRetained,
	}
}

// Get returns an empty buffer, reused from the pool if there is one free for the current P.
// Return it with Put once its contents are no longer used.
func (p *Buffers) Get() *bytes.Buffer {
	var buf *bytes.Buffer
	pid := runtime_procPin()
	// GOMAXPROCS may have grown since the pool was created: those Ps simply don't share buffers.
	if pid < len(p.shards) {
		s := &p.shards[pid]
		s.acquire()
		if s.n > 0 {
			s.n--
			buf, s.free[s.n] = s.free[s.n], nil
		}
		s.release()
	}
	runtime_procUnpin()

	if buf == nil {
		p.allocated.Add(1)
		return &bytes.Buffer{}
	}
	buf.Reset()
	return buf
}

// Put returns buf to the pool. It is dropped if it grew beyond the retained capacity, or if the free list of
// the current P is full.
func (p *Buffers) Put(buf *bytes.Buffer) {
	if buf == nil || (p.maxRetained > 0 && buf.Cap() > p.maxRetained) {
		return
	}
	pid := runtime_procPin()
	if pid < len(p.shards) {
		s := &p.shards[pid]
		s.acquire()
		if s.n < slotsPerShard {
			s.free[s.n] = buf
			s.n++
		}
		s.release()
	}
	runtime_procUnpin()
}

// Allocated returns the number of buffers created by Get so far.
func (p *Buffers) Allocated() int64 {
	return p.allocated.Load()
}
