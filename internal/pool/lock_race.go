//go:build race

package pool

import "sync"

type shardLock struct {
	mu sync.Mutex
}

func (l *shardLock) acquire() { l.mu.Lock() }
func (l *shardLock) release() { l.mu.Unlock() }
