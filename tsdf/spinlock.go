package tsdf

import (
	"runtime"
	"sync/atomic"
)

// spinLock guards a single hash bucket. Critical sections are a chain walk
// and a handful of stores, so waiting goroutines yield instead of parking.
type spinLock struct {
	state atomic.Uint32
}

func (l *spinLock) Lock() {
	for !l.state.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

func (l *spinLock) Unlock() {
	l.state.Store(0)
}
