package dispatcher

import (
	"sync"

	"github.com/relaycall/relaycall/internal/core"
)

// resultFuture is completed exactly once with the call's terminal result.
// Workers always complete futures because every suspension point they wait on
// is bounded by the call context, so waiters never hang.
type resultFuture struct {
	ch     chan struct{}
	result *core.CallResult
	once   sync.Once
	mu     sync.Mutex
}

func newResultFuture() *resultFuture {
	return &resultFuture{ch: make(chan struct{})}
}

// complete sets the result and releases all waiters. Duplicate completions
// are ignored, preserving the one-result-per-call contract.
func (f *resultFuture) complete(result *core.CallResult) {
	f.once.Do(func() {
		f.mu.Lock()
		f.result = result
		f.mu.Unlock()
		close(f.ch)
	})
}

// wait blocks until the future completes.
func (f *resultFuture) wait() *core.CallResult {
	<-f.ch
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}
