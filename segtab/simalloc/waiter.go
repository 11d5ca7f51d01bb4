package simalloc

import "sync"

// Waiter implements segtab.WaitForMemory by blocking on a
// sync.Cond until Release is called, simulating another kernel
// subsystem freeing memory elsewhere in the system.
type Waiter struct {
	mu   sync.Mutex
	cond *sync.Cond
}

// NewWaiter returns a ready-to-use Waiter.
func NewWaiter() *Waiter {
	w := &Waiter{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// WaitForMemory blocks until Release is next called.
func (w *Waiter) WaitForMemory() {
	w.mu.Lock()
	w.cond.Wait()
	w.mu.Unlock()
}

// Release wakes every goroutine parked in WaitForMemory.
func (w *Waiter) Release() {
	w.mu.Lock()
	w.cond.Broadcast()
	w.mu.Unlock()
}
