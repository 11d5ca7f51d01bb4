package segtab

import "sync/atomic"

// invalidSentinel is published to a CPULocal's fields when the active
// pmap is the kernel's, so that a faulty access to these cached
// pointers traps instead of silently reading a real segtab (§4.H).
var invalidSentinel = &Node{}

// CPULocal holds the per-CPU published pointers Activate/Deactivate
// maintain, modeled on biscuit/src/mem/mem.go's
// percpu [runtime.MAXCPUS]pcpuphys_t array.
type CPULocal struct {
	// UserSegtab is the current address space's root node.
	UserSegtab atomic.Pointer[Node]

	// UserSeg0tab is root.segChildren[0] on a 64-bit configuration: an
	// architectural shortcut for MMU-reload paths that need the
	// top-level interior pointer directly (the distilled spec's open
	// question, §9). On 32-bit configurations Activate stores nil here
	// for a user space; kernel activation and Deactivate store the
	// invalid sentinel whatever the configuration. The engine never
	// reads it.
	UserSeg0tab atomic.Pointer[Node]

	// CurrentThread is the thread the scheduler has running on this
	// CPU right now. Activate only publishes (and only reloads
	// hardware translation registers) when it is called on behalf of
	// this thread; a call naming any other thread is a no-op, per
	// §4.H. Owned by the scheduler, not by this engine.
	CurrentThread ThreadID
}

// CPULocalProvider resolves the CPULocal area for the calling CPU,
// standing in for the imported cpu_local_state() collaborator.
type CPULocalProvider struct {
	Current func() *CPULocal
}

// Activate publishes as's root (and, on a 64-bit configuration, the
// top-level interior pointer through root.segChildren[0]) to the
// current CPU's local state when thread is the CPU's current thread,
// then delegates to the architecture hook. A kernel pmap publishes
// the invalid sentinel to both fields instead, so user accesses
// cached through them trap (§4.H). When thread does not name the
// CPU's current thread, Activate is a no-op: it neither publishes nor
// calls the architecture hook, since there would be nothing running
// on this CPU to reload translation registers for. A CPULocalProvider
// that can't resolve a CPULocal (nil provider, or Current returning
// nil) has no current-thread state to compare against, so the call
// is treated unconditionally as naming the current thread.
func (e *Engine) Activate(as *AddressSpace, thread ThreadID) {
	if e.cpu != nil && e.cpu.Current != nil {
		cl := e.cpu.Current()
		if cl != nil {
			if thread != cl.CurrentThread {
				return
			}
			if as.Kernel {
				cl.UserSegtab.Store(invalidSentinel)
				cl.UserSeg0tab.Store(invalidSentinel)
			} else {
				root := as.Root()
				cl.UserSegtab.Store(root)
				if e.cfg.Is64 && root != nil {
					cl.UserSeg0tab.Store(root.segChildren[0].Load())
				} else {
					cl.UserSeg0tab.Store(nil)
				}
			}
		}
	}
	e.md.Activate(as, thread)
}

// Deactivate resets the current CPU's local fields to the invalid
// sentinel and calls the architecture hook. It performs no check that
// as is actually active; callers invoke it unconditionally on
// context-switch-out, per §4.H.
func (e *Engine) Deactivate(as *AddressSpace) {
	if e.cpu != nil && e.cpu.Current != nil {
		cl := e.cpu.Current()
		if cl != nil {
			cl.UserSegtab.Store(invalidSentinel)
			cl.UserSeg0tab.Store(invalidSentinel)
		}
	}
	e.md.Deactivate(as)
}
