package segtab

import "sync/atomic"

// AddressSpace is the subset of a pmap's state this engine reads and
// writes (§3, "Address-space descriptor"). The higher-level pmap owns
// everything else (permissions, TLB bookkeeping, vm regions); this
// engine only ever touches root and MinAddr.
type AddressSpace struct {
	root atomic.Pointer[Node]

	// MinAddr is the lowest legal virtual address in this space. It
	// does not change the walk's index arithmetic (slot indices are
	// always absolute, computed the same way Lookup/Reserve compute
	// them); Destroy's walk instead checks every va it produces
	// against MinAddr, under Config.Debug, catching an address space
	// that was ever populated below its own stated bound.
	MinAddr uintptr

	// Kernel marks the space as the kernel pmap. Activate publishes
	// the "invalid" sentinel for a kernel space instead of its real
	// root pointer (§4.H).
	Kernel bool
}

// Root returns the current root node, or nil before Init / after
// Destroy.
func (as *AddressSpace) Root() *Node {
	return as.root.Load()
}
