package segtab

// Page is an opaque handle for one physical page, exactly as returned
// by the external allocator. The engine never interprets it beyond
// passing it back to the collaborator it came from.
type Page = interface{}

// PageAllocator is the external physical-page allocator this engine
// imports (§6, "operations the engine imports"). Implementations must
// be safe for concurrent use; the engine may call AllocZeroPage from
// arbitrary goroutines racing to install the same slot.
type PageAllocator interface {
	// AllocZeroPage returns a freshly zeroed page, or ok=false if the
	// allocator is exhausted.
	AllocZeroPage() (p Page, ok bool)

	// FreePage returns a page to the allocator. The page must be fully
	// zero; callers are responsible for the zero-invariant, not this
	// method.
	FreePage(p Page)

	// Bytes returns the page's backing storage as a PageSize()-length
	// byte slice, addressable as PTE words or node slots depending on
	// the caller's level in the tree.
	Bytes(p Page) []byte
}

// WaitForMemory blocks until the allocator that backs the descriptor
// freelist is plausibly able to satisfy another AllocZeroPage call.
// Descriptor allocation is the engine's only suspension point (§5);
// reserve for a leaf page never blocks here (it fails fast under
// ReserveFlags.CanFail, or is fatal otherwise).
type WaitForMemory interface {
	WaitForMemory()
}

// MDHooks stands in for the architecture-specific md_activate/
// md_deactivate hooks that reload hardware translation registers.
type MDHooks interface {
	Activate(as *AddressSpace, thread ThreadID)
	Deactivate(as *AddressSpace)
}

// ThreadID identifies the thread an Activate call is being performed
// on behalf of; Activate is a no-op unless it matches the CPULocal's
// CurrentThread field (§4.H).
type ThreadID uint64

// noopMDHooks is used when an Engine is built without MDHooks; it lets
// tests exercise Activate/Deactivate without a real architecture
// binding.
type noopMDHooks struct{}

func (noopMDHooks) Activate(*AddressSpace, ThreadID) {}
func (noopMDHooks) Deactivate(*AddressSpace)         {}
