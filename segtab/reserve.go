package segtab

// ReserveFlags controls Reserve's behavior on allocation failure.
type ReserveFlags struct {
	// CanFail, when set, makes Reserve return (nil, ErrNoMemory) if
	// leaf-page allocation fails instead of halting fatally. It has no
	// effect on descriptor (interior-node) allocation, which never
	// fails — it blocks and retries instead (§5, §7).
	CanFail bool
}

// Reserve ensures a PTE slot exists for va and returns a pointer to
// it, allocating and installing interior/leaf nodes on demand under
// compare-and-swap races (§4.F). It returns (nil, ErrNoMemory) only
// when flags.CanFail is set and leaf-page allocation fails; a leaf-page
// allocation failure without CanFail is fatal, and interior-node
// allocation never fails (it retries until it succeeds).
func (e *Engine) Reserve(as *AddressSpace, va uintptr, flags ReserveFlags) (*uintptr, error) {
	root := as.Root()
	if root == nil {
		fatalf("segtab: Reserve called before Init")
	}

	// Fast path (§4.F step 1): already installed.
	if pte := e.Lookup(as, va); pte != nil {
		return pte, nil
	}

	leafHolder := root
	if e.cfg.Is64 {
		leafHolder = e.reserveInterior(root, va)
	}

	leaf, err := e.reserveLeaf(leafHolder, va, flags)
	if err != nil {
		return nil, err
	}
	return leaf.At(e.cfg.LeafIndex(va)), nil
}

// reserveInterior ensures root.segChildren[xseg_index(va)] is
// installed and returns it, resolving races with a CAS (§4.F step 2).
func (e *Engine) reserveInterior(root *Node, va uintptr) *Node {
	idx := e.cfg.XSegIndex(va)
	slot := &root.segChildren[idx]

	if existing := slot.Load(); existing != nil {
		return existing
	}

	candidate := e.descs.allocate(e.alloc, e.waiter)
	auditNode(e.cfg, candidate, "interior node installation")

	if slot.CompareAndSwap(nil, candidate) {
		return candidate
	}

	// Lost the race: the winner's node is already published. Audit our
	// candidate zero (it was never touched) and return it to the
	// descriptor freelist it came from, not the leaf cache.
	e.metrics.CASLosses.Inc()
	e.descs.free(candidate)
	winner := slot.Load()
	if winner == nil {
		fatalf("segtab: interior slot is nil after a lost CAS")
	}
	return winner
}

// reserveLeaf ensures leafHolder.pteChildren[seg_index(va)] is
// installed and returns it (§4.F steps 3-4).
func (e *Engine) reserveLeaf(leafHolder *Node, va uintptr, flags ReserveFlags) (*LeafPage, error) {
	idx := e.cfg.SegIndex(va)
	slot := &leafHolder.pteChildren[idx]

	if existing := slot.Load(); existing != nil {
		return existing, nil
	}

	candidate, ok := e.leaves.allocate(e.alloc)
	if !ok {
		if flags.CanFail {
			return nil, ErrNoMemory
		}
		fatalf("segtab: leaf page allocation failed without CanFail set")
	}

	if slot.CompareAndSwap(nil, candidate) {
		return candidate, nil
	}

	// Lost the race: return the loser leaf to the leaf cache if it is
	// enabled, or to the allocator otherwise (§4.F step 4 and the
	// "Race-loser recycling" design note). With the cache enabled, a
	// loser that came from the allocator also goes to the cache.
	e.metrics.CASLosses.Inc()
	e.leaves.release(candidate, e.alloc)
	winner := slot.Load()
	if winner == nil {
		fatalf("segtab: leaf slot is nil after a lost CAS")
	}
	return winner, nil
}
