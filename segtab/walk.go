package segtab

// LeafFunc is the callback Process and Destroy invoke once per
// non-empty segment. segStart/segEnd are page-aligned and
// segEnd-segStart <= SegSize. leaf addresses the PTE for segStart.
// flags is passed through unexamined; its meaning belongs to the
// caller's PTE-semantics layer.
type LeafFunc func(as *AddressSpace, segStart, segEnd uintptr, leaf *LeafPage, flags WalkFlags)

// WalkFlags is passed through to LeafFunc unexamined; the engine
// assigns it no meaning.
type WalkFlags uint

// Process enumerates existing leaves in [sva, eva), invoking cb once
// per distinct installed segment (§4.G). It never allocates and never
// frees a leaf page: callers that want to free should use Destroy.
// Process is not safe against a concurrent Reserve on the same
// address space (§5); the pmap must serialize the two.
func (e *Engine) Process(as *AddressSpace, sva, eva uintptr, cb LeafFunc, flags WalkFlags) {
	if cb == nil || sva >= eva {
		return
	}
	sz := e.cfg.SegSize()
	for sva < eva {
		segEnd := e.cfg.TruncSeg(sva) + sz
		// Guard against overflow wrapping segEnd to zero (§4.G).
		if segEnd == 0 || segEnd > eva {
			segEnd = eva
		}

		if e.Lookup(as, sva) != nil {
			segStart := e.cfg.TruncSeg(sva)
			cb(as, segStart, segEnd, e.leafPageFor(as, sva), flags)
		}

		sva = segEnd
	}
}

// leafPageFor returns the LeafPage installed for va, or nil. Used by
// Process/Destroy, which need the LeafPage itself (for the callback
// and for reclamation) rather than just one PTE pointer.
func (e *Engine) leafPageFor(as *AddressSpace, va uintptr) *LeafPage {
	root := as.Root()
	if root == nil {
		return nil
	}
	leafHolder := root
	if e.cfg.Is64 {
		leafHolder = root.segChildren[e.cfg.XSegIndex(va)].Load()
		if leafHolder == nil {
			return nil
		}
	}
	return leafHolder.pteChildren[e.cfg.SegIndex(va)].Load()
}

// Destroy tears down as's entire tree: every installed leaf is passed
// to cb (if non-nil) so PTEs can be recorded/cleared, then reclaimed
// (returned to the leaf cache or page allocator); every drained
// interior/root node is returned to the descriptor freelist. as.root
// is cleared on return. Destroy is a no-op if as has no root (already
// destroyed, or never initialized).
func (e *Engine) Destroy(as *AddressSpace, cb LeafFunc, flags WalkFlags) {
	root := as.Root()
	if root == nil {
		return
	}

	if e.cfg.Is64 {
		e.destroyInterior(as, root, cb, flags)
	} else {
		e.destroyLeaves(as, root, 0, cb, flags)
	}

	auditNode(e.cfg, root, "root drain")
	e.descs.free(root)
	as.root.Store(nil)
}

// destroyInterior walks a 64-bit root: span > SegSize, so each
// non-nil child is a further segtab node covering SegSize*SegtabFanout
// bytes, recursed into via destroyLeaves.
func (e *Engine) destroyInterior(as *AddressSpace, root *Node, cb LeafFunc, flags WalkFlags) {
	xsegSize := uintptr(1) << e.cfg.XSegShift()
	for i := range root.segChildren {
		slot := &root.segChildren[i]
		child := slot.Load()
		if child == nil {
			continue
		}
		base := uintptr(i) * xsegSize
		e.destroyLeaves(as, child, base, cb, flags)

		auditNode(e.cfg, child, "interior drain")
		e.descs.free(child)
		slot.Store(nil)
	}
}

// destroyLeaves walks a node whose span == SegSize (the level directly
// above the leaves): for each non-nil leaf, audit it, invoke cb with
// its [va, va+SegSize) range, unmap/reclaim its backing page, and zero
// the slot. Every computed va is checked against as.MinAddr (the
// address space's documented lower bound, §3): a populated slot below
// it means either Reserve installed into illegal address space, or
// the walk's own index arithmetic is wrong, both of which are audit
// failures rather than something to silently tolerate.
func (e *Engine) destroyLeaves(as *AddressSpace, holder *Node, base uintptr, cb LeafFunc, flags WalkFlags) {
	segSize := e.cfg.SegSize()
	for i := range holder.pteChildren {
		slot := &holder.pteChildren[i]
		leaf := slot.Load()
		if leaf == nil {
			continue
		}
		va := base + uintptr(i)*segSize
		if e.cfg.Debug && va < as.MinAddr {
			fatalf("segtab: destroy walk produced va %#x below MinAddr %#x", va, as.MinAddr)
		}

		auditLeafAlignment(e.cfg, leaf, "destroy walk")
		if cb != nil {
			cb(as, va, va+segSize, leaf, flags)
		}
		// The callback is expected to leave the leaf's PTEs zeroed
		// (§4.G's "semantic note"); reclaim it regardless.
		e.leaves.release(leaf, e.alloc)
		slot.Store(nil)
	}
}
