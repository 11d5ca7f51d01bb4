package segtab

// Lookup walks root -> interior -> leaf (or root -> leaf on a 32-bit
// configuration) for va and returns a pointer to its PTE slot, or nil
// if no mapping has been reserved yet (§4.E). Lookup takes no locks:
// it is safe against a concurrent Reserve because Reserve only ever
// publishes a fully initialized child via a release-ordered
// compare-and-swap and never mutates an already-published slot.
func (e *Engine) Lookup(as *AddressSpace, va uintptr) *uintptr {
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

	leaf := leafHolder.pteChildren[e.cfg.SegIndex(va)].Load()
	if leaf == nil {
		return nil
	}
	return leaf.At(e.cfg.LeafIndex(va))
}
