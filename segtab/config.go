// Package segtab implements the segment-table engine: the
// per-address-space software radix tree that locates the leaf
// page-table-entry (PTE) slot for a virtual address and manages the
// lifecycle of the interior nodes and leaf pages that back it.
package segtab

import "math/bits"

// wordBytes is the size in bytes of one PTE slot. The engine treats a
// PTE as an opaque uintptr-sized word; callers attach meaning to it.
const wordBytes = 8

// Config derives the shape of a segtab engine's tree from a hardware
// page size and address width. A single Config is shared by every
// AddressSpace created through the Engine that holds it; §4.A of the
// design.
type Config struct {
	// PageShift is log2 of the hardware page size.
	PageShift uint

	// SegtabFanout is the number of slots in one segtab node (root or
	// interior). PageSize >= SegtabFanout*wordBytes must hold so that a
	// node fits within one backing page.
	SegtabFanout uint

	// Is64 selects a 3-level tree (root -> interior -> leaf) when true,
	// or a 2-level tree (root -> leaf) when false.
	Is64 bool

	// CacheLeaves enables the leaf-PTE page cache (component D). When
	// false, leaf pages go straight to/from the PageAllocator.
	CacheLeaves bool

	// Debug enables the zero-audit checks of component B. Production
	// builds of the engine this was modeled on compile these out; here
	// it is a runtime switch so both modes are exercised by tests.
	Debug bool
}

// PageSize is 1 << PageShift.
func (c Config) PageSize() int { return 1 << c.PageShift }

// PTEPerPage is the number of PTE slots that fit in one leaf page.
func (c Config) PTEPerPage() uint {
	return uint(c.PageSize()) / wordBytes
}

// SegShift is the number of VA bits covered by a single leaf page.
func (c Config) SegShift() uint {
	return c.PageShift + uint(bits.Len(c.PTEPerPage()-1))
}

// SegSize is the number of bytes covered by a single leaf page, i.e.
// by one segment.
func (c Config) SegSize() uintptr {
	return uintptr(1) << c.SegShift()
}

// XSegShift is the number of VA bits covered by one interior node.
// Only meaningful when Is64 is set.
func (c Config) XSegShift() uint {
	return c.SegShift() + uint(bits.Len(c.SegtabFanout-1))
}

// fanoutMask returns SegtabFanout-1, used to mask an index into a
// node's slot array. SegtabFanout must be a power of two.
func (c Config) fanoutMask() uint {
	return c.SegtabFanout - 1
}

// pteMask returns PTEPerPage-1.
func (c Config) pteMask() uint {
	return c.PTEPerPage() - 1
}

// LeafIndex returns the index of va's PTE within its leaf page.
func (c Config) LeafIndex(va uintptr) uint {
	return uint(va>>c.PageShift) & c.pteMask()
}

// SegIndex returns the index of va's leaf (or, on 32-bit configs, its
// root) slot within a segtab node.
func (c Config) SegIndex(va uintptr) uint {
	return uint(va>>c.SegShift()) & c.fanoutMask()
}

// XSegIndex returns the index of va's interior-node slot within the
// root. Only meaningful when Is64 is set.
func (c Config) XSegIndex(va uintptr) uint {
	return uint(va>>c.XSegShift()) & c.fanoutMask()
}

// TruncSeg rounds va down to the start of its segment.
func (c Config) TruncSeg(va uintptr) uintptr {
	return va &^ (c.SegSize() - 1)
}

// validate panics if the configuration violates a static requirement
// of the engine (PAGE_SIZE >= sizeof(segtab), power-of-two fanout).
func (c Config) validate() {
	if c.PageShift == 0 {
		fatalf("segtab: zero PageShift in Config")
	}
	if c.SegtabFanout == 0 || c.SegtabFanout&(c.SegtabFanout-1) != 0 {
		fatalf("segtab: SegtabFanout %d is not a power of two", c.SegtabFanout)
	}
	nodeBytes := uintptr(c.SegtabFanout) * wordBytes
	if nodeBytes > uintptr(c.PageSize()) {
		fatalf("segtab: segtab node (%d bytes) does not fit in one page (%d bytes)", nodeBytes, c.PageSize())
	}
}
