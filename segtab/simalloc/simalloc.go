// Package simalloc provides a reference segtab.PageAllocator backed
// by a slab of page-aligned memory (one slab per Allocator), standing in for the
// real physical-page allocator the engine treats as an external
// collaborator (spec §6). It is modeled on
// biscuit/src/mem/mem.go's Physmem_t: a free index chained through
// each page's own storage, guarded by a single mutex, with a fixed
// capacity that can be drained to exercise CanFail (spec scenario S4).
package simalloc

import (
	"sync"
	"unsafe"
)

// page is the slab entry type: raw, page-sized storage plus an index
// of the next free page (or -1), mirroring Physmem_t's Pgs/nexti
// freelist-over-a-slice layout.
type page struct {
	bytes []byte
	nexti int
}

// Allocator is a fixed-capacity pool of zero-filled, page-aligned
// byte slices. The zero value is not usable; construct with New.
type Allocator struct {
	pageSize int

	mu       sync.Mutex
	pages    []page
	freeHead int
	freeLen  int
}

// New creates an Allocator with room for capacity pages of pageSize
// bytes each, all initially free.
func New(pageSize, capacity int) *Allocator {
	a := &Allocator{pageSize: pageSize, pages: make([]page, capacity)}
	for i := range a.pages {
		a.pages[i].bytes = alignedBytes(pageSize)
		if i == capacity-1 {
			a.pages[i].nexti = -1
		} else {
			a.pages[i].nexti = i + 1
		}
	}
	a.freeHead = 0
	if capacity == 0 {
		a.freeHead = -1
	}
	a.freeLen = capacity
	return a
}

// alignedBytes returns a pageSize-length slice whose backing array
// starts on a pageSize boundary, the same over-allocate-and-round-down
// trick biscuit/src/mem/mem.go's Dmap applies to the direct map.
func alignedBytes(pageSize int) []byte {
	raw := make([]byte, pageSize*2)
	addr := uintptr(unsafe.Pointer(&raw[0]))
	off := (uintptr(pageSize) - addr%uintptr(pageSize)) % uintptr(pageSize)
	return raw[off : off+uintptr(pageSize)]
}

// AllocZeroPage implements segtab.PageAllocator.
func (a *Allocator) AllocZeroPage() (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freeHead < 0 {
		return nil, false
	}
	idx := a.freeHead
	a.freeHead = a.pages[idx].nexti
	a.freeLen--
	p := &a.pages[idx]
	for i := range p.bytes {
		p.bytes[i] = 0
	}
	return idx, true
}

// FreePage implements segtab.PageAllocator. p must be a value
// previously returned by AllocZeroPage on the same Allocator.
func (a *Allocator) FreePage(p any) {
	idx := p.(int)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pages[idx].nexti = a.freeHead
	a.freeHead = idx
	a.freeLen++
}

// Bytes implements segtab.PageAllocator.
func (a *Allocator) Bytes(p any) []byte {
	idx := p.(int)
	return a.pages[idx].bytes
}

// Free reports how many pages remain available, for tests that drain
// the allocator to exercise ReserveFlags.CanFail (scenario S4).
func (a *Allocator) Free() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeLen
}

// Drain removes up to n pages from the free list without returning
// them anywhere, simulating memory pressure.
func (a *Allocator) Drain(n int) []any {
	held := make([]any, 0, n)
	for i := 0; i < n; i++ {
		p, ok := a.AllocZeroPage()
		if !ok {
			break
		}
		held = append(held, p)
	}
	return held
}
