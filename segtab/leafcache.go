package segtab

import (
	"sync"
	"unsafe"
)

// leafCache is the optional §4.D cache of released, zero-filled leaf
// PTE pages. It shares its lock with the descriptor freelist (§4.C),
// exactly as the distilled spec requires, so the two caches never
// deadlock against each other and their critical sections stay
// pointer-only.
type leafCache struct {
	cfg     Config
	enabled bool
	mu      *sync.Mutex

	head    *LeafPage
	metrics *Metrics
}

func newLeafCache(cfg Config, mu *sync.Mutex, metrics *Metrics) *leafCache {
	return &leafCache{cfg: cfg, enabled: cfg.CacheLeaves, mu: mu, metrics: metrics}
}

// allocate returns a zeroed LeafPage, preferring the cache. Unlike
// descriptor allocation this never blocks: a miss falls straight
// through to alloc, and alloc's own failure is reported to the
// caller (Reserve translates that into CanFail/fatal per §4.F step 3).
func (lc *leafCache) allocate(alloc PageAllocator) (*LeafPage, bool) {
	if lc.enabled {
		lc.mu.Lock()
		p := lc.pop()
		lc.mu.Unlock()
		if p != nil {
			auditLeaf(lc.cfg, p, "leaf cache removal")
			lc.metrics.LeafHits.Inc()
			return p, true
		}
	}
	lc.metrics.LeafMisses.Inc()
	page, ok := alloc.AllocZeroPage()
	if !ok {
		return nil, false
	}
	return newLeafPage(lc.cfg, page, alloc), true
}

// release returns p to the cache if enabled, else straight to alloc.
func (lc *leafCache) release(p *LeafPage, alloc PageAllocator) {
	auditLeaf(lc.cfg, p, "leaf release")
	if !lc.enabled {
		alloc.FreePage(p.backing)
		return
	}
	lc.mu.Lock()
	p.link = lc.head
	lc.head = p
	lc.mu.Unlock()
}

func (lc *leafCache) pop() *LeafPage {
	p := lc.head
	if p == nil {
		return nil
	}
	lc.head = p.link
	p.link = nil
	return p
}

// newLeafPage wraps a freshly allocated page as a LeafPage sized for
// cfg's PTEPerPage.
func newLeafPage(cfg Config, page Page, alloc PageAllocator) *LeafPage {
	raw := alloc.Bytes(page)
	n := int(cfg.PTEPerPage())
	if len(raw) < n*int(wordBytes) {
		fatalf("segtab: page too small for %d PTEs", n)
	}
	// Reinterpret the allocator's raw, page-aligned bytes as an array
	// of PTE words, mirroring biscuit/src/mem/mem.go's Pg2bytes/
	// Bytepg2pg casts between a page's byte and word views.
	words := unsafe.Slice((*uintptr)(unsafe.Pointer(&raw[0])), n)
	return &LeafPage{ptes: words, backing: page}
}
