package segtab

import "sync"

// descriptorFreelist is the process-wide (here: per-Engine) singleton
// cache of reusable segtab node descriptors, §4.C. It is an intrusive
// singly linked list guarded by a single spin-lock shared with the
// leaf-page cache (§4.D); critical sections only ever touch pointers,
// never the allocator or a callback, per §5.
type descriptorFreelist struct {
	cfg Config
	mu  *sync.Mutex // shared with leafCache
	cv  *sync.Cond

	head    *Node
	metrics *Metrics
}

func newDescriptorFreelist(cfg Config, mu *sync.Mutex, metrics *Metrics) *descriptorFreelist {
	return &descriptorFreelist{cfg: cfg, mu: mu, cv: sync.NewCond(mu), metrics: metrics}
}

// allocate returns a zeroed Node, preferring the freelist over the
// backing allocator. Descriptor allocation never fails: if both the
// freelist and the allocator are empty, the caller blocks in
// waiter.WaitForMemory (the "segtab" wait channel, §5's only
// suspension point) and then asks the allocator again. With a nil
// waiter it retries the allocator immediately, without blocking. The
// freelist is checked only once, before the first allocator attempt.
func (fl *descriptorFreelist) allocate(alloc PageAllocator, waiter WaitForMemory) *Node {
	fl.mu.Lock()
	if n := fl.pop(); n != nil {
		fl.mu.Unlock()
		auditNode(fl.cfg, n, "descriptor freelist removal")
		fl.metrics.DescriptorHits.Inc()
		return n
	}
	fl.mu.Unlock()

	for {
		page, ok := alloc.AllocZeroPage()
		if ok {
			return fl.carve(page)
		}
		fl.metrics.DescriptorStalls.Inc()
		if waiter != nil {
			waiter.WaitForMemory()
			continue
		}
		// No wait channel configured: retry immediately. Tests that
		// want to observe blocking supply a WaitForMemory that itself
		// parks on a channel or sync.Cond.
	}
}

// carve treats one backing page as descriptorsPerPage(cfg) node
// descriptors (§4.C step 3): the first is returned directly, the rest
// are chained through their link field into a private list that is
// then spliced in front of the global head under the lock.
func (fl *descriptorFreelist) carve(page Page) *Node {
	n := descriptorsPerPage(fl.cfg)
	if n < 1 {
		n = 1
	}
	first := newNode(fl.cfg)
	if n == 1 {
		fl.metrics.DescriptorCarves.Inc()
		return first
	}

	rest := make([]*Node, n-1)
	for i := range rest {
		rest[i] = newNode(fl.cfg)
	}
	// Chain 1..N-2 into a private list (the last of "rest" is spliced
	// as the new tail, the others point to each other via link).
	for i := 0; i < len(rest)-1; i++ {
		rest[i].link = rest[i+1]
	}

	fl.mu.Lock()
	rest[len(rest)-1].link = fl.head
	fl.head = rest[0]
	fl.mu.Unlock()

	fl.metrics.DescriptorCarves.Inc()
	return first
}

// free returns n to the freelist. n must already satisfy invariant I2
// (fully zero); this is verified by audit before it is linked in.
func (fl *descriptorFreelist) free(n *Node) {
	auditNode(fl.cfg, n, "descriptor freelist insertion")
	fl.mu.Lock()
	n.link = fl.head
	fl.head = n
	fl.cv.Broadcast()
	fl.mu.Unlock()
}

// pop removes and returns the freelist head, or nil if empty. Must be
// called with fl.mu held.
func (fl *descriptorFreelist) pop() *Node {
	n := fl.head
	if n == nil {
		return nil
	}
	fl.head = n.link
	n.link = nil
	return n
}

// descriptorsPerPage mirrors §4.C's "PAGE_SIZE / sizeof(segtab)"
// amortization ratio.
func descriptorsPerPage(cfg Config) int {
	descBytes := uintptr(cfg.SegtabFanout) * wordBytes
	if descBytes == 0 {
		return 1
	}
	n := uintptr(cfg.PageSize()) / descBytes
	if n < 1 {
		return 1
	}
	return int(n)
}
