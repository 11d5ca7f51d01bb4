package segtab

import (
	"sync"

	"segtab/segtab/metrics"
)

// Engine owns the shared, process-wide state of the segtab subsystem:
// the configuration (§4.A), the two caches (§4.C, §4.D) behind their
// single shared lock (§5), the collaborator implementations (§6), and
// the metrics (see SPEC_FULL.md's supplemental components). One
// Engine serves every AddressSpace that shares its Config.
type Engine struct {
	cfg Config

	alloc   PageAllocator
	waiter  WaitForMemory
	md      MDHooks
	cpu     *CPULocalProvider

	mu         sync.Mutex
	descs      *descriptorFreelist
	leaves     *leafCache
	metrics    Metrics
}

// NewEngine builds an Engine. alloc must not be nil; waiter, md, and
// cpu may be nil, in which case descriptor exhaustion retries without
// blocking, Activate/Deactivate are no-ops at the hardware level, and
// per-CPU publication is skipped, respectively.
func NewEngine(cfg Config, alloc PageAllocator, waiter WaitForMemory, md MDHooks, cpu *CPULocalProvider) *Engine {
	cfg.validate()
	if alloc == nil {
		fatalf("segtab: NewEngine requires a non-nil PageAllocator")
	}
	if md == nil {
		md = noopMDHooks{}
	}
	e := &Engine{cfg: cfg, alloc: alloc, waiter: waiter, md: md, cpu: cpu}
	e.descs = newDescriptorFreelist(cfg, &e.mu, &e.metrics)
	e.leaves = newLeafCache(cfg, &e.mu, &e.metrics)
	return e
}

// Config returns the configuration this engine was built with.
func (e *Engine) Config() Config { return e.cfg }

// Metrics returns the engine's counters (freelist hits/misses, CAS
// race losses, descriptor carves). Safe to read concurrently.
func (e *Engine) Metrics() Metrics {
	var m Metrics
	m.DescriptorHits = metrics.Counter(e.metrics.DescriptorHits.Load())
	m.DescriptorStalls = metrics.Counter(e.metrics.DescriptorStalls.Load())
	m.DescriptorCarves = metrics.Counter(e.metrics.DescriptorCarves.Load())
	m.LeafHits = metrics.Counter(e.metrics.LeafHits.Load())
	m.LeafMisses = metrics.Counter(e.metrics.LeafMisses.Load())
	m.CASLosses = metrics.Counter(e.metrics.CASLosses.Load())
	return m
}

// Init installs a new, empty root segtab node into as. Infallible: a
// root allocation that exhausts memory blocks (via the descriptor
// freelist's wait channel) rather than failing, matching §6's
// "infallible (may sleep)" note. Init must only be called once per
// AddressSpace.
func (e *Engine) Init(as *AddressSpace) {
	if as.root.Load() != nil {
		fatalf("segtab: Init called on an address space that already has a root")
	}
	root := e.descs.allocate(e.alloc, e.waiter)
	auditNode(e.cfg, root, "root allocation")
	as.root.Store(root)
}
