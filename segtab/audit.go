package segtab

import (
	"fmt"
	"unsafe"
)

// auditNode fails fatally if any slot of n is non-nil. Active only
// when cfg.Debug is set; matches the teacher's pattern of compiling
// debug-only checks out of production builds (biscuit/src/stats),
// realized here as a runtime switch so a single test binary can
// exercise both modes.
func auditNode(cfg Config, n *Node, why string) {
	if !cfg.Debug || n == nil {
		return
	}
	violations := 0
	for i, c := range n.segChildren {
		if c.Load() != nil {
			logAuditViolation("segChildren", i, why)
			violations++
		}
	}
	for i, c := range n.pteChildren {
		if c.Load() != nil {
			logAuditViolation("pteChildren", i, why)
			violations++
		}
	}
	if violations > 0 {
		fatalf("segtab: audit_node: %d non-zero slot(s) at %s", violations, why)
	}
}

// auditLeaf fails fatally if p is not page-aligned or any PTE word of
// p is non-zero.
func auditLeaf(cfg Config, p *LeafPage, why string) {
	if !cfg.Debug || p == nil {
		return
	}
	if len(p.ptes) > 0 {
		addr := uintptr(unsafe.Pointer(&p.ptes[0]))
		if addr%uintptr(cfg.PageSize()) != 0 {
			fatalf("segtab: audit_leaf: leaf page at %#x is not page-aligned (%s)", addr, why)
		}
	}
	violations := 0
	for i, w := range p.ptes {
		if w != 0 {
			logAuditViolation("pte", i, why)
			violations++
		}
	}
	if violations > 0 {
		fatalf("segtab: audit_leaf: %d non-zero word(s) at %s", violations, why)
	}
}

// auditLeafAlignment checks only invariant I4 (page alignment),
// without requiring the leaf to be zero. Destroy calls this on a live
// leaf before invoking its callback, where the full auditLeaf zero
// check would always fail (the leaf still carries real mappings); the
// zero check runs later, at the point the leaf is actually recycled
// to the cache or allocator, once the callback has cleared it.
func auditLeafAlignment(cfg Config, p *LeafPage, why string) {
	if !cfg.Debug || p == nil || len(p.ptes) == 0 {
		return
	}
	addr := uintptr(unsafe.Pointer(&p.ptes[0]))
	if addr%uintptr(cfg.PageSize()) != 0 {
		fatalf("segtab: audit_leaf: leaf page at %#x is not page-aligned (%s)", addr, why)
	}
}

// logAuditViolation emits a diagnostic line per violating slot before
// the caller halts, per §4.B ("Both emit a diagnostic line per
// violating slot before halting"). Kept as a variable, in the style of
// biscuit/src/vm/as.go's mockable function variables, so tests can
// capture violations instead of scanning stdout.
var logAuditViolation = func(kind string, index int, why string) {
	fmt.Printf("segtab: audit: slot %s[%d] non-zero at %s\n", kind, index, why)
}
