package segtab

import "segtab/segtab/metrics"

// Metrics holds the engine-wide counters described in SPEC_FULL.md's
// supplemental components: freelist hit/miss rates and the frequency
// of CAS race losses, which are otherwise invisible from the outside
// since losers are silently recycled. Fields are exported, as
// biscuit/src/stats/stats.go's reflection-based Stats2String requires
// of any struct it walks.
type Metrics struct {
	DescriptorHits   metrics.Counter
	DescriptorStalls metrics.Counter
	DescriptorCarves metrics.Counter
	LeafHits         metrics.Counter
	LeafMisses       metrics.Counter
	CASLosses        metrics.Counter
}

// String renders the metrics with metrics.Dump, in the teacher's
// Stats2String style.
func (m Metrics) String() string {
	return metrics.Dump(&m)
}
