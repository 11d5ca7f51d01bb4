// Package metrics provides build-gated counters for the segtab
// engine, modeled on biscuit/src/stats/stats.go's Counter_t: a
// compile-time switch (Enabled) that callers can flip off to compile
// the increments out of a production build, and a reflection-based
// dump for ad-hoc printing.
package metrics

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
)

// Enabled gates every Counter's Inc. Production builds of the engine
// this package was modeled on set this false to avoid the atomic add
// on every freelist hit; tests leave it true to assert on counts.
const Enabled = true

// Counter is an atomically-incremented statistic.
type Counter int64

// Inc increments the counter by one when Enabled.
func (c *Counter) Inc() {
	if Enabled {
		atomic.AddInt64((*int64)(c), 1)
	}
}

// Load returns the counter's current value.
func (c *Counter) Load() int64 {
	return atomic.LoadInt64((*int64)(c))
}

// Dump renders every Counter field of st as a "\n\t#Name: value"
// entry, followed by a final newline, in the style of Stats2String.
func Dump(st any) string {
	v := reflect.ValueOf(st)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	var b strings.Builder
	for i := 0; i < v.NumField(); i++ {
		ft := v.Field(i).Type()
		if strings.HasSuffix(ft.String(), "Counter") {
			n := v.Field(i).Interface().(Counter)
			b.WriteString("\n\t#")
			b.WriteString(v.Type().Field(i).Name)
			b.WriteString(": ")
			b.WriteString(strconv.FormatInt(int64(n), 10))
		}
	}
	b.WriteString("\n")
	return b.String()
}
