package segtab

import (
	"errors"
	"fmt"
)

// ErrNoMemory is the only value-level error this engine ever returns.
// It is produced by Reserve when leaf-page allocation fails and the
// caller set ReserveFlags.CanFail. Every other failure mode (audit
// violations, misuse, leaf-page exhaustion without CanFail) is a
// contract violation and halts the subsystem through fatalf instead.
// Descriptor exhaustion is not a failure: descriptor allocation waits
// and retries until it succeeds.
var ErrNoMemory = errors.New("segtab: leaf page allocation failed")

// FatalError is the panic value fatalf raises. Tests that need to
// verify a fatal path (S4's non-CanFail exhaustion, audit failures)
// recover() and type-assert this instead of matching on a bare string.
type FatalError string

func (e FatalError) Error() string { return string(e) }

// fatalf reports an invariant violation or misuse and halts. Every
// §4.B audit failure and every leaf-page allocator denial without
// CanFail routes
// through here so the halting behavior has one call site, mirroring
// the teacher's direct panic(...) calls but keeping the panic value
// typed so test harnesses can recover() and assert on it.
func fatalf(format string, args ...any) {
	panic(FatalError(fmt.Sprintf(format, args...)))
}
