// Package fence provides scoped ownership of hardware synchronization points.
//
// A [Fence] owns exactly one synchronization point: a value on a GPU timeline
// fence (see [Timeline]), a Linux sync_file descriptor (see [FromFD]) or a
// merge of several points (see [Merge]). Ownership is explicit and move-only:
//
//	f := tl.Next()        // f owns the point
//	g := f.Take()         // ownership moves to g, f is now empty
//	h, _ := g.Dup()       // h is an independent owner of the same point
//	defer g.Close()       // Close is idempotent and safe on nil
//
// Waits are always bounded. [Fence.Wait] returns [ErrTimeout] once the bound
// passes and never blocks past it, so callers can treat a missed fence as a
// delayed reclaim rather than a hang.
//
// A nil or empty Fence is considered signaled.
package fence
