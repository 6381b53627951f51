// Package rotator manages the pool of hardware rotator sessions.
//
// A rotator pre-rotates (90°) and decimates a buffer into scratch memory
// that a pipe then scans out. Scratch memory is double buffered: each
// [Session] owns a current generation of two slots, and the pipe keeps
// reading one slot while the rotator writes the other. When the output
// geometry changes a new generation is allocated; the previous one is kept
// until every frame that scanned it has released it.
//
// The ordering rules are:
//
//   - A slot is rewritten only after the release fence of the frame that
//     last scanned it signals.
//   - Nothing is queued into the current generation while the previous
//     generation's last rotation is still running.
//   - A previous generation is freed only after its release fences signal.
//
// All waits are bounded by [PoolConfig.WaitTimeout]. When a bound expires
// the rotation is skipped and the pipe keeps the last rotated buffer.
package rotator
