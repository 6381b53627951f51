// Package pipe manages the fixed inventory of hardware composition pipes.
//
// A pipe reads one buffer and composites (optionally scaling it) into a
// mixer. Pipes come in three types with increasing capability:
//
//	DMA  plain RGB fetch, no scaling
//	RGB  RGB fetch with a scaler
//	VG   video pipe: YUV fetch, scaler, deinterlace and color adjustment
//
// The [Registry] hands out pipes to per-display owners and enforces the
// per-mixer limits of the hardware: at most MaxPerMixer pipes in total and
// at most Limits[t] pipes of type t may be busy on one mixer at once.
//
// A pipe's life cycle is:
//
//	free ──Acquire──▶ reserved ──EndRound──▶ active
//	  ▲                  │                     │
//	  └─────Release──────┘                  Release
//	  ▲                                        ▼
//	  └────────EndRound(release fence)──── draining
//
// A pipe that was scanned out stays draining until the display obtains the
// release fence of a later frame, so its old buffer is never reused while
// the hardware may still read it.
package pipe
