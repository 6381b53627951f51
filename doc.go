// Package hwc plans per-frame display composition for a compositor driving a
// display controller with hardware overlay pipes.
//
// # Overview
//
// Every refresh the compositor hands hwc an ordered list of layers for each
// display. hwc decides which engine composes each layer (the GPU into the
// framebuffer target, a hardware scan-out pipe, or a 2D blit engine),
// allocates the small fixed inventory of pipes and rotators shared by all
// displays, programs them, and synchronizes buffer lifetimes with fences so
// that no buffer is reused while the hardware still reads it.
//
// This package holds the data model shared by the sub-packages:
//
//   - [Layer], [Buffer], [Transform], [Blend], [PixelFormat]: per-frame input
//   - [Tag]: the per-layer composition decision
//   - [ListStats]: the per-frame aggregate computed once and read by everyone
//   - [DisplayID], [DisplayAttributes]: display identity and geometry
//
// # Architecture
//
// The work is split into packages, leaves first:
//
//   - fence: scoped, move-only fence handles and timelines
//   - pipe: pipe inventory with per-mixer caps and round-based reclaim
//   - rotator: double-buffered rotator sessions
//   - configurator: geometry (viewport clip, mixer split) and programming
//   - planner: per-frame composition strategy and pipe assignment
//   - overlay: composition-mode state machine built from recipes
//   - framesync: acquire/release/retire fence chaining and the buffer sync
//   - commit: the final display commit
//   - composer: per-display sessions tying it all together
//
// # Logging
//
// hwc is silent by default. Call [SetLogger] to receive structured logs
// from every sub-package.
package hwc
