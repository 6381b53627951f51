// Package planner decides, once per frame and display, which engine
// composes every layer.
//
// A plan tags each application layer for the GPU framebuffer, a hardware
// pipe or the 2D blit engine, and names the overlay state whose pipe graph
// the frame needs. Pipes go to layers front to back in priority order:
// layers that must not be redrawn by the GPU, then video, then large opaque
// layers, then those closest to the framebuffer target in z-order. A layer
// that would show GPU content through itself in the wrong order stays on
// the GPU.
//
// When a frame needs a different graph than the one on screen, the planner
// first composes one padding frame entirely on the GPU so the old pipes can
// drain, and builds the new graph on the frame after.
package planner
