// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package framesync chains the fences of one frame and issues its single
// hardware buffer-sync call.
//
// Layers routed through a rotator are rotated first; the rotation's
// completion fence replaces the producer's acquire fence for the pipe.
// Every effective acquire fence then goes into one bounded buffer-sync
// call, which yields the frame's release and retire fences. Only after the
// new release fence is in hand are the previous frame's pipes and rotator
// sessions reclaimed.
//
//	producer ──acquire──► rotator ──done──┐
//	producer ──acquire────────────────────┼──► buffer sync ──► release, retire
//	framebuffer target ──acquire──────────┘
package framesync
