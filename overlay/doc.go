// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package overlay owns the pipe and rotator graph of one display.
//
// Each overlay state maps to a Recipe: the named roles the state needs, the
// mixer each role feeds and the binding slot that drives it. A Machine moves
// between states with a single generic Transition: a target with the same
// state and binding signature keeps the graph, anything else tears the graph
// down and builds the new one from its recipe.
//
//	CLOSED ──► SINGLE_PIPE_ON_PANEL ──► CLOSED ──► N_LAYER_BYPASS(2)
//	       teardown + build      teardown      teardown + build
//
// A build that runs out of hardware releases what it acquired and leaves
// the machine CLOSED.
package overlay
