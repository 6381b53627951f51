package composer

import (
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/overlay"
	"github.com/gogpu/hwc/pipe"
	"github.com/gogpu/hwc/rotator"
)

// Session is the composition state of one connected display. It lives from
// Connect to Disconnect.
type Session struct {
	// ID identifies the session in logs.
	ID uuid.UUID

	// Display is the display the session drives.
	Display hwc.DisplayID

	// Attributes is the display mode at connect time.
	Attributes hwc.DisplayAttributes

	machine *overlay.Machine

	// base holds the framebuffer target's pipes, one per mixer.
	base []*pipe.Pipe

	log    *slog.Logger
	frames atomic.Uint64
	vsync  atomic.Bool
}

func newSession(id hwc.DisplayID, attrs hwc.DisplayAttributes, m *overlay.Machine, base []*pipe.Pipe) *Session {
	sid := uuid.New()
	return &Session{
		ID:         sid,
		Display:    id,
		Attributes: attrs,
		machine:    m,
		base:       base,
		log:        hwc.SessionLogger(id, sid.String()),
	}
}

// State returns the overlay state currently built.
func (s *Session) State() overlay.State {
	return s.machine.State()
}

// Transitions returns how many times the display's pipe graph changed.
func (s *Session) Transitions() int {
	return s.machine.Transitions()
}

// Frames returns the number of committed frames.
func (s *Session) Frames() uint64 {
	return s.frames.Load()
}

// Vsync reports whether vsync events are enabled for the display.
func (s *Session) Vsync() bool {
	return s.vsync.Load()
}

// held lists the capabilities of the pipes the machine holds, on the
// display's own mixers and on the external mixer fed by this display, and
// counts its distinct rotator sessions.
func (s *Session) held() (panel, external []pipe.Caps, rotators int) {
	seen := make(map[*rotator.Session]bool)
	for _, r := range s.machine.Roles() {
		for _, p := range r.Pipes() {
			if p.Mixer() == pipe.MixerExternal && s.Display != hwc.External {
				external = append(external, p.Caps())
			} else {
				panel = append(panel, p.Caps())
			}
		}
		if r.Rotator != nil && !seen[r.Rotator] {
			seen[r.Rotator] = true
			rotators++
		}
	}
	return panel, external, rotators
}

func (s *Session) String() string {
	return s.Display.String() + "/" + s.ID.String()[:8]
}
