package sim

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/commit"
	"github.com/gogpu/hwc/config"
	"github.com/gogpu/hwc/configurator"
	"github.com/gogpu/hwc/overlay"
	"github.com/gogpu/hwc/planner"
)

func runScenario(t *testing.T, name string) ([]FrameResult, Summary) {
	t.Helper()
	s, err := Load(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("Load(%s) error = %v", name, err)
	}
	var frames []FrameResult
	sum, err := Run(context.Background(), s, func(r FrameResult) {
		frames = append(frames, r)
	})
	if err != nil {
		t.Fatalf("Run(%s) error = %v", name, err)
	}
	return frames, sum
}

func TestBypass(t *testing.T) {
	frames, sum := runScenario(t, "bypass.yaml")
	if len(frames) != 3 || sum.Frames != 3 || sum.Errors != 0 {
		t.Fatalf("summary = %s", sum)
	}
	if r := frames[0].Report; r.Plan.Reason != planner.ReasonFirstFrame {
		t.Errorf("frame 0 plan = %s", r.Plan)
	}
	for _, f := range frames[1:] {
		if f.Report.State != overlay.BypassOf(2) {
			t.Errorf("run %d state = %s, want %s", f.Run, f.Report.State, overlay.BypassOf(2))
		}
		want := []hwc.Tag{hwc.TagPipe, hwc.TagPipe, hwc.TagTarget}
		for i, tag := range f.Tags {
			if tag != want[i] {
				t.Errorf("run %d layer %s tag = %s, want %s", f.Run, f.Names[i], tag, want[i])
			}
		}
	}
	if frames[2].Report.Sync.Release != nil {
		t.Error("runner leaked the release fence to the observer")
	}
	if sum.Device.Commits != 3 || sum.Composer.Frames != 3 {
		t.Errorf("summary = %s", sum)
	}
}

func TestFaults(t *testing.T) {
	frames, sum := runScenario(t, "fallback.yaml")
	if len(frames) != 6 {
		t.Fatalf("ran %d frames, want 6", len(frames))
	}

	r := frames[1].Report
	if !errors.Is(r.Fallback, configurator.ErrRejected) || len(r.Dropped) != 1 {
		t.Fatalf("frame 1: fallback %v, dropped %v", r.Fallback, r.Dropped)
	}
	if tag := frames[2].Tags[r.Dropped[0]]; tag != hwc.TagFramebuffer {
		t.Errorf("frame 2: dropped layer tag = %s", tag)
	}
	if frames[3].Report.State != overlay.BypassOf(2) {
		t.Errorf("frame 3 state = %s", frames[3].Report.State)
	}
	if !errors.Is(frames[4].Err, commit.ErrDisplayLink) {
		t.Errorf("frame 4 error = %v, want ErrDisplayLink", frames[4].Err)
	}
	if r := frames[5].Report; r.Plan.Reason != planner.ReasonFirstFrame {
		t.Errorf("frame 5 plan = %s", r.Plan)
	}
	if sum.Errors != 1 || sum.Device.Resets != 1 || sum.Composer.Fallbacks != 1 {
		t.Errorf("summary = %s", sum)
	}
}

func TestExternal(t *testing.T) {
	frames, _ := runScenario(t, "tv.yaml")
	if len(frames) != 5 {
		t.Fatalf("ran %d frames, want 5", len(frames))
	}
	kinds := []overlay.Kind{
		overlay.Closed,
		overlay.SinglePipeOnPanelAndTV,
		overlay.Closed,
		overlay.UIMirror,
	}
	for i, want := range kinds {
		if got := frames[i].Report.State.Kind; got != want {
			t.Errorf("frame %d state = %s, want %s", i, got, want)
		}
	}
	if !frames[2].Report.Plan.Padding {
		t.Errorf("frame 2 plan = %s, want a padding round", frames[2].Report.Plan)
	}
	if got := frames[4].Report.State.Kind; got == overlay.UIMirror {
		t.Error("mirror state kept after the external display was unplugged")
	}
	for _, f := range frames {
		if f.Err != nil {
			t.Errorf("step %d run %d: %v", f.Step, f.Run, f.Err)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"no frames", "name: empty\n", ErrScenario},
		{"bad display", "frames:\n  - display: hdmi\n", ErrScenario},
		{"unconfigured hotplug", "frames:\n  - hotplug: {external: true}\n", ErrScenario},
		{"bad format", "frames:\n  - layers:\n      - buffer: {id: 1, width: 1, height: 1, format: ARGB4444}\n        dest: [0, 0, 1, 1]\n", ErrScenario},
		{"short rect", "frames:\n  - layers:\n      - dest: [0, 0, 1]\n", ErrScenario},
		{"bad flag", "frames:\n  - layers:\n      - dest: [0, 0, 1, 1]\n        flags: [sticky]\n", ErrScenario},
		{"alpha range", "frames:\n  - layers:\n      - dest: [0, 0, 1, 1]\n        alpha: 300\n", ErrScenario},
		{"bad hardware", "hardware:\n  scaler: {max_downscale: 0.5}\nframes:\n  - layers: []\n", config.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseDefaults(t *testing.T) {
	s, err := Parse([]byte("frames:\n  - layers:\n      - buffer: {id: 1, width: 10, height: 10, format: nv12}\n        dest: [0, 0, 10, 10]\n        transform: rot90|flipH\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if _, ok := s.Config().Display(hwc.Primary); !ok {
		t.Error("default primary display missing")
	}
	layers, err := s.Frames[0].layers()
	if err != nil {
		t.Fatalf("layers() error = %v", err)
	}
	l := layers[0]
	if l.Alpha != 255 || l.Crop != l.Buffer.Bounds() || l.Transform != hwc.Rot90|hwc.FlipH || !l.IsYUV() {
		t.Errorf("layer = %+v", l)
	}
	if id, _ := s.Frames[0].display(); id != hwc.Primary {
		t.Errorf("display = %s, want primary", id)
	}
}

func TestExampleScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "..", "cmd", "hwcsim", "scenarios", "*.yaml"))
	if err != nil || len(paths) == 0 {
		t.Fatalf("no example scenarios: %v", err)
	}
	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			sum, err := Run(context.Background(), s, nil)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if sum.Device.Commits == 0 {
				t.Errorf("no frame reached the display: %s", sum)
			}
		})
	}
}
