// Package sim replays YAML frame scenarios against the fake display
// backend.
package sim

import (
	"errors"
	"fmt"
	"image"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/config"
	"github.com/gogpu/hwc/display/fake"
)

// ErrScenario is returned for a malformed scenario.
var ErrScenario = errors.New("sim: invalid scenario")

// Scenario is a hardware description plus a sequence of frames.
type Scenario struct {
	Name string `yaml:"name"`

	// Hardware uses the config file format and is applied over
	// config.Default. Every configured display is connected at start.
	Hardware yaml.Node `yaml:"hardware"`

	Frames []Frame `yaml:"frames"`

	// config is the decoded Hardware.
	config *config.Config
}

// Frame is one scenario step.
type Frame struct {
	// Display defaults to primary.
	Display string `yaml:"display"`

	// Repeat runs the step this many times. Zero means once.
	Repeat int `yaml:"repeat"`

	// Hotplug plugs (true) or unplugs (false) displays before the frame.
	Hotplug map[string]bool `yaml:"hotplug"`

	// Faults replaces the injected device faults when set.
	Faults *Faults `yaml:"faults"`

	// Reset resets the display before the frame.
	Reset bool `yaml:"reset"`

	// Abort drops the frame after Prepare.
	Abort bool `yaml:"abort"`

	Layers []Layer `yaml:"layers"`
}

// Faults mirrors fake.Faults with error messages as strings.
type Faults struct {
	SetPipe       string `yaml:"set_pipe"`
	Rotate        string `yaml:"rotate"`
	Sync          string `yaml:"sync"`
	Commit        string `yaml:"commit"`
	StallSync     bool   `yaml:"stall_sync"`
	HoldRotations bool   `yaml:"hold_rotations"`
}

// Layer describes one layer of a frame.
type Layer struct {
	Name      string  `yaml:"name"`
	Buffer    *Buffer `yaml:"buffer"`
	Crop      []int   `yaml:"crop"`
	Dest      []int   `yaml:"dest"`
	Transform string  `yaml:"transform"`
	Blend     string  `yaml:"blend"`
	// Alpha defaults to 255.
	Alpha  *int     `yaml:"alpha"`
	Flags  []string `yaml:"flags"`
	Damage [][]int  `yaml:"damage"`
}

// Buffer describes a layer buffer.
type Buffer struct {
	ID     uint64 `yaml:"id"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Format string `yaml:"format"`
	Secure bool   `yaml:"secure"`
}

var flagNames = map[string]hwc.Flags{
	"skip":          hwc.FlagSkip,
	"cursor":        hwc.FlagCursor,
	"target":        hwc.FlagFramebufferTarget,
	"no_gpu_redraw": hwc.FlagNoGPURedraw,
}

// Load reads and validates the scenario at path.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sim: read %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a scenario.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("sim: parse: %w", err)
	}
	cfg := config.Default()
	if !s.Hardware.IsZero() {
		if err := s.Hardware.Decode(cfg); err != nil {
			return nil, fmt.Errorf("sim: hardware: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s.config = cfg

	if len(s.Frames) == 0 {
		return nil, fmt.Errorf("%w: no frames", ErrScenario)
	}
	for i, f := range s.Frames {
		if _, err := f.display(); err != nil {
			return nil, fmt.Errorf("%w: frame %d: %w", ErrScenario, i, err)
		}
		for name := range f.Hotplug {
			id, err := config.ParseDisplay(name)
			if err != nil {
				return nil, fmt.Errorf("%w: frame %d: %w", ErrScenario, i, err)
			}
			if _, ok := cfg.Display(id); !ok {
				return nil, fmt.Errorf("%w: frame %d: hotplug of unconfigured display %s", ErrScenario, i, name)
			}
		}
		if _, err := f.layers(); err != nil {
			return nil, fmt.Errorf("%w: frame %d: %w", ErrScenario, i, err)
		}
	}
	return &s, nil
}

// Config returns the hardware configuration.
func (s *Scenario) Config() *config.Config {
	return s.config
}

func (f *Frame) display() (hwc.DisplayID, error) {
	if f.Display == "" {
		return hwc.Primary, nil
	}
	return config.ParseDisplay(f.Display)
}

func (f *Frame) faults() fake.Faults {
	var out fake.Faults
	if f.Faults == nil {
		return out
	}
	errOf := func(msg string) error {
		if msg == "" {
			return nil
		}
		return errors.New(msg)
	}
	out.SetPipe = errOf(f.Faults.SetPipe)
	out.Rotate = errOf(f.Faults.Rotate)
	out.Sync = errOf(f.Faults.Sync)
	out.Commit = errOf(f.Faults.Commit)
	out.StallSync = f.Faults.StallSync
	out.HoldRotations = f.Faults.HoldRotations
	return out
}

// layers builds a fresh layer list for one run of the frame.
func (f *Frame) layers() ([]*hwc.Layer, error) {
	out := make([]*hwc.Layer, 0, len(f.Layers))
	for i, spec := range f.Layers {
		l, err := spec.build()
		if err != nil {
			name := spec.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("layer %s: %w", name, err)
		}
		out = append(out, l)
	}
	return out, nil
}

func (spec *Layer) build() (*hwc.Layer, error) {
	l := &hwc.Layer{Alpha: 255}
	var err error
	if l.Dest, err = rect(spec.Dest); err != nil {
		return nil, fmt.Errorf("dest: %w", err)
	}
	if spec.Buffer != nil {
		b := spec.Buffer
		format, err := hwc.ParsePixelFormat(b.Format)
		if err != nil {
			return nil, err
		}
		l.Buffer = &hwc.Buffer{ID: b.ID, Width: b.Width, Height: b.Height, Format: format, Secure: b.Secure}
		l.Crop = l.Buffer.Bounds()
	}
	if spec.Crop != nil {
		if l.Crop, err = rect(spec.Crop); err != nil {
			return nil, fmt.Errorf("crop: %w", err)
		}
	}
	if spec.Transform != "" {
		if l.Transform, err = hwc.ParseTransform(spec.Transform); err != nil {
			return nil, err
		}
	}
	if spec.Blend != "" {
		if l.Blend, err = hwc.ParseBlend(spec.Blend); err != nil {
			return nil, err
		}
	}
	if spec.Alpha != nil {
		if *spec.Alpha < 0 || *spec.Alpha > 255 {
			return nil, fmt.Errorf("alpha %d outside [0, 255]", *spec.Alpha)
		}
		l.Alpha = uint8(*spec.Alpha)
	}
	for _, name := range spec.Flags {
		flag, ok := flagNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown flag %q", name)
		}
		l.Flags |= flag
	}
	for _, d := range spec.Damage {
		r, err := rect(d)
		if err != nil {
			return nil, fmt.Errorf("damage: %w", err)
		}
		l.Damage = append(l.Damage, r)
	}
	return l, nil
}

func rect(v []int) (image.Rectangle, error) {
	if len(v) != 4 {
		return image.Rectangle{}, fmt.Errorf("rectangle needs [x0, y0, x1, y1], got %v", v)
	}
	return image.Rect(v[0], v[1], v[2], v[3]), nil
}
