package sim

import (
	"context"
	"fmt"
	"sort"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/composer"
	"github.com/gogpu/hwc/config"
	"github.com/gogpu/hwc/display/fake"
	"github.com/gogpu/hwc/fence"
)

// FrameResult is the outcome of one frame run.
type FrameResult struct {
	// Step is the index of the scenario frame; Run counts repeats.
	Step, Run int

	Display hwc.DisplayID

	// Names and Tags list the frame's layers in order.
	Names []string
	Tags  []hwc.Tag

	Report  composer.Report
	Aborted bool

	// Err is the Prepare or Commit error, if any.
	Err error
}

// Summary totals a scenario run.
type Summary struct {
	Frames int
	Errors int

	Composer composer.Stats
	Device   fake.Stats
}

// String returns a human-readable summary.
func (s Summary) String() string {
	return fmt.Sprintf("%d frames, %d errors\n%s\n%s", s.Frames, s.Errors, s.Composer, s.Device)
}

// Run replays s on a fresh fake device. observe, when non-nil, is called
// after every frame. Frame errors are reported through FrameResult; Run
// itself fails only when the composer cannot be set up.
func Run(ctx context.Context, s *Scenario, observe func(FrameResult)) (Summary, error) {
	cfg := s.Config()
	dev := fake.New()
	var connected []hwc.DisplayID
	for id := hwc.Primary; id < hwc.NumDisplays; id++ {
		if attrs, ok := cfg.Display(id); ok {
			dev.Connect(id, attrs)
			connected = append(connected, id)
		}
	}

	c, err := composer.New(append(cfg.Options(), composer.WithDevice(dev))...)
	if err != nil {
		return Summary{}, err
	}
	defer c.Close()
	for _, id := range connected {
		if err := c.Connect(id); err != nil {
			return Summary{}, err
		}
	}

	log := hwc.Logger().With("scenario", s.Name)
	var sum Summary
	for step := range s.Frames {
		f := &s.Frames[step]
		runs := max(f.Repeat, 1)
		for run := range runs {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			res := runFrame(ctx, c, dev, cfg, f, step, run)
			sum.Frames++
			if res.Err != nil {
				sum.Errors++
				log.Debug("sim: frame error", "step", step, "run", run, "err", res.Err)
			}
			if observe != nil {
				observe(res)
			}
		}
	}
	sum.Composer = c.Stats()
	sum.Device = dev.Stats()
	return sum, nil
}

// runFrame applies f's setup once, on its first run, and then runs one
// frame.
func runFrame(ctx context.Context, c *composer.Composer, dev *fake.Device, cfg *config.Config, f *Frame, step, run int) FrameResult {
	id, _ := f.display()
	res := FrameResult{Step: step, Run: run, Display: id}

	if run == 0 {
		applyHotplug(c, dev, cfg, f)
		if f.Faults != nil {
			dev.SetFaults(f.faults())
		}
		if f.Reset {
			if err := c.Reset(ctx, id); err != nil {
				res.Err = err
				return res
			}
		}
	}

	layers, err := f.layers()
	if err != nil {
		res.Err = err
		return res
	}
	for i, l := range f.Layers {
		name := l.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		res.Names = append(res.Names, name)
	}

	frame, err := c.Prepare(ctx, id, layers)
	if err != nil {
		res.Err = err
		return res
	}
	if f.Abort {
		res.Report = frame.Report()
		frame.Abort()
		res.Aborted = true
		res.Tags = tagsOf(layers)
		return res
	}
	res.Report, res.Err = frame.Commit(ctx)
	res.Tags = tagsOf(layers)

	fence.CloseAll(res.Report.Sync.Release, res.Report.Sync.Retire)
	res.Report.Sync.Release, res.Report.Sync.Retire = nil, nil
	for _, l := range layers {
		fence.CloseAll(l.Acquire, l.Release)
	}
	return res
}

func applyHotplug(c *composer.Composer, dev *fake.Device, cfg *config.Config, f *Frame) {
	names := make([]string, 0, len(f.Hotplug))
	for name := range f.Hotplug {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		// Parse checked the names against the configuration.
		id, _ := config.ParseDisplay(name)
		plugged := f.Hotplug[name]
		if plugged {
			attrs, _ := cfg.Display(id)
			dev.Connect(id, attrs)
		} else {
			dev.Disconnect(id)
		}
		c.Hotplug(id, plugged)
	}
}

func tagsOf(layers []*hwc.Layer) []hwc.Tag {
	out := make([]hwc.Tag, len(layers))
	for i, l := range layers {
		out[i] = l.Tag
	}
	return out
}
