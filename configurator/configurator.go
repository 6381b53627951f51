package configurator

import (
	"context"
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/math/fixed"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/pipe"
	"github.com/gogpu/hwc/rotator"
)

// ErrRejected is returned when a layer cannot be composed by its assigned
// hardware. The caller moves the layer to the GPU.
var ErrRejected = errors.New("configurator: layer rejected")

// Default scaler limits.
const (
	// DefaultMaxDownscale is the largest source/destination ratio a pipe
	// scaler handles without help from a rotator.
	DefaultMaxDownscale = 4

	// DefaultMaxUpscale is the largest destination/source ratio.
	DefaultMaxUpscale = 20
)

// Programmer writes pipe configurations to the hardware. Each call is one
// configuration; nothing takes effect before the display commit.
type Programmer interface {
	SetPipe(ctx context.Context, p *pipe.Pipe, cfg pipe.Config) error

	// UnsetPipe detaches p from its mixer at the next commit.
	UnsetPipe(ctx context.Context, p *pipe.Pipe) error
}

// Limits are the pipe scaler limits.
type Limits struct {
	// MaxDownscale is the largest source/destination ratio per axis.
	// Defaults to DefaultMaxDownscale if <= 0.
	MaxDownscale fixed.Int52_12

	// MaxUpscale is the largest destination/source ratio per axis.
	// Defaults to DefaultMaxUpscale if <= 0.
	MaxUpscale int
}

// Target is the display a layer is configured for.
type Target struct {
	ID         hwc.DisplayID
	Attributes hwc.DisplayAttributes
}

// Assignment is the hardware bound to one layer.
type Assignment struct {
	// Left feeds the left (or only) mixer; Right the right mixer of a split
	// panel. A layer on one side of the split needs only that side's pipe.
	Left, Right *pipe.Pipe

	// Rotator is used when the layer needs rotation or extra downscale.
	Rotator *rotator.Session

	// SharedRotator is set when another pipe of the same layer has already
	// programmed Rotator this frame. The pipes read its current output and
	// the session is left as it is.
	SharedRotator bool

	// ZOrder is the mixer stage of the layer.
	ZOrder int
}

// Result describes a configured layer.
type Result struct {
	// Rotator is the session the layer is routed through, or nil.
	Rotator *rotator.Session

	// Pipes lists the programmed pipes, left first.
	Pipes []*pipe.Pipe
}

// Configurator computes and programs pipe and rotator configurations.
type Configurator struct {
	prog   Programmer
	meta   hwc.MetadataProvider
	limits Limits
}

// New creates a Configurator. A nil meta reports no metadata.
func New(prog Programmer, meta hwc.MetadataProvider, limits Limits) *Configurator {
	if meta == nil {
		meta = hwc.NoMetadata{}
	}
	if limits.MaxDownscale <= 0 {
		limits.MaxDownscale = hwc.Fixed(DefaultMaxDownscale)
	}
	if limits.MaxUpscale <= 0 {
		limits.MaxUpscale = DefaultMaxUpscale
	}
	return &Configurator{prog: prog, meta: meta, limits: limits}
}

// Limits returns the scaler limits in use.
func (c *Configurator) Limits() Limits {
	return c.limits
}

// Requirements is what a layer asks of the hardware before any pipe is
// bound to it.
type Requirements struct {
	// Need lists the capabilities every pipe of the layer must have.
	Need pipe.Caps

	// Rotator is set when the layer has to pass through a rotator session.
	Rotator bool

	// OK is false when no pipe and rotator combination can show the layer.
	OK bool
}

// Requirements reports the capabilities and rotator l needs. The planner
// uses it to size a frame's pipe graph before Configure runs.
func (c *Configurator) Requirements(l *hwc.Layer) Requirements {
	var req Requirements
	if l.Buffer == nil || l.Crop.Empty() || l.Dest.Empty() || !l.Crop.In(l.Buffer.Bounds()) {
		return req
	}
	if l.Buffer.Format.IsYUV() {
		req.Need |= pipe.CapYUV
	}
	if meta := c.meta.Metadata(l.Buffer); meta.Interlaced || !meta.Color.IsZero() {
		req.Need |= pipe.CapPostProcess
	}

	one := hwc.Fixed(1)
	sx, sy := scaleRatios(l.Crop, l.Dest, l.Transform)
	if min(sx, sy)*fixed.Int52_12(c.limits.MaxUpscale) < one {
		return req
	}
	decimation := 1
	if ratio := max(sx, sy); ratio > c.limits.MaxDownscale {
		d, ok := rotator.DecimationFor(ratio, c.limits.MaxDownscale)
		if !ok {
			return req
		}
		decimation = d
	}
	rot, _ := l.Transform.SplitRotation()
	req.Rotator = rot != 0 || decimation > 1
	if dec := hwc.Fixed(decimation); sx != dec || sy != dec {
		req.Need |= pipe.CapScale
	}
	req.OK = true
	return req
}

// Configure programs l onto the hardware in a for display d.
//
// Nothing is programmed unless every piece of the layer fits its pipe. A
// failure wraps ErrRejected; the pipes and rotator stay owned by the caller,
// which moves the layer to the GPU.
func (c *Configurator) Configure(ctx context.Context, l *hwc.Layer, a Assignment, d Target) (Result, error) {
	if l.Buffer == nil {
		return Result{}, reject("no buffer")
	}
	if l.Crop.Empty() || !l.Crop.In(l.Buffer.Bounds()) {
		return Result{}, reject("crop %v outside buffer %dx%d", l.Crop, l.Buffer.Width, l.Buffer.Height)
	}

	crop, dest, ok := Clip(l.Crop, l.Dest, d.Attributes.Bounds(), l.Transform)
	if !ok {
		return Result{}, reject("destination %v not visible", l.Dest)
	}
	format := l.Buffer.Format
	if format.IsYUV() {
		crop = AlignChroma(crop, format)
		if crop.Empty() {
			return Result{}, reject("crop empty after chroma alignment")
		}
	}

	meta := c.meta.Metadata(l.Buffer)
	var flags pipe.Flags
	var need pipe.Caps
	if format.IsYUV() {
		need |= pipe.CapYUV
	}
	if meta.Interlaced {
		flags |= pipe.FlagDeinterlace
		need |= pipe.CapPostProcess
	}
	if !meta.Color.IsZero() {
		flags |= pipe.FlagColorAdjust
		need |= pipe.CapPostProcess
	}
	if l.IsSecure() {
		flags |= pipe.FlagSecure
	}

	rot, flips := l.Transform.SplitRotation()
	src := *l.Buffer
	var res Result
	var rcfg rotator.Config
	rotated := a.Rotator != nil && a.SharedRotator
	if rotated {
		rcfg = a.Rotator.Config()
	} else {
		sx, sy := scaleRatios(crop, dest, l.Transform)
		decimation := 1
		if ratio := max(sx, sy); ratio > c.limits.MaxDownscale {
			n, ok := rotator.DecimationFor(ratio, c.limits.MaxDownscale)
			if !ok {
				return Result{}, reject("downscale %v beyond rotator decimation", ratio)
			}
			decimation = n
		}
		if rot != 0 || decimation > 1 {
			if a.Rotator == nil {
				return Result{}, reject("needs a rotator")
			}
			rcfg = rotator.Config{
				Format:     format,
				SrcWidth:   l.Buffer.Width,
				SrcHeight:  l.Buffer.Height,
				Crop:       crop,
				Rotate:     rot != 0,
				Decimation: decimation,
				Secure:     l.IsSecure(),
			}
			rotated = true
		}
	}
	if rotated {
		if err := rcfg.Validate(); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrRejected, err)
		}
		w, h := rcfg.OutputSize()
		src = hwc.Buffer{Width: w, Height: h, Format: format, Secure: src.Secure}
		crop = image.Rect(0, 0, w, h)
		flags |= pipe.FlagRotated
		res.Rotator = a.Rotator
	}

	left, right := Piece{Crop: crop, Dest: dest}, Piece{}
	if d.Attributes.IsSplit() {
		align := 1
		if h, _ := format.ChromaSubsampling(); h > 1 {
			align = h
		}
		left, right = Split(crop, dest, d.Attributes.SplitX, flips.Has(hwc.FlipH), align)
	}

	type job struct {
		p   *pipe.Pipe
		cfg pipe.Config
	}
	jobs := make([]job, 0, 2)
	for _, pc := range []struct {
		piece Piece
		p     *pipe.Pipe
		name  string
	}{{left, a.Left, "left"}, {right, a.Right, "right"}} {
		if pc.piece.Empty() {
			continue
		}
		if pc.p == nil {
			return Result{}, reject("no %s pipe for %v", pc.name, pc.piece.Dest)
		}
		cfg := pipe.Config{
			Format:    format,
			SrcWidth:  src.Width,
			SrcHeight: src.Height,
			Crop:      pc.piece.Crop,
			Dest:      pc.piece.Dest,
			ZOrder:    a.ZOrder,
			Flip:      flips,
			Blend:     l.Blend,
			Alpha:     l.Alpha,
			Equation:  l.Blend.State(),
			Flags:     flags,
			Color:     meta.Color,
		}
		cfg.ScaleX, cfg.ScaleY = scaleRatios(cfg.Crop, cfg.Dest, hwc.TransformNone)
		if err := c.check(pc.p, cfg, need); err != nil {
			return Result{}, err
		}
		jobs = append(jobs, job{pc.p, cfg})
	}
	if len(jobs) == 0 {
		return Result{}, reject("nothing to program")
	}

	if res.Rotator != nil && !a.SharedRotator {
		if err := res.Rotator.Configure(ctx, rcfg); err != nil {
			return Result{}, fmt.Errorf("%w: %s: %w", ErrRejected, res.Rotator, err)
		}
	}
	for _, j := range jobs {
		if err := c.prog.SetPipe(ctx, j.p, j.cfg); err != nil {
			return Result{}, fmt.Errorf("%w: %s: %w", ErrRejected, j.p, err)
		}
		j.p.SetConfig(j.cfg)
		res.Pipes = append(res.Pipes, j.p)
	}
	return res, nil
}

// Unset takes p off its mixer and forgets its configuration. The pipe
// stays owned by the caller, which releases it to the registry.
func (c *Configurator) Unset(ctx context.Context, p *pipe.Pipe) error {
	if p == nil || c.prog == nil {
		return nil
	}
	if err := c.prog.UnsetPipe(ctx, p); err != nil {
		return fmt.Errorf("configurator: unset %s: %w", p, err)
	}
	p.SetConfig(pipe.Config{})
	return nil
}

// check verifies that p can execute cfg.
func (c *Configurator) check(p *pipe.Pipe, cfg pipe.Config, need pipe.Caps) error {
	one := hwc.Fixed(1)
	if cfg.ScaleX != one || cfg.ScaleY != one {
		need |= pipe.CapScale
	}
	if !p.Caps().Has(need) {
		return reject("%s lacks capabilities %03b", p, need)
	}
	for _, r := range []fixed.Int52_12{cfg.ScaleX, cfg.ScaleY} {
		if r > c.limits.MaxDownscale {
			return reject("%s downscale %v over limit", p, r)
		}
		if r*fixed.Int52_12(c.limits.MaxUpscale) < one {
			return reject("%s upscale %v over limit", p, r)
		}
	}
	return nil
}

func reject(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrRejected}, args...)...)
}
