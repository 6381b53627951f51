package configurator

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/fence"
	"github.com/gogpu/hwc/pipe"
	"github.com/gogpu/hwc/rotator"
)

type recordingProgrammer struct {
	calls map[int]pipe.Config
	unset int
	fail  error
}

func (r *recordingProgrammer) SetPipe(_ context.Context, p *pipe.Pipe, cfg pipe.Config) error {
	if r.fail != nil {
		return r.fail
	}
	if r.calls == nil {
		r.calls = make(map[int]pipe.Config)
	}
	r.calls[p.ID] = cfg
	return nil
}

func (r *recordingProgrammer) UnsetPipe(_ context.Context, p *pipe.Pipe) error {
	if r.fail != nil {
		return r.fail
	}
	delete(r.calls, p.ID)
	r.unset++
	return nil
}

type instantEngine struct{}

func (instantEngine) Allocate(int, uint64, int) error { return nil }
func (instantEngine) Rotate(context.Context, rotator.Job) (*fence.Fence, error) {
	return fence.Signaled(), nil
}
func (instantEngine) Free(int, uint64) {}

type fixedMetadata hwc.Metadata

func (m fixedMetadata) Metadata(*hwc.Buffer) hwc.Metadata { return hwc.Metadata(m) }

var (
	panel      = Target{ID: hwc.Primary, Attributes: hwc.DisplayAttributes{Width: 1080, Height: 1920}}
	splitPanel = Target{ID: hwc.Primary, Attributes: hwc.DisplayAttributes{Width: 400, Height: 400, SplitX: 200}}
)

func acquire(t *testing.T, r *pipe.Registry, m pipe.Mixer, hint pipe.Type) *pipe.Pipe {
	t.Helper()
	p, err := r.Acquire(pipe.Request{Mixer: m, Hint: hint, Owner: t.Name()})
	if err != nil {
		t.Fatalf("Acquire(%s, %s): %v", m, hint, err)
	}
	return p
}

func TestConfigureUnscaledRGB(t *testing.T) {
	prog := &recordingProgrammer{}
	c := New(prog, nil, Limits{})
	reg := pipe.NewRegistry(pipe.DefaultInventory())
	p := acquire(t, reg, pipe.MixerLeft, pipe.TypeDMA)

	buf := &hwc.Buffer{Width: 1080, Height: 1920, Format: hwc.FormatRGBA8888}
	l := &hwc.Layer{Buffer: buf, Crop: buf.Bounds(), Dest: buf.Bounds(), Alpha: 255, Blend: hwc.BlendPremultiplied}

	res, err := c.Configure(context.Background(), l, Assignment{Left: p, ZOrder: 2}, panel)
	if err != nil {
		t.Fatalf("Configure() = %v", err)
	}
	if res.Rotator != nil || len(res.Pipes) != 1 {
		t.Fatalf("Configure() result = %+v", res)
	}
	cfg := prog.calls[p.ID]
	if cfg.ZOrder != 2 || cfg.Blend != hwc.BlendPremultiplied || cfg.ScaleX != hwc.Fixed(1) {
		t.Errorf("programmed %+v", cfg)
	}
	if cfg.Equation != gputypes.BlendStatePremultiplied() {
		t.Errorf("blend equation = %+v, want premultiplied", cfg.Equation)
	}
	if p.Config() != cfg {
		t.Error("pipe does not remember its configuration")
	}
}

func TestConfigureBlendEquation(t *testing.T) {
	tests := []struct {
		blend hwc.Blend
		want  gputypes.BlendState
	}{
		{hwc.BlendNone, gputypes.BlendStateReplace()},
		{hwc.BlendPremultiplied, gputypes.BlendStatePremultiplied()},
		{hwc.BlendCoverage, gputypes.BlendStateAlpha()},
	}
	for _, tt := range tests {
		t.Run(tt.blend.String(), func(t *testing.T) {
			prog := &recordingProgrammer{}
			c := New(prog, nil, Limits{})
			reg := pipe.NewRegistry(pipe.DefaultInventory())
			p := acquire(t, reg, pipe.MixerLeft, pipe.TypeRGB)

			buf := &hwc.Buffer{Width: 64, Height: 64, Format: hwc.FormatRGBA8888}
			l := &hwc.Layer{Buffer: buf, Crop: buf.Bounds(), Dest: buf.Bounds(), Alpha: 128, Blend: tt.blend}
			if _, err := c.Configure(context.Background(), l, Assignment{Left: p}, panel); err != nil {
				t.Fatalf("Configure() = %v", err)
			}
			if got := prog.calls[p.ID].Equation; got != tt.want {
				t.Errorf("Equation = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestConfigureScenarioSplit(t *testing.T) {
	prog := &recordingProgrammer{}
	c := New(prog, nil, Limits{})
	reg := pipe.NewRegistry(pipe.DefaultInventory())
	left := acquire(t, reg, pipe.MixerLeft, pipe.TypeRGB)
	right := acquire(t, reg, pipe.MixerRight, pipe.TypeRGB)

	buf := &hwc.Buffer{Width: 200, Height: 400, Format: hwc.FormatRGBA8888}
	l := &hwc.Layer{Buffer: buf, Crop: buf.Bounds(), Dest: image.Rect(100, 0, 300, 400), Alpha: 255}

	res, err := c.Configure(context.Background(), l, Assignment{Left: left, Right: right}, splitPanel)
	if err != nil {
		t.Fatalf("Configure() = %v", err)
	}
	if len(res.Pipes) != 2 {
		t.Fatalf("programmed %d pipes, want 2", len(res.Pipes))
	}
	lc, rc := prog.calls[left.ID], prog.calls[right.ID]
	if want := image.Rect(100, 0, 200, 400); lc.Dest != want {
		t.Errorf("left dest = %v, want %v", lc.Dest, want)
	}
	if want := image.Rect(0, 0, 100, 400); rc.Dest != want {
		t.Errorf("right dest = %v, want %v", rc.Dest, want)
	}
	if lc.Crop.Max.X != rc.Crop.Min.X {
		t.Errorf("crops not contiguous: %v / %v", lc.Crop, rc.Crop)
	}
}

func TestConfigureSplitNeedsBothPipes(t *testing.T) {
	prog := &recordingProgrammer{}
	c := New(prog, nil, Limits{})
	reg := pipe.NewRegistry(pipe.DefaultInventory())
	left := acquire(t, reg, pipe.MixerLeft, pipe.TypeRGB)

	buf := &hwc.Buffer{Width: 200, Height: 400, Format: hwc.FormatRGBA8888}
	l := &hwc.Layer{Buffer: buf, Crop: buf.Bounds(), Dest: image.Rect(100, 0, 300, 400), Alpha: 255}

	_, err := c.Configure(context.Background(), l, Assignment{Left: left}, splitPanel)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Configure() = %v, want ErrRejected", err)
	}
	if len(prog.calls) != 0 {
		t.Error("rejected layer programmed a pipe")
	}
}

func TestConfigureRotatedVideo(t *testing.T) {
	prog := &recordingProgrammer{}
	c := New(prog, nil, Limits{})
	reg := pipe.NewRegistry(pipe.DefaultInventory())
	pool := rotator.NewPool(instantEngine{}, rotator.PoolConfig{})
	p := acquire(t, reg, pipe.MixerLeft, pipe.TypeVG)
	s, err := pool.Acquire(hwc.Primary, "video")
	if err != nil {
		t.Fatal(err)
	}

	buf := &hwc.Buffer{Width: 1920, Height: 1080, Format: hwc.FormatNV12}
	l := &hwc.Layer{
		Buffer:    buf,
		Crop:      buf.Bounds(),
		Dest:      image.Rect(0, 0, 1080, 1920),
		Transform: hwc.Rot90 | hwc.FlipH,
		Alpha:     255,
	}

	res, err := c.Configure(context.Background(), l, Assignment{Left: p, Rotator: s}, panel)
	if err != nil {
		t.Fatalf("Configure() = %v", err)
	}
	if res.Rotator != s {
		t.Fatal("rotated layer not routed through the rotator")
	}
	rc := s.Config()
	if !rc.Rotate || rc.Crop != buf.Bounds() {
		t.Errorf("rotator config = %+v", rc)
	}
	cfg := prog.calls[p.ID]
	if cfg.SrcWidth != 1080 || cfg.SrcHeight != 1920 {
		t.Errorf("pipe source = %dx%d, want rotator output 1080x1920", cfg.SrcWidth, cfg.SrcHeight)
	}
	if cfg.Flip != hwc.FlipV {
		t.Errorf("pipe flip = %v, want residual flipV", cfg.Flip)
	}
	if !cfg.Flags.Has(pipe.FlagRotated) {
		t.Error("pipe config not marked rotated")
	}
}

func TestConfigureSharedRotator(t *testing.T) {
	prog := &recordingProgrammer{}
	c := New(prog, nil, Limits{})
	reg := pipe.NewRegistry(pipe.DefaultInventory())
	pool := rotator.NewPool(instantEngine{}, rotator.PoolConfig{})
	panelPipe := acquire(t, reg, pipe.MixerLeft, pipe.TypeVG)
	tvPipe := acquire(t, reg, pipe.MixerExternal, pipe.TypeVG)
	s, err := pool.Acquire(hwc.Primary, "video")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	buf := &hwc.Buffer{Width: 1920, Height: 1080, Format: hwc.FormatNV12}
	l := &hwc.Layer{Buffer: buf, Crop: buf.Bounds(), Dest: image.Rect(0, 0, 100, 200), Transform: hwc.Rot90, Alpha: 255}
	if _, err := c.Configure(ctx, l, Assignment{Left: panelPipe, Rotator: s}, panel); err != nil {
		t.Fatalf("Configure(panel) = %v", err)
	}
	before, gen := s.Config(), s.Generation()
	if w, h := before.OutputSize(); w != 270 || h != 480 {
		t.Fatalf("rotator output = %dx%d, want 270x480", w, h)
	}

	tv := Target{ID: hwc.External, Attributes: hwc.DisplayAttributes{Width: 1920, Height: 1080}}
	full := *l
	full.Dest = tv.Attributes.Bounds()
	res, err := c.Configure(ctx, &full, Assignment{Left: tvPipe, Rotator: s, SharedRotator: true, ZOrder: 1}, tv)
	if err != nil {
		t.Fatalf("Configure(tv) = %v", err)
	}
	if res.Rotator != s {
		t.Error("tv pipe not routed through the shared rotator")
	}
	if s.Config() != before || s.Generation() != gen {
		t.Errorf("shared rotator reprogrammed: %+v gen %d, was %+v gen %d", s.Config(), s.Generation(), before, gen)
	}
	for _, p := range []*pipe.Pipe{panelPipe, tvPipe} {
		cfg := prog.calls[p.ID]
		if cfg.SrcWidth != 270 || cfg.SrcHeight != 480 {
			t.Errorf("%s source = %dx%d, want 270x480", p, cfg.SrcWidth, cfg.SrcHeight)
		}
	}
	if got := prog.calls[tvPipe.ID].Dest; got != tv.Attributes.Bounds() {
		t.Errorf("tv dest = %v", got)
	}

	idle, err := pool.Acquire(hwc.Primary, "idle")
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Configure(ctx, &full, Assignment{Left: tvPipe, Rotator: idle, SharedRotator: true}, tv)
	if !errors.Is(err, ErrRejected) {
		t.Errorf("Configure(unprogrammed shared rotator) = %v, want ErrRejected", err)
	}
}

func TestConfigureRejections(t *testing.T) {
	yuv := &hwc.Buffer{Width: 640, Height: 480, Format: hwc.FormatNV12}
	rgb := &hwc.Buffer{Width: 640, Height: 480, Format: hwc.FormatRGBA8888}

	tests := []struct {
		name  string
		layer *hwc.Layer
		hint  pipe.Type
		meta  hwc.Metadata
		rot   bool
	}{
		{
			name:  "no buffer",
			layer: &hwc.Layer{Dest: image.Rect(0, 0, 10, 10)},
			hint:  pipe.TypeVG,
		},
		{
			name:  "crop outside buffer",
			layer: &hwc.Layer{Buffer: rgb, Crop: image.Rect(0, 0, 641, 480), Dest: image.Rect(0, 0, 641, 480)},
			hint:  pipe.TypeRGB,
		},
		{
			name:  "off screen",
			layer: &hwc.Layer{Buffer: rgb, Crop: rgb.Bounds(), Dest: image.Rect(2000, 0, 2640, 480)},
			hint:  pipe.TypeRGB,
		},
		{
			name:  "yuv on RGB pipe",
			layer: &hwc.Layer{Buffer: yuv, Crop: yuv.Bounds(), Dest: yuv.Bounds()},
			hint:  pipe.TypeRGB,
		},
		{
			name:  "scaled on DMA pipe",
			layer: &hwc.Layer{Buffer: rgb, Crop: rgb.Bounds(), Dest: image.Rect(0, 0, 320, 240)},
			hint:  pipe.TypeDMA,
		},
		{
			name:  "interlaced on RGB pipe",
			layer: &hwc.Layer{Buffer: rgb, Crop: rgb.Bounds(), Dest: rgb.Bounds()},
			hint:  pipe.TypeRGB,
			meta:  hwc.Metadata{Interlaced: true},
		},
		{
			name:  "color adjust on RGB pipe",
			layer: &hwc.Layer{Buffer: rgb, Crop: rgb.Bounds(), Dest: rgb.Bounds()},
			hint:  pipe.TypeRGB,
			meta:  hwc.Metadata{Color: hwc.ColorAdjust{Hue: 10}},
		},
		{
			name:  "rotation without rotator",
			layer: &hwc.Layer{Buffer: rgb, Crop: rgb.Bounds(), Dest: image.Rect(0, 0, 480, 640), Transform: hwc.Rot90},
			hint:  pipe.TypeRGB,
		},
		{
			name:  "upscale over limit",
			layer: &hwc.Layer{Buffer: rgb, Crop: image.Rect(0, 0, 10, 10), Dest: image.Rect(0, 0, 500, 500)},
			hint:  pipe.TypeRGB,
		},
		{
			name:  "downscale beyond decimation",
			layer: &hwc.Layer{Buffer: rgb, Crop: rgb.Bounds(), Dest: image.Rect(0, 0, 10, 10)},
			hint:  pipe.TypeRGB,
			rot:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog := &recordingProgrammer{}
			c := New(prog, fixedMetadata(tt.meta), Limits{})
			reg := pipe.NewRegistry(pipe.DefaultInventory())
			a := Assignment{Left: acquire(t, reg, pipe.MixerLeft, tt.hint)}
			if tt.rot {
				pool := rotator.NewPool(instantEngine{}, rotator.PoolConfig{})
				a.Rotator, _ = pool.Acquire(hwc.Primary, "x")
			}
			if _, err := c.Configure(context.Background(), tt.layer, a, panel); !errors.Is(err, ErrRejected) {
				t.Fatalf("Configure() = %v, want ErrRejected", err)
			}
			if len(prog.calls) != 0 {
				t.Error("rejected layer programmed a pipe")
			}
		})
	}
}

func TestConfigureDeinterlaceOnVG(t *testing.T) {
	prog := &recordingProgrammer{}
	c := New(prog, fixedMetadata{Interlaced: true, Color: hwc.ColorAdjust{Saturation: 5}}, Limits{})
	reg := pipe.NewRegistry(pipe.DefaultInventory())
	p := acquire(t, reg, pipe.MixerLeft, pipe.TypeVG)

	buf := &hwc.Buffer{Width: 720, Height: 480, Format: hwc.FormatNV12}
	l := &hwc.Layer{Buffer: buf, Crop: image.Rect(1, 1, 719, 479), Dest: image.Rect(0, 0, 1080, 720), Alpha: 255}

	if _, err := c.Configure(context.Background(), l, Assignment{Left: p}, panel); err != nil {
		t.Fatalf("Configure() = %v", err)
	}
	cfg := prog.calls[p.ID]
	if !cfg.Flags.Has(pipe.FlagDeinterlace | pipe.FlagColorAdjust) {
		t.Errorf("flags = %03b", cfg.Flags)
	}
	if cfg.Crop != image.Rect(0, 0, 718, 478) {
		t.Errorf("crop = %v, want chroma-aligned (0,0)-(718,478)", cfg.Crop)
	}
}

func TestConfigureProgrammerFailure(t *testing.T) {
	prog := &recordingProgrammer{fail: errors.New("ioctl failed")}
	c := New(prog, nil, Limits{})
	reg := pipe.NewRegistry(pipe.DefaultInventory())
	p := acquire(t, reg, pipe.MixerLeft, pipe.TypeRGB)

	buf := &hwc.Buffer{Width: 100, Height: 100, Format: hwc.FormatRGBA8888}
	l := &hwc.Layer{Buffer: buf, Crop: buf.Bounds(), Dest: buf.Bounds(), Alpha: 255}

	if _, err := c.Configure(context.Background(), l, Assignment{Left: p}, panel); !errors.Is(err, ErrRejected) {
		t.Fatalf("Configure() = %v, want ErrRejected", err)
	}
	if p.Config() != (pipe.Config{}) {
		t.Error("failed programming was recorded on the pipe")
	}
}

func TestUnset(t *testing.T) {
	prog := &recordingProgrammer{}
	c := New(prog, nil, Limits{})
	reg := pipe.NewRegistry(pipe.DefaultInventory())
	p := acquire(t, reg, pipe.MixerLeft, pipe.TypeRGB)

	buf := &hwc.Buffer{Width: 100, Height: 100, Format: hwc.FormatRGBA8888}
	l := &hwc.Layer{Buffer: buf, Crop: buf.Bounds(), Dest: buf.Bounds(), Alpha: 255}
	ctx := context.Background()
	if _, err := c.Configure(ctx, l, Assignment{Left: p}, panel); err != nil {
		t.Fatalf("Configure() = %v", err)
	}
	if err := c.Unset(ctx, p); err != nil {
		t.Fatalf("Unset() = %v", err)
	}
	if _, ok := prog.calls[p.ID]; ok || prog.unset != 1 {
		t.Errorf("pipe still programmed after Unset: %v, %d unsets", prog.calls, prog.unset)
	}
	if p.Config() != (pipe.Config{}) {
		t.Errorf("pipe config = %+v after Unset", p.Config())
	}

	if err := New(nil, nil, Limits{}).Unset(ctx, p); err != nil {
		t.Errorf("Unset() without a programmer = %v", err)
	}
	prog.fail = errors.New("ioctl failed")
	if err := c.Unset(ctx, p); err == nil {
		t.Error("Unset() hid the programmer failure")
	}
}

func TestRequirements(t *testing.T) {
	c := New(&recordingProgrammer{}, nil, Limits{})
	buf := &hwc.Buffer{Width: 1920, Height: 1080, Format: hwc.FormatNV12}
	tests := []struct {
		name      string
		dest      image.Rectangle
		transform hwc.Transform
		need      pipe.Caps
		rotator   bool
		ok        bool
	}{
		{"plain", image.Rect(0, 0, 1920, 1080), 0, pipe.CapYUV, false, true},
		{"flip only", image.Rect(0, 0, 1920, 1080), hwc.Rot180, pipe.CapYUV, false, true},
		{"rotated", image.Rect(0, 0, 1080, 1920), hwc.Rot90, pipe.CapYUV, true, true},
		{"scaled", image.Rect(0, 0, 960, 540), 0, pipe.CapYUV | pipe.CapScale, false, true},
		{"heavy downscale", image.Rect(0, 0, 192, 108), 0, pipe.CapYUV | pipe.CapScale, true, true},
		{"impossible downscale", image.Rect(0, 0, 19, 10), 0, pipe.CapYUV, false, false},
		{"impossible upscale", image.Rect(0, 0, 1920*30, 1080*30), 0, pipe.CapYUV, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &hwc.Layer{Buffer: buf, Crop: buf.Bounds(), Dest: tt.dest, Transform: tt.transform}
			got := c.Requirements(l)
			want := Requirements{Need: tt.need, Rotator: tt.rotator, OK: tt.ok}
			if got != want {
				t.Errorf("Requirements() = %+v, want %+v", got, want)
			}
		})
	}

	interlaced := New(&recordingProgrammer{}, fixedMetadata{Interlaced: true}, Limits{})
	l := &hwc.Layer{Buffer: buf, Crop: buf.Bounds(), Dest: buf.Bounds()}
	if got := interlaced.Requirements(l); !got.Need.Has(pipe.CapPostProcess) {
		t.Errorf("interlaced Requirements() = %+v, want post-processing", got)
	}
	if got := c.Requirements(&hwc.Layer{}); got.OK {
		t.Error("Requirements() of a layer without buffer is OK")
	}
}
