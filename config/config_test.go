package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/pipe"
	"github.com/gogpu/hwc/planner"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	inv := cfg.Inventory()
	if len(inv.Types) != len(pipe.DefaultInventory().Types) {
		t.Errorf("Inventory() = %+v", inv)
	}
	if got := cfg.Limits().MaxDownscale; got != hwc.Fixed(4) {
		t.Errorf("MaxDownscale = %v, want 4", got)
	}
	attrs, ok := cfg.Display(hwc.Primary)
	if !ok || attrs.Width != 1080 || attrs.VsyncPeriod != time.Second/60 {
		t.Errorf("Display(primary) = %+v, %v", attrs, ok)
	}
	if _, ok := cfg.Display(hwc.External); ok {
		t.Error("external display configured by default")
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
pipes:
  types: [vg, rgb, dma]
  max_per_mixer: 3
rotators:
  sessions: 1
  wait_timeout: 4ms
scaler:
  max_downscale: 2.5
displays:
  primary: {width: 2160, height: 1920, split: 1080}
  external: {width: 1920, height: 1080, refresh_hz: 50}
policy:
  blit: dynamic
  padding_round: false
  fence_timeout: 50ms
  partial_update: true
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	inv := cfg.Inventory()
	if want := []pipe.Type{pipe.TypeVG, pipe.TypeRGB, pipe.TypeDMA}; len(inv.Types) != 3 || inv.Types[0] != want[0] || inv.Types[2] != want[2] {
		t.Errorf("Inventory().Types = %v, want %v", inv.Types, want)
	}
	if inv.MaxPerMixer != 3 {
		t.Errorf("MaxPerMixer = %d", inv.MaxPerMixer)
	}
	if rp := cfg.RotatorPool(); rp.Sessions != 1 || rp.WaitTimeout != 4*time.Millisecond {
		t.Errorf("RotatorPool() = %+v", rp)
	}
	if got, want := cfg.Limits().MaxDownscale, hwc.Fixed(5)/2; got != want {
		t.Errorf("MaxDownscale = %v, want %v", got, want)
	}
	if attrs, _ := cfg.Display(hwc.Primary); !attrs.IsSplit() || attrs.SplitX != 1080 {
		t.Errorf("primary = %+v", attrs)
	}
	if attrs, ok := cfg.Display(hwc.External); !ok || attrs.VsyncPeriod != 20*time.Millisecond {
		t.Errorf("external = %+v, %v", attrs, ok)
	}

	p := cfg.PlannerPolicy()
	if p.Blit != planner.BlitDynamic || p.PaddingRound || !p.Overlay || !p.Mirror {
		t.Errorf("PlannerPolicy() = %+v", p)
	}
	if cfg.Policy.FenceTimeout != 50*time.Millisecond {
		t.Errorf("FenceTimeout = %v", cfg.Policy.FenceTimeout)
	}
	if n := len(cfg.Options()); n != 6 {
		t.Errorf("Options() returned %d options, want 6", n)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown pipe type", "pipes: {types: [VG, XYZ]}"},
		{"no pipes", "pipes: {types: []}"},
		{"negative limit", "pipes: {limits: {VG: -1}}"},
		{"downscale below one", "scaler: {max_downscale: 0.5}"},
		{"unknown display", "displays: {hdmi2: {width: 10, height: 10}}"},
		{"empty display", "displays: {primary: {width: 0, height: 10}}"},
		{"split outside width", "displays: {primary: {width: 100, height: 10, split: 200}}"},
		{"unknown blit mode", "policy: {blit: sometimes}"},
		{"full threshold", "policy: {full_threshold: 1.5}"},
		{"negative timeout", "policy: {fence_timeout: -1s}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); !errors.Is(err, ErrInvalid) {
				t.Errorf("Parse() error = %v, want ErrInvalid", err)
			}
		})
	}

	if _, err := Parse([]byte("pipes: [")); err == nil || errors.Is(err, ErrInvalid) {
		t.Errorf("Parse(malformed) error = %v, want a parse error", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hwc.yaml")
	if err := os.WriteFile(path, []byte("policy: {mirror: false}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PlannerPolicy().Mirror {
		t.Error("mirror still enabled")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) error = %v, want ErrNotExist", err)
	}
}

func TestParseDisplay(t *testing.T) {
	for _, id := range []hwc.DisplayID{hwc.Primary, hwc.External, hwc.Virtual} {
		got, err := ParseDisplay(id.String())
		if err != nil || got != id {
			t.Errorf("ParseDisplay(%q) = %v, %v", id.String(), got, err)
		}
	}
	if _, err := ParseDisplay("tv"); err == nil {
		t.Error("ParseDisplay(tv) succeeded")
	}
}
