// Package config loads the hardware description and composition policy from
// YAML.
//
// A file only needs the keys it changes; everything else keeps the values
// of Default:
//
//	pipes:
//	  types: [VG, VG, RGB, RGB, DMA, DMA]
//	  max_per_mixer: 4
//	  limits: {VG: 2, RGB: 2, DMA: 2}
//	rotators:
//	  sessions: 2
//	  wait_timeout: 8ms
//	scaler:
//	  max_downscale: 4
//	  max_upscale: 20
//	displays:
//	  primary: {width: 1080, height: 1920, refresh_hz: 60}
//	  external: {width: 1920, height: 1080}
//	policy:
//	  overlay: true
//	  max_app_layers: 4
//	  blit: off
//	  padding_round: true
//	  mirror: true
//	  fence_timeout: 100ms
//	  partial_update: false
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"golang.org/x/image/math/fixed"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/commit"
	"github.com/gogpu/hwc/composer"
	"github.com/gogpu/hwc/configurator"
	"github.com/gogpu/hwc/framesync"
	"github.com/gogpu/hwc/pipe"
	"github.com/gogpu/hwc/planner"
	"github.com/gogpu/hwc/rotator"
)

// ErrInvalid is returned for a configuration that fails validation.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete configuration.
type Config struct {
	Pipes    PipesConfig              `yaml:"pipes"`
	Rotators RotatorsConfig           `yaml:"rotators"`
	Scaler   ScalerConfig             `yaml:"scaler"`
	Displays map[string]DisplayConfig `yaml:"displays"`
	Policy   PolicyConfig             `yaml:"policy"`
}

// PipesConfig describes the pipe inventory.
type PipesConfig struct {
	// Types lists one pipe type per hardware pipe: VG, RGB or DMA.
	Types       []string       `yaml:"types"`
	MaxPerMixer int            `yaml:"max_per_mixer"`
	Limits      map[string]int `yaml:"limits,omitempty"`
}

// RotatorsConfig describes the rotator pool.
type RotatorsConfig struct {
	Sessions    int           `yaml:"sessions"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`
}

// ScalerConfig holds the pipe scaler limits.
type ScalerConfig struct {
	MaxDownscale float64 `yaml:"max_downscale"`
	MaxUpscale   int     `yaml:"max_upscale"`
}

// DisplayConfig is the geometry of one display.
type DisplayConfig struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	Split     int `yaml:"split,omitempty"`
	RefreshHz int `yaml:"refresh_hz,omitempty"`
}

// PolicyConfig tunes composition.
type PolicyConfig struct {
	Overlay       bool          `yaml:"overlay"`
	MaxAppLayers  int           `yaml:"max_app_layers"`
	Blit          string        `yaml:"blit"`
	BlitThreshold float64       `yaml:"blit_threshold"`
	PaddingRound  bool          `yaml:"padding_round"`
	Mirror        bool          `yaml:"mirror"`
	FenceTimeout  time.Duration `yaml:"fence_timeout"`
	PartialUpdate bool          `yaml:"partial_update"`
	FullThreshold float64       `yaml:"full_threshold"`
}

// Default returns the configuration of the default hardware: the default
// pipe inventory, two rotator sessions and a 1080x1920 panel.
func Default() *Config {
	inv := pipe.DefaultInventory()
	types := make([]string, len(inv.Types))
	for i, t := range inv.Types {
		types[i] = t.String()
	}
	limits := make(map[string]int, len(inv.Limits))
	for t, n := range inv.Limits {
		limits[t.String()] = n
	}
	policy := planner.DefaultPolicy()
	return &Config{
		Pipes: PipesConfig{Types: types, MaxPerMixer: inv.MaxPerMixer, Limits: limits},
		Rotators: RotatorsConfig{
			Sessions:    rotator.DefaultSessions,
			WaitTimeout: rotator.DefaultWaitTimeout,
		},
		Scaler: ScalerConfig{
			MaxDownscale: configurator.DefaultMaxDownscale,
			MaxUpscale:   configurator.DefaultMaxUpscale,
		},
		Displays: map[string]DisplayConfig{
			hwc.Primary.String(): {Width: 1080, Height: 1920, RefreshHz: 60},
		},
		Policy: PolicyConfig{
			Overlay:       policy.Overlay,
			MaxAppLayers:  policy.MaxAppLayers,
			Blit:          policy.Blit.String(),
			BlitThreshold: policy.BlitThreshold,
			PaddingRound:  policy.PaddingRound,
			Mirror:        policy.Mirror,
			FenceTimeout:  framesync.DefaultTimeout,
			FullThreshold: commit.DefaultFullThreshold,
		},
	}
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first problem found.
func (c *Config) Validate() error {
	if _, err := c.inventory(); err != nil {
		return err
	}
	if c.Rotators.Sessions < 0 {
		return fmt.Errorf("%w: rotators.sessions %d", ErrInvalid, c.Rotators.Sessions)
	}
	if c.Scaler.MaxDownscale < 1 {
		return fmt.Errorf("%w: scaler.max_downscale %g below 1", ErrInvalid, c.Scaler.MaxDownscale)
	}
	if c.Scaler.MaxUpscale < 1 {
		return fmt.Errorf("%w: scaler.max_upscale %d below 1", ErrInvalid, c.Scaler.MaxUpscale)
	}
	if _, ok := c.Displays[hwc.Primary.String()]; !ok {
		return fmt.Errorf("%w: displays.primary missing", ErrInvalid)
	}
	for name := range c.Displays {
		if _, err := c.display(name); err != nil {
			return err
		}
	}
	if _, err := planner.ParseBlitMode(c.Policy.Blit); err != nil {
		return fmt.Errorf("%w: policy.blit: %w", ErrInvalid, err)
	}
	if c.Policy.MaxAppLayers < 0 || c.Policy.BlitThreshold < 0 || c.Policy.FenceTimeout < 0 {
		return fmt.Errorf("%w: negative policy value", ErrInvalid)
	}
	if c.Policy.FullThreshold < 0 || c.Policy.FullThreshold > 1 {
		return fmt.Errorf("%w: policy.full_threshold %g outside [0, 1]", ErrInvalid, c.Policy.FullThreshold)
	}
	return nil
}

// Inventory returns the pipe inventory. c must be valid.
func (c *Config) Inventory() pipe.Inventory {
	inv, _ := c.inventory()
	return inv
}

func (c *Config) inventory() (pipe.Inventory, error) {
	inv := pipe.Inventory{MaxPerMixer: c.Pipes.MaxPerMixer, Limits: make(map[pipe.Type]int, len(c.Pipes.Limits))}
	for i, s := range c.Pipes.Types {
		t, err := pipe.ParseType(s)
		if err != nil {
			return inv, fmt.Errorf("%w: pipes.types[%d]: %w", ErrInvalid, i, err)
		}
		inv.Types = append(inv.Types, t)
	}
	for s, n := range c.Pipes.Limits {
		t, err := pipe.ParseType(s)
		if err != nil {
			return inv, fmt.Errorf("%w: pipes.limits: %w", ErrInvalid, err)
		}
		inv.Limits[t] = n
	}
	if err := inv.Validate(); err != nil {
		return inv, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return inv, nil
}

// RotatorPool returns the rotator pool configuration.
func (c *Config) RotatorPool() rotator.PoolConfig {
	return rotator.PoolConfig{Sessions: c.Rotators.Sessions, WaitTimeout: c.Rotators.WaitTimeout}
}

// Limits returns the scaler limits in 52.12 fixed point.
func (c *Config) Limits() configurator.Limits {
	return configurator.Limits{
		MaxDownscale: fixed.Int52_12(math.Round(c.Scaler.MaxDownscale * (1 << 12))),
		MaxUpscale:   c.Scaler.MaxUpscale,
	}
}

// PlannerPolicy returns the planner policy. c must be valid.
func (c *Config) PlannerPolicy() planner.Policy {
	blit, _ := planner.ParseBlitMode(c.Policy.Blit)
	return planner.Policy{
		MaxAppLayers:  c.Policy.MaxAppLayers,
		Overlay:       c.Policy.Overlay,
		Blit:          blit,
		BlitThreshold: c.Policy.BlitThreshold,
		PaddingRound:  c.Policy.PaddingRound,
		Mirror:        c.Policy.Mirror,
	}
}

// Display returns the attributes of display id, if configured.
func (c *Config) Display(id hwc.DisplayID) (hwc.DisplayAttributes, bool) {
	attrs, err := c.display(id.String())
	if err != nil {
		return hwc.DisplayAttributes{}, false
	}
	return attrs, true
}

func (c *Config) display(name string) (hwc.DisplayAttributes, error) {
	dc, ok := c.Displays[name]
	if !ok {
		return hwc.DisplayAttributes{}, fmt.Errorf("%w: display %q not configured", ErrInvalid, name)
	}
	if _, err := ParseDisplay(name); err != nil {
		return hwc.DisplayAttributes{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if dc.Width <= 0 || dc.Height <= 0 || dc.RefreshHz < 0 {
		return hwc.DisplayAttributes{}, fmt.Errorf("%w: display %s: %dx%d at %d Hz", ErrInvalid, name, dc.Width, dc.Height, dc.RefreshHz)
	}
	attrs := hwc.DisplayAttributes{Width: dc.Width, Height: dc.Height, SplitX: dc.Split}
	if dc.RefreshHz > 0 {
		attrs.VsyncPeriod = time.Second / time.Duration(dc.RefreshHz)
	}
	if err := attrs.Validate(); err != nil {
		return attrs, fmt.Errorf("%w: display %s: %w", ErrInvalid, name, err)
	}
	return attrs, nil
}

// ParseDisplay parses a display name: primary, external or virtual.
func ParseDisplay(s string) (hwc.DisplayID, error) {
	for id := hwc.Primary; id < hwc.NumDisplays; id++ {
		if id.String() == s {
			return id, nil
		}
	}
	return hwc.NumDisplays, fmt.Errorf("config: unknown display %q", s)
}

// Options returns the composer options the configuration describes.
func (c *Config) Options() []composer.Option {
	opts := []composer.Option{
		composer.WithInventory(c.Inventory()),
		composer.WithRotators(c.RotatorPool()),
		composer.WithLimits(c.Limits()),
		composer.WithPolicy(c.PlannerPolicy()),
		composer.WithFenceTimeout(c.Policy.FenceTimeout),
	}
	if c.Policy.PartialUpdate {
		opts = append(opts, composer.WithPartialUpdate(c.Policy.FullThreshold))
	}
	return opts
}
