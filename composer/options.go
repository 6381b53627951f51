package composer

import (
	"time"

	"github.com/gogpu/hwc"
	"github.com/gogpu/hwc/configurator"
	"github.com/gogpu/hwc/display"
	"github.com/gogpu/hwc/pipe"
	"github.com/gogpu/hwc/planner"
	"github.com/gogpu/hwc/rotator"
)

// Option configures a Composer during creation.
//
// Example:
//
//	// Best registered backend, default hardware description
//	c, err := composer.New()
//
//	// Injected device and policy
//	c, err := composer.New(composer.WithDevice(dev), composer.WithPolicy(policy))
type Option func(*options)

// options holds optional configuration for Composer creation.
type options struct {
	device        display.Device
	hotplug       hwc.HotplugProvider
	metadata      hwc.MetadataProvider
	policy        planner.Policy
	inventory     pipe.Inventory
	rotators      rotator.PoolConfig
	limits        configurator.Limits
	fenceTimeout  time.Duration
	partial       bool
	fullThreshold float64
}

// defaultOptions returns the default composer options.
func defaultOptions() options {
	return options{
		policy:    planner.DefaultPolicy(),
		inventory: pipe.DefaultInventory(),
	}
}

// WithDevice sets the display device. Without it the composer opens the
// best registered backend.
func WithDevice(dev display.Device) Option {
	return func(o *options) {
		o.device = dev
	}
}

// WithHotplug sets a connection-state source polled at the start of every
// frame. Without it only Connect, Disconnect and Hotplug change the set of
// displays.
func WithHotplug(h hwc.HotplugProvider) Option {
	return func(o *options) {
		o.hotplug = h
	}
}

// WithMetadata sets the buffer metadata source.
func WithMetadata(m hwc.MetadataProvider) Option {
	return func(o *options) {
		o.metadata = m
	}
}

// WithPolicy sets the planner policy.
func WithPolicy(p planner.Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithInventory describes the hardware pipes.
func WithInventory(inv pipe.Inventory) Option {
	return func(o *options) {
		o.inventory = inv
	}
}

// WithRotators configures the rotator pool.
func WithRotators(cfg rotator.PoolConfig) Option {
	return func(o *options) {
		o.rotators = cfg
	}
}

// WithLimits sets the pipe scaler limits.
func WithLimits(l configurator.Limits) Option {
	return func(o *options) {
		o.limits = l
	}
}

// WithFenceTimeout bounds the per-frame buffer-sync call.
func WithFenceTimeout(d time.Duration) Option {
	return func(o *options) {
		o.fenceTimeout = d
	}
}

// WithPartialUpdate enables partial-update commits. A frame whose damage
// covers at least fullThreshold of the display is committed in full; a
// threshold <= 0 uses commit.DefaultFullThreshold.
func WithPartialUpdate(fullThreshold float64) Option {
	return func(o *options) {
		o.partial = true
		o.fullThreshold = fullThreshold
	}
}
