// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package sim

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/engine"
)

// Scheduling knob defaults, in the units of the matching engine property.
const (
	DefaultPreemptTimeoutMs    = 640
	DefaultHeartbeatIntervalMs = 2500
	DefaultTimesliceDurationMs = 1
)

// DefaultCaps is the full capability set of a healthy simulated device.
const DefaultCaps = device.CapScheduler | device.CapPriority | device.CapPreemption |
	device.CapSemaphores | device.CapTimeslicing | device.CapBusyStats

type config struct {
	name       string
	gen        device.Generation
	engines    engine.List
	caps       device.Caps
	ringSize   int
	tick       time.Duration
	budget     int
	clk        clock.Clock
	registerer prometheus.Registerer
	faults     faultSet

	preemptTimeoutMs    int64
	heartbeatIntervalMs int64
	timesliceDurationMs int64
}

func defaultConfig() config {
	return config{
		name: "sim",
		gen:  12,
		engines: engine.List{
			{Class: engine.ClassRender, Instance: 0},
			{Class: engine.ClassCopy, Instance: 0},
			{Class: engine.ClassVideo, Instance: 0},
			{Class: engine.ClassVideoEnhance, Instance: 0},
		},
		caps:                DefaultCaps,
		ringSize:            64,
		tick:                200 * time.Microsecond,
		budget:              4096,
		clk:                 clock.New(),
		preemptTimeoutMs:    DefaultPreemptTimeoutMs,
		heartbeatIntervalMs: DefaultHeartbeatIntervalMs,
		timesliceDurationMs: DefaultTimesliceDurationMs,
	}
}

// Option configures a simulated device.
type Option func(*config)

// WithName sets the device name reported by Info.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithGeneration sets the hardware generation batches are decoded as.
func WithGeneration(gen device.Generation) Option {
	return func(c *config) { c.gen = gen }
}

// WithEngines replaces the default engine set.
func WithEngines(engines engine.List) Option {
	return func(c *config) { c.engines = engines }
}

// WithRingSize sets how many in-flight requests each context may hold per
// engine before submission blocks.
func WithRingSize(n int) Option {
	return func(c *config) { c.ringSize = n }
}

// WithTick sets the scheduling granularity. Preemption latency and
// timeslice rotation are quantized to it.
func WithTick(d time.Duration) Option {
	return func(c *config) { c.tick = d }
}

// WithSliceBudget sets how many instructions an engine executes per tick.
func WithSliceBudget(n int) Option {
	return func(c *config) { c.budget = n }
}

// WithClock injects the clock driving engine ticks and timeouts.
func WithClock(clk clock.Clock) Option {
	return func(c *config) { c.clk = clk }
}

// WithRegisterer registers the device telemetry with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) { c.registerer = reg }
}

// WithoutCaps removes capabilities from the device report, so scenarios
// requiring them skip.
func WithoutCaps(caps device.Caps) Option {
	return func(c *config) { c.caps &^= caps }
}

// WithPreemptTimeout sets the initial preempt_timeout_ms of every engine.
func WithPreemptTimeout(ms int64) Option {
	return func(c *config) { c.preemptTimeoutMs = ms }
}

// WithHeartbeatInterval sets the initial heartbeat_interval_ms of every
// engine.
func WithHeartbeatInterval(ms int64) Option {
	return func(c *config) { c.heartbeatIntervalMs = ms }
}

// WithTimesliceDuration sets the initial timeslice_duration_ms of every
// engine.
func WithTimesliceDuration(ms int64) Option {
	return func(c *config) { c.timesliceDurationMs = ms }
}

// Fault options build devices that claim healthy capabilities but break
// the contract. The scenario tests use them to prove each oracle detects
// its bug.

// WithStrictFIFO makes the scheduler execute in pure submission order,
// ignoring priorities it claims to support.
func WithStrictFIFO() Option {
	return func(c *config) { c.faults.strictFIFO = true }
}

// WithoutPreemption makes higher priority work wait for the running batch
// to finish, despite the advertised preemption capability.
func WithoutPreemption() Option {
	return func(c *config) { c.faults.noPreempt = true }
}

// WithoutTimeslicing disables equal priority rotation.
func WithoutTimeslicing() Option {
	return func(c *config) { c.faults.noTimeslice = true }
}

// WithoutSemaphoreYield makes a batch blocked on a semaphore hold its
// engine instead of ceding it, starving whatever would satisfy the wait.
func WithoutSemaphoreYield() Option {
	return func(c *config) { c.faults.noSemYield = true }
}
