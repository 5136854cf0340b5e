// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

// Package config holds the harness configuration: device topology for the
// simulated target, run parameters for the scenarios and the measurement
// tolerances the oracles compare against. Tolerances are configuration,
// never constants in scenario code.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/engine"
)

// Duration fields are integer milliseconds so plain YAML numbers work.

// DeviceConfig describes the simulated device under test.
type DeviceConfig struct {
	Name                string   `yaml:"name"`
	Generation          int      `yaml:"generation"`
	Engines             []string `yaml:"engines"`
	RingSize            int      `yaml:"ring_size"`
	TickUs              int      `yaml:"tick_us"`
	SliceBudget         int      `yaml:"slice_budget"`
	PreemptTimeoutMs    int64    `yaml:"preempt_timeout_ms"`
	HeartbeatIntervalMs int64    `yaml:"heartbeat_interval_ms"`
	TimesliceDurationMs int64    `yaml:"timeslice_duration_ms"`
}

// RunConfig sets scenario iteration counts and deadlines.
type RunConfig struct {
	ScenarioTimeoutMs  int64    `yaml:"scenario_timeout_ms"`
	FairnessDurationMs int64    `yaml:"fairness_duration_ms"`
	PingPongRounds     int      `yaml:"pingpong_rounds"`
	PreemptPasses      int      `yaml:"preempt_passes"`
	QueueDepth         int      `yaml:"queue_depth"`
	Engines            []string `yaml:"engines"`
}

// ToleranceConfig bounds the timing-sensitive oracles.
type ToleranceConfig struct {
	// TimingFraction is the relative slack applied to duration
	// comparisons.
	TimingFraction float64 `yaml:"timing_fraction"`
	// PreemptLatencyFloorMs is the minimum acceptable preemption latency
	// bound, so fast devices are not held to sub-tick precision.
	PreemptLatencyFloorMs int64 `yaml:"preempt_latency_floor_ms"`
	// FairnessFactor is the maximum allowed ratio between the busy times
	// of equally loaded contexts.
	FairnessFactor float64 `yaml:"fairness_factor"`
}

// Config is the root harness configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Device    DeviceConfig    `yaml:"device"`
	Run       RunConfig       `yaml:"run"`
	Tolerance ToleranceConfig `yaml:"tolerance"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LogLevel: "info",
		Device: DeviceConfig{
			Name:                "sim",
			Generation:          12,
			Engines:             []string{"rcs0", "bcs0", "vcs0", "vecs0"},
			RingSize:            64,
			TickUs:              200,
			SliceBudget:         4096,
			PreemptTimeoutMs:    640,
			HeartbeatIntervalMs: 2500,
			TimesliceDurationMs: 1,
		},
		Run: RunConfig{
			ScenarioTimeoutMs:  20000,
			FairnessDurationMs: 400,
			PingPongRounds:     8,
			PreemptPasses:      16,
			QueueDepth:         32,
		},
		Tolerance: ToleranceConfig{
			TimingFraction:        0.05,
			PreemptLatencyFloorMs: 50,
			FairnessFactor:        2.0,
		},
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected so
// typos do not silently fall back to defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs *multierror.Error
	if c.Device.Generation < 2 || c.Device.Generation > 12 {
		errs = multierror.Append(errs, fmt.Errorf("device.generation %d outside 2..12", c.Device.Generation))
	}
	if len(c.Device.Engines) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("device.engines is empty"))
	}
	if _, err := parseEngines(c.Device.Engines); err != nil {
		errs = multierror.Append(errs, err)
	}
	if _, err := parseEngines(c.Run.Engines); err != nil {
		errs = multierror.Append(errs, err)
	}
	if c.Device.RingSize <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("device.ring_size %d must be positive", c.Device.RingSize))
	}
	if c.Device.TickUs <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("device.tick_us %d must be positive", c.Device.TickUs))
	}
	if c.Device.SliceBudget <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("device.slice_budget %d must be positive", c.Device.SliceBudget))
	}
	if c.Run.ScenarioTimeoutMs <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("run.scenario_timeout_ms %d must be positive", c.Run.ScenarioTimeoutMs))
	}
	if c.Run.FairnessDurationMs <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("run.fairness_duration_ms %d must be positive", c.Run.FairnessDurationMs))
	}
	if c.Run.PingPongRounds <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("run.pingpong_rounds %d must be positive", c.Run.PingPongRounds))
	}
	if c.Run.PreemptPasses <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("run.preempt_passes %d must be positive", c.Run.PreemptPasses))
	}
	if c.Run.QueueDepth <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("run.queue_depth %d must be positive", c.Run.QueueDepth))
	}
	if c.Tolerance.TimingFraction < 0 || c.Tolerance.TimingFraction > 1 {
		errs = multierror.Append(errs, fmt.Errorf("tolerance.timing_fraction %v outside 0..1", c.Tolerance.TimingFraction))
	}
	if c.Tolerance.PreemptLatencyFloorMs < 0 {
		errs = multierror.Append(errs, fmt.Errorf("tolerance.preempt_latency_floor_ms %d must not be negative", c.Tolerance.PreemptLatencyFloorMs))
	}
	if c.Tolerance.FairnessFactor < 1 {
		errs = multierror.Append(errs, fmt.Errorf("tolerance.fairness_factor %v must be at least 1", c.Tolerance.FairnessFactor))
	}
	return errs.ErrorOrNil()
}

func parseEngines(names []string) (engine.List, error) {
	var out engine.List
	for _, name := range names {
		desc, err := engine.Parse(name)
		if err != nil {
			return nil, err
		}
		out = append(out, desc)
	}
	return out, nil
}

// DeviceEngines returns the parsed device engine topology.
func (c *Config) DeviceEngines() (engine.List, error) {
	return parseEngines(c.Device.Engines)
}

// RunEngines returns the parsed engine filter for scenarios; empty means
// every device engine.
func (c *Config) RunEngines() (engine.List, error) {
	return parseEngines(c.Run.Engines)
}

// Tick returns the scheduling granularity of the simulated device.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.Device.TickUs) * time.Microsecond
}

// ScenarioTimeout bounds a single scenario run.
func (c *Config) ScenarioTimeout() time.Duration {
	return time.Duration(c.Run.ScenarioTimeoutMs) * time.Millisecond
}

// FairnessDuration is how long the fairness scenario samples busy time.
func (c *Config) FairnessDuration() time.Duration {
	return time.Duration(c.Run.FairnessDurationMs) * time.Millisecond
}

// PreemptLatencyFloor is the minimum preemption latency bound.
func (c *Config) PreemptLatencyFloor() time.Duration {
	return time.Duration(c.Tolerance.PreemptLatencyFloorMs) * time.Millisecond
}
