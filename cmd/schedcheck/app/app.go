// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

// Package app implements the schedcheck command.
package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cihub/seelog"
	"github.com/spf13/cobra"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/config"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/schedcheck"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/sim"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/util/log"
)

const logDateFormat = "2006-01-02 15:04:05 MST"

type globalParams struct {
	cfgPath  string
	logLevel string
}

// Run executes the root command and maps the outcome to an exit code.
func Run() int {
	if err := RootCommand().Execute(); err != nil {
		if !errors.Is(err, errContractViolated) {
			log.Errorf("%v", err) //nolint:errcheck
		}
		log.Flush()
		return 1
	}
	log.Flush()
	return 0
}

// RootCommand builds the schedcheck command tree.
func RootCommand() *cobra.Command {
	var global globalParams
	root := &cobra.Command{
		Use:   "schedcheck [command]",
		Short: "GPU scheduler contract checker",
		Long: `schedcheck submits crafted batch workloads to a GPU device and verifies
the scheduling contract: submission order, priority, preemption,
timeslicing, semaphore waits and ring backpressure.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pflags := root.PersistentFlags()
	pflags.StringVarP(&global.cfgPath, "cfgpath", "c", "", "path to the configuration yaml file")
	pflags.StringVarP(&global.logLevel, "log-level", "l", "", "log level (trace, debug, info, warn, error)")

	root.AddCommand(runCommand(&global))
	root.AddCommand(listCommand())
	root.AddCommand(capsCommand(&global))
	root.AddCommand(versionCommand())
	return root
}

// loadConfig resolves the effective configuration for a subcommand.
func loadConfig(global *globalParams) (config.Config, error) {
	cfg := config.Default()
	if global.cfgPath != "" {
		var err error
		cfg, err = config.Load(global.cfgPath)
		if err != nil {
			return config.Config{}, err
		}
	}
	if global.logLevel != "" {
		cfg.LogLevel = global.logLevel
	}
	return cfg, nil
}

func setupLogger(level string) error {
	cfgStr := fmt.Sprintf(`
<seelog minlevel=%q>
    <outputs formatid="common"><console/></outputs>
    <formats>
        <format id="common" format="%%Date(%s) | %%LEVEL | (%%RelFile:%%Line) | %%Msg%%n"/>
    </formats>
</seelog>`, strings.ToLower(level), logDateFormat)

	l, err := seelog.LoggerFromConfigAsString(cfgStr)
	if err != nil {
		return fmt.Errorf("cannot configure logger: %w", err)
	}
	log.SetupLogger(l, level)
	return nil
}

// deviceFactory builds simulated devices from the device section. Every
// scenario gets a fresh one.
func deviceFactory(cfg config.Config) (schedcheck.DeviceFactory, error) {
	engines, err := cfg.DeviceEngines()
	if err != nil {
		return nil, err
	}
	return func() (device.Device, error) {
		return sim.New(
			sim.WithName(cfg.Device.Name),
			sim.WithGeneration(device.Generation(cfg.Device.Generation)),
			sim.WithEngines(engines),
			sim.WithRingSize(cfg.Device.RingSize),
			sim.WithTick(cfg.Tick()),
			sim.WithSliceBudget(cfg.Device.SliceBudget),
			sim.WithPreemptTimeout(cfg.Device.PreemptTimeoutMs),
			sim.WithHeartbeatInterval(cfg.Device.HeartbeatIntervalMs),
			sim.WithTimesliceDuration(cfg.Device.TimesliceDurationMs),
		)
	}, nil
}
