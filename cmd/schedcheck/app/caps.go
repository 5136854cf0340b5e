// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
)

func capsCommand(global *globalParams) *cobra.Command {
	return &cobra.Command{
		Use:   "caps",
		Short: "Show the device topology and capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			if err := setupLogger(cfg.LogLevel); err != nil {
				return err
			}
			factory, err := deviceFactory(cfg)
			if err != nil {
				return err
			}
			dev, err := factory()
			if err != nil {
				return err
			}
			defer dev.Close() //nolint:errcheck

			out := cmd.OutOrStdout()
			info := dev.Info()
			fmt.Fprintf(out, "Device: %s (%s)\n", info.Name, info.Generation)
			fmt.Fprintf(out, "Caps:   %s\n", dev.Caps())
			fmt.Fprintf(out, "Engines:\n")
			for _, eng := range dev.Engines() {
				var props []string
				for _, name := range []string{
					device.PropPreemptTimeoutMs,
					device.PropHeartbeatIntervalMs,
					device.PropTimesliceDurationMs,
				} {
					if v, err := dev.EngineProperty(eng, name); err == nil {
						props = append(props, fmt.Sprintf("%s=%d", name, v))
					}
				}
				fmt.Fprintf(out, "  %-8s %s\n", eng.Name(), strings.Join(props, " "))
			}
			return nil
		},
	}
}
