// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package app

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/version"
)

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version info",
		RunE: func(cmd *cobra.Command, _ []string) error {
			commit := version.Commit
			if commit == "" {
				commit = "unknown"
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "schedcheck %s - Commit: %s - Go version: %s\n",
				version.Version, commit, runtime.Version())
			return err
		},
	}
}
