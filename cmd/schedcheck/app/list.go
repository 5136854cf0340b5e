// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/schedcheck"
)

func listCommand() *cobra.Command {
	var include, exclude []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarios, err := schedcheck.Filter(schedcheck.All(), include, exclude)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range scenarios {
				fmt.Fprintf(out, "%-16s %s", s.Name, s.Description)
				if s.Requires != 0 {
					fmt.Fprintf(out, " (requires %s)", s.Requires)
				}
				fmt.Fprint(out, "\n")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceVarP(&include, "filter", "f", nil, "only list scenarios matching these regexps")
	f.StringSliceVarP(&exclude, "exclude", "x", nil, "skip scenarios matching these regexps")
	return cmd
}
