// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

//go:build linux

package app

import "golang.org/x/sys/unix"

// raisePriority moves the process to the minimum niceness so latency
// measurements are less exposed to host load. Needs CAP_SYS_NICE.
func raisePriority() error {
	return unix.Setpriority(unix.PRIO_PROCESS, 0, -20)
}
