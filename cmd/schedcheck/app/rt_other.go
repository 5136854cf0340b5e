// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

//go:build !linux

package app

import (
	"fmt"
	"runtime"
)

func raisePriority() error {
	return fmt.Errorf("priority elevation is not supported on %s", runtime.GOOS)
}
