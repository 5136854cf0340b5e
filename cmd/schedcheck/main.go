// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package main

import (
	"os"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/cmd/schedcheck/app"
)

func main() {
	os.Exit(app.Run())
}
