// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

// Package version defines the version of schedcheck
package version

// Version contains the version of schedcheck.
// It is populated at build time using build flags.
var Version string

// Commit is populated with the short commit hash schedcheck was built from
var Commit string

var versionDefault = "0.1.0-devel"

func init() {
	if Version == "" {
		Version = versionDefault
	}
}
