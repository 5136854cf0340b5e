// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package device

import "errors"

// Sentinel errors returned by Device implementations. They correspond to the
// errno values a kernel driver would return from the equivalent ioctls.
var (
	// ErrNotSupported reports a capability or property the device does
	// not implement (ENODEV / EOPNOTSUPP).
	ErrNotSupported = errors.New("gem: not supported on this device")

	// ErrNoSpace reports address space or ring exhaustion (ENOSPC).
	ErrNoSpace = errors.New("gem: no space left on device")

	// ErrWouldBlock reports that a non-blocking submission found the
	// context ring full (EWOULDBLOCK).
	ErrWouldBlock = errors.New("gem: submission would block")

	// ErrInterrupted reports that a blocking call was cancelled before
	// completion (EINTR).
	ErrInterrupted = errors.New("gem: interrupted")

	// ErrWedged reports a device that has given up executing anything
	// (terminal EIO).
	ErrWedged = errors.New("gem: device is wedged")

	// ErrReset reports a request killed by hang recovery or forced
	// preemption (per-request EIO).
	ErrReset = errors.New("gem: request reset")

	// ErrNoSuchObject reports an unknown buffer object handle (ENOENT).
	ErrNoSuchObject = errors.New("gem: no such object")

	// ErrNoSuchContext reports an unknown context id (ENOENT).
	ErrNoSuchContext = errors.New("gem: no such context")

	// ErrNoSuchEngine reports an engine the device does not have (EINVAL).
	ErrNoSuchEngine = errors.New("gem: no such engine")

	// ErrTimedOut reports an expired wait (ETIME).
	ErrTimedOut = errors.New("gem: wait timed out")

	// ErrInvalid reports a malformed argument (EINVAL).
	ErrInvalid = errors.New("gem: invalid argument")
)
