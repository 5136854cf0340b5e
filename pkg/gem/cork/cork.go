// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

// Package cork provides a submission plug: a manually signalled fence that
// queued work depends on, so a batch of submissions can be released to the
// scheduler simultaneously. Scheduling scenarios use a cork to queue work in
// a known order and then observe how the scheduler reorders it on release.
package cork

import (
	"go.uber.org/atomic"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/fence"
)

// Cork holds back submissions that list its fence as an input dependency
// until Unplug is called.
type Cork struct {
	fence     *fence.Fence
	signal    func(error)
	unplugged atomic.Bool
}

// Plug returns a new, plugged cork.
func Plug(name string) *Cork {
	f, signal := fence.NewManual(name)
	return &Cork{fence: f, signal: signal}
}

// Fence returns the fence submissions should depend on while plugged.
func (c *Cork) Fence() *fence.Fence { return c.fence }

// Unplug releases everything queued behind the cork. A cork is single-use;
// extra calls are no-ops.
func (c *Cork) Unplug() {
	if c.unplugged.CompareAndSwap(false, true) {
		c.signal(nil)
	}
}

// Unplugged reports whether the cork has been released.
func (c *Cork) Unplugged() bool { return c.unplugged.Load() }
