// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package cork

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/fence"
)

func TestPlugHoldsFence(t *testing.T) {
	c := Plug("plug")
	assert.False(t, c.Unplugged())
	assert.Equal(t, fence.StatusPending, c.Fence().Status())
}

func TestUnplugReleases(t *testing.T) {
	c := Plug("plug")
	c.Unplug()
	assert.True(t, c.Unplugged())
	require.NoError(t, c.Fence().WaitTimeout(time.Second))
	assert.Equal(t, fence.StatusSignalled, c.Fence().Status())
}

func TestUnplugIsIdempotent(t *testing.T) {
	c := Plug("plug")
	c.Unplug()
	c.Unplug()
	assert.True(t, c.Unplugged())
	assert.NoError(t, c.Fence().Err())
}

func TestQueuedWorkWaitsBehindCork(t *testing.T) {
	c := Plug("plug")
	released := fence.Merge("queued", c.Fence())
	assert.ErrorIs(t, released.WaitTimeout(20*time.Millisecond), fence.ErrTimeout)
	c.Unplug()
	assert.NoError(t, released.WaitTimeout(time.Second))
}
