// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package schedcheck

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/config"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/engine"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/submit"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/util/log"
)

// scratchSize is one page, enough for every scenario's observable state.
const scratchSize = 4096

// Env is the execution environment handed to a scenario: the device under
// test, the run configuration, the engines selected for this run and a
// teardown stack. The embedded State receives assertions.
type Env struct {
	*State

	ctx     context.Context
	dev     device.Device
	cfg     config.Config
	engines engine.List

	cleanups []func() error
}

func newEnv(ctx context.Context, dev device.Device, cfg config.Config, engines engine.List) *Env {
	return &Env{
		State:   &State{},
		ctx:     ctx,
		dev:     dev,
		cfg:     cfg,
		engines: engines,
	}
}

// Context carries the scenario deadline. Every blocking device call a
// scenario makes should honor it.
func (e *Env) Context() context.Context { return e.ctx }

// Device returns the device under test.
func (e *Env) Device() device.Device { return e.dev }

// Config returns the run configuration.
func (e *Env) Config() config.Config { return e.cfg }

// Engines returns the engines selected for this run.
func (e *Env) Engines() engine.List { return e.engines }

// Skipf aborts the scenario with a skip verdict.
func (e *Env) Skipf(format string, args ...interface{}) {
	panic(skipPanic{reason: fmt.Sprintf(format, args...)})
}

// Defer pushes a teardown step. Steps run in reverse order after the
// scenario finishes, whether it passed or not.
func (e *Env) Defer(fn func() error) {
	e.cleanups = append(e.cleanups, fn)
}

// teardown unwinds the cleanup stack. Errors are collected, not fatal: a
// failed scenario has usually wedged some of its own resources.
func (e *Env) teardown() {
	var errs *multierror.Error
	for i := len(e.cleanups) - 1; i >= 0; i-- {
		if err := e.cleanups[i](); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	e.cleanups = nil
	if err := errs.ErrorOrNil(); err != nil {
		log.Warnf("scenario teardown: %v", err) //nolint:errcheck
	}
}

// NewContext creates a context at the given priority and schedules its
// destruction.
func (e *Env) NewContext(prio int) device.ContextID {
	id, err := e.dev.CreateContext(device.ContextConfig{})
	require.NoError(e, err, "creating context")
	e.Defer(func() error { return e.dev.DestroyContext(id) })
	if prio != device.DefaultPriority {
		require.NoError(e, e.dev.SetContextPriority(id, prio), "setting context priority")
	}
	return id
}

// NewScratch creates a page sized scratch object and schedules its release.
func (e *Env) NewScratch() device.Handle {
	h, err := e.dev.CreateObject(scratchSize)
	require.NoError(e, err, "creating scratch object")
	e.Defer(func() error { return e.dev.CloseObject(h) })
	return h
}

// ReadScratch returns the index-th dword of a scratch object.
func (e *Env) ReadScratch(h device.Handle, index int) uint32 {
	v, err := submit.ReadScratch(e.dev, h, index)
	require.NoError(e, err, "reading scratch")
	return v
}

// WaitIdle blocks until every write to the object has retired.
func (e *Env) WaitIdle(h device.Handle) {
	require.NoError(e, e.dev.WaitObject(e.ctx, h, -1), "waiting for object to idle")
}
