// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

// Package mocks provides a testify mock of the device interface for
// plumbing tests that should not pull in the simulator.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/engine"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/fence"
)

// Device mocks device.Device. Expectations are set with On as usual.
type Device struct {
	mock.Mock
}

var _ device.Device = (*Device)(nil)

func (m *Device) Info() device.Info {
	args := m.Called()
	return args.Get(0).(device.Info)
}

func (m *Device) Engines() engine.List {
	args := m.Called()
	l, _ := args.Get(0).(engine.List)
	return l
}

func (m *Device) Caps() device.Caps {
	args := m.Called()
	return args.Get(0).(device.Caps)
}

func (m *Device) CreateObject(size uint64) (device.Handle, error) {
	args := m.Called(size)
	return args.Get(0).(device.Handle), args.Error(1)
}

func (m *Device) CloseObject(h device.Handle) error {
	args := m.Called(h)
	return args.Error(0)
}

func (m *Device) ReadObject(h device.Handle) ([]byte, error) {
	args := m.Called(h)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *Device) WriteObject(h device.Handle, offset uint64, data []byte) error {
	args := m.Called(h, offset, data)
	return args.Error(0)
}

func (m *Device) WaitObject(ctx context.Context, h device.Handle, timeout time.Duration) error {
	args := m.Called(ctx, h, timeout)
	return args.Error(0)
}

func (m *Device) CreateContext(cfg device.ContextConfig) (device.ContextID, error) {
	args := m.Called(cfg)
	return args.Get(0).(device.ContextID), args.Error(1)
}

func (m *Device) DestroyContext(id device.ContextID) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *Device) SetContextPriority(id device.ContextID, prio int) error {
	args := m.Called(id, prio)
	return args.Error(0)
}

func (m *Device) ContextRuntime(id device.ContextID, eng engine.Descriptor) (time.Duration, error) {
	args := m.Called(id, eng)
	return args.Get(0).(time.Duration), args.Error(1)
}

func (m *Device) SetEngineProperty(eng engine.Descriptor, name string, value int64) error {
	args := m.Called(eng, name, value)
	return args.Error(0)
}

func (m *Device) EngineProperty(eng engine.Descriptor, name string) (int64, error) {
	args := m.Called(eng, name)
	return args.Get(0).(int64), args.Error(1)
}

func (m *Device) SetHangcheck(enabled bool) error {
	args := m.Called(enabled)
	return args.Error(0)
}

func (m *Device) Submit(ctx context.Context, req *device.Request) (*fence.Fence, error) {
	args := m.Called(ctx, req)
	f, _ := args.Get(0).(*fence.Fence)
	return f, args.Error(1)
}

func (m *Device) Close() error {
	args := m.Called()
	return args.Error(0)
}
