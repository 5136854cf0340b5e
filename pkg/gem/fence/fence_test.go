// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package fence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalOnce(t *testing.T) {
	f, signal := NewManual("once")
	assert.Equal(t, StatusPending, f.Status())
	assert.False(t, f.Signalled())
	assert.Zero(t, f.Seq())

	signal(nil)
	signal(errors.New("ignored, already signalled"))

	assert.Equal(t, StatusSignalled, f.Status())
	assert.True(t, f.Signalled())
	assert.NoError(t, f.Err())
	assert.Positive(t, f.Seq())
}

func TestErrorSignal(t *testing.T) {
	f, signal := NewManual("eio")
	boom := errors.New("request reset")
	signal(boom)

	assert.Equal(t, StatusError, f.Status())
	assert.ErrorIs(t, f.Err(), boom)
	assert.ErrorIs(t, f.Wait(context.Background()), boom)
}

func TestWaitRespectsContext(t *testing.T) {
	f, _ := NewManual("never")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.Wait(ctx), context.DeadlineExceeded)
}

func TestWaitTimeout(t *testing.T) {
	f, signal := NewManual("slow")
	assert.ErrorIs(t, f.WaitTimeout(10*time.Millisecond), ErrTimeout)
	signal(nil)
	assert.NoError(t, f.WaitTimeout(time.Second))
}

func TestSeqOrdersSignals(t *testing.T) {
	a, signalA := NewManual("a")
	b, signalB := NewManual("b")
	signalB(nil)
	signalA(nil)
	require.Positive(t, a.Seq())
	require.Positive(t, b.Seq())
	assert.Less(t, b.Seq(), a.Seq())
}

func TestMergeWaitsForAll(t *testing.T) {
	a, signalA := NewManual("a")
	b, signalB := NewManual("b")
	m := Merge("a+b", a, b)

	signalA(nil)
	assert.ErrorIs(t, m.WaitTimeout(20*time.Millisecond), ErrTimeout)

	signalB(nil)
	require.NoError(t, m.WaitTimeout(time.Second))
	assert.Equal(t, StatusSignalled, m.Status())
}

func TestMergePropagatesFirstError(t *testing.T) {
	a, signalA := NewManual("a")
	b, signalB := NewManual("b")
	m := Merge("a+b", a, b)

	wedged := errors.New("wedged")
	signalA(wedged)
	signalB(nil)

	require.NoError(t, waitSignalled(m))
	assert.ErrorIs(t, m.Err(), wedged)
}

func TestMergeOfNothingIsSignalled(t *testing.T) {
	m := Merge("empty")
	assert.True(t, m.Signalled())
	assert.NoError(t, m.Err())
}

func waitSignalled(f *Fence) error {
	select {
	case <-f.Done():
		return nil
	case <-time.After(time.Second):
		return errors.New("fence did not signal")
	}
}
