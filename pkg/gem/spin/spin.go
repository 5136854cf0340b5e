// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

// Package spin submits batches that run until explicitly ended. A spinner
// occupies an engine with a tight jump loop and is the building block for
// preemption and backpressure scenarios: it announces through memory when
// it has started executing, and it terminates when the loop head is patched
// over with a batch end instruction.
package spin

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/atomic"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/batch"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/engine"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/fence"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/util/log"
)

// startedMarker is the value the spinner stores to its state page as the
// first executed instruction.
const startedMarker uint32 = 1

type options struct {
	eng          engine.Descriptor
	engSet       bool
	preemptible  bool
	dependencies []*fence.Fence
}

// Option configures a spinner.
type Option func(*options)

// WithEngine selects the engine to occupy. Defaults to the first engine of
// the device.
func WithEngine(eng engine.Descriptor) Option {
	return func(o *options) { o.eng = eng; o.engSet = true }
}

// WithNoPreemption omits the arbitration point from the loop, so the
// engine cannot switch away until the spinner ends or is reset.
func WithNoPreemption() Option {
	return func(o *options) { o.preemptible = false }
}

// WithDependency makes the spinner wait for fences before starting.
func WithDependency(fences ...*fence.Fence) Option {
	return func(o *options) { o.dependencies = append(o.dependencies, fences...) }
}

// Spinner is a running spin batch.
type Spinner struct {
	dev   device.Device
	eng   engine.Descriptor
	cctx  device.ContextID
	bb    *batch.Builder
	state device.Handle
	f     *fence.Fence

	// loopOffset is the byte offset of the loop head inside the batch
	// object; End overwrites the word there.
	loopOffset uint64

	ended atomic.Bool
	freed atomic.Bool
}

// New builds and submits a spinner on the given context. The returned
// spinner has been queued but not necessarily started; use
// WaitUntilStarted to synchronize with execution.
func New(ctx context.Context, dev device.Device, cctx device.ContextID, opts ...Option) (*Spinner, error) {
	if dev == nil {
		return nil, fmt.Errorf("cannot create spinner: device is nil")
	}
	o := options{preemptible: true}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.engSet {
		engines := dev.Engines()
		if len(engines) == 0 {
			return nil, fmt.Errorf("cannot create spinner: device has no engines")
		}
		o.eng = engines[0]
	}

	state, err := dev.CreateObject(4096)
	if err != nil {
		return nil, fmt.Errorf("spinner state page: %w", err)
	}
	bb, err := batch.NewBuilder(dev, 4096)
	if err != nil {
		dev.CloseObject(state) //nolint:errcheck
		return nil, err
	}
	if _, err := bb.AddObject(state, 4096, 0, device.ExecObjectWrite); err != nil {
		bb.Close()             //nolint:errcheck
		dev.CloseObject(state) //nolint:errcheck
		return nil, err
	}

	s := &Spinner{dev: dev, eng: o.eng, cctx: cctx, bb: bb, state: state}

	enc := bb.Encoder()
	enc.StoreDword(bb.Ref(state), 0, startedMarker)
	s.loopOffset = enc.Offset()
	if o.preemptible {
		enc.ArbCheck()
	}
	enc.BatchBufferStart(bb.Ref(bb.Batch()), s.loopOffset)
	enc.End() // never reached while the loop word is intact

	f, err := bb.Flush(ctx, cctx, o.eng, o.dependencies...)
	if err != nil {
		bb.Close()             //nolint:errcheck
		dev.CloseObject(state) //nolint:errcheck
		return nil, err
	}
	s.f = f
	log.Debugf("spinner queued on %s ctx=%d preemptible=%v", o.eng, cctx, o.preemptible)
	return s, nil
}

// Fence returns the completion fence of the spin batch.
func (s *Spinner) Fence() *fence.Fence { return s.f }

// Engine returns the engine the spinner occupies.
func (s *Spinner) Engine() engine.Descriptor { return s.eng }

// Context returns the context the spinner was submitted on.
func (s *Spinner) Context() device.ContextID { return s.cctx }

// Started reports whether the spinner has begun executing.
func (s *Spinner) Started() (bool, error) {
	data, err := s.dev.ReadObject(s.state)
	if err != nil {
		return false, err
	}
	return binary.LittleEndian.Uint32(data) == startedMarker, nil
}

// WaitUntilStarted blocks until the spinner writes its started marker. It
// fails if the spin batch completes first, carrying the fence error when
// the batch was reset instead of run.
func (s *Spinner) WaitUntilStarted(ctx context.Context) error {
	probe := func() error {
		if s.f.Signalled() {
			if err := s.f.Err(); err != nil {
				return backoff.Permanent(fmt.Errorf("spinner died before starting: %w", err))
			}
			return backoff.Permanent(fmt.Errorf("spinner completed before starting"))
		}
		started, err := s.Started()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !started {
			return fmt.Errorf("spinner not started yet")
		}
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Microsecond
	bo.MaxInterval = 5 * time.Millisecond
	bo.MaxElapsedTime = 0
	return backoff.Retry(probe, backoff.WithContext(bo, ctx))
}

// End terminates the loop by patching a batch end over the loop head. The
// engine picks the patched word up on its next pass. End does not wait for
// the fence.
func (s *Spinner) End() error {
	if !s.ended.CompareAndSwap(false, true) {
		return nil
	}
	word := make([]byte, 4)
	binary.LittleEndian.PutUint32(word, batch.MIBatchBufferEnd)
	if err := s.dev.WriteObject(s.bb.Batch(), s.loopOffset, word); err != nil {
		return fmt.Errorf("ending spinner: %w", err)
	}
	return nil
}

// Free ends the spinner, waits for it to retire and releases its objects.
// Safe to call multiple times and after End. A spinner that was reset
// retires with an error, which Free swallows: the objects still need
// releasing.
func (s *Spinner) Free(ctx context.Context) error {
	if !s.freed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.End(); err != nil {
		return err
	}
	if err := s.f.Wait(ctx); err != nil && ctx.Err() != nil {
		return fmt.Errorf("freeing spinner: %w", ctx.Err())
	}
	if err := s.bb.Close(); err != nil {
		return err
	}
	return s.dev.CloseObject(s.state)
}
