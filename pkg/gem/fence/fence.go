// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

// Package fence implements explicit completion fences for GPU submissions,
// modelled on sync_file out-fences. A fence is signalled exactly once, may
// carry a terminal error (a wedged or reset request signals with an error),
// and records a global sequence number at signal time so callers can compare
// completion order between requests.
package fence

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// ErrTimeout is returned by WaitTimeout when the fence does not signal in
// time.
var ErrTimeout = errors.New("fence: wait timed out")

// Status describes the lifecycle state of a fence.
type Status int

const (
	// StatusPending means the fence has not signalled yet.
	StatusPending Status = iota
	// StatusSignalled means the fence signalled without error.
	StatusSignalled
	// StatusError means the fence signalled carrying an error.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSignalled:
		return "signalled"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// signalSeq numbers fence signals globally. Sequence numbers start at 1 so
// that zero always means "not signalled yet".
var signalSeq = atomic.NewInt64(0)

// Fence is a one-shot completion primitive.
type Fence struct {
	name string
	done chan struct{}
	once sync.Once

	// err and seq are written before done is closed and only read after
	// observing the close, so they need no further synchronization.
	err error
	seq int64
}

// NewManual returns a pending fence and the function that signals it. The
// signal function is idempotent; only the first call takes effect. Passing a
// non-nil error marks the fence as failed.
func NewManual(name string) (*Fence, func(error)) {
	f := &Fence{name: name, done: make(chan struct{})}
	return f, f.signal
}

func (f *Fence) signal(err error) {
	f.once.Do(func() {
		f.err = err
		f.seq = signalSeq.Inc()
		close(f.done)
	})
}

// Name returns the fence name given at creation.
func (f *Fence) Name() string { return f.name }

// Done returns a channel closed when the fence signals.
func (f *Fence) Done() <-chan struct{} { return f.done }

// Signalled reports whether the fence has signalled, with or without error.
func (f *Fence) Signalled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Status returns the current fence status.
func (f *Fence) Status() Status {
	select {
	case <-f.done:
		if f.err != nil {
			return StatusError
		}
		return StatusSignalled
	default:
		return StatusPending
	}
}

// Err returns the terminal error, or nil while pending or after a clean
// signal.
func (f *Fence) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Seq returns the global signal sequence number, or zero while pending.
// Fences that signalled earlier always have smaller sequence numbers.
func (f *Fence) Seq() int64 {
	select {
	case <-f.done:
		return f.seq
	default:
		return 0
	}
}

// Wait blocks until the fence signals or ctx is done. It returns the fence
// error if the fence signalled with one.
func (f *Fence) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout blocks up to d for the fence to signal. It returns ErrTimeout
// if the fence is still pending afterwards, or the fence error if any.
func (f *Fence) WaitTimeout(d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-f.done:
		return f.err
	case <-t.C:
		return ErrTimeout
	}
}

// Merge returns a fence that signals once all the given fences have
// signalled, carrying the first error observed in argument order. Merging
// nothing returns an already signalled fence.
func Merge(name string, fences ...*Fence) *Fence {
	merged, signal := NewManual(name)
	if len(fences) == 0 {
		signal(nil)
		return merged
	}
	go func() {
		var first error
		for _, dep := range fences {
			<-dep.Done()
			if err := dep.Err(); err != nil && first == nil {
				first = err
			}
		}
		signal(first)
	}()
	return merged
}
