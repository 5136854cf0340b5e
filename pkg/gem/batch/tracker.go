// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package batch

import (
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Tracker is an explicit registry of live builders. Owners register
// builders so a harness can reset or tear down all of them between
// scenarios without any process-global state.
type Tracker struct {
	mu       sync.Mutex
	builders map[*Builder]struct{}
}

// NewTracker returns an empty registry.
func NewTracker() *Tracker {
	return &Tracker{builders: make(map[*Builder]struct{})}
}

// Track registers a builder. Tracked builders unregister themselves on
// Close.
func (t *Tracker) Track(b *Builder) {
	t.mu.Lock()
	t.builders[b] = struct{}{}
	b.tracker = t
	t.mu.Unlock()
}

// Untrack removes a builder from the registry.
func (t *Tracker) Untrack(b *Builder) {
	t.mu.Lock()
	delete(t.builders, b)
	b.tracker = nil
	t.mu.Unlock()
}

// Len returns the number of tracked builders.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.builders)
}

// Each calls fn for every tracked builder. The registry is snapshotted
// first, so fn may Track and Untrack.
func (t *Tracker) Each(fn func(*Builder)) {
	for _, b := range t.snapshot() {
		fn(b)
	}
}

// ResetAll resets every tracked builder, returning the first error per
// builder combined.
func (t *Tracker) ResetAll(purge bool) error {
	var errs *multierror.Error
	for _, b := range t.snapshot() {
		if err := b.Reset(purge); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// CloseAll closes every tracked builder.
func (t *Tracker) CloseAll() error {
	var errs *multierror.Error
	for _, b := range t.snapshot() {
		if err := b.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (t *Tracker) snapshot() []*Builder {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Builder, 0, len(t.builders))
	for b := range t.builders {
		out = append(out, b)
	}
	return out
}
