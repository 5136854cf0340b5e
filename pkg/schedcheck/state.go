// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package schedcheck

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/util/log"
)

// failNowPanic unwinds a scenario after a fatal assertion. The runner
// recovers it and records a failure.
type failNowPanic struct{}

// skipPanic unwinds a scenario that cannot run on this device.
type skipPanic struct {
	reason string
}

// State collects assertion failures for one scenario run. It implements the
// TestingT interface of the assertion library, so scenarios assert with the
// same require calls tests use. FailNow unwinds the scenario goroutine with
// a panic the runner recovers.
type State struct {
	mu       sync.Mutex
	failures []string
}

// Errorf records an assertion failure.
func (s *State) Errorf(format string, args ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, args...))
	s.mu.Lock()
	s.failures = append(s.failures, msg)
	s.mu.Unlock()
	log.Errorf("scenario assertion failed: %s", msg) //nolint:errcheck
}

// FailNow aborts the scenario.
func (s *State) FailNow() {
	panic(failNowPanic{})
}

// Failed reports whether any assertion failed so far.
func (s *State) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failures) > 0
}

// failureDetail joins the recorded failures for the result detail.
func (s *State) failureDetail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.failures, "; ")
}
