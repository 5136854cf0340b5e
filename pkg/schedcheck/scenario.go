// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

// Package schedcheck drives scheduling contract scenarios against a device
// and reports whether the observed ordering, latency and fairness match the
// contract. Each scenario is a short arm/release/observe state machine built
// from corked submissions, spinners and stores; a violated contract is a
// scenario failure, a missing capability is a skip.
package schedcheck

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
)

// Verdict is the terminal state of one scenario run.
type Verdict int

const (
	// VerdictPass means every assertion of the scenario held.
	VerdictPass Verdict = iota
	// VerdictSkip means the device lacks a required capability.
	VerdictSkip
	// VerdictFail means an assertion was violated.
	VerdictFail
	// VerdictError means the scenario did not finish: it panicked or ran
	// into its deadline.
	VerdictError
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "pass"
	case VerdictSkip:
		return "skip"
	case VerdictFail:
		return "fail"
	case VerdictError:
		return "error"
	default:
		return fmt.Sprintf("verdict%d", int(v))
	}
}

// MarshalJSON encodes the verdict as its name.
func (v Verdict) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON decodes a verdict from its name.
func (v *Verdict) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "pass":
		*v = VerdictPass
	case "skip":
		*v = VerdictSkip
	case "fail":
		*v = VerdictFail
	case "error":
		*v = VerdictError
	default:
		return fmt.Errorf("unknown verdict %q", s)
	}
	return nil
}

// Scenario is one scheduling contract check.
type Scenario struct {
	// Name identifies the scenario in reports and filters.
	Name string
	// Description is a one line summary of the contract checked.
	Description string
	// Requires lists the capabilities the device must advertise; a
	// device missing one skips the scenario.
	Requires device.Caps
	// Run executes the scenario. It reports violations through the
	// environment's assertion state.
	Run func(e *Env)
}

// Result records the outcome of one scenario.
type Result struct {
	Scenario string        `json:"scenario"`
	Verdict  Verdict       `json:"verdict"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Counters tallies verdicts across a run.
type Counters struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Errors  int `json:"errors"`
}

func (c *Counters) increment(v Verdict) {
	c.Total++
	switch v {
	case VerdictPass:
		c.Passed++
	case VerdictSkip:
		c.Skipped++
	case VerdictFail:
		c.Failed++
	case VerdictError:
		c.Errors++
	}
}

// All returns the scenario catalog in execution order.
func All() []Scenario {
	return []Scenario{
		{
			Name:        "smoke",
			Description: "a store submitted to every engine lands in memory",
			Run:         smoke,
		},
		{
			Name:        "fifo",
			Description: "equal priority work on one timeline executes in submission order",
			Requires:    device.CapScheduler,
			Run:         fifo,
		},
		{
			Name:        "independent",
			Description: "a spinner holding one engine does not delay stores on the others",
			Requires:    device.CapScheduler,
			Run:         independent,
		},
		{
			Name:        "reorder",
			Description: "a high priority store runs before a concurrently released low priority one",
			Requires:    device.CapScheduler | device.CapPriority,
			Run:         reorder,
		},
		{
			Name:        "promotion",
			Description: "priority propagates along a dependency edge but not beyond it",
			Requires:    device.CapScheduler | device.CapPriority,
			Run:         promotion,
		},
		{
			Name:        "preempt",
			Description: "high priority stores preempt a low priority spinner within the latency budget",
			Requires:    device.CapScheduler | device.CapPriority | device.CapPreemption,
			Run:         preempt,
		},
		{
			Name:        "preempt-noise",
			Description: "preemption latency holds up under a background stream of low priority work",
			Requires:    device.CapScheduler | device.CapPriority | device.CapPreemption,
			Run:         preemptNoise,
		},
		{
			Name:        "preempt-timeout",
			Description: "a non-preemptible hog is reset once the forced preemption timeout expires",
			Requires:    device.CapScheduler | device.CapPriority | device.CapPreemption,
			Run:         preemptTimeout,
		},
		{
			Name:        "timeslice",
			Description: "semaphore ping-pong batches sharing an engine make lockstep progress",
			Requires:    device.CapScheduler | device.CapTimeslicing | device.CapSemaphores,
			Run:         timeslice,
		},
		{
			Name:        "fairness",
			Description: "equal priority spinners sharing an engine receive equal busy time",
			Requires:    device.CapScheduler | device.CapTimeslicing | device.CapBusyStats,
			Run:         fairness,
		},
		{
			Name:        "semaphore-wait",
			Description: "a semaphore wait resolves through a later submission without blocking the engine",
			Requires:    device.CapScheduler | device.CapSemaphores,
			Run:         semaphoreWait,
		},
		{
			Name:        "ring-full",
			Description: "a full low priority ring does not delay high priority submission",
			Requires:    device.CapScheduler | device.CapPriority,
			Run:         ringFull,
		},
	}
}

// Filter returns the scenarios whose names match any include pattern (all,
// when none is given) and no exclude pattern, sorted by name.
func Filter(scenarios []Scenario, include, exclude []string) ([]Scenario, error) {
	inc, err := compilePatterns(include)
	if err != nil {
		return nil, fmt.Errorf("invalid include filter: %w", err)
	}
	exc, err := compilePatterns(exclude)
	if err != nil {
		return nil, fmt.Errorf("invalid exclude filter: %w", err)
	}

	out := make([]Scenario, 0, len(scenarios))
	for _, s := range scenarios {
		if len(inc) > 0 && !matchAny(inc, s.Name) {
			continue
		}
		if matchAny(exc, s.Name) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// missingCaps names the required capabilities absent from have.
func missingCaps(required, have device.Caps) string {
	missing := required &^ have
	if missing == 0 {
		return ""
	}
	return strings.TrimSpace(missing.String())
}
