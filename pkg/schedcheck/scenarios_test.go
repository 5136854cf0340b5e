// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package schedcheck

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/config"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/sim"
)

// runNamed executes exactly the named scenarios and indexes the results.
func runNamed(t *testing.T, cfg config.Config, factory DeviceFactory, names ...string) map[string]Result {
	t.Helper()
	runner, err := NewRunner(cfg, factory)
	require.NoError(t, err)

	patterns := make([]string, 0, len(names))
	for _, n := range names {
		patterns = append(patterns, "^"+regexp.QuoteMeta(n)+"$")
	}
	scenarios, err := Filter(All(), patterns, nil)
	require.NoError(t, err)
	require.Len(t, scenarios, len(names))

	report := runner.Run(context.Background(), scenarios)
	out := make(map[string]Result, len(report.Results))
	for _, res := range report.Results {
		out[res.Scenario] = res
	}
	return out
}

// A scheduler that honours submission order but ignores priority passes the
// timeline checks and nothing else.
func TestStrictFIFOFaultDetected(t *testing.T) {
	cfg := testConfig()
	factory := simFactory(t, cfg, sim.WithStrictFIFO())

	res := runNamed(t, cfg, factory, "smoke", "fifo", "reorder", "promotion")
	assert.Equal(t, VerdictPass, res["smoke"].Verdict, res["smoke"].Detail)
	assert.Equal(t, VerdictPass, res["fifo"].Verdict, res["fifo"].Detail)
	assert.Equal(t, VerdictFail, res["reorder"].Verdict, "priority reorder must notice a FIFO scheduler")
	assert.Equal(t, VerdictFail, res["promotion"].Verdict, "promotion must notice a FIFO scheduler")
}

func TestNoPreemptionFaultDetected(t *testing.T) {
	cfg := testConfig()
	cfg.Tolerance.PreemptLatencyFloorMs = 20
	factory := simFactory(t, cfg, sim.WithoutPreemption())

	res := runNamed(t, cfg, factory, "smoke", "preempt", "preempt-timeout")
	assert.Equal(t, VerdictPass, res["smoke"].Verdict, res["smoke"].Detail)
	assert.Equal(t, VerdictFail, res["preempt"].Verdict, "a store stuck behind a spinner must fail the latency check")
	assert.Equal(t, VerdictFail, res["preempt-timeout"].Verdict, "no reset ever happens without preemption")
}

func TestNoSemaphoreYieldFaultDetected(t *testing.T) {
	cfg := testConfig()
	cfg.Device.HeartbeatIntervalMs = 300
	cfg.Run.ScenarioTimeoutMs = 5000
	factory := simFactory(t, cfg, sim.WithoutSemaphoreYield())

	res := runNamed(t, cfg, factory, "smoke", "semaphore-wait", "timeslice")
	assert.Equal(t, VerdictPass, res["smoke"].Verdict, res["smoke"].Detail)
	assert.Equal(t, VerdictFail, res["semaphore-wait"].Verdict, "a parked wait holding the engine must be caught")
	assert.Equal(t, VerdictFail, res["timeslice"].Verdict, "the ping-pong cannot finish when waits hold the engine")
}

func TestNoTimeslicingFaultDetected(t *testing.T) {
	cfg := testConfig()
	factory := simFactory(t, cfg, sim.WithoutTimeslicing())

	res := runNamed(t, cfg, factory, "smoke", "timeslice", "fairness")
	assert.Equal(t, VerdictPass, res["smoke"].Verdict, res["smoke"].Detail)
	// The ping-pong still completes: parked waits yield the engine even
	// when the quantum rotation is broken. Starved spinners do not.
	assert.Equal(t, VerdictPass, res["timeslice"].Verdict, res["timeslice"].Detail)
	assert.Equal(t, VerdictFail, res["fairness"].Verdict, "a starved spinner must fail the fairness check")
}

func TestLatencyBudget(t *testing.T) {
	budget := latencyBudget([]time.Duration{
		time.Millisecond, 2 * time.Millisecond, 5 * time.Millisecond,
	}, 50*time.Millisecond, 0.05)
	assert.Equal(t, 50*time.Millisecond, budget, "the floor wins over a tight measurement")

	budget = latencyBudget([]time.Duration{
		60 * time.Millisecond, 40 * time.Millisecond,
	}, 50*time.Millisecond, 0.05)
	assert.Equal(t, 84*time.Millisecond, budget, "twice the fastest pass, padded")
}
