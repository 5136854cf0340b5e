// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package schedcheck

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/gem/device"
)

func TestAllScenariosAreWellFormed(t *testing.T) {
	seen := make(map[string]bool)
	for _, s := range All() {
		assert.NotEmpty(t, s.Name)
		assert.NotEmpty(t, s.Description, "scenario %s has no description", s.Name)
		require.NotNil(t, s.Run, "scenario %s has no body", s.Name)
		assert.False(t, seen[s.Name], "duplicate scenario name %s", s.Name)
		seen[s.Name] = true
	}
}

func TestFilter(t *testing.T) {
	names := func(scenarios []Scenario) []string {
		out := make([]string, 0, len(scenarios))
		for _, s := range scenarios {
			out = append(out, s.Name)
		}
		return out
	}

	for _, tc := range []struct {
		name    string
		include []string
		exclude []string
		want    []string
	}{
		{
			name: "no filters keeps everything",
			want: []string{
				"fairness", "fifo", "independent", "preempt", "preempt-noise",
				"preempt-timeout", "promotion", "reorder", "ring-full",
				"semaphore-wait", "smoke", "timeslice",
			},
		},
		{
			name:    "include by prefix",
			include: []string{"^preempt"},
			want:    []string{"preempt", "preempt-noise", "preempt-timeout"},
		},
		{
			name:    "exclude trims the include set",
			include: []string{"^preempt"},
			exclude: []string{"noise"},
			want:    []string{"preempt", "preempt-timeout"},
		},
		{
			name:    "alternation",
			include: []string{"fifo|smoke"},
			want:    []string{"fifo", "smoke"},
		},
		{
			name:    "exclude everything",
			exclude: []string{".*"},
			want:    []string{},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Filter(All(), tc.include, tc.exclude)
			require.NoError(t, err)
			assert.Equal(t, tc.want, names(got))
		})
	}
}

func TestFilterRejectsBadPatterns(t *testing.T) {
	_, err := Filter(All(), []string{"["}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid include filter")

	_, err = Filter(All(), nil, []string{"("})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid exclude filter")
}

func TestVerdictJSON(t *testing.T) {
	b, err := json.Marshal(Result{Scenario: "smoke", Verdict: VerdictFail, Detail: "boom"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"scenario":"smoke","verdict":"fail","detail":"boom","duration_ns":0}`, string(b))

	var back Result
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, VerdictFail, back.Verdict)

	err = json.Unmarshal([]byte(`{"verdict":"maybe"}`), &back)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown verdict")
}

func TestMissingCaps(t *testing.T) {
	assert.Empty(t, missingCaps(device.CapScheduler, device.CapScheduler|device.CapPriority))
	assert.Equal(t, "priority", missingCaps(device.CapScheduler|device.CapPriority, device.CapScheduler))
	assert.Equal(t, "preemption,timeslicing",
		missingCaps(device.CapPreemption|device.CapTimeslicing, 0))
}
