// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameRoundTrip(t *testing.T) {
	cases := []struct {
		desc Descriptor
		name string
	}{
		{Descriptor{ClassRender, 0}, "rcs0"},
		{Descriptor{ClassCopy, 0}, "bcs0"},
		{Descriptor{ClassVideo, 1}, "vcs1"},
		{Descriptor{ClassVideoEnhance, 0}, "vecs0"},
		{Descriptor{ClassCompute, 2}, "ccs2"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.name, c.desc.Name())
			got, err := Parse(c.name)
			require.NoError(t, err)
			assert.Equal(t, c.desc, got)
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, name := range []string{"", "rcs", "0rcs", "xcs0", "rcs-1"} {
		_, err := Parse(name)
		assert.Error(t, err, "name %q", name)
	}
}

func TestListHelpers(t *testing.T) {
	l := List{
		{ClassRender, 0},
		{ClassVideo, 0},
		{ClassVideo, 1},
	}
	assert.Equal(t, []string{"rcs0", "vcs0", "vcs1"}, l.Names())
	assert.Equal(t, List{{ClassVideo, 0}, {ClassVideo, 1}}, l.OfClass(ClassVideo))
	assert.True(t, l.Contains(Descriptor{ClassVideo, 1}))
	assert.False(t, l.Contains(Descriptor{ClassCopy, 0}))
	assert.Empty(t, l.OfClass(ClassCompute))
}
