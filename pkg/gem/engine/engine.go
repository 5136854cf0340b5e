// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

// Package engine describes the execution engines exposed by a GPU device.
// Engines are identified by a class and an instance number, mirroring how
// command streamers are enumerated by the i915 uAPI.
package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// Class enumerates the engine classes a device may expose.
type Class int

const (
	// ClassRender is the 3D render command streamer (rcs).
	ClassRender Class = iota
	// ClassCopy is the blitter command streamer (bcs).
	ClassCopy
	// ClassVideo is the video decode command streamer (vcs).
	ClassVideo
	// ClassVideoEnhance is the video enhancement command streamer (vecs).
	ClassVideoEnhance
	// ClassCompute is the compute command streamer (ccs).
	ClassCompute
)

var classNames = map[Class]string{
	ClassRender:       "rcs",
	ClassCopy:         "bcs",
	ClassVideo:        "vcs",
	ClassVideoEnhance: "vecs",
	ClassCompute:      "ccs",
}

func (c Class) String() string {
	if n, ok := classNames[c]; ok {
		return n
	}
	return fmt.Sprintf("class%d", int(c))
}

// ParseClass maps a class name like "rcs" back to its Class.
func ParseClass(name string) (Class, error) {
	for c, n := range classNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown engine class %q", name)
}

// Descriptor names one engine on a device.
type Descriptor struct {
	Class    Class
	Instance int
}

// Name returns the canonical engine name, e.g. "rcs0" or "vcs1".
func (d Descriptor) Name() string {
	return fmt.Sprintf("%s%d", d.Class, d.Instance)
}

func (d Descriptor) String() string { return d.Name() }

// Parse maps a canonical engine name back to its descriptor.
func Parse(name string) (Descriptor, error) {
	i := strings.IndexFunc(name, func(r rune) bool { return r >= '0' && r <= '9' })
	if i <= 0 {
		return Descriptor{}, fmt.Errorf("malformed engine name %q", name)
	}
	class, err := ParseClass(name[:i])
	if err != nil {
		return Descriptor{}, err
	}
	instance, err := strconv.Atoi(name[i:])
	if err != nil {
		return Descriptor{}, fmt.Errorf("malformed engine instance in %q", name)
	}
	return Descriptor{Class: class, Instance: instance}, nil
}

// List is an ordered set of engine descriptors.
type List []Descriptor

// OfClass returns the engines of the given class, preserving order.
func (l List) OfClass(c Class) List {
	var out List
	for _, d := range l {
		if d.Class == c {
			out = append(out, d)
		}
	}
	return out
}

// Contains reports whether d is present in the list.
func (l List) Contains(d Descriptor) bool {
	for _, e := range l {
		if e == d {
			return true
		}
	}
	return false
}

// Names returns the canonical names of all engines in order.
func (l List) Names() []string {
	out := make([]string, 0, len(l))
	for _, d := range l {
		out = append(out, d.Name())
	}
	return out
}
