// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package layout turns named partition requests into a concrete,
// validated arrangement of byte regions on a target device: fixed
// loader regions mandated by the chip family, the partition table
// region with its trailing backup reserve, and aligned, non-overlapping
// partitions placed in request order.
package layout

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/snapcore/rockflash/quantity"
)

var validPartitionName = regexp.MustCompile("^[a-zA-Z0-9][a-zA-Z0-9_-]*$")

// PartitionRequest describes a single partition as requested on input,
// before any placement decisions were made. A request needs an image
// source, an explicit size, or the fill-remaining marker; requests are
// immutable once parsed.
type PartitionRequest struct {
	// Name is the partition label, unique within a run.
	Name string
	// Source is the path of the image to write, empty for a blank
	// partition.
	Source string
	// Size is the explicitly requested size, nil when the size is
	// derived from the image or filled from the remaining space.
	Size *quantity.Size
	// FillRemaining marks the partition absorbing all space left
	// after every other region is placed.
	FillRemaining bool
	// Filesystem names the filesystem to create on the partition
	// after the layout is committed, empty for none.
	Filesystem string
}

// ParsePartitionSpec parses a "name:value" partition spec. A value
// matching the size grammar requests a blank partition of that size,
// anything else is taken as the path of an image to write.
func ParsePartitionSpec(spec string) (PartitionRequest, error) {
	name, value, err := splitSpec(spec)
	if err != nil {
		return PartitionRequest{}, err
	}
	if quantity.LooksLikeSize(value) {
		size, err := quantity.ParseSize(value)
		if err != nil {
			return PartitionRequest{}, err
		}
		return PartitionRequest{Name: name, Size: &size}, nil
	}
	return PartitionRequest{Name: name, Source: value}, nil
}

// ParseBlankSpec parses a "name:size" spec for a blank partition. The
// size must follow the size grammar, a path is not accepted here.
func ParseBlankSpec(spec string) (PartitionRequest, error) {
	name, value, err := splitSpec(spec)
	if err != nil {
		return PartitionRequest{}, err
	}
	size, err := quantity.ParseSize(value)
	if err != nil {
		return PartitionRequest{}, &InvalidSpecError{Spec: spec, Reason: err.Error()}
	}
	return PartitionRequest{Name: name, Size: &size}, nil
}

// ParseFormatSpec parses a "name:filesystem" spec naming a partition to
// format once the layout has been written.
func ParseFormatSpec(spec string) (name, filesystem string, err error) {
	name, filesystem, err = splitSpec(spec)
	if err != nil {
		return "", "", err
	}
	return name, filesystem, nil
}

func splitSpec(spec string) (name, value string, err error) {
	idx := strings.Index(spec, ":")
	if idx == -1 {
		return "", "", &InvalidSpecError{Spec: spec, Reason: "expected <name>:<value>"}
	}
	name, value = spec[:idx], spec[idx+1:]
	if name == "" {
		return "", "", &InvalidSpecError{Spec: spec, Reason: "partition name is empty"}
	}
	if value == "" {
		return "", "", &InvalidSpecError{Spec: spec, Reason: "partition value is empty"}
	}
	if !validPartitionName.MatchString(name) {
		return "", "", &InvalidSpecError{Spec: spec, Reason: fmt.Sprintf("invalid partition name %q", name)}
	}
	return name, value, nil
}

// ApplyFormatSpecs attaches filesystem requests to the matching
// partition requests. Every format spec must name a known partition.
func ApplyFormatSpecs(requests []PartitionRequest, formatSpecs []string) error {
	for _, spec := range formatSpecs {
		name, filesystem, err := ParseFormatSpec(spec)
		if err != nil {
			return err
		}
		found := false
		for i := range requests {
			if requests[i].Name == name {
				requests[i].Filesystem = filesystem
				found = true
				break
			}
		}
		if !found {
			return &InvalidSpecError{Spec: spec, Reason: fmt.Sprintf("no partition named %q was requested", name)}
		}
	}
	return nil
}

// EnsureFillRequest appends an implicit fill-remaining "userdata"
// partition when no request claims the remaining space and none is
// already named userdata, matching what a freshly flashed device is
// expected to carry.
func EnsureFillRequest(requests []PartitionRequest) []PartitionRequest {
	for _, r := range requests {
		if r.FillRemaining || r.Name == "userdata" {
			return requests
		}
	}
	return append(requests, PartitionRequest{Name: "userdata", FillRemaining: true})
}
