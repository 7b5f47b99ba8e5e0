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

package layout

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/snapcore/rockflash/quantity"
)

// Volume is the declarative, file-based form of a flashing run,
// equivalent to the repeated command line flags.
type Volume struct {
	// Chip names the chip family providing the loader slots,
	// "generic" when empty.
	Chip string `yaml:"chip"`
	// Loaders maps loader slot names to image paths.
	Loaders map[string]string `yaml:"loaders"`
	// Structure lists the partitions in placement order.
	Structure []VolumeStructure `yaml:"structure"`
}

// VolumeStructure describes one partition of a volume.
type VolumeStructure struct {
	Name string `yaml:"name"`
	// Image to write, empty for a blank partition.
	Image string `yaml:"image"`
	// Size of the partition; optional when an image is given.
	Size *quantity.Size `yaml:"size"`
	// Fill marks the partition absorbing the remaining space.
	Fill bool `yaml:"fill"`
	// Filesystem to create after flashing.
	Filesystem string `yaml:"filesystem"`
}

// ReadVolume parses a volume file.
func ReadVolume(path string) (*Volume, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read volume file: %v", err)
	}
	var v Volume
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("cannot parse volume file %q: %v", path, err)
	}
	for i, vs := range v.Structure {
		if vs.Name == "" {
			return nil, &InvalidSpecError{Spec: fmt.Sprintf("structure #%d", i), Reason: "partition name is empty"}
		}
		if !validPartitionName.MatchString(vs.Name) {
			return nil, &InvalidSpecError{Spec: fmt.Sprintf("structure #%d", i), Reason: fmt.Sprintf("invalid partition name %q", vs.Name)}
		}
	}
	return &v, nil
}

// Requests converts the volume structures to partition requests in
// declaration order.
func (v *Volume) Requests() []PartitionRequest {
	requests := make([]PartitionRequest, 0, len(v.Structure))
	for _, vs := range v.Structure {
		requests = append(requests, PartitionRequest{
			Name:          vs.Name,
			Source:        vs.Image,
			Size:          vs.Size,
			FillRemaining: vs.Fill,
			Filesystem:    vs.Filesystem,
		})
	}
	return requests
}
