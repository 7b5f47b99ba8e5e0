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

	"github.com/snapcore/rockflash/quantity"
)

const (
	// DefaultAlignment is the granularity every partition start and
	// size is rounded to.
	DefaultAlignment = quantity.SizeMiB
	// DefaultSectorSize is the logical block size assumed for the
	// table encoding.
	DefaultSectorSize = quantity.Size(512)

	// TableEntries and TableEntrySize fix the dimensions of the
	// partition entry array.
	TableEntries   = 128
	TableEntrySize = quantity.Size(128)
)

// Constraints carries the device parameters the planner works against.
type Constraints struct {
	// Capacity of the target device in bytes.
	Capacity quantity.Size
	// SectorSize of the device, DefaultSectorSize when zero.
	SectorSize quantity.Size
	// Alignment unit for partition starts and sizes,
	// DefaultAlignment when zero.
	Alignment quantity.Size
}

// PlannedPartition is a partition request with its final placement
// resolved.
type PlannedPartition struct {
	// Name is the partition label.
	Name string
	// StartOffset of the partition from the start of the device,
	// always a multiple of the alignment unit.
	StartOffset quantity.Offset
	// Size of the partition, a multiple of the alignment unit.
	Size quantity.Size
	// Source is the image written at StartOffset, empty for a
	// blank partition.
	Source string
	// SourceSize is the byte length of the source image.
	SourceSize quantity.Size
	// Filesystem to create after the layout is committed, empty
	// for none.
	Filesystem string
	// FillRemaining records that Size was resolved from the
	// remaining space rather than declared.
	FillRemaining bool
	// DiskIndex is the 1-based index of the partition in the
	// table, which also determines its device node.
	DiskIndex int
}

// DeviceLayout is the complete description of every byte region the
// writer will touch. It is built once by Plan and never modified
// afterwards; the writer and the formatter only read it.
type DeviceLayout struct {
	// Capacity of the target device.
	Capacity quantity.Size
	// SectorSize used for the table encoding.
	SectorSize quantity.Size
	// Alignment unit all partitions follow.
	Alignment quantity.Size
	// Loaders are the fixed chip-mandated regions, ordered by
	// offset.
	Loaders []LoaderRegion
	// TableOffset is the start of the primary partition table
	// region. The protective boot sector at offset 0 belongs to
	// this region even when loaders push the table further in.
	TableOffset quantity.Offset
	// TableSize is the reserved extent of the primary table region.
	TableSize quantity.Size
	// BackupOffset is the start of the trailing reserved space
	// holding the backup table; nothing is placed at or past it.
	BackupOffset quantity.Offset
	// Partitions in placement order.
	Partitions []PlannedPartition
}

// UsableEnd returns the exclusive end of the space available to
// partitions.
func (dl *DeviceLayout) UsableEnd() quantity.Offset {
	return dl.BackupOffset
}

// tableFootprint returns the raw byte count of one table copy: the
// header sector plus the entry array. The primary region additionally
// holds the protective boot sector.
func tableFootprint(sectorSize quantity.Size) quantity.Size {
	return sectorSize + TableEntries*TableEntrySize
}

// Plan places the given partition requests on a device of the given
// capacity, together with the chip family's loader regions and the
// partition table regions. Requests are placed in input order, each
// start aligned up to the alignment unit. A fill-remaining request
// must come last; its size is resolved once everything else is placed.
func Plan(requests []PartitionRequest, loaders []LoaderRegion, constraints Constraints) (*DeviceLayout, error) {
	sectorSize := constraints.SectorSize
	if sectorSize == 0 {
		sectorSize = DefaultSectorSize
	}
	alignment := constraints.Alignment
	if alignment == 0 {
		alignment = DefaultAlignment
	}
	// the table encoding addresses whole sectors; a capacity that is
	// not a sector multiple leaves a tail no LBA can reach, so the
	// layout stops at the last full sector
	capacity := constraints.Capacity.AlignDown(sectorSize)

	// loader slots are fixed, the table region goes right after the
	// last one
	var tableOffset quantity.Offset
	for _, region := range loaders {
		if end := region.Offset + quantity.Offset(region.MaxSize); end > tableOffset {
			tableOffset = end
		}
	}
	tableOffset = tableOffset.AlignUp(alignment)
	tableSize := (sectorSize + tableFootprint(sectorSize)).AlignUp(alignment)

	trailing := tableFootprint(sectorSize)
	minCapacity := quantity.Size(tableOffset) + tableSize + trailing.AlignUp(alignment)
	if capacity < minCapacity {
		return nil, &DeviceTooSmallError{Capacity: capacity, Min: minCapacity}
	}
	backupOffset := quantity.Offset(capacity - trailing).AlignDown(alignment)

	dl := &DeviceLayout{
		Capacity:     capacity,
		SectorSize:   sectorSize,
		Alignment:    alignment,
		Loaders:      loaders,
		TableOffset:  tableOffset,
		TableSize:    tableSize,
		BackupOffset: backupOffset,
	}

	current := tableOffset + quantity.Offset(tableSize)
	fillSeen := false
	for idx, req := range requests {
		if fillSeen {
			return nil, &FillError{Name: requests[idx-1].Name, Reason: "it must be the last partition requested"}
		}

		start := current.AlignUp(alignment)
		part := PlannedPartition{
			Name:        req.Name,
			StartOffset: start,
			Source:      req.Source,
			Filesystem:  req.Filesystem,
			DiskIndex:   idx + 1,
		}

		if req.Source != "" {
			fi, err := os.Stat(req.Source)
			if err != nil {
				return nil, fmt.Errorf("cannot use image for partition %q: %v", req.Name, err)
			}
			part.SourceSize = quantity.Size(fi.Size())
		}

		switch {
		case req.FillRemaining:
			if req.Source != "" {
				return nil, &AmbiguousFillTargetError{Name: req.Name}
			}
			fillSeen = true
			if start+quantity.Offset(alignment) > dl.UsableEnd() {
				return nil, &CapacityError{Name: req.Name, Needed: alignment, Available: available(start, dl.UsableEnd())}
			}
			part.Size = quantity.Size(dl.UsableEnd() - start)
			part.FillRemaining = true
		case req.Size != nil:
			part.Size = (*req.Size).AlignUp(alignment)
		case req.Source != "":
			part.Size = part.SourceSize.AlignUp(alignment)
		default:
			return nil, &InvalidSpecError{
				Spec:   req.Name,
				Reason: "a partition needs an image, an explicit size, or the fill-remaining marker",
			}
		}

		if !req.FillRemaining && start+quantity.Offset(part.Size) > dl.UsableEnd() {
			return nil, &CapacityError{Name: req.Name, Needed: part.Size, Available: available(start, dl.UsableEnd())}
		}

		dl.Partitions = append(dl.Partitions, part)
		current = start + quantity.Offset(part.Size)
	}

	return dl, nil
}

func available(start, usableEnd quantity.Offset) quantity.Size {
	if start >= usableEnd {
		return 0
	}
	return quantity.Size(usableEnd - start)
}
