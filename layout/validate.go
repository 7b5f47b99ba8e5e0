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
	"sort"

	"github.com/snapcore/rockflash/quantity"
)

// region is the common [start, start+size) view validation works on.
type region struct {
	name  string
	start quantity.Offset
	size  quantity.Size
}

func (r region) end() quantity.Offset {
	return r.start + quantity.Offset(r.size)
}

// Validate checks the planned layout for invariant violations before
// any byte is written: duplicate partition names, pairwise overlaps
// between all regions (loaders, both table copies, partitions), images
// larger than their partition, misaligned starts, multiple
// fill-remaining resolutions, and a device too small for its fixed
// regions. The orchestrator treats success here as the commit point:
// everything before it is provably consistent, so a run interrupted
// later leaves a partial but never an inconsistent device.
func Validate(dl *DeviceLayout) error {
	minCapacity := quantity.Size(dl.TableOffset) + dl.TableSize + (dl.Capacity - quantity.Size(dl.BackupOffset))
	if dl.Capacity == 0 || dl.Capacity < minCapacity {
		return &DeviceTooSmallError{Capacity: dl.Capacity, Min: minCapacity}
	}

	names := make(map[string]bool, len(dl.Partitions))
	fills := 0
	for i := range dl.Partitions {
		p := &dl.Partitions[i]
		if names[p.Name] {
			return &DuplicateNameError{Name: p.Name}
		}
		names[p.Name] = true

		if p.FillRemaining {
			fills++
			if fills > 1 {
				return &FillError{Name: p.Name, Reason: "the remaining space was already assigned"}
			}
		}
		if p.Source != "" && p.Size < p.SourceSize {
			return &ImageTooLargeError{Name: p.Name, Image: p.Source, ImageSize: p.SourceSize, Size: p.Size}
		}
		if p.StartOffset != p.StartOffset.AlignUp(dl.Alignment) {
			return fmt.Errorf("internal error: partition %q start %v is not aligned to %v", p.Name, p.StartOffset, dl.Alignment.IECString())
		}
	}

	regions := make([]region, 0, len(dl.Loaders)+len(dl.Partitions)+2)
	for _, l := range dl.Loaders {
		regions = append(regions, region{name: "loader " + l.Name, start: l.Offset, size: l.MaxSize})
	}
	regions = append(regions, region{name: "partition table", start: dl.TableOffset, size: dl.TableSize})
	regions = append(regions, region{name: "backup partition table", start: dl.BackupOffset, size: dl.Capacity - quantity.Size(dl.BackupOffset)})
	for _, p := range dl.Partitions {
		regions = append(regions, region{name: "partition " + p.Name, start: p.StartOffset, size: p.Size})
	}

	sort.Slice(regions, func(i, j int) bool {
		return regions[i].start < regions[j].start
	})
	for i := 1; i < len(regions); i++ {
		previous, current := regions[i-1], regions[i]
		if current.start < previous.end() {
			return &OverlapError{
				Name:     current.name,
				Other:    previous.name,
				Start:    current.start,
				OtherEnd: previous.end(),
			}
		}
	}

	for _, r := range regions {
		if r.end() > quantity.Offset(dl.Capacity) {
			return &CapacityError{Name: r.name, Needed: r.size, Available: available(r.start, quantity.Offset(dl.Capacity))}
		}
	}

	return nil
}
