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
	"sort"

	"github.com/snapcore/rockflash/quantity"
)

// LoaderSlot describes a raw region the chip family's boot ROM and
// first-stage loader expect at a fixed offset. The offsets are a
// hardware contract and are not subject to planning.
type LoaderSlot struct {
	// Name of the boot stage, also used on the command line.
	Name string
	// Offset of the slot from the start of the device.
	Offset quantity.Offset
	// MaxSize is the reserved extent of the slot; the loader image
	// must fit within it.
	MaxSize quantity.Size
}

// ChipFamily describes the fixed loader slots of a SoC family.
type ChipFamily struct {
	Name  string
	Slots []LoaderSlot
}

// LoaderRegion is a loader slot bound to a concrete image for this
// run.
type LoaderRegion struct {
	Name    string
	Image   string
	Size    quantity.Size
	Offset  quantity.Offset
	MaxSize quantity.Size
}

// Rockchip boot ROM expectations, see
// https://opensource.rock-chips.com/wiki_Boot_option: the pre-loader
// (idbloader) is picked up at LBA 0x40 and U-Boot proper at LBA
// 0x4000.
var rockchipFamily = &ChipFamily{
	Name: "rockchip",
	Slots: []LoaderSlot{
		{Name: "idbloader", Offset: 0x40 * 512, MaxSize: 8*quantity.SizeMiB - 0x40*512},
		{Name: "uboot", Offset: 8 * quantity.OffsetMiB, MaxSize: 8 * quantity.SizeMiB},
	},
}

// genericFamily has no boot ROM contract; only the partition table and
// partitions are written.
var genericFamily = &ChipFamily{Name: "generic"}

var chipFamilies = map[string]*ChipFamily{
	"rockchip": rockchipFamily,
	"generic":  genericFamily,
}

// FindChipFamily looks up a chip family by name.
func FindChipFamily(name string) (*ChipFamily, error) {
	family, ok := chipFamilies[name]
	if !ok {
		names := make([]string, 0, len(chipFamilies))
		for n := range chipFamilies {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown chip family %q (supported: %v)", name, names)
	}
	return family, nil
}

// Regions binds loader images to the family's slots, in slot order.
// Slots with no image provided are left out entirely; an image for an
// unknown slot is an error. Each image must exist and fit its slot.
func (cf *ChipFamily) Regions(images map[string]string) ([]LoaderRegion, error) {
	known := make(map[string]bool, len(cf.Slots))
	for _, slot := range cf.Slots {
		known[slot.Name] = true
	}
	for name := range images {
		if !known[name] {
			return nil, fmt.Errorf("chip family %q has no %q loader stage", cf.Name, name)
		}
	}

	var regions []LoaderRegion
	for _, slot := range cf.Slots {
		image, ok := images[slot.Name]
		if !ok || image == "" {
			continue
		}
		fi, err := os.Stat(image)
		if err != nil {
			return nil, fmt.Errorf("cannot use %s image: %v", slot.Name, err)
		}
		size := quantity.Size(fi.Size())
		if size > slot.MaxSize {
			return nil, &ImageTooLargeError{
				Name:      slot.Name,
				Image:     image,
				ImageSize: size,
				Size:      slot.MaxSize,
			}
		}
		regions = append(regions, LoaderRegion{
			Name:    slot.Name,
			Image:   image,
			Size:    size,
			Offset:  slot.Offset,
			MaxSize: slot.MaxSize,
		})
	}
	return regions, nil
}
