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

// Package flash composes the fixed flashing pipeline: plan the layout,
// validate it, write the device in a recoverable order, then create the
// requested filesystems. The destination is either a block device or a
// regular image file.
package flash

import (
	"context"
	"fmt"
	"os"

	"github.com/snapcore/rockflash/layout"
	"github.com/snapcore/rockflash/logger"
	"github.com/snapcore/rockflash/osutil"
	"github.com/snapcore/rockflash/osutil/disks"
	"github.com/snapcore/rockflash/osutil/mkfs"
	"github.com/snapcore/rockflash/quantity"
)

// Options describes a single flashing run.
type Options struct {
	// Destination is the target block device or image file path.
	Destination string
	// Size of the destination when it is a regular file to create;
	// block devices report their own capacity.
	Size quantity.Size
	// Chip selects the family whose loader slots apply.
	Chip string
	// LoaderImages maps loader slot names to image paths.
	LoaderImages map[string]string
	// Requests are the partitions to place, in placement order.
	Requests []layout.PartitionRequest
}

// Run executes the Plan, Validate, Write, Format pipeline. A returned
// *FormatFailures means every earlier phase succeeded and only some
// filesystem creations failed; any other error is fatal to the run.
func Run(ctx context.Context, opts *Options) (*layout.DeviceLayout, error) {
	family, err := layout.FindChipFamily(opts.Chip)
	if err != nil {
		return nil, err
	}
	loaders, err := family.Regions(opts.LoaderImages)
	if err != nil {
		return nil, err
	}

	requests := layout.EnsureFillRequest(opts.Requests)
	for _, req := range requests {
		if req.Filesystem != "" && !mkfs.IsSupported(req.Filesystem) {
			return nil, fmt.Errorf("cannot format partition %q: unsupported filesystem %q", req.Name, req.Filesystem)
		}
	}

	isBlock := osutil.IsBlockDevice(opts.Destination)
	if !isBlock {
		for _, req := range requests {
			if req.Filesystem != "" {
				return nil, fmt.Errorf("cannot format partition %q: destination %s is not a block device", req.Name, opts.Destination)
			}
		}
	}

	f, capacity, sectorSize, err := openDestination(opts, isBlock)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dl, err := layout.Plan(requests, loaders, layout.Constraints{
		Capacity:   capacity,
		SectorSize: sectorSize,
	})
	if err != nil {
		return nil, err
	}
	if err := layout.Validate(dl); err != nil {
		return nil, err
	}

	logger.Noticef("flashing %s (%v, %d partitions)", opts.Destination, dl.Capacity.IECString(), len(dl.Partitions))
	if err := Write(ctx, f, dl, isBlock); err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("cannot close %s: %v", opts.Destination, err)
	}

	if !isBlock {
		return dl, nil
	}

	if err := disks.ReloadPartitionTable(opts.Destination); err != nil {
		return nil, err
	}
	if err := formatPartitions(ctx, opts.Destination, dl); err != nil {
		return dl, err
	}
	return dl, nil
}

// openDestination opens the target for writing and determines its
// capacity and sector size. Block devices are opened exclusively and
// queried; regular files are created sparse at the requested size.
func openDestination(opts *Options, isBlock bool) (f *os.File, capacity, sectorSize quantity.Size, err error) {
	if isBlock {
		size, err := disks.Size(opts.Destination)
		if err != nil {
			return nil, 0, 0, err
		}
		ss, err := disks.SectorSize(opts.Destination)
		if err != nil {
			return nil, 0, 0, err
		}
		f, err := disks.OpenExclusive(opts.Destination)
		if err != nil {
			return nil, 0, 0, &PermissionError{Device: opts.Destination, Err: err}
		}
		return f, quantity.Size(size), quantity.Size(ss), nil
	}

	if opts.Size == 0 {
		if !osutil.FileExists(opts.Destination) {
			return nil, 0, 0, &DeviceNotFoundError{Device: opts.Destination}
		}
		return nil, 0, 0, fmt.Errorf("cannot flash regular file %s without an explicit size", opts.Destination)
	}
	f, err = os.OpenFile(opts.Destination, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		if os.IsPermission(err) {
			return nil, 0, 0, &PermissionError{Device: opts.Destination, Err: err}
		}
		return nil, 0, 0, err
	}
	// sparse, only written regions take up space
	if err := f.Truncate(int64(opts.Size)); err != nil {
		f.Close()
		return nil, 0, 0, fmt.Errorf("cannot resize %s: %v", opts.Destination, err)
	}
	return f, opts.Size, layout.DefaultSectorSize, nil
}
