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

package flash

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/snapcore/rockflash/gpt"
	"github.com/snapcore/rockflash/layout"
	"github.com/snapcore/rockflash/logger"
	"github.com/snapcore/rockflash/quantity"
)

const (
	// zeroChunkSize bounds the buffer used when zero-filling blank
	// regions.
	zeroChunkSize = 4 * quantity.SizeMiB
	// eraseLeadSize is how much of the start of a block device is
	// zeroed before anything else, clearing stale loader remnants
	// the boot ROM could still pick up.
	eraseLeadSize = 8 * quantity.SizeMiB
)

// Write commits a validated layout to the opened destination, strictly
// in the order loaders, partition table copies, partition bodies. Each
// region is flushed before the next one starts, so an interrupted run
// leaves every already-written region intact, with the table committed
// before any partition content. Cancellation is honored at region
// boundaries only; a region write in progress always completes.
func Write(ctx context.Context, f *os.File, dl *layout.DeviceLayout, eraseLead bool) error {
	if eraseLead {
		size := eraseLeadSize
		if dl.Capacity < size {
			size = dl.Capacity
		}
		if err := writeRegion(ctx, f, "lead-in erase", 0, func() error {
			return zeroFill(f, 0, size)
		}); err != nil {
			return err
		}
	}

	for _, region := range dl.Loaders {
		desc := fmt.Sprintf("%s loader", region.Name)
		logger.Debugf("writing %s (%v) at offset %v", desc, region.Size, region.Offset)
		if err := writeRegion(ctx, f, desc, region.Offset, func() error {
			n, err := writeImage(f, region.Offset, region.Image)
			if err != nil {
				return err
			}
			// clear the rest of the slot so a previously
			// flashed, longer loader cannot shine through
			return zeroFill(f, region.Offset+quantity.Offset(n), region.MaxSize-quantity.Size(n))
		}); err != nil {
			return err
		}
	}

	table, err := gpt.NewTable(dl)
	if err != nil {
		return err
	}
	sector := uint64(dl.SectorSize)
	if err := writeRegion(ctx, f, "primary partition table", 0, func() error {
		if err := writeBlob(f, 0, table.ProtectiveMBR()); err != nil {
			return err
		}
		primary, err := table.EncodePrimary()
		if err != nil {
			return err
		}
		return writeBlob(f, quantity.Offset(uint64(table.HeaderLBA)*sector), primary)
	}); err != nil {
		return err
	}
	if err := writeRegion(ctx, f, "backup partition table", dl.BackupOffset, func() error {
		backup, err := table.EncodeBackup()
		if err != nil {
			return err
		}
		return writeBlob(f, quantity.Offset(dl.Capacity-quantity.Size(len(backup))), backup)
	}); err != nil {
		return err
	}

	for _, p := range dl.Partitions {
		desc := fmt.Sprintf("partition %q", p.Name)
		logger.Noticef("writing %s (%v) at offset %v", desc, p.Size, p.StartOffset)
		if err := writeRegion(ctx, f, desc, p.StartOffset, func() error {
			var written quantity.Size
			if p.Source != "" {
				n, err := writeImage(f, p.StartOffset, p.Source)
				if err != nil {
					return err
				}
				written = quantity.Size(n)
			}
			return zeroFill(f, p.StartOffset+quantity.Offset(written), p.Size-written)
		}); err != nil {
			return err
		}
	}

	return nil
}

// writeRegion runs a single region write and flushes it. The context is
// consulted before starting, never mid-region.
func writeRegion(ctx context.Context, f *os.File, desc string, offset quantity.Offset, write func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := write(); err != nil {
		if werr, ok := err.(*WriteError); ok {
			return werr
		}
		return &WriteError{Region: desc, Offset: offset, Err: err}
	}
	if err := f.Sync(); err != nil {
		return &WriteError{Region: desc, Offset: offset, Err: fmt.Errorf("cannot flush: %v", err)}
	}
	return nil
}

func writeBlob(f *os.File, offset quantity.Offset, data []byte) error {
	if _, err := f.WriteAt(data, int64(offset)); err != nil {
		return err
	}
	return nil
}

func writeImage(f *os.File, offset quantity.Offset, image string) (int64, error) {
	src, err := os.Open(image)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		return 0, err
	}
	return io.Copy(f, src)
}

func zeroFill(f *os.File, offset quantity.Offset, size quantity.Size) error {
	chunk := make([]byte, zeroChunkSize)
	for size > 0 {
		n := quantity.Size(len(chunk))
		if size < n {
			n = size
		}
		if _, err := f.WriteAt(chunk[:n], int64(offset)); err != nil {
			return err
		}
		offset += quantity.Offset(n)
		size -= n
	}
	return nil
}
