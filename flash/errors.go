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
	"fmt"
	"strings"

	"github.com/snapcore/rockflash/quantity"
)

// DeviceNotFoundError is returned when the destination does not exist
// and cannot be created.
type DeviceNotFoundError struct {
	Device string
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("device %s does not exist", e.Device)
}

// PermissionError is returned when the destination exists but cannot be
// opened for writing.
type PermissionError struct {
	Device string
	Err    error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("cannot open %s for writing: %v", e.Device, e.Err)
}

// WriteError is a fatal mid-write I/O failure; the device is left with
// whatever regions were fully written and flushed before it.
type WriteError struct {
	// Region names what was being written, e.g. "partition boot" or
	// "primary partition table".
	Region string
	// Offset is the device offset of the failed write.
	Offset quantity.Offset
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("cannot write %s at offset %v: %v", e.Region, e.Offset, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// FormatError is a single failed filesystem creation.
type FormatError struct {
	Partition string
	Err       error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("cannot format partition %q: %v", e.Partition, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// FormatFailures aggregates the format phase outcome; formatting
// failures are partition-local and do not stop sibling partitions from
// being formatted.
type FormatFailures struct {
	Errs []*FormatError
}

func (e *FormatFailures) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("cannot format %d partition(s):\n- %s", len(e.Errs), strings.Join(msgs, "\n- "))
}
