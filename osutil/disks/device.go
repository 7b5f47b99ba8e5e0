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

// Package disks wraps the block device interactions of flashing: size
// and sector queries, partition table reloads, and partition node
// naming and discovery. All subprocess use goes through commands that
// tests can mock through PATH.
package disks

import (
	"fmt"
	"os"
	"os/exec"
	"time"
	"unicode"

	"golang.org/x/sys/unix"
	"gopkg.in/retry.v1"

	"github.com/snapcore/rockflash/osutil"
)

// OpenExclusive opens a block device for writing with O_EXCL, so that
// the open fails if the kernel considers the device in use, e.g. a
// mounted filesystem or an active device mapper target.
func OpenExclusive(device string) (*os.File, error) {
	f, err := os.OpenFile(device, os.O_RDWR|unix.O_EXCL, 0)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s exclusively: %v", device, err)
	}
	return f, nil
}

// PartitionNode returns the device node of the numbered partition of
// the given disk. Devices whose name ends in a digit, such as
// /dev/mmcblk0 or /dev/nvme0n1, take a "p" separator before the
// partition number.
func PartitionNode(device string, num int) string {
	if len(device) > 0 && unicode.IsDigit(rune(device[len(device)-1])) {
		return fmt.Sprintf("%sp%d", device, num)
	}
	return fmt.Sprintf("%s%d", device, num)
}

// ReloadPartitionTable instructs the kernel to re-read the partition
// table of the given device.
func ReloadPartitionTable(device string) error {
	// partx works with loop devices where partprobe does not
	output, err := exec.Command("partx", "-u", device).CombinedOutput()
	if err != nil {
		return fmt.Errorf("cannot re-read partition table: %v", osutil.OutputErr(output, err))
	}
	return nil
}

var waitForNodeStrategy = retry.LimitCount(20, retry.Regular{
	Min:   20,
	Delay: 250 * time.Millisecond,
})

// WaitForNode waits for the given device node to appear. Nodes show up
// asynchronously after a partition table reload, once udev has
// processed the change events.
func WaitForNode(node string) error {
	for a := retry.Start(waitForNodeStrategy, nil); a.Next(); {
		if osutil.FileExists(node) {
			return nil
		}
	}
	return fmt.Errorf("device node %s did not appear", node)
}
