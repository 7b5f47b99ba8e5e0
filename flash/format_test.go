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

package flash_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	. "gopkg.in/check.v1"

	"github.com/snapcore/rockflash/flash"
	"github.com/snapcore/rockflash/layout"
	"github.com/snapcore/rockflash/logger"
	"github.com/snapcore/rockflash/osutil"
	"github.com/snapcore/rockflash/quantity"
	"github.com/snapcore/rockflash/testutil"
)

type formatSuite struct {
	dir     string
	device  string
	restore func()
}

var _ = Suite(&formatSuite{})

func (s *formatSuite) SetUpTest(c *C) {
	s.dir = c.MkDir()
	s.device = filepath.Join(s.dir, "disk")
	_, s.restore = logger.MockLogger()
}

func (s *formatSuite) TearDownTest(c *C) {
	s.restore()
}

// layoutWithFormats builds a layout whose cache and metadata partitions
// request formatting and creates the matching partition nodes.
func (s *formatSuite) layoutWithFormats(c *C) *layout.DeviceLayout {
	dl := &layout.DeviceLayout{
		Capacity:   8 * quantity.SizeGiB,
		SectorSize: 512,
		Alignment:  quantity.SizeMiB,
		Partitions: []layout.PlannedPartition{
			{Name: "boot", StartOffset: 1 * quantity.OffsetMiB, Size: 50 * quantity.SizeMiB, DiskIndex: 1},
			{Name: "cache", StartOffset: 51 * quantity.OffsetMiB, Size: 384 * quantity.SizeMiB, Filesystem: "ext4", DiskIndex: 2},
			{Name: "metadata", StartOffset: 435 * quantity.OffsetMiB, Size: 16 * quantity.SizeMiB, Filesystem: "f2fs", DiskIndex: 3},
		},
	}
	for _, p := range dl.Partitions {
		node := s.device + string(rune('0'+p.DiskIndex))
		c.Assert(os.WriteFile(node, nil, 0644), IsNil)
	}
	return dl
}

func (s *formatSuite) TestFormatPartitions(c *C) {
	mockExt4 := testutil.MockCommand(c, "mkfs.ext4", "")
	defer mockExt4.Restore()
	mockF2fs := testutil.MockCommand(c, "mkfs.f2fs", "")
	defer mockF2fs.Restore()

	dl := s.layoutWithFormats(c)
	err := flash.FormatPartitions(context.Background(), s.device, dl)
	c.Assert(err, IsNil)

	// only cache and metadata are formatted, boot has no request
	c.Check(mockExt4.Calls(), DeepEquals, [][]string{
		{"mkfs.ext4", "-F", "-L", "cache", s.device + "2"},
	})
	c.Check(mockF2fs.Calls(), DeepEquals, [][]string{
		{"mkfs.f2fs", "-f", "-l", "metadata", s.device + "3"},
	})
}

func (s *formatSuite) TestFormatSmallExt4BlockSize(c *C) {
	mockExt4 := testutil.MockCommand(c, "mkfs.ext4", "")
	defer mockExt4.Restore()

	dl := s.layoutWithFormats(c)
	dl.Partitions = dl.Partitions[1:2]
	dl.Partitions[0].Size = 16 * quantity.SizeMiB

	err := flash.FormatPartitions(context.Background(), s.device, dl)
	c.Assert(err, IsNil)
	c.Check(mockExt4.Calls(), DeepEquals, [][]string{
		{"mkfs.ext4", "-F", "-b", "1024", "-L", "cache", s.device + "2"},
	})
}

func (s *formatSuite) TestFormatFailuresAggregated(c *C) {
	mockExt4 := testutil.MockCommand(c, "mkfs.ext4", "echo 'mkfs.ext4: cannot do it' >&2; exit 1")
	defer mockExt4.Restore()
	mockF2fs := testutil.MockCommand(c, "mkfs.f2fs", "")
	defer mockF2fs.Restore()

	dl := s.layoutWithFormats(c)
	err := flash.FormatPartitions(context.Background(), s.device, dl)

	// the ext4 failure does not stop the f2fs sibling
	c.Check(mockF2fs.Calls(), HasLen, 1)

	var failures *flash.FormatFailures
	c.Assert(errors.As(err, &failures), Equals, true)
	c.Assert(failures.Errs, HasLen, 1)
	c.Check(failures.Errs[0].Partition, Equals, "cache")
	c.Check(failures.Errs[0].Error(), Matches, `cannot format partition "cache": mkfs.ext4: cannot do it`)
}

func (s *formatSuite) TestFormatResultsDeterministic(c *C) {
	// both fail; the aggregate lists them in layout order even if
	// the pool finishes them in another order
	mockExt4 := testutil.MockCommand(c, "mkfs.ext4", "sleep 0.2; exit 1")
	defer mockExt4.Restore()
	mockF2fs := testutil.MockCommand(c, "mkfs.f2fs", "exit 1")
	defer mockF2fs.Restore()

	dl := s.layoutWithFormats(c)
	err := flash.FormatPartitions(context.Background(), s.device, dl)

	var failures *flash.FormatFailures
	c.Assert(errors.As(err, &failures), Equals, true)
	c.Assert(failures.Errs, HasLen, 2)
	c.Check(failures.Errs[0].Partition, Equals, "cache")
	c.Check(failures.Errs[1].Partition, Equals, "metadata")
}

func (s *formatSuite) TestFormatNothingRequested(c *C) {
	dl := s.layoutWithFormats(c)
	for i := range dl.Partitions {
		dl.Partitions[i].Filesystem = ""
	}
	c.Check(flash.FormatPartitions(context.Background(), s.device, dl), IsNil)
}

func (s *formatSuite) TestFormatMissingNode(c *C) {
	mockExt4 := testutil.MockCommand(c, "mkfs.ext4", "")
	defer mockExt4.Restore()
	mockF2fs := testutil.MockCommand(c, "mkfs.f2fs", "")
	defer mockF2fs.Restore()

	dl := s.layoutWithFormats(c)
	c.Assert(os.Remove(s.device+"2"), IsNil)

	// skip the real retry loop, the node is simply not there
	restore := flash.MockWaitForNode(func(node string) error {
		if !osutil.FileExists(node) {
			return fmt.Errorf("device node %s did not appear", node)
		}
		return nil
	})
	defer restore()

	err := flash.FormatPartitions(context.Background(), s.device, dl)
	var failures *flash.FormatFailures
	c.Assert(errors.As(err, &failures), Equals, true)
	c.Assert(failures.Errs, HasLen, 1)
	c.Check(failures.Errs[0].Error(), Matches, `cannot format partition "cache": device node .*disk2 did not appear`)
	c.Check(mockExt4.Calls(), IsNil)
}
