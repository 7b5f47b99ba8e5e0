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

package layout_test

import (
	"os"
	"path/filepath"

	. "gopkg.in/check.v1"

	"github.com/snapcore/rockflash/layout"
	"github.com/snapcore/rockflash/quantity"
)

type planSuite struct {
	dir string
}

var _ = Suite(&planSuite{})

func (s *planSuite) SetUpTest(c *C) {
	s.dir = c.MkDir()
}

// makeImage creates a sparse file of the given size and returns its
// path.
func (s *planSuite) makeImage(c *C, name string, size quantity.Size) string {
	path := filepath.Join(s.dir, name)
	f, err := os.Create(path)
	c.Assert(err, IsNil)
	defer f.Close()
	c.Assert(f.Truncate(int64(size)), IsNil)
	return path
}

func (s *planSuite) rockchipLoaders(c *C) []layout.LoaderRegion {
	family, err := layout.FindChipFamily("rockchip")
	c.Assert(err, IsNil)
	loaders, err := family.Regions(map[string]string{
		"idbloader": s.makeImage(c, "idbloader.img", 160*quantity.SizeKiB),
		"uboot":     s.makeImage(c, "u-boot.itb", 4*quantity.SizeMiB),
	})
	c.Assert(err, IsNil)
	return loaders
}

func (s *planSuite) TestPlanScenario8GiB(c *C) {
	// 50 MiB boot image, 4 MiB uboot image, 384 MiB cache,
	// 16 MiB metadata, userdata fills the rest of an 8 GiB device
	cacheSize := 384 * quantity.SizeMiB
	metadataSize := 16 * quantity.SizeMiB
	requests := []layout.PartitionRequest{
		{Name: "boot", Source: s.makeImage(c, "boot.img", 50*quantity.SizeMiB)},
		{Name: "uboot", Source: s.makeImage(c, "uboot.img", 4*quantity.SizeMiB)},
		{Name: "cache", Size: &cacheSize, Filesystem: "ext4"},
		{Name: "metadata", Size: &metadataSize, Filesystem: "ext4"},
		{Name: "userdata", FillRemaining: true},
	}

	dl, err := layout.Plan(requests, nil, layout.Constraints{Capacity: 8 * quantity.SizeGiB})
	c.Assert(err, IsNil)

	// no loaders, so the table region leads the device
	c.Check(dl.TableOffset, Equals, quantity.Offset(0))
	c.Check(dl.TableSize, Equals, quantity.SizeMiB)
	c.Check(dl.BackupOffset, Equals, quantity.Offset(8*quantity.SizeGiB-quantity.SizeMiB))

	c.Assert(dl.Partitions, HasLen, 5)
	for i, expected := range []struct {
		name  string
		start quantity.Offset
		size  quantity.Size
	}{
		{"boot", 1 * quantity.OffsetMiB, 50 * quantity.SizeMiB},
		{"uboot", 51 * quantity.OffsetMiB, 4 * quantity.SizeMiB},
		{"cache", 55 * quantity.OffsetMiB, 384 * quantity.SizeMiB},
		{"metadata", 439 * quantity.OffsetMiB, 16 * quantity.SizeMiB},
		// exactly what is left up to the trailing reserve
		{"userdata", 455 * quantity.OffsetMiB, (8*1024 - 455 - 1) * quantity.SizeMiB},
	} {
		p := dl.Partitions[i]
		c.Check(p.Name, Equals, expected.name)
		c.Check(p.StartOffset, Equals, expected.start, Commentf("partition %q", p.Name))
		c.Check(p.Size, Equals, expected.size, Commentf("partition %q", p.Name))
		c.Check(p.DiskIndex, Equals, i+1)
	}
	c.Check(dl.Partitions[4].FillRemaining, Equals, true)

	c.Assert(layout.Validate(dl), IsNil)
}

func (s *planSuite) TestPlanWithLoaders(c *C) {
	dl, err := layout.Plan(nil, s.rockchipLoaders(c), layout.Constraints{Capacity: 64 * quantity.SizeMiB})
	c.Assert(err, IsNil)

	// the table goes right after the 16 MiB loader reservation
	c.Check(dl.TableOffset, Equals, quantity.Offset(16*quantity.SizeMiB))
	c.Check(dl.TableSize, Equals, quantity.SizeMiB)
	c.Check(dl.UsableEnd(), Equals, quantity.Offset(63*quantity.SizeMiB))
}

func (s *planSuite) TestPlanImageSizeAlignedUp(c *C) {
	requests := []layout.PartitionRequest{
		{Name: "boot", Source: s.makeImage(c, "boot.img", 3*quantity.SizeMiB+quantity.SizeKiB)},
	}
	dl, err := layout.Plan(requests, nil, layout.Constraints{Capacity: 64 * quantity.SizeMiB})
	c.Assert(err, IsNil)
	c.Check(dl.Partitions[0].Size, Equals, 4*quantity.SizeMiB)
	c.Check(dl.Partitions[0].SourceSize, Equals, 3*quantity.SizeMiB+quantity.SizeKiB)
}

func (s *planSuite) TestPlanExplicitSizeAlignedUp(c *C) {
	odd := 3*quantity.SizeMiB + 512
	requests := []layout.PartitionRequest{{Name: "odd", Size: &odd}}
	dl, err := layout.Plan(requests, nil, layout.Constraints{Capacity: 64 * quantity.SizeMiB})
	c.Assert(err, IsNil)
	c.Check(dl.Partitions[0].Size, Equals, 4*quantity.SizeMiB)
}

func (s *planSuite) TestPlanMissingImage(c *C) {
	requests := []layout.PartitionRequest{
		{Name: "boot", Source: filepath.Join(s.dir, "no-such.img")},
	}
	_, err := layout.Plan(requests, nil, layout.Constraints{Capacity: 64 * quantity.SizeMiB})
	c.Check(err, ErrorMatches, `cannot use image for partition "boot": .*no-such.img.*`)
}

func (s *planSuite) TestPlanNoSizing(c *C) {
	requests := []layout.PartitionRequest{{Name: "boot"}}
	_, err := layout.Plan(requests, nil, layout.Constraints{Capacity: 64 * quantity.SizeMiB})
	c.Check(err, ErrorMatches, `invalid partition spec "boot": a partition needs an image, an explicit size, or the fill-remaining marker`)
}

func (s *planSuite) TestPlanAmbiguousFillTarget(c *C) {
	requests := []layout.PartitionRequest{
		{Name: "userdata", Source: s.makeImage(c, "userdata.img", quantity.SizeMiB), FillRemaining: true},
	}
	_, err := layout.Plan(requests, nil, layout.Constraints{Capacity: 64 * quantity.SizeMiB})
	c.Check(err, ErrorMatches, `partition "userdata" cannot both fill the remaining space and carry an image`)
}

func (s *planSuite) TestPlanFillMustBeLast(c *C) {
	size := 16 * quantity.SizeMiB
	requests := []layout.PartitionRequest{
		{Name: "spill", FillRemaining: true},
		{Name: "boot", Size: &size},
	}
	_, err := layout.Plan(requests, nil, layout.Constraints{Capacity: 64 * quantity.SizeMiB})
	c.Check(err, ErrorMatches, `cannot use partition "spill" to fill the remaining space: it must be the last partition requested`)
}

func (s *planSuite) TestPlanCapacityExceeded(c *C) {
	tooBig := 80 * quantity.SizeMiB
	requests := []layout.PartitionRequest{{Name: "big", Size: &tooBig}}
	_, err := layout.Plan(requests, nil, layout.Constraints{Capacity: 64 * quantity.SizeMiB})
	c.Assert(err, ErrorMatches, `cannot fit partition "big": needs 80 MiB but only 62 MiB is left before the trailing reserved space`)
}

func (s *planSuite) TestPlanCapacityExceededSecondPartition(c *C) {
	// the first partition fits, the second does not, and the error
	// accounts for the space the first one took
	first := 32 * quantity.SizeMiB
	second := 32 * quantity.SizeMiB
	requests := []layout.PartitionRequest{
		{Name: "one", Size: &first},
		{Name: "two", Size: &second},
	}
	_, err := layout.Plan(requests, nil, layout.Constraints{Capacity: 64 * quantity.SizeMiB})
	c.Assert(err, ErrorMatches, `cannot fit partition "two": needs 32 MiB but only 30 MiB is left before the trailing reserved space`)
}

func (s *planSuite) TestPlanFillNoSpaceLeft(c *C) {
	almostAll := 62 * quantity.SizeMiB
	requests := []layout.PartitionRequest{
		{Name: "big", Size: &almostAll},
		{Name: "userdata", FillRemaining: true},
	}
	_, err := layout.Plan(requests, nil, layout.Constraints{Capacity: 64 * quantity.SizeMiB})
	c.Assert(err, ErrorMatches, `cannot fit partition "userdata": needs 1 MiB but only 0 B is left before the trailing reserved space`)
}

func (s *planSuite) TestPlanCapacityAlignedDownToSector(c *C) {
	// a capacity that is not a sector multiple leaves a tail no LBA
	// can address; the layout stops at the last full sector
	size := 2 * quantity.SizeMiB
	requests := []layout.PartitionRequest{{Name: "boot", Size: &size}}
	dl, err := layout.Plan(requests, nil, layout.Constraints{Capacity: 64*quantity.SizeMiB + 300})
	c.Assert(err, IsNil)
	c.Check(dl.Capacity, Equals, 64*quantity.SizeMiB)
	c.Check(dl.BackupOffset, Equals, quantity.Offset(63*quantity.SizeMiB))
	c.Assert(layout.Validate(dl), IsNil)
}

func (s *planSuite) TestPlanDeviceTooSmall(c *C) {
	_, err := layout.Plan(nil, s.rockchipLoaders(c), layout.Constraints{Capacity: 8 * quantity.SizeMiB})
	c.Assert(err, ErrorMatches, `device of size 8 MiB is too small, fixed regions alone need 18 MiB`)
}
