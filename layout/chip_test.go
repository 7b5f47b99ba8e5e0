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

type chipSuite struct {
	dir string
}

var _ = Suite(&chipSuite{})

func (s *chipSuite) SetUpTest(c *C) {
	s.dir = c.MkDir()
}

func (s *chipSuite) makeImage(c *C, name string, size quantity.Size) string {
	path := filepath.Join(s.dir, name)
	f, err := os.Create(path)
	c.Assert(err, IsNil)
	defer f.Close()
	c.Assert(f.Truncate(int64(size)), IsNil)
	return path
}

func (s *chipSuite) TestFindChipFamily(c *C) {
	family, err := layout.FindChipFamily("rockchip")
	c.Assert(err, IsNil)
	c.Check(family.Name, Equals, "rockchip")

	family, err = layout.FindChipFamily("generic")
	c.Assert(err, IsNil)
	c.Check(family.Slots, HasLen, 0)

	_, err = layout.FindChipFamily("exynos")
	c.Check(err, ErrorMatches, `unknown chip family "exynos" \(supported: \[generic rockchip\]\)`)
}

func (s *chipSuite) TestRockchipSlotOffsets(c *C) {
	family, err := layout.FindChipFamily("rockchip")
	c.Assert(err, IsNil)

	c.Assert(family.Slots, HasLen, 2)
	// boot ROM contract: pre-loader at LBA 0x40, U-Boot at LBA 0x4000
	c.Check(family.Slots[0].Name, Equals, "idbloader")
	c.Check(family.Slots[0].Offset, Equals, quantity.Offset(0x40*512))
	c.Check(family.Slots[1].Name, Equals, "uboot")
	c.Check(family.Slots[1].Offset, Equals, quantity.Offset(0x4000*512))
}

func (s *chipSuite) TestRegions(c *C) {
	family, err := layout.FindChipFamily("rockchip")
	c.Assert(err, IsNil)

	idbloader := s.makeImage(c, "idbloader.img", 160*quantity.SizeKiB)
	regions, err := family.Regions(map[string]string{"idbloader": idbloader})
	c.Assert(err, IsNil)

	// only the bound slot is carried over
	c.Assert(regions, HasLen, 1)
	c.Check(regions[0].Name, Equals, "idbloader")
	c.Check(regions[0].Image, Equals, idbloader)
	c.Check(regions[0].Size, Equals, 160*quantity.SizeKiB)
	c.Check(regions[0].Offset, Equals, quantity.Offset(0x40*512))
}

func (s *chipSuite) TestRegionsUnknownSlot(c *C) {
	family, err := layout.FindChipFamily("rockchip")
	c.Assert(err, IsNil)

	_, err = family.Regions(map[string]string{"spl": "spl.img"})
	c.Check(err, ErrorMatches, `chip family "rockchip" has no "spl" loader stage`)
}

func (s *chipSuite) TestRegionsMissingImage(c *C) {
	family, err := layout.FindChipFamily("rockchip")
	c.Assert(err, IsNil)

	_, err = family.Regions(map[string]string{"idbloader": filepath.Join(s.dir, "gone.img")})
	c.Check(err, ErrorMatches, `cannot use idbloader image: .*gone.img.*`)
}

func (s *chipSuite) TestRegionsImageTooLarge(c *C) {
	family, err := layout.FindChipFamily("rockchip")
	c.Assert(err, IsNil)

	huge := s.makeImage(c, "uboot.img", 9*quantity.SizeMiB)
	_, err = family.Regions(map[string]string{"uboot": huge})
	c.Check(err, ErrorMatches, `image ".*uboot.img" \(9 MiB\) does not fit in "uboot" \(8 MiB\)`)
}
