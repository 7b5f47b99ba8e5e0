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

type volumeSuite struct {
	dir string
}

var _ = Suite(&volumeSuite{})

func (s *volumeSuite) SetUpTest(c *C) {
	s.dir = c.MkDir()
}

func (s *volumeSuite) writeVolume(c *C, content string) string {
	path := filepath.Join(s.dir, "layout.yaml")
	c.Assert(os.WriteFile(path, []byte(content), 0644), IsNil)
	return path
}

const sampleVolumeYaml = `
chip: rockchip
loaders:
  idbloader: idbloader.img
  uboot: u-boot.itb
structure:
  - name: boot
    image: boot.img
    filesystem: vfat
  - name: cache
    size: 384MiB
    filesystem: ext4
  - name: userdata
    fill: true
    filesystem: f2fs
`

func (s *volumeSuite) TestReadVolume(c *C) {
	v, err := layout.ReadVolume(s.writeVolume(c, sampleVolumeYaml))
	c.Assert(err, IsNil)

	c.Check(v.Chip, Equals, "rockchip")
	c.Check(v.Loaders, DeepEquals, map[string]string{
		"idbloader": "idbloader.img",
		"uboot":     "u-boot.itb",
	})

	requests := v.Requests()
	c.Assert(requests, HasLen, 3)
	c.Check(requests[0].Name, Equals, "boot")
	c.Check(requests[0].Source, Equals, "boot.img")
	c.Check(requests[0].Filesystem, Equals, "vfat")
	c.Assert(requests[1].Size, NotNil)
	c.Check(*requests[1].Size, Equals, 384*quantity.SizeMiB)
	c.Check(requests[2].FillRemaining, Equals, true)
}

func (s *volumeSuite) TestReadVolumeBadSize(c *C) {
	_, err := layout.ReadVolume(s.writeVolume(c, "structure:\n  - name: cache\n    size: \"10\"\n"))
	c.Check(err, ErrorMatches, `(?s)cannot parse volume file .*cannot parse size "10".*`)
}

func (s *volumeSuite) TestReadVolumeBadName(c *C) {
	_, err := layout.ReadVolume(s.writeVolume(c, "structure:\n  - name: \"bad name\"\n    fill: true\n"))
	c.Check(err, ErrorMatches, `invalid partition spec "structure #0": invalid partition name "bad name"`)
}

func (s *volumeSuite) TestReadVolumeMissing(c *C) {
	_, err := layout.ReadVolume(filepath.Join(s.dir, "nope.yaml"))
	c.Check(err, ErrorMatches, "cannot read volume file: .*")
}
