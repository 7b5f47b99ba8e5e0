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

	"github.com/snapcore/rockflash/quantity"
)

// InvalidSpecError describes a malformed partition spec string.
type InvalidSpecError struct {
	Spec   string
	Reason string
}

func (e *InvalidSpecError) Error() string {
	return fmt.Sprintf("invalid partition spec %q: %s", e.Spec, e.Reason)
}

// AmbiguousFillTargetError reports a request that asks for both an
// image source and fill-remaining sizing. The absorbed size cannot be
// known up front while the image still has to fit, so the request is
// rejected outright.
type AmbiguousFillTargetError struct {
	Name string
}

func (e *AmbiguousFillTargetError) Error() string {
	return fmt.Sprintf("partition %q cannot both fill the remaining space and carry an image", e.Name)
}

// FillError reports an invalid arrangement of fill-remaining requests.
type FillError struct {
	Name   string
	Reason string
}

func (e *FillError) Error() string {
	return fmt.Sprintf("cannot use partition %q to fill the remaining space: %s", e.Name, e.Reason)
}

// DuplicateNameError reports two requests sharing a partition name.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("partition name %q is used more than once", e.Name)
}

// CapacityError reports a partition that cannot be placed without
// running past the usable end of the device.
type CapacityError struct {
	Name      string
	Needed    quantity.Size
	Available quantity.Size
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("cannot fit partition %q: needs %s but only %s is left before the trailing reserved space",
		e.Name, e.Needed.IECString(), e.Available.IECString())
}

// DeviceTooSmallError reports a device that cannot even hold the fixed
// loader and table regions.
type DeviceTooSmallError struct {
	Capacity quantity.Size
	Min      quantity.Size
}

func (e *DeviceTooSmallError) Error() string {
	return fmt.Sprintf("device of size %s is too small, fixed regions alone need %s",
		e.Capacity.IECString(), e.Min.IECString())
}

// OverlapError reports two planned regions with intersecting byte
// ranges.
type OverlapError struct {
	Name     string
	Other    string
	Start    quantity.Offset
	OtherEnd quantity.Offset
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("region %q starting at %s overlaps with preceding region %q ending at %s",
		e.Name, e.Start.IECString(), e.Other, e.OtherEnd.IECString())
}

// ImageTooLargeError reports an image that does not fit the declared
// size of its partition or loader region.
type ImageTooLargeError struct {
	Name      string
	Image     string
	ImageSize quantity.Size
	Size      quantity.Size
}

func (e *ImageTooLargeError) Error() string {
	return fmt.Sprintf("image %q (%s) does not fit in %q (%s)",
		e.Image, e.ImageSize.IECString(), e.Name, e.Size.IECString())
}
