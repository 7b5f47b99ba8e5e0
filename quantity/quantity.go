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

// Package quantity defines strongly typed byte sizes and offsets, the
// strict size grammar used in partition specifications, and the
// alignment arithmetic the layout planner relies on.
package quantity

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Size describes the size in bytes.
type Size uint64

const (
	// SizeKiB is the byte size of one kibibyte (2^10 = 1024 bytes)
	SizeKiB = Size(1 << 10)
	// SizeMiB is the byte size of one mebibyte (2^20 = 1024^2 bytes)
	SizeMiB = Size(1 << 20)
	// SizeGiB is the byte size of one gibibyte (2^30 = 1024^3 bytes)
	SizeGiB = Size(1 << 30)
)

func (s Size) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// IECString formats the size using prefixes from the International
// System of Units (MiB, GiB, ...), chosing the largest prefix that
// still renders a magnitude of at least one.
func (s Size) IECString() string {
	return iecString(uint64(s))
}

func iecString(v uint64) string {
	maxFloat := float64(1023.5)
	r := float64(v)
	unit := "B"
	for _, rangeUnit := range []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"} {
		if r < maxFloat {
			break
		}
		r /= 1024
		unit = rangeUnit
	}
	precision := 0
	if math.Floor(r) != r {
		precision = 2
	}
	return fmt.Sprintf("%.*f %s", precision, r, unit)
}

func (s *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var gs string
	if err := unmarshal(&gs); err != nil {
		return errors.New("cannot unmarshal size")
	}

	var err error
	*s, err = ParseSize(gs)
	if err != nil {
		return fmt.Errorf("cannot parse size %q: %v", gs, err)
	}
	return err
}

// InvalidSizeError describes a size string that does not follow the
// <magnitude><unit> grammar.
type InvalidSizeError struct {
	Input  string
	Reason string
}

func (e *InvalidSizeError) Error() string {
	return fmt.Sprintf("cannot parse size %q: %s", e.Input, e.Reason)
}

// ParseSize parses a size string expressed as an unsigned decimal
// magnitude followed by a binary unit, one of B, KiB, MiB or GiB. A
// bare magnitude with no unit is rejected: every size handled here
// eventually drives a destructive write and must not be open to a
// bytes-vs-mebibytes misreading.
func ParseSize(gs string) (Size, error) {
	numEnd := strings.IndexFunc(gs, func(r rune) bool {
		return r < '0' || r > '9'
	})
	if numEnd == 0 || gs == "" {
		return 0, &InvalidSizeError{Input: gs, Reason: "no numeric prefix"}
	}
	if numEnd == -1 {
		return 0, &InvalidSizeError{Input: gs, Reason: "missing unit suffix (one of B, KiB, MiB, GiB)"}
	}
	number, err := strconv.ParseUint(gs[:numEnd], 10, 64)
	if err != nil {
		return 0, &InvalidSizeError{Input: gs, Reason: "invalid magnitude"}
	}

	var unit Size
	switch gs[numEnd:] {
	case "B":
		unit = 1
	case "KiB":
		unit = SizeKiB
	case "MiB":
		unit = SizeMiB
	case "GiB":
		unit = SizeGiB
	default:
		return 0, &InvalidSizeError{Input: gs, Reason: fmt.Sprintf("invalid unit %q (expected one of B, KiB, MiB, GiB)", gs[numEnd:])}
	}
	if number > math.MaxUint64/uint64(unit) {
		return 0, &InvalidSizeError{Input: gs, Reason: "size overflows"}
	}
	return Size(number) * unit, nil
}

// LooksLikeSize reports whether the string follows the size grammar
// accepted by ParseSize. It is used when deciding whether the value
// part of a partition spec names a size or an image path.
func LooksLikeSize(gs string) bool {
	_, err := ParseSize(gs)
	return err == nil
}

// AlignUp rounds the size up to the nearest multiple of align.
func (s Size) AlignUp(align Size) Size {
	if s%align == 0 {
		return s
	}
	return (s/align + 1) * align
}

// AlignDown rounds the size down to the nearest multiple of align.
func (s Size) AlignDown(align Size) Size {
	return s - s%align
}

// Offset describes the offset in bytes.
type Offset uint64

const (
	// OffsetKiB is the offset of one kibibyte
	OffsetKiB = Offset(SizeKiB)
	// OffsetMiB is the offset of one mebibyte
	OffsetMiB = Offset(SizeMiB)
)

func (o Offset) String() string {
	return strconv.FormatUint(uint64(o), 10)
}

// IECString formats the offset using IEC prefixes.
func (o Offset) IECString() string {
	return iecString(uint64(o))
}

// AlignUp rounds the offset up to the nearest multiple of align.
func (o Offset) AlignUp(align Size) Offset {
	return Offset(Size(o).AlignUp(align))
}

// AlignDown rounds the offset down to the nearest multiple of align.
func (o Offset) AlignDown(align Size) Offset {
	return Offset(Size(o).AlignDown(align))
}
