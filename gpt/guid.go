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

package gpt

import (
	"github.com/google/uuid"
)

// wireGUID returns the 16-byte on-disk form of a GUID. The first three
// fields are stored little-endian while the trailing two are
// big-endian, per the EFI specification.
func wireGUID(id uuid.UUID) [16]byte {
	var out [16]byte
	out[0], out[1], out[2], out[3] = id[3], id[2], id[1], id[0]
	out[4], out[5] = id[5], id[4]
	out[6], out[7] = id[7], id[6]
	copy(out[8:], id[8:])
	return out
}

// guidFromWire is the inverse of wireGUID.
func guidFromWire(raw [16]byte) uuid.UUID {
	var id uuid.UUID
	id[0], id[1], id[2], id[3] = raw[3], raw[2], raw[1], raw[0]
	id[4], id[5] = raw[5], raw[4]
	id[6], id[7] = raw[7], raw[6]
	copy(id[8:], raw[8:])
	return id
}

// Partition type GUIDs assigned by partition name, following the
// Android GPT conventions the boot chain expects.
var (
	typeBootloader  = uuid.MustParse("2568845D-2332-4675-BC39-8FA5A4748D15")
	typeBootloader2 = uuid.MustParse("114EAFFE-1552-4022-B26E-9B053604CF84")
	typeBoot        = uuid.MustParse("49A4D17F-93A3-45C1-A0DE-F50B2EBE2599")
	typeRecovery    = uuid.MustParse("4177C722-9E92-4AAB-8644-43502BFD5506")
	typeMisc        = uuid.MustParse("EF32A33B-A409-486C-9141-9FFB711F6266")
	typeMetadata    = uuid.MustParse("20AC26BE-20B7-11E3-84C5-6CFDB94711E9")
	typeSystem      = uuid.MustParse("38F428E6-D326-425D-9140-6E0EA133647C")
	typeCache       = uuid.MustParse("A893EF21-E428-470A-9E55-0668FD91A2D9")
	typeData        = uuid.MustParse("DC76DDA9-5AC1-491C-AF42-A82591580C0D")
	typePersistent  = uuid.MustParse("EBC597D0-2053-4B15-8B64-E0AAC75F4DB1")
	typeFactory     = uuid.MustParse("8F68CC74-C5E5-48DA-BE91-A0C8C15E9C80")
	typeFastboot    = uuid.MustParse("767941D0-2085-11E3-AD3B-6CFDB94711E9")
	typeOEM         = uuid.MustParse("AC6D7924-EB71-4DF8-B48D-E267B27148FF")
	typeBasicData   = uuid.MustParse("EBD0A0A2-B9E5-4433-87C0-68B6B72699C7")
)

// TypeForName maps a partition name to its GPT partition type GUID.
// Unrecognized names get the basic data type.
func TypeForName(name string) uuid.UUID {
	switch name {
	case "system", "vendor", "super", "product", "odm":
		return typeSystem
	case "cache":
		return typeCache
	case "userdata":
		return typeData
	case "boot", "vendor_boot", "system_dlkm", "vendor_dlkm", "dtb", "dtbo", "vbmeta", "security":
		return typeBoot
	case "recovery":
		return typeRecovery
	case "misc":
		return typeMisc
	case "metadata":
		return typeMetadata
	case "factory", "backup":
		return typeFactory
	case "uboot", "bootloader", "loader", "trust", "idbloader":
		return typeBootloader
	case "stage2", "bootloader2", "loader2":
		return typeBootloader2
	case "fastboot":
		return typeFastboot
	case "oem":
		return typeOEM
	case "persist":
		return typePersistent
	default:
		return typeBasicData
	}
}

// IsBootloaderName reports whether the partition name maps to one of
// the bootloader partition types. Bootloader partitions are placed
// ahead of everything else so the boot ROM finds its stages early on
// the device.
func IsBootloaderName(name string) bool {
	t := TypeForName(name)
	return t == typeBootloader || t == typeBootloader2
}
