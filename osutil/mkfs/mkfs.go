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

// Package mkfs creates filesystems on partition device nodes by
// invoking the corresponding mkfs tool.
package mkfs

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/snapcore/rockflash/osutil"
	"github.com/snapcore/rockflash/quantity"
)

// MakeFunc defines a function signature that is used by all of the
// mkfs.<filesystem> helpers supported in this package. This is done to
// allow them to be defined in the mkfsHandlers map.
type MakeFunc func(ctx context.Context, node, label string, deviceSize quantity.Size) error

var mkfsHandlers = map[string]MakeFunc{
	"ext4": mkfsExt4,
	"vfat": mkfsVfat,
	"f2fs": mkfsF2fs,
}

// IsSupported returns whether a filesystem of the given type can be
// created.
func IsSupported(typ string) bool {
	_, ok := mkfsHandlers[typ]
	return ok
}

// Make creates a filesystem of the given type with an optional label on
// the device node. The device size provides hints for additional tuning
// of the created filesystem. The context bounds the runtime of the mkfs
// tool.
func Make(ctx context.Context, typ, node, label string, deviceSize quantity.Size) error {
	h, ok := mkfsHandlers[typ]
	if !ok {
		return fmt.Errorf("cannot create unsupported filesystem %q", typ)
	}
	return h(ctx, node, label, deviceSize)
}

func runMkfs(ctx context.Context, name string, args ...string) error {
	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return osutil.OutputErr(output, err)
	}
	return nil
}

// mkfsExt4 creates an EXT4 filesystem on the given device node, with an
// optional filesystem label.
func mkfsExt4(ctx context.Context, node, label string, deviceSize quantity.Size) error {
	// mkfs defaults work well on device nodes, except for very small
	// filesystems where the default 4k block size wastes most of the
	// space on the journal, follow e2fsprogs and use a 1k block size
	// there
	mkfsArgs := []string{"-F"}
	const size32MiB = 32 * quantity.SizeMiB
	if deviceSize != 0 && deviceSize <= size32MiB {
		mkfsArgs = append(mkfsArgs, "-b", "1024")
	}
	if label != "" {
		mkfsArgs = append(mkfsArgs, "-L", label)
	}
	mkfsArgs = append(mkfsArgs, node)
	return runMkfs(ctx, "mkfs.ext4", mkfsArgs...)
}

// mkfsVfat creates a FAT32 filesystem on the given device node, with an
// optional filesystem label.
func mkfsVfat(ctx context.Context, node, label string, deviceSize quantity.Size) error {
	mkfsArgs := []string{
		// 1 sector per cluster
		"-s", "1",
		// 32b FAT size
		"-F", "32",
	}
	if label != "" {
		mkfsArgs = append(mkfsArgs, "-n", label)
	}
	mkfsArgs = append(mkfsArgs, node)
	return runMkfs(ctx, "mkfs.vfat", mkfsArgs...)
}

// mkfsF2fs creates an F2FS filesystem on the given device node, with an
// optional filesystem label. F2FS is the conventional choice for the
// userdata partition of flash-backed boards.
func mkfsF2fs(ctx context.Context, node, label string, deviceSize quantity.Size) error {
	mkfsArgs := []string{"-f"}
	if label != "" {
		mkfsArgs = append(mkfsArgs, "-l", label)
	}
	mkfsArgs = append(mkfsArgs, node)
	return runMkfs(ctx, "mkfs.f2fs", mkfsArgs...)
}
