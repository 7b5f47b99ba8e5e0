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
	"context"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/snapcore/rockflash/layout"
	"github.com/snapcore/rockflash/logger"
	"github.com/snapcore/rockflash/osutil/disks"
	"github.com/snapcore/rockflash/osutil/mkfs"
)

const (
	// formatWorkers bounds how many mkfs processes run at once;
	// formatted partitions are disjoint so they can proceed in
	// parallel.
	formatWorkers = 2
	// formatTimeout bounds a single mkfs invocation. Generous, a
	// slow device is expected to finish eventually.
	formatTimeout = 10 * time.Minute
)

// formatPartitions creates the requested filesystems on the partition
// nodes of the given device. Failures are partition-local: every
// requested partition is attempted, and the failures are aggregated in
// layout order regardless of completion order.
func formatPartitions(ctx context.Context, device string, dl *layout.DeviceLayout) error {
	var targets []layout.PlannedPartition
	for _, p := range dl.Partitions {
		if p.Filesystem != "" {
			targets = append(targets, p)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	var t tomb.Tomb
	jobs := make(chan int)
	t.Go(func() error {
		defer close(jobs)
		for i := range targets {
			select {
			case jobs <- i:
			case <-t.Dying():
				return nil
			}
		}
		return nil
	})

	// every worker writes only its own job slots
	results := make([]error, len(targets))
	for w := 0; w < formatWorkers; w++ {
		t.Go(func() error {
			for i := range jobs {
				results[i] = formatOne(ctx, device, &targets[i])
			}
			return nil
		})
	}
	if err := t.Wait(); err != nil {
		return err
	}

	var failures []*FormatError
	for i, err := range results {
		if err != nil {
			failures = append(failures, &FormatError{Partition: targets[i].Name, Err: err})
		}
	}
	if len(failures) > 0 {
		return &FormatFailures{Errs: failures}
	}
	return nil
}

var waitForNode = disks.WaitForNode

func formatOne(ctx context.Context, device string, p *layout.PlannedPartition) error {
	node := disks.PartitionNode(device, p.DiskIndex)
	if err := waitForNode(node); err != nil {
		return err
	}
	logger.Noticef("creating %s filesystem %q on %s", p.Filesystem, p.Name, node)

	mkfsCtx, cancel := context.WithTimeout(ctx, formatTimeout)
	defer cancel()
	return mkfs.Make(mkfsCtx, p.Filesystem, node, p.Name, p.Size)
}
