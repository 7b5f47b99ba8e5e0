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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/snapcore/rockflash/flash"
	"github.com/snapcore/rockflash/gpt"
	"github.com/snapcore/rockflash/layout"
	"github.com/snapcore/rockflash/logger"
	"github.com/snapcore/rockflash/quantity"
)

var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr

	opts struct {
		Partitions       []string `short:"p" long:"partition" value-name:"name:image-or-size" description:"Partition to create, backed by an image file or blank at the given size (repeatable, order determines placement)"`
		BlankPartitions  []string `short:"b" long:"blank-partition" value-name:"name:size" description:"Blank partition of the given size (repeatable)"`
		FormatPartitions []string `short:"f" long:"format-partition" value-name:"name:fs" description:"Create a filesystem on the named partition after flashing (repeatable)"`
		FillPartition    string   `long:"fill-partition" value-name:"name" description:"Partition absorbing all remaining space (defaults to userdata)"`
		Destination      string   `short:"d" long:"destination" value-name:"path" description:"Target block device or image file" required:"true"`
		Size             string   `short:"s" long:"size" value-name:"size" description:"Capacity when the destination is a regular image file"`
		IDBLoader        string   `short:"i" long:"idbloader" value-name:"path" description:"Pre-loader image placed at the chip's first-stage offset"`
		UBoot            string   `long:"uboot" value-name:"path" description:"Second-stage bootloader image"`
		Chip             string   `long:"chip" value-name:"family" default:"rockchip" description:"Chip family whose fixed loader offsets apply"`
		Layout           string   `long:"layout" value-name:"file.yaml" description:"Declarative layout file, an alternative to the partition flags"`
	}
	parser = flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash|flags.PassAfterNonOption)
)

const (
	shortHelp = "Flash a bootable partition layout onto SoC boot media"
	longHelp  = `
rockflash plans a partition layout from the requested partitions and the
chip family's fixed loader offsets, then writes loaders, partition
tables and partition contents to the target device and creates the
requested filesystems.
`
)

func init() {
	logger.SimpleSetup()
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(Stdout, e.Message)
			return
		}
		fmt.Fprintf(Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	parser.ShortDescription = shortHelp
	parser.LongDescription = longHelp
	if _, err := parser.ParseArgs(args); err != nil {
		return err
	}

	runOpts, err := collectOptions()
	if err != nil {
		return err
	}

	// interrupts take effect at region boundaries, a region being
	// written always completes
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dl, err := flash.Run(ctx, runOpts)
	var ff *flash.FormatFailures
	if errors.As(err, &ff) {
		// the layout itself was fully written
		logger.Noticef("wrote %s but not all filesystems could be created", runOpts.Destination)
		return err
	}
	if err != nil {
		return err
	}
	logger.Noticef("flashed %s: %d partitions, capacity %s", runOpts.Destination, len(dl.Partitions), dl.Capacity.IECString())
	return nil
}

func collectOptions() (*flash.Options, error) {
	var requests []layout.PartitionRequest
	var err error
	if opts.Layout != "" {
		if len(opts.Partitions) > 0 || len(opts.BlankPartitions) > 0 {
			return nil, fmt.Errorf("cannot combine --layout with --partition or --blank-partition")
		}
		volume, err := layout.ReadVolume(opts.Layout)
		if err != nil {
			return nil, err
		}
		if volume.Chip != "" {
			opts.Chip = volume.Chip
		}
		for name, image := range volume.Loaders {
			switch name {
			case "idbloader":
				opts.IDBLoader = image
			case "uboot":
				opts.UBoot = image
			}
		}
		requests = volume.Requests()
	} else {
		requests, err = parseRequests()
		if err != nil {
			return nil, err
		}
	}

	if err := layout.ApplyFormatSpecs(requests, opts.FormatPartitions); err != nil {
		return nil, err
	}

	var size quantity.Size
	if opts.Size != "" {
		size, err = quantity.ParseSize(opts.Size)
		if err != nil {
			return nil, err
		}
	}

	loaderImages := map[string]string{}
	if opts.IDBLoader != "" {
		loaderImages["idbloader"] = opts.IDBLoader
	}
	if opts.UBoot != "" {
		loaderImages["uboot"] = opts.UBoot
	}

	return &flash.Options{
		Destination:  opts.Destination,
		Size:         size,
		Chip:         opts.Chip,
		LoaderImages: loaderImages,
		Requests:     requests,
	}, nil
}

func parseRequests() ([]layout.PartitionRequest, error) {
	var requests []layout.PartitionRequest
	for _, spec := range opts.Partitions {
		req, err := layout.ParsePartitionSpec(spec)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	for _, spec := range opts.BlankPartitions {
		req, err := layout.ParseBlankSpec(spec)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}

	// bootloader stage partitions go first on the device, the boot
	// ROM and early loaders expect them near the start
	sort.SliceStable(requests, func(i, j int) bool {
		return gpt.IsBootloaderName(requests[i].Name) && !gpt.IsBootloaderName(requests[j].Name)
	})

	if opts.FillPartition != "" {
		requests = append(requests, layout.PartitionRequest{
			Name:          opts.FillPartition,
			FillRemaining: true,
		})
	}
	return requests, nil
}
