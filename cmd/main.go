package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/latticeworks/multivol"
	"github.com/latticeworks/multivol/blockdev"
	"github.com/latticeworks/multivol/disks"
	"github.com/latticeworks/multivol/drivers/common"
	"github.com/latticeworks/multivol/drivers/ext2"
	"github.com/latticeworks/multivol/drivers/fat"
	"github.com/latticeworks/multivol/mount"
)

const deviceName = "image"

func main() {
	app := cli.App{
		Usage: "Manage FAT and ext2 disk image files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "fs",
				Aliases: []string{"t"},
				Usage:   "file system type: fat or ext2",
				Value:   "fat",
			},
			&cli.UintFlag{
				Name:  "block-size",
				Usage: "device block size in bytes",
				Value: 512,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "format",
				Usage: "Create or wipe an image",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "geometry",
						Usage: "predefined disk geometry slug (see disks.ListPredefinedDiskGeometries); overrides TOTAL_BLOCKS",
					},
				},
				Action:    formatImage,
				ArgsUsage: "IMAGE_FILE [TOTAL_BLOCKS]",
			},
			{
				Name:      "stat",
				Usage:     "Print file system or object status",
				Action:    statCommand,
				ArgsUsage: "IMAGE_FILE [PATH]",
			},
			{
				Name:      "ls",
				Usage:     "List a directory's contents",
				Action:    lsCommand,
				ArgsUsage: "IMAGE_FILE [PATH]",
			},
			{
				Name:      "cat",
				Usage:     "Print a file's contents to stdout",
				Action:    catCommand,
				ArgsUsage: "IMAGE_FILE PATH",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

// formatImage creates (or truncates) IMAGE_FILE and writes a fresh file
// system onto it, sized to hold TOTAL_BLOCKS blocks of --block-size bytes
// each.
func formatImage(context *cli.Context) error {
	if context.NArg() < 1 {
		return cli.Exit("expected IMAGE_FILE", 1)
	}

	path := context.Args().Get(0)
	blockSize := context.Uint("block-size")

	var totalBlocks uint64
	if slug := context.String("geometry"); slug != "" {
		geometry, err := disks.GetPredefinedDiskGeometry(slug)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		totalBlocks = uint64(geometry.TotalSizeBytes()) / uint64(blockSize)
	} else {
		if context.NArg() < 2 {
			return cli.Exit("expected TOTAL_BLOCKS, or pass --geometry", 1)
		}
		var err error
		totalBlocks, err = parseUint(context.Args().Get(1))
		if err != nil {
			return cli.Exit(fmt.Sprintf("invalid TOTAL_BLOCKS: %s", err), 1)
		}
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer file.Close()

	if err := file.Truncate(int64(totalBlocks) * int64(blockSize)); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	driverName := context.String("fs")
	stat := multivol.FSStat{
		BlockSize:   int64(blockSize),
		TotalBlocks: totalBlocks,
	}

	var driverErr multivol.DriverError
	switch driverName {
	case "fat":
		driverErr = (&fat.Driver{}).FormatImage(file, stat)
	case "ext2":
		driverErr = (&ext2.Driver{}).FormatImage(file, stat)
	default:
		return cli.Exit(fmt.Sprintf("unknown file system type %q", driverName), 1)
	}

	if driverErr != nil {
		return cli.Exit(driverErr.Error(), 1)
	}

	log.Printf("formatted %s as %s: %d blocks of %d bytes", path, driverName, totalBlocks, blockSize)
	return nil
}

// openImage opens IMAGE_FILE through a blockdev.FileBackend, registers it
// with a fresh mount.Registry under deviceName, constructs the requested
// engine's driver over it, and mounts the result at "/". Callers must call
// the returned cleanup function once done with it.
func openImage(context *cli.Context, path string) (*mount.Entry, func(), error) {
	blockSize := context.Uint("block-size")
	backend := blockdev.NewFileBackend(path, blockSize)

	device, err := blockdev.New(deviceName, blockSize, backend)
	if err != nil {
		return nil, nil, fmt.Errorf("%s", err.Error())
	}

	if err := device.Init(); err != nil {
		return nil, nil, fmt.Errorf("%s", err.Error())
	}

	registry := mount.NewRegistry()
	if err := registry.RegisterDevice(deviceName, device); err != nil {
		device.Fini()
		return nil, nil, err
	}

	var fs mount.FileSystem
	var driverErr error
	switch context.String("fs") {
	case "fat":
		fs, driverErr = fat.NewDriver(device)
	case "ext2":
		fs, driverErr = ext2.NewDriver(device)
	default:
		device.Fini()
		return nil, nil, fmt.Errorf("unknown file system type %q", context.String("fs"))
	}
	if driverErr != nil {
		device.Fini()
		return nil, nil, driverErr
	}

	if err := registry.Mount("/", deviceName, fs, true); err != nil {
		device.Fini()
		return nil, nil, err
	}

	entry := registry.Find("/")
	cleanup := func() {
		registry.UnmountAll()
		device.Fini()
	}
	return entry, cleanup, nil
}

// resolvePath walks path, a slash-separated series of names relative to the
// mounted root, returning the handle for the final component.
func resolvePath(fs mount.FileSystem, path string) (multivol.ObjectHandle, error) {
	handle := fs.GetRootDirectory()

	path = strings.Trim(path, "/")
	if path == "" {
		return handle, nil
	}

	for _, name := range strings.Split(path, "/") {
		if name == "" {
			continue
		}
		next, err := fs.GetObject(name, handle)
		if err != nil {
			return nil, fmt.Errorf("%s: %s", name, err.Error())
		}
		handle = next
	}
	return handle, nil
}

func statCommand(context *cli.Context) error {
	if context.NArg() < 1 {
		return cli.Exit("expected IMAGE_FILE", 1)
	}

	entry, cleanup, err := openImage(context, context.Args().Get(0))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer cleanup()

	path := context.Args().Get(1)
	if path == "" {
		fsStat := entry.FS.FSStat()
		fmt.Printf("block size:   %d\n", fsStat.BlockSize)
		fmt.Printf("total blocks: %d\n", fsStat.TotalBlocks)
		fmt.Printf("free blocks:  %d\n", fsStat.BlocksFree)
		fmt.Printf("files:        %d\n", fsStat.Files)
		fmt.Printf("free files:   %d\n", fsStat.FilesFree)
		return nil
	}

	handle, err := resolvePath(entry.FS, path)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	info := handle.Stat()
	fmt.Printf("name:     %s\n", handle.Name())
	fmt.Printf("size:     %d\n", info.Size)
	fmt.Printf("mode:     %s\n", info.ModeFlags)
	fmt.Printf("nlinks:   %d\n", info.Nlinks)
	fmt.Printf("uid/gid:  %d/%d\n", info.Uid, info.Gid)
	return nil
}

func lsCommand(context *cli.Context) error {
	if context.NArg() < 1 {
		return cli.Exit("expected IMAGE_FILE", 1)
	}

	entry, cleanup, err := openImage(context, context.Args().Get(0))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer cleanup()

	path := context.Args().Get(1)
	handle, err := resolvePath(entry.FS, path)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	names, driverErr := handle.ListDir()
	if driverErr != nil {
		return cli.Exit(driverErr.Error(), 1)
	}

	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func catCommand(context *cli.Context) error {
	if context.NArg() < 2 {
		return cli.Exit("expected IMAGE_FILE and PATH", 1)
	}

	entry, cleanup, err := openImage(context, context.Args().Get(0))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer cleanup()

	handle, err := resolvePath(entry.FS, context.Args().Get(1))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	info := handle.Stat()
	blockSize := uint(info.BlockSize)
	if blockSize == 0 {
		blockSize = 512
	}

	remaining := info.Size
	var index common.LogicalBlock
	buffer := make([]byte, blockSize)
	for remaining > 0 {
		if driverErr := handle.ReadBlocks(index, buffer); driverErr != nil {
			return cli.Exit(driverErr.Error(), 1)
		}

		chunk := buffer
		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		if _, err := os.Stdout.Write(chunk); err != nil {
			return cli.Exit(err.Error(), 1)
		}

		remaining -= int64(len(chunk))
		index++
	}
	return nil
}

func parseUint(s string) (uint64, error) {
	var value uint64
	_, err := fmt.Sscanf(s, "%d", &value)
	if err != nil {
		return 0, err
	}
	return value, nil
}
