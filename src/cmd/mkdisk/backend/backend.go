// Package backend creates disk images and fills in their partition tables,
// filesystems and contents.
package backend

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/layout"
)

// Format is the container format of an image file.
type Format string

// Supported image formats
const (
	FormatRaw   Format = "raw"
	FormatQcow2 Format = "qcow2"
)

// Valid reports whether f is a supported format.
func (f Format) Valid() bool {
	return f == FormatRaw || f == FormatQcow2
}

// Filesystem is the kind of filesystem a partition is formatted with.
type Filesystem string

// Supported filesystems
const (
	FSNone Filesystem = "none"
	Ext2   Filesystem = "ext2"
	Ext3   Filesystem = "ext3"
	Ext4   Filesystem = "ext4"
	VFAT   Filesystem = "vfat"
	Swap   Filesystem = "swap"
)

// ParseFilesystem accepts the filesystem names of an image description.
func ParseFilesystem(s string) (Filesystem, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return FSNone, nil
	case "ext2":
		return Ext2, nil
	case "ext3":
		return Ext3, nil
	case "ext4":
		return Ext4, nil
	case "vfat", "fat", "fat32":
		return VFAT, nil
	case "swap":
		return Swap, nil
	}
	return "", fmt.Errorf("unsupported filesystem %q", s)
}

// IsExt is true for the ext2/3/4 family.
func (f Filesystem) IsExt() bool {
	return f == Ext2 || f == Ext3 || f == Ext4
}

// Mountable is true for filesystems files can be written to.
func (f Filesystem) Mountable() bool {
	return f.IsExt() || f == VFAT
}

// Compression is the compression of an archive.
type Compression string

// Archive compressions. CompressionAuto picks one from the file name.
const (
	CompressionAuto  Compression = "auto"
	CompressionNone  Compression = "none"
	CompressionGzip  Compression = "gzip"
	CompressionXz    Compression = "xz"
	CompressionBzip2 Compression = "bzip2"
	CompressionLz4   Compression = "lz4"
	CompressionZstd  Compression = "zstd"
)

// ParseCompression accepts a compression name or common alias.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return CompressionAuto, nil
	case "none", "tar":
		return CompressionNone, nil
	case "gzip", "gz":
		return CompressionGzip, nil
	case "xz":
		return CompressionXz, nil
	case "bzip2", "bz2":
		return CompressionBzip2, nil
	case "lz4":
		return CompressionLz4, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	}
	return "", fmt.Errorf("unsupported compression %q", s)
}

// DetectCompression guesses an archive's compression from its name.
func DetectCompression(name string) Compression {
	n := strings.ToLower(name)
	switch {
	case strings.HasSuffix(n, ".gz"), strings.HasSuffix(n, ".tgz"):
		return CompressionGzip
	case strings.HasSuffix(n, ".xz"), strings.HasSuffix(n, ".txz"):
		return CompressionXz
	case strings.HasSuffix(n, ".bz2"), strings.HasSuffix(n, ".tbz2"), strings.HasSuffix(n, ".tbz"):
		return CompressionBzip2
	case strings.HasSuffix(n, ".lz4"):
		return CompressionLz4
	case strings.HasSuffix(n, ".zst"), strings.HasSuffix(n, ".tzst"):
		return CompressionZstd
	}
	return CompressionNone
}

// PartitionID identifies a partition by its 1-based creation order.
type PartitionID int

// Device addresses the whole disk instead of a partition.
const Device PartitionID = 0

func (id PartitionID) String() string {
	if id == Device {
		return "device"
	}
	return fmt.Sprintf("partition %d", int(id))
}

// Backend is a session on one disk image. Calls are blocking and must be
// made in order: an image is created and attached before it is partitioned,
// a partition is created before its metadata is set and it is formatted,
// and a filesystem is mounted before files are written to it. At most one
// filesystem is mounted at a time. Close ends the session and must be
// called on every path.
type Backend interface {
	CreateImage(path string, format Format, size uint64) error
	Attach(ctx context.Context) error
	Detach() error

	InitPartitionTable(kind layout.Kind) error
	AddPartition(typ layout.PartType, start, end uint64) (PartitionID, error)
	SetMbrID(id PartitionID, mbrID byte) error
	SetGptType(id PartitionID, gptType string) error
	SetPartitionLabel(id PartitionID, label string) error
	SetBootable(id PartitionID, bootable bool) error

	MakeFilesystem(id PartitionID, fs Filesystem, blockSize int, label string) error
	MakeSwap(id PartitionID, label string) error

	Mount(id PartitionID, mountpoint string) error
	Unmount(mountpoint string) error
	ExtractArchive(hostPath, target string, compression Compression) error
	UploadFile(hostPath, target string) error
	WriteFile(target string, content []byte, mode os.FileMode) error

	RawWrite(id PartitionID, data []byte, offset int64) error
	Sync() error

	Close() error
}
