package backend

import (
	"context"
	"errors"
	"fmt"
	"os"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/errdefs"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/layout"
	log "github.com/sirupsen/logrus"
)

// Options names the helper programs an Image runs and where it stages files.
type Options struct {
	QemuImg string
	Mke2fs  string
	TmpDir  string
}

// Image is a Backend that writes a disk image file directly: tables and
// FAT filesystems in process, ext filesystems with mke2fs and qcow2
// containers with qemu-img.
type Image struct {
	opts Options
	ctx  context.Context

	path   string
	work   string
	format Format
	size   int64

	disk  *disk.Disk
	table *table
	fs    map[PartitionID]*fsState

	mounted   mountedFS
	mountedID PartitionID
}

// fsState records what was put on a partition.
type fsState struct {
	kind      Filesystem
	blockSize int
	label     string
}

var _ Backend = &Image{}

// NewImage returns an Image backend, filling unset options with defaults.
func NewImage(opts Options) *Image {
	if opts.QemuImg == "" {
		opts.QemuImg = "qemu-img"
	}
	if opts.Mke2fs == "" {
		opts.Mke2fs = "mke2fs"
	}
	if opts.TmpDir == "" {
		opts.TmpDir = os.TempDir()
	}
	return &Image{opts: opts, ctx: context.Background(), fs: map[PartitionID]*fsState{}}
}

// CreateImage creates, or truncates, a sparse image of size bytes. A qcow2
// image is built as raw next to path and converted when detached.
func (i *Image) CreateImage(path string, format Format, size uint64) error {
	if !format.Valid() {
		return errdefs.Backend("unsupported image format %q", format)
	}
	if size == 0 || size%layout.SectorSize != 0 {
		return errdefs.Backend("image size %d is not a whole number of sectors", size)
	}
	i.path = path
	i.format = format
	i.size = int64(size)
	i.work = path
	if format != FormatRaw {
		i.work = path + ".raw"
	}
	f, err := os.OpenFile(i.work, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errdefs.WrapBackend(err, "create image %s", i.work)
	}
	if err := f.Truncate(i.size); err != nil {
		_ = f.Close()
		return errdefs.WrapBackend(err, "size image %s to %d bytes", i.work, size)
	}
	if err := f.Close(); err != nil {
		return errdefs.WrapBackend(err, "create image %s", i.work)
	}
	log.Debugf("created %s image %s of %d bytes", format, i.work, size)
	return nil
}

// Attach opens the image. External programs run under ctx.
func (i *Image) Attach(ctx context.Context) error {
	if i.work == "" {
		return errdefs.Backend("attach before the image was created")
	}
	if i.disk != nil {
		return errdefs.Backend("image %s is already attached", i.work)
	}
	d, err := diskfs.Open(i.work)
	if err != nil {
		return errdefs.WrapBackend(err, "open image %s", i.work)
	}
	i.disk = d
	i.ctx = ctx
	return nil
}

// Detach writes out pending table changes, closes the image and converts
// it to its container format.
func (i *Image) Detach() error {
	if err := i.attached(); err != nil {
		return err
	}
	if i.mounted != nil {
		return errdefs.Backend("detach while %s is mounted", i.mountedID)
	}
	if err := i.Sync(); err != nil {
		return err
	}
	err := i.disk.File.Close()
	i.disk = nil
	if err != nil {
		return errdefs.WrapBackend(err, "close image %s", i.work)
	}
	if i.format != FormatRaw {
		return i.convert()
	}
	return nil
}

// Sync writes out pending table changes and flushes the image file.
func (i *Image) Sync() error {
	if err := i.attached(); err != nil {
		return err
	}
	if err := i.flushTable(); err != nil {
		return err
	}
	if err := i.disk.File.Sync(); err != nil {
		return errdefs.WrapBackend(err, "sync image %s", i.work)
	}
	return nil
}

// Close releases whatever the session still holds. After a failed build it
// drops mounted staging directories and the intermediate raw file of a
// qcow2 image. It is safe to call more than once.
func (i *Image) Close() error {
	var errs []error
	if i.mounted != nil {
		errs = append(errs, i.mounted.discard())
		i.mounted = nil
	}
	if i.disk != nil {
		errs = append(errs, i.disk.File.Close())
		i.disk = nil
	}
	if i.work != i.path {
		errs = append(errs, i.removeWork())
	}
	if err := errors.Join(errs...); err != nil {
		return errdefs.WrapBackend(err, "close")
	}
	return nil
}

// removeWork deletes the intermediate raw file of a non-raw image.
func (i *Image) removeWork() error {
	if err := os.Remove(i.work); err != nil && !os.IsNotExist(err) {
		return errdefs.WrapBackend(err, "remove %s", i.work)
	}
	return nil
}

func (i *Image) attached() error {
	if i.disk == nil {
		return errdefs.Backend("image is not attached")
	}
	return nil
}

func (i *Image) diskExtent() layout.Extent {
	return layout.Extent{Start: 0, End: uint64(i.size)/layout.SectorSize - 1}
}

// extent returns the sectors id covers.
func (i *Image) extent(id PartitionID) (layout.Extent, error) {
	if id == Device {
		return i.diskExtent(), nil
	}
	p, err := i.partition(id)
	if err != nil {
		return layout.Extent{}, err
	}
	return p.extent, nil
}

// RawWrite writes data at offset bytes into a partition or, for Device,
// the whole disk. Writes to the disk first write out pending table changes
// so that they land on top of the table.
func (i *Image) RawWrite(id PartitionID, data []byte, offset int64) error {
	if err := i.attached(); err != nil {
		return err
	}
	e, err := i.extent(id)
	if err != nil {
		return err
	}
	if offset < 0 || offset+int64(len(data)) > e.Bytes() {
		return errdefs.Backend("write of %d bytes at offset %d does not fit %s of %d bytes", len(data), offset, id, e.Bytes())
	}
	if id == Device {
		if err := i.flushTable(); err != nil {
			return err
		}
	}
	log.Debugf("raw write of %d bytes to %s at offset %d", len(data), id, offset)
	if _, err := i.disk.File.WriteAt(data, e.Offset()+offset); err != nil {
		return errdefs.WrapBackend(err, "write to %s", id)
	}
	return nil
}

func (i *Image) String() string {
	return fmt.Sprintf("%s image %s", i.format, i.path)
}
