package backend

import (
	"encoding/binary"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/diskfs/go-diskfs/filesystem/fat32"
	"github.com/google/uuid"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/errdefs"
	log "github.com/sirupsen/logrus"
)

const (
	swapPageSize  = 4096
	swapMinPages  = 10
	swapVersion   = 1
	swapSignature = "SWAPSPACE2"

	// swap header fields, after the 1 KiB boot block
	swapVersionOffset  = 1024
	swapLastPageOffset = 1028
	swapBadPagesOffset = 1032
	swapUUIDOffset     = 1036
	swapLabelOffset    = 1052
	swapLabelSize      = 16

	// FAT32 boot sector fields
	fatBackupSectorOffset = 50
	fatLabelOffset        = 71
	fatLabelSize          = 11
)

// MakeFilesystem creates an empty filesystem on id. Block size and label
// are optional; FAT always uses 512 byte sectors.
func (i *Image) MakeFilesystem(id PartitionID, fs Filesystem, blockSize int, label string) error {
	if err := i.attached(); err != nil {
		return err
	}
	e, err := i.extent(id)
	if err != nil {
		return err
	}
	st := &fsState{kind: fs, blockSize: blockSize, label: label}
	switch {
	case fs == VFAT:
		if blockSize != 0 && blockSize != int(fat32.SectorSize512) {
			log.Debugf("ignoring block size %d for vfat on %s", blockSize, id)
		}
		// go-diskfs resolves paths against the root label entry, so a label
		// like EFI would shadow /EFI. The entry stays NO NAME and the label
		// only goes into the boot sectors.
		if _, err := fat32.Create(i.disk.File, e.Bytes(), e.Offset(), int64(fat32.SectorSize512), ""); err != nil {
			return errdefs.WrapBackend(err, "create vfat on %s", id)
		}
		if label != "" {
			if err := i.fatLabel(e.Offset(), label); err != nil {
				return errdefs.WrapBackend(err, "label vfat on %s", id)
			}
		}
	case fs.IsExt():
		if err := i.mke2fs(id, st, ""); err != nil {
			return err
		}
	case fs == FSNone:
	default:
		return errdefs.Backend("cannot make a %q filesystem", fs)
	}
	i.fs[id] = st
	return nil
}

// fatLabel stamps label into the FAT32 boot sector at offset and its backup.
func (i *Image) fatLabel(offset int64, label string) error {
	b := make([]byte, 2)
	if _, err := i.disk.File.ReadAt(b, offset+fatBackupSectorOffset); err != nil {
		return err
	}
	v := []byte(fmt.Sprintf("%-*.*s", fatLabelSize, fatLabelSize, label))
	sectors := []int64{0}
	if backup := binary.LittleEndian.Uint16(b); backup > 0 {
		sectors = append(sectors, int64(backup))
	}
	for _, s := range sectors {
		if _, err := i.disk.File.WriteAt(v, offset+s*int64(fat32.SectorSize512)+fatLabelOffset); err != nil {
			return err
		}
	}
	return nil
}

func (i *Image) mke2fs(id PartitionID, st *fsState, contents string) error {
	e, err := i.extent(id)
	if err != nil {
		return err
	}
	args := []string{"-t", string(st.kind), "-F", "-q", "-E", fmt.Sprintf("offset=%d", e.Offset())}
	if st.blockSize > 0 {
		args = append(args, "-b", strconv.Itoa(st.blockSize))
	}
	if st.label != "" {
		args = append(args, "-L", st.label)
	}
	if contents != "" {
		args = append(args, "-d", contents)
	}
	args = append(args, i.work, fmt.Sprintf("%dk", e.Bytes()/1024))
	return i.run(i.opts.Mke2fs, args...)
}

// swapHeader returns the first page of a Linux swap area of size bytes.
func swapHeader(size int64, id uuid.UUID, label string) ([]byte, error) {
	pages := size / swapPageSize
	if pages < swapMinPages {
		return nil, fmt.Errorf("swap area of %d bytes is smaller than %d pages", size, swapMinPages)
	}
	if len(label) > swapLabelSize {
		return nil, fmt.Errorf("swap label %q is longer than %d bytes", label, swapLabelSize)
	}
	b := make([]byte, swapPageSize)
	binary.LittleEndian.PutUint32(b[swapVersionOffset:], swapVersion)
	binary.LittleEndian.PutUint32(b[swapLastPageOffset:], uint32(pages-1))
	binary.LittleEndian.PutUint32(b[swapBadPagesOffset:], 0)
	copy(b[swapUUIDOffset:], id[:])
	copy(b[swapLabelOffset:swapLabelOffset+swapLabelSize], label)
	copy(b[swapPageSize-len(swapSignature):], swapSignature)
	return b, nil
}

// MakeSwap writes a swap header to id.
func (i *Image) MakeSwap(id PartitionID, label string) error {
	if err := i.attached(); err != nil {
		return err
	}
	e, err := i.extent(id)
	if err != nil {
		return err
	}
	hdr, err := swapHeader(e.Bytes(), uuid.New(), label)
	if err != nil {
		return errdefs.WrapBackend(err, "make swap on %s", id)
	}
	if _, err := i.disk.File.WriteAt(hdr, e.Offset()); err != nil {
		return errdefs.WrapBackend(err, "make swap on %s", id)
	}
	i.fs[id] = &fsState{kind: Swap, label: label}
	return nil
}

// run executes a helper program, which is looked up on PATH unless name
// is a path.
func (i *Image) run(name string, args ...string) error {
	path, err := exec.LookPath(name)
	if err != nil {
		return errdefs.WrapBackend(err, "%s not found", name)
	}
	cmd := exec.CommandContext(i.ctx, path, args...)
	log.Debugf("%v", cmd.Args)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errdefs.Backend("error running %s: %v\n%s", filepath.Base(name), err, out)
	}
	return nil
}

// convert turns the raw working file into the requested container format.
func (i *Image) convert() error {
	if err := i.run(i.opts.QemuImg, "convert", "-f", string(FormatRaw), "-O", string(i.format), i.work, i.path); err != nil {
		return err
	}
	return i.removeWork()
}
