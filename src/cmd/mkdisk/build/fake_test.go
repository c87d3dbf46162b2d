package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/backend"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/errdefs"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/layout"
)

// fakeBackend records every call as a line of text. A call whose line
// starts with failOn fails.
type fakeBackend struct {
	failOn string
	onCall func(call string)

	calls  []string
	data   map[string][]byte
	path   string
	nextID backend.PartitionID
}

var _ backend.Backend = &fakeBackend{}

func (f *fakeBackend) record(format string, args ...interface{}) error {
	call := fmt.Sprintf(format, args...)
	f.calls = append(f.calls, call)
	if f.onCall != nil {
		f.onCall(call)
	}
	if f.failOn != "" && strings.HasPrefix(call, f.failOn) {
		return errdefs.Backend("injected failure of %q", call)
	}
	return nil
}

func (f *fakeBackend) CreateImage(path string, format backend.Format, size uint64) error {
	if err := f.record("CreateImage %s %d", format, size); err != nil {
		return err
	}
	f.path = path
	return os.WriteFile(path, []byte("image"), 0644)
}

func (f *fakeBackend) Attach(context.Context) error { return f.record("Attach") }
func (f *fakeBackend) Detach() error                { return f.record("Detach") }
func (f *fakeBackend) Sync() error                  { return f.record("Sync") }
func (f *fakeBackend) Close() error                 { return f.record("Close") }

func (f *fakeBackend) InitPartitionTable(kind layout.Kind) error {
	return f.record("InitPartitionTable %s", kind)
}

func (f *fakeBackend) AddPartition(typ layout.PartType, start, end uint64) (backend.PartitionID, error) {
	if err := f.record("AddPartition %s %d %d", typ, start, end); err != nil {
		return 0, err
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeBackend) SetMbrID(id backend.PartitionID, mbrID byte) error {
	return f.record("SetMbrID %d 0x%02x", id, mbrID)
}

func (f *fakeBackend) SetGptType(id backend.PartitionID, gptType string) error {
	return f.record("SetGptType %d %s", id, gptType)
}

func (f *fakeBackend) SetPartitionLabel(id backend.PartitionID, label string) error {
	return f.record("SetPartitionLabel %d %s", id, label)
}

func (f *fakeBackend) SetBootable(id backend.PartitionID, bootable bool) error {
	return f.record("SetBootable %d %t", id, bootable)
}

func (f *fakeBackend) MakeFilesystem(id backend.PartitionID, fs backend.Filesystem, blockSize int, label string) error {
	return f.record("MakeFilesystem %d %s %d %s", id, fs, blockSize, label)
}

func (f *fakeBackend) MakeSwap(id backend.PartitionID, label string) error {
	return f.record("MakeSwap %d %s", id, label)
}

func (f *fakeBackend) Mount(id backend.PartitionID, mountpoint string) error {
	return f.record("Mount %d %s", id, mountpoint)
}

func (f *fakeBackend) Unmount(mountpoint string) error {
	return f.record("Unmount %s", mountpoint)
}

func (f *fakeBackend) ExtractArchive(hostPath, target string, compression backend.Compression) error {
	return f.record("ExtractArchive %s %s %s", filepath.Base(hostPath), target, compression)
}

func (f *fakeBackend) UploadFile(hostPath, target string) error {
	return f.record("UploadFile %s %s", filepath.Base(hostPath), target)
}

func (f *fakeBackend) WriteFile(target string, content []byte, mode os.FileMode) error {
	return f.record("WriteFile %s %q %o", target, content, mode)
}

func (f *fakeBackend) RawWrite(id backend.PartitionID, data []byte, offset int64) error {
	call := fmt.Sprintf("RawWrite %d %d %d", id, offset, len(data))
	if f.data == nil {
		f.data = map[string][]byte{}
	}
	f.data[call] = append([]byte(nil), data...)
	return f.record("%s", call)
}
