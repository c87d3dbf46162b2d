package backend

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/filesystem/fat32"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/errdefs"
	log "github.com/sirupsen/logrus"
)

const (
	extMagicOffset = 1080
	extMagic       = 0xef53
)

var errUnsupported = errors.New("not supported by this filesystem")

// mountedFS is a filesystem open for writing. Paths are absolute inside it.
type mountedFS interface {
	mkdirAll(p string, mode os.FileMode) error
	writeFile(p string, r io.Reader, mode os.FileMode) error
	symlink(target, p string) error
	link(oldname, newname string) error
	// finish commits everything written, discard drops it.
	finish() error
	discard() error
}

// Mount opens the filesystem on id for writing. Only "/" can be mounted
// and only one filesystem at a time.
func (i *Image) Mount(id PartitionID, mountpoint string) error {
	if err := i.attached(); err != nil {
		return err
	}
	if mountpoint != "/" {
		return errdefs.Backend("cannot mount %s on %q, only on /", id, mountpoint)
	}
	if i.mounted != nil {
		return errdefs.Backend("cannot mount %s, %s is already mounted", id, i.mountedID)
	}
	e, err := i.extent(id)
	if err != nil {
		return err
	}
	st, ok := i.fs[id]
	if !ok {
		// populated from a raw image
		if st, err = i.probe(id); err != nil {
			return err
		}
	}

	var m mountedFS
	switch {
	case st.kind == VFAT:
		fs, err := fat32.Read(i.disk.File, e.Bytes(), e.Offset(), int64(fat32.SectorSize512))
		if err != nil {
			return errdefs.WrapBackend(err, "mount vfat on %s", id)
		}
		m = &fatFS{fs: fs}
	case st.kind.IsExt():
		dir, err := os.MkdirTemp(i.opts.TmpDir, "mkdisk-")
		if err != nil {
			return errdefs.WrapBackend(err, "create staging directory")
		}
		m = &stagingFS{root: dir, commit: func(root string) error { return i.mke2fs(id, st, root) }}
	default:
		return errdefs.Backend("cannot mount %s with filesystem %s", id, st.kind)
	}
	log.Debugf("mounted %s filesystem of %s", st.kind, id)
	i.mounted = m
	i.mountedID = id
	return nil
}

// probe finds out what filesystem a raw image put on id.
func (i *Image) probe(id PartitionID) (*fsState, error) {
	e, err := i.extent(id)
	if err != nil {
		return nil, err
	}
	magic := make([]byte, 2)
	if _, err := i.disk.File.ReadAt(magic, e.Offset()+extMagicOffset); err == nil && int(magic[0])|int(magic[1])<<8 == extMagic {
		return nil, errdefs.Backend("%s holds an ext filesystem from a raw image, which cannot be populated", id)
	}
	if _, err := fat32.Read(i.disk.File, e.Bytes(), e.Offset(), int64(fat32.SectorSize512)); err != nil {
		return nil, errdefs.WrapBackend(err, "%s has no filesystem that can be mounted", id)
	}
	st := &fsState{kind: VFAT}
	i.fs[id] = st
	return st, nil
}

// Unmount commits and closes the mounted filesystem.
func (i *Image) Unmount(mountpoint string) error {
	if i.mounted == nil || mountpoint != "/" {
		return errdefs.Backend("nothing is mounted on %q", mountpoint)
	}
	m := i.mounted
	i.mounted = nil
	if err := m.finish(); err != nil {
		return errdefs.WrapBackend(err, "unmount %s", i.mountedID)
	}
	log.Debugf("unmounted %s", i.mountedID)
	return nil
}

func (i *Image) mountedTarget() (mountedFS, error) {
	if i.mounted == nil {
		return nil, errdefs.Backend("no filesystem is mounted")
	}
	return i.mounted, nil
}

// UploadFile copies a host file to target in the mounted filesystem.
func (i *Image) UploadFile(hostPath, target string) error {
	m, err := i.mountedTarget()
	if err != nil {
		return err
	}
	f, err := os.Open(hostPath)
	if err != nil {
		return errdefs.HostIO(err, "upload")
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return errdefs.HostIO(err, "upload")
	}
	if err := m.writeFile(target, f, fi.Mode().Perm()); err != nil {
		return errdefs.WrapBackend(err, "upload %s to %s", hostPath, target)
	}
	return nil
}

// WriteFile creates target in the mounted filesystem with content.
func (i *Image) WriteFile(target string, content []byte, mode os.FileMode) error {
	m, err := i.mountedTarget()
	if err != nil {
		return err
	}
	if err := m.writeFile(target, bytes.NewReader(content), mode); err != nil {
		return errdefs.WrapBackend(err, "write %s", target)
	}
	return nil
}

// fatFS writes straight into a FAT filesystem in the image.
type fatFS struct {
	fs filesystem.FileSystem
}

func (f *fatFS) mkdirAll(p string, _ os.FileMode) error {
	p = path.Clean("/" + p)
	if p == "/" {
		return nil
	}
	return f.fs.Mkdir(p)
}

func (f *fatFS) writeFile(p string, r io.Reader, _ os.FileMode) error {
	p = path.Clean("/" + p)
	if err := f.mkdirAll(path.Dir(p), 0); err != nil {
		return err
	}
	file, err := f.fs.OpenFile(p, os.O_CREATE|os.O_RDWR|os.O_TRUNC)
	if err != nil {
		return err
	}
	_, err = io.Copy(file, r)
	if c, ok := file.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (f *fatFS) symlink(_, _ string) error {
	return errUnsupported
}

func (f *fatFS) link(oldname, newname string) error {
	src, err := f.fs.OpenFile(path.Clean("/"+oldname), os.O_RDONLY)
	if err != nil {
		return err
	}
	return f.writeFile(newname, src, 0)
}

func (f *fatFS) finish() error  { return nil }
func (f *fatFS) discard() error { return nil }

// stagingFS collects files in a host directory that commit bakes into the
// filesystem when it is unmounted. Nothing in the directory is followed:
// a symlink only ever ends a path.
type stagingFS struct {
	root   string
	commit func(root string) error
}

var errSymlinkInPath = errors.New("path goes through a symlink")

// hostPath maps p into the staging directory lexically.
func (s *stagingFS) hostPath(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(path.Clean("/"+p)))
}

// dirs creates the directory p under the root one component at a time and
// returns its host path. Existing symlinks along the way are an error.
func (s *stagingFS) dirs(p string, mode os.FileMode) (string, error) {
	hp := s.root
	for _, c := range strings.Split(path.Clean("/"+p), "/") {
		if c == "" {
			continue
		}
		hp = filepath.Join(hp, c)
		fi, err := os.Lstat(hp)
		switch {
		case os.IsNotExist(err):
			if err := os.Mkdir(hp, mode); err != nil {
				return "", err
			}
		case err != nil:
			return "", err
		case fi.Mode()&os.ModeSymlink != 0:
			return "", fmt.Errorf("%s: %w", p, errSymlinkInPath)
		case !fi.IsDir():
			return "", fmt.Errorf("%s: not a directory", p)
		}
	}
	return hp, nil
}

// entry returns the host path of p, creating its parents. A symlink already
// at p is removed so it is replaced rather than written through.
func (s *stagingFS) entry(p string) (string, error) {
	p = path.Clean("/" + p)
	if p == "/" {
		return "", errors.New("cannot replace the root directory")
	}
	dir, err := s.dirs(path.Dir(p), 0755)
	if err != nil {
		return "", err
	}
	hp := filepath.Join(dir, path.Base(p))
	if fi, err := os.Lstat(hp); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(hp); err != nil {
			return "", err
		}
	}
	return hp, nil
}

func (s *stagingFS) mkdirAll(p string, mode os.FileMode) error {
	if mode == 0 {
		mode = 0755
	}
	_, err := s.dirs(p, mode)
	return err
}

func (s *stagingFS) writeFile(p string, r io.Reader, mode os.FileMode) error {
	hp, err := s.entry(p)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(hp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// the umask applies to OpenFile
	return os.Chmod(hp, mode)
}

func (s *stagingFS) symlink(target, p string) error {
	hp, err := s.entry(p)
	if err != nil {
		return err
	}
	if err := os.Remove(hp); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Symlink(target, hp)
}

func (s *stagingFS) link(oldname, newname string) error {
	oldname = path.Clean("/" + oldname)
	dir, err := s.dirs(path.Dir(oldname), 0755)
	if err != nil {
		return err
	}
	hp, err := s.entry(newname)
	if err != nil {
		return err
	}
	// os.Link does not follow a symlink in its last element
	return os.Link(filepath.Join(dir, path.Base(oldname)), hp)
}

func (s *stagingFS) finish() error {
	err := s.commit(s.root)
	if rerr := os.RemoveAll(s.root); err == nil && rerr != nil {
		err = fmt.Errorf("remove staging directory: %w", rerr)
	}
	return err
}

func (s *stagingFS) discard() error {
	return os.RemoveAll(s.root)
}
