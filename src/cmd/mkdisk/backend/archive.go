package backend

import (
	"archive/tar"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/klauspost/compress/zstd"
	gzip "github.com/klauspost/pgzip"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/errdefs"
	"github.com/pierrec/lz4/v4"
	log "github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"
)

// decompress wraps r to undo compression c. The returned close function
// must be called once the stream has been read.
func decompress(r io.Reader, c Compression) (io.Reader, func() error, error) {
	noop := func() error { return nil }
	switch c {
	case CompressionNone:
		return r, noop, nil
	case CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	case CompressionXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return xr, noop, nil
	case CompressionBzip2:
		return bzip2.NewReader(r), noop, nil
	case CompressionLz4:
		return lz4.NewReader(r), noop, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() error { zr.Close(); return nil }, nil
	}
	return nil, nil, fmt.Errorf("unsupported compression %q", c)
}

// ExtractArchive unpacks the tar archive hostPath under target in the
// mounted filesystem. Entries the filesystem cannot hold are skipped with
// a warning.
func (i *Image) ExtractArchive(hostPath, target string, compression Compression) error {
	m, err := i.mountedTarget()
	if err != nil {
		return err
	}
	if compression == CompressionAuto || compression == "" {
		compression = DetectCompression(hostPath)
	}
	f, err := os.Open(hostPath)
	if err != nil {
		return errdefs.HostIO(err, "open archive")
	}
	defer f.Close()
	r, closeFn, err := decompress(f, compression)
	if err != nil {
		return errdefs.HostIO(err, "read %s archive %s", compression, hostPath)
	}
	defer closeFn()

	if err := extract(m, r, target); err != nil {
		return fmt.Errorf("extract %s to %s: %w", hostPath, target, err)
	}
	return nil
}

func extract(m mountedFS, r io.Reader, target string) error {
	inside := func(name string) string {
		return path.Join("/", target, path.Clean("/"+name))
	}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errdefs.HostIO(err, "read archive")
		}
		name := inside(hdr.Name)
		mode := hdr.FileInfo().Mode()
		switch {
		case hdr.Typeflag == tar.TypeDir:
			err = m.mkdirAll(name, mode.Perm())
		case hdr.Typeflag == tar.TypeSymlink:
			err = m.symlink(hdr.Linkname, name)
		case hdr.Typeflag == tar.TypeLink:
			err = m.link(inside(hdr.Linkname), name)
		case mode.IsRegular():
			err = m.writeFile(name, tr, mode.Perm()|mode&(os.ModeSetuid|os.ModeSetgid|os.ModeSticky))
		default:
			log.Warnf("skipping %s: unsupported archive entry type %q", hdr.Name, hdr.Typeflag)
			continue
		}
		if errors.Is(err, errUnsupported) {
			log.Warnf("skipping %s: %v", hdr.Name, err)
			continue
		}
		if err != nil {
			return errdefs.WrapBackend(err, "extract %s", hdr.Name)
		}
	}
}
