package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/backend"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/config"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/errdefs"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/util"
	log "github.com/sirupsen/logrus"
)

// rawChunk is how much of a raw partition image is written at a time.
const rawChunk = 1 << 20

// session owns everything a build holds while it runs: the lock on the
// output name, the temporary image and the backend.
type session struct {
	ctx     context.Context
	be      backend.Backend
	lock    *util.FileLock
	final   string
	temp    string
	mounted bool
}

// newSession locks final against concurrent builds and reserves a
// temporary file next to it.
func newSession(ctx context.Context, final string, be backend.Backend) (*session, error) {
	dir, base := filepath.Split(final)
	if dir == "" {
		dir = "."
	}
	lockPath := filepath.Join(dir, "."+base+".lock")
	if locked, pid, err := util.CheckLock(lockPath); err == nil && locked {
		log.Infof("Waiting for process %d to finish building %s", pid, final)
	}
	lock, err := util.Lock(lockPath)
	if err != nil {
		return nil, errdefs.HostIO(err, "lock %s", final)
	}
	f, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		_ = lock.Unlock()
		return nil, errdefs.HostIO(err, "create temporary image")
	}
	temp := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(temp)
		_ = lock.Unlock()
		return nil, errdefs.HostIO(err, "create temporary image")
	}
	log.Debugf("building in %s", temp)
	return &session{ctx: ctx, be: be, lock: lock, final: final, temp: temp}, nil
}

// step runs one build step unless the build was cancelled.
func (s *session) step(desc string, fn func() error) error {
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("cancelled before %s: %w", desc, err)
	}
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", desc, err)
	}
	return nil
}

// commit moves the finished image to its final name.
func (s *session) commit() error {
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("cancelled before rename: %w", err)
	}
	if err := os.Rename(s.temp, s.final); err != nil {
		return errdefs.HostIO(err, "rename %s to %s", s.temp, s.final)
	}
	return nil
}

// release cleans up after the build ended with err and returns the error
// the build ends with. The backend is closed last.
func (s *session) release(err error) error {
	if err != nil {
		if s.mounted {
			if uerr := s.be.Unmount("/"); uerr != nil {
				log.Debugf("unmount after failed build: %v", uerr)
			}
			s.mounted = false
		}
		if rerr := os.Remove(s.temp); rerr != nil && !os.IsNotExist(rerr) {
			log.Errorf("unable to remove %s: %v", s.temp, rerr)
		}
	}
	if cerr := s.be.Close(); cerr != nil {
		if err == nil {
			log.Warnf("%s was built but the backend did not close cleanly: %v", s.final, cerr)
		} else {
			log.Debugf("close backend after failed build: %v", cerr)
		}
	}
	if uerr := s.lock.Unlock(); uerr != nil {
		log.Errorf("unable to release lock for %s: %v", s.final, uerr)
	}
	return err
}

// copyRaw writes the host file src to the start of partition id.
func copyRaw(be backend.Backend, id backend.PartitionID, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return errdefs.HostIO(err, "open raw image")
	}
	defer f.Close()
	buf := make([]byte, rawChunk)
	var off int64
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			if werr := be.RawWrite(id, buf[:n], off); werr != nil {
				return werr
			}
			off += int64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return errdefs.HostIO(err, "read raw image %s", src)
		}
	}
}

// writePatch writes the sources of bp back to back at bp.Offset.
func writePatch(be backend.Backend, id backend.PartitionID, bp config.BinaryPatch) error {
	var data []byte
	for _, src := range bp.Sources {
		b, err := os.ReadFile(src)
		if err != nil {
			return errdefs.HostIO(err, "read binary")
		}
		data = append(data, b...)
	}
	return be.RawWrite(id, data, bp.Offset)
}
