//go:build unix

package util

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// fcntl applies a whole-file record lock command to f.
func fcntl(f *os.File, cmd int, typ int16) (unix.Flock_t, error) {
	lk := unix.Flock_t{Type: typ, Whence: int16(io.SeekStart)}
	err := unix.FcntlFlock(f.Fd(), cmd, &lk)
	return lk, err
}

// Lock takes the build lock at path, creating the lock file if needed. It
// blocks while another mkdisk process builds the same image.
func Lock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if _, err := fcntl(f, unix.F_SETLKW, unix.F_WRLCK); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("acquire build lock %s: %w", path, err)
	}
	return &FileLock{file: f}, nil
}

// Unlock releases the build lock. The lock file itself stays.
func (l *FileLock) Unlock() error {
	if _, err := fcntl(l.file, unix.F_SETLK, unix.F_UNLCK); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("release build lock %s: %w", l.file.Name(), err)
	}
	return l.file.Close()
}

// CheckLock reports whether another build holds the lock at path, and its pid.
func CheckLock(path string) (locked bool, holderPID int, err error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return false, 0, fmt.Errorf("open lock file %s: %w", path, err)
	}
	defer f.Close()

	lk, err := fcntl(f, unix.F_GETLK, unix.F_WRLCK)
	if err != nil {
		return false, 0, fmt.Errorf("query build lock %s: %w", path, err)
	}
	if lk.Type == unix.F_UNLCK {
		return false, 0, nil
	}
	return true, int(lk.Pid), nil
}
