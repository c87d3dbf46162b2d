//go:build !unix

package util

// Lock is a no-op where fcntl locks are not available.
func Lock(path string) (*FileLock, error) {
	return &FileLock{}, nil
}

// Unlock releases the lock and closes the file.
func (l *FileLock) Unlock() error {
	return nil
}

// CheckLock always reports the file as unlocked.
func CheckLock(path string) (locked bool, holderPID int, err error) {
	return false, 0, nil
}
