package util

import "os"

// FileLock is the exclusive lock a build holds on its output while it runs.
type FileLock struct {
	file *os.File
}
