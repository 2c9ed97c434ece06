// Package lock provides the single-instance file lock that serializes
// access to the engine's process-wide kernel state: the compressed-cache
// module parameters, the sysctl tree, and the root disk's partition
// table (spec §5, "only one engine instance may run").
package lock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileLock holds an exclusive, non-blocking flock(2) on a file under the
// engine's log directory for the lifetime of one run.
type FileLock struct {
	path string
	file *os.File
}

// Acquire takes an exclusive lock on <dir>/.swapforge.lock, creating the
// directory and lock file if needed. It fails immediately (rather than
// blocking) if another instance already holds the lock, since a second
// concurrent engine run would race over the same kernel state.
func Acquire(dir string) (*FileLock, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := dir + "/.swapforge.lock"
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("another swapforge instance is already running (locked %s)", path)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	return &FileLock{path: path, file: f}, nil
}

// Release drops the lock and closes the file. Safe to call once; the
// caller is expected to hold the lock for the process lifetime and
// release it on exit via defer.
func (l *FileLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("failed to unlock %s: %w", l.path, err)
	}
	return l.file.Close()
}
