package storage

import (
	"os"
	"syscall"
)

// flockAcquire takes an exclusive advisory lock on lockPath, creating
// the file if needed, and returns a release func that drops the lock
// and removes the file. It blocks until the lock is available, which
// keeps writers in other processes from interleaving with ours.
func flockAcquire(lockPath string) (release func(), err error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		os.Remove(lockPath)
	}, nil
}
