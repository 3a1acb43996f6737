// Package lock implements the exclusive advisory locks that serialize
// database mutation and per-build-id build directories (spec.md §4.10). It
// degrades to a no-op when flock isn't supported by the platform, mirroring
// the fcntl-absent fallback in the original prototype.
package lock

import (
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Unlock releases a lock acquired by Acquire.
type Unlock func() error

// Acquire takes an exclusive flock on path, creating it if necessary, and
// blocks until it is available. The returned Unlock both unlocks and closes
// the underlying file descriptor. On platforms where flock is unsupported
// (ENOTSUP/ENOSYS), Acquire succeeds and returns a no-op Unlock, since a
// single-writer guarantee it cannot provide is better dropped than faked.
func Acquire(path string) (Unlock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, xerrors.Errorf("open lock %s: %w", path, err)
	}

	err = unix.Flock(int(f.Fd()), unix.LOCK_EX)
	if err != nil {
		if xerrors.Is(err, unix.ENOTSUP) || xerrors.Is(err, unix.ENOSYS) {
			f.Close()
			return func() error { return nil }, nil
		}
		f.Close()
		return nil, xerrors.Errorf("flock %s: %w", path, err)
	}

	return func() error {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		return f.Close()
	}, nil
}
