//go:build linux || darwin

package watch

import (
	"os"

	"golang.org/x/sys/unix"
)

// defaultLockProber probes for an exclusive advisory lock via flock(2).
// This only detects other cooperating holders of an advisory lock, not an
// arbitrary open file descriptor — the most specific mechanism portably
// available without per-OS syscalls beyond flock itself.
type defaultLockProber struct{}

func (defaultLockProber) IsLocked(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, err
	}
	defer f.Close()

	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		// We obtained the lock ourselves — release it immediately and
		// report the file as unlocked.
		unix.Flock(int(f.Fd()), unix.LOCK_UN)

		return false, nil
	}

	if err == unix.EWOULDBLOCK {
		return true, nil
	}

	return false, err
}
