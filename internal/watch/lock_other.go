//go:build !linux && !darwin

package watch

import "os"

// defaultLockProber falls back to a plain exclusive-open probe on
// platforms without flock(2) semantics wired up here: if the file cannot
// be opened for exclusive read/write, something else plausibly has it
// open.
type defaultLockProber struct{}

func (defaultLockProber) IsLocked(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		if os.IsPermission(err) {
			return true, nil
		}

		return false, err
	}

	f.Close()

	return false, nil
}
