package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

const pidFileMode fs.FileMode = 0o644

// ReadPIDFile returns the pid recorded at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("pid file %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("pid file %s: invalid pid %d", path, pid)
	}
	return pid, nil
}

// WritePIDFile records pid at path. An existing file is replaced only when the
// process it names is no longer alive.
func WritePIDFile(path string, pid int) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, pidFileMode)
	if errors.Is(err, fs.ErrExist) {
		if existing, readErr := ReadPIDFile(path); readErr == nil && processAlive(existing) {
			return fmt.Errorf("pid file %s: process %d is still running", path, existing)
		}
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, pidFileMode)
	}
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "%d\n", pid); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
