package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// PIDFile is a PID file held under an exclusive flock(2) so that a second
// server using the same file refuses to start.
type PIDFile struct {
	path string
	file *os.File
}

// NewPIDFile returns a PIDFile for path. Nothing is created until Acquire.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the file path.
func (p *PIDFile) Path() string { return p.path }

// Acquire locks the file and writes the current PID into it. A lock left
// behind by a dead process is taken over.
func (p *PIDFile) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec // G304: path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to open PID file: %w", err)
	}

	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB) //nolint:gosec // G115: fd fits in int
	if err != nil {
		owner := readPID(f)
		f.Close()
		if !errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("failed to lock %s: %w", p.path, err)
		}
		if owner > 0 {
			return fmt.Errorf("server already running (PID %d), PID file: %s", owner, p.path)
		}
		return fmt.Errorf("failed to lock %s: %w", p.path, err)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return fmt.Errorf("failed to truncate PID file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		f.Close()
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync PID file: %w", err)
	}

	p.file = f
	return nil
}

// Release unlocks and removes the file. Calling it without a successful
// Acquire is a no-op.
func (p *PIDFile) Release() error {
	if p.file == nil {
		return nil
	}

	// remove before unlocking so a new owner never loses its file
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		p.file.Close()
		p.file = nil
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	_ = unix.Flock(int(p.file.Fd()), unix.LOCK_UN) //nolint:gosec // G115: fd fits in int
	err := p.file.Close()
	p.file = nil
	if err != nil {
		return fmt.Errorf("failed to close PID file: %w", err)
	}
	return nil
}

// ReadPID returns the PID stored in the file at path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is from trusted config
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID: %w", err)
	}
	return pid, nil
}

func readPID(f *os.File) int {
	buf := make([]byte, 32)
	n, _ := f.ReadAt(buf, 0)
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}
