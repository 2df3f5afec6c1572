package spooler

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"
)

// CrashOutput is the file the Go runtime writes fatal errors and unrecovered
// panics to. Those never reach a Registry, so their text is turned into a
// record on the next start instead.
type CrashOutput struct {
	mu      sync.Mutex
	file    *os.File
	enabled bool
}

// OpenCrashOutput opens (or creates) the crash output file at path.
func OpenCrashOutput(path string) (*CrashOutput, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening crash output: %w", err)
	}
	return &CrashOutput{file: f}, nil
}

// Collect returns what a previous process left in the file and empties it.
// The returned time is the file's modification time.
func (c *CrashOutput) Collect() (string, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, err := c.file.Stat()
	if err != nil {
		return "", time.Time{}, err
	}
	if info.Size() == 0 {
		return "", time.Time{}, nil
	}
	if _, err := c.file.Seek(0, io.SeekStart); err != nil {
		return "", time.Time{}, err
	}
	b, err := io.ReadAll(c.file)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := c.file.Truncate(0); err != nil {
		return "", time.Time{}, err
	}
	return string(b), info.ModTime(), nil
}

// Enable registers the file with the runtime.
func (c *CrashOutput) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := debug.SetCrashOutput(c.file, debug.CrashOptions{}); err != nil {
		return err
	}
	c.enabled = true
	return nil
}

// Disable unregisters the file. Used once a fault was already persisted and
// is handed back to the runtime, which would otherwise report it twice.
func (c *CrashOutput) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	_ = debug.SetCrashOutput(nil, debug.CrashOptions{})
	c.enabled = false
}

// Enabled reports whether the runtime currently writes to the file.
func (c *CrashOutput) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *CrashOutput) Close() error {
	c.Disable()
	return c.file.Close()
}
