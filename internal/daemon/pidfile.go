// Package daemon records the running API server in a PID file so that
// later invocations can report on it and stop it.
package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Record is what the server writes about itself.
type Record struct {
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at"`
}

// Uptime is the time since the server started.
func (r Record) Uptime() time.Duration {
	return time.Since(r.StartedAt).Truncate(time.Second)
}

// PIDFile manages the server's PID file.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write records the current process listening on port.
func (p *PIDFile) Write(port int) error {
	return p.WriteRecord(Record{PID: os.Getpid(), Port: port, StartedAt: time.Now().UTC()})
}

// WriteRecord replaces the file with r. The write goes through a temp file
// so readers never see a partial record.
func (p *PIDFile) WriteRecord(r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p.Path), ".pid-*")
	if err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write PID file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write PID file: %w", err)
	}
	return os.Rename(tmp.Name(), p.Path)
}

// Read returns the recorded server.
func (p *PIDFile) Read() (Record, error) {
	var r Record
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(data, &r); err != nil || r.PID <= 0 {
		return Record{}, fmt.Errorf("invalid PID file %s", p.Path)
	}
	return r, nil
}

// Remove deletes the file.
func (p *PIDFile) Remove() error {
	return os.Remove(p.Path)
}

// Running returns the record when the file names a live process.
func (p *PIDFile) Running() (Record, bool) {
	r, err := p.Read()
	if err != nil {
		return Record{}, false
	}
	return r, processAlive(r.PID)
}

// Claim records the current process as the server on port. It fails when
// another live process holds the file and silently replaces a stale one.
func (p *PIDFile) Claim(port int) error {
	if r, running := p.Running(); running && r.PID != os.Getpid() {
		return fmt.Errorf("server already running (PID %d)", r.PID)
	}
	if err := p.Remove(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale PID file: %w", err)
	}
	return p.Write(port)
}

// Signal sends sig to the recorded process.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	r, err := p.Read()
	if err != nil {
		return fmt.Errorf("read PID file: %w", err)
	}
	return signalProcess(r.PID, sig)
}

// WaitExit polls until the recorded process is gone or timeout elapses.
// It reports whether the process exited.
func (p *PIDFile) WaitExit(timeout, interval time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if _, running := p.Running(); !running {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(interval)
	}
}
