// Package lifecycle writes the on-disk forensics external tooling uses
// to find and diagnose a running gateway: a pid file while the listener
// is up, and a start/exit marker that survives crashes.
package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Marker is the runtime-lifecycle-<port>.json document. ExitedAt stays
// unset while the server runs; a marker without it after the process is
// gone means the exit was not clean.
type Marker struct {
	PID       int        `json:"pid"`
	Port      int        `json:"port"`
	StartedAt time.Time  `json:"startedAt"`
	ExitedAt  *time.Time `json:"exitedAt,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// Markers manages the pid file and lifecycle marker for one listener.
type Markers struct {
	dir       string
	port      int
	pid       int
	startedAt time.Time
}

// New builds a Markers rooted at the state home directory.
func New(dir string, port int) *Markers {
	return &Markers{dir: dir, port: port, pid: os.Getpid()}
}

// PIDPath is where the pid file lives for this port.
func (m *Markers) PIDPath() string {
	return filepath.Join(m.dir, fmt.Sprintf("server-%d.pid", m.port))
}

// MarkerPath is where the lifecycle marker lives for this port.
func (m *Markers) MarkerPath() string {
	return filepath.Join(m.dir, fmt.Sprintf("runtime-lifecycle-%d.json", m.port))
}

// Start writes the pid file and the start marker. Call it after the
// listener is bound so the pid file never names a server that failed
// to come up.
func (m *Markers) Start() error {
	m.startedAt = time.Now().UTC()
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("lifecycle: %w", err)
	}
	if err := writeSynced(m.PIDPath(), []byte(strconv.Itoa(m.pid)+"\n")); err != nil {
		return fmt.Errorf("lifecycle: pid file: %w", err)
	}
	if err := m.writeMarker(Marker{PID: m.pid, Port: m.port, StartedAt: m.startedAt}); err != nil {
		return fmt.Errorf("lifecycle: start marker: %w", err)
	}
	return nil
}

// Exit records a clean exit: the marker gains exitedAt and the reason,
// the pid file goes away. Crashes never reach this, which is exactly
// what makes the leftover start marker useful.
func (m *Markers) Exit(reason string) error {
	now := time.Now().UTC()
	err := m.writeMarker(Marker{
		PID:       m.pid,
		Port:      m.port,
		StartedAt: m.startedAt,
		ExitedAt:  &now,
		Reason:    reason,
	})
	if rmErr := os.Remove(m.PIDPath()); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	if err != nil {
		return fmt.Errorf("lifecycle: exit marker: %w", err)
	}
	return nil
}

func (m *Markers) writeMarker(marker Marker) error {
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return err
	}
	return writeSynced(m.MarkerPath(), append(data, '\n'))
}

// writeSynced lands the bytes with an fsync so the marker survives the
// host dying right after the write returns.
func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadPID reports the pid recorded for a port. ok is false when no pid
// file exists or it does not parse.
func ReadPID(dir string, port int) (pid int, ok bool) {
	data, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("server-%d.pid", port)))
	if err != nil {
		return 0, false
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
