package lifecycle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartWritesPIDAndMarker(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, 5520)
	require.NoError(t, m.Start())

	pid, ok := ReadPID(dir, 5520)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)

	data, err := os.ReadFile(filepath.Join(dir, "runtime-lifecycle-5520.json"))
	require.NoError(t, err)
	var marker Marker
	require.NoError(t, json.Unmarshal(data, &marker))
	assert.Equal(t, os.Getpid(), marker.PID)
	assert.Equal(t, 5520, marker.Port)
	assert.False(t, marker.StartedAt.IsZero())
	assert.Nil(t, marker.ExitedAt)
	assert.Empty(t, marker.Reason)
}

func TestExitRecordsReasonAndRemovesPID(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, 5520)
	require.NoError(t, m.Start())
	require.NoError(t, m.Exit("signal"))

	_, ok := ReadPID(dir, 5520)
	assert.False(t, ok, "pid file must be gone after a clean exit")

	data, err := os.ReadFile(m.MarkerPath())
	require.NoError(t, err)
	var marker Marker
	require.NoError(t, json.Unmarshal(data, &marker))
	require.NotNil(t, marker.ExitedAt)
	assert.Equal(t, "signal", marker.Reason)
	assert.False(t, marker.ExitedAt.Before(marker.StartedAt))
}

func TestReadPIDMissingOrGarbage(t *testing.T) {
	dir := t.TempDir()

	_, ok := ReadPID(dir, 9999)
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "server-9999.pid"), []byte("not-a-pid\n"), 0o644))
	_, ok = ReadPID(dir, 9999)
	assert.False(t, ok)
}

func TestMarkersPerPortAreIndependent(t *testing.T) {
	dir := t.TempDir()
	a := New(dir, 5520)
	b := New(dir, 5521)
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	require.NoError(t, a.Exit("shutdown_endpoint"))

	_, ok := ReadPID(dir, 5520)
	assert.False(t, ok)
	pid, ok := ReadPID(dir, 5521)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)
}
