package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/debthunt/internal/daemon"
)

func TestPidFile_Path(t *testing.T) {
	dir := testEnv(t)

	pf := pidFile()
	expected := filepath.Join(dir, "debthunt-serve.pid")
	assert.Equal(t, expected, pf.Path)
}

func TestServeLogPath(t *testing.T) {
	dir := testEnv(t)

	logPath := serveLogPath()
	expected := filepath.Join(dir, "debthunt-serve.log")
	assert.Equal(t, expected, logPath)
}

func TestServeStatusRun_NotRunning(t *testing.T) {
	testEnv(t)

	// No PID file exists, so status should show "not running" without error.
	err := serveStatusRun()
	assert.NoError(t, err)
}

func TestServeStopRun_NotRunning(t *testing.T) {
	testEnv(t)

	// No PID file exists, so stop should return an error.
	err := serveStopRun()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestServeStopRun_RemovesStalePIDFile(t *testing.T) {
	dir := testEnv(t)

	pf := daemon.NewPIDFile(filepath.Join(dir, "debthunt-serve.pid"))
	require.NoError(t, pf.WriteRecord(daemon.Record{PID: 999999999}))

	err := serveStopRun()
	require.Error(t, err)
	_, statErr := os.Stat(pf.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestServeStartRun_AlreadyRunning(t *testing.T) {
	dir := testEnv(t)

	// Write a PID file for the current process (which is alive).
	pf := daemon.NewPIDFile(filepath.Join(dir, "debthunt-serve.pid"))
	require.NoError(t, pf.Write(9123))
	t.Cleanup(func() { _ = os.Remove(pf.Path) })

	err := serveStartRun()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
	assert.Contains(t, err.Error(), "port 9123")
}

func TestServeStatusRun_Running(t *testing.T) {
	dir := testEnv(t)
	var buf bytes.Buffer
	ui.Out = &buf

	pf := daemon.NewPIDFile(filepath.Join(dir, "debthunt-serve.pid"))
	require.NoError(t, pf.Write(9123))

	require.NoError(t, serveStatusRun())
	assert.Contains(t, buf.String(), "port 9123")
	assert.Contains(t, buf.String(), "debthunt-serve.log")
}
