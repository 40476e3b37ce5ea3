package sandbox

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubWorker writes an executable placeholder so backend construction can
// resolve a helper path without a real build.
func stubWorker(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "execworker")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0755))
	return path
}

func testSpec() WorkerSpec {
	return WorkerSpec{
		WorkDir: "/tmp/ws",
		Cmd:     []string{"python3", "/tmp/ws/script.py"},
		Env:     []string{"PATH=/usr/bin", "HOME=/tmp/ws"},
		Limits:  DefaultProfile(),
	}
}

// TestNewBackendUnknown tests rejection of unknown backend names
func TestNewBackendUnknown(t *testing.T) {
	_, err := NewBackend("chroot", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown isolation backend")
}

// TestNewBackendMissingWorker tests the error for an unresolvable helper
func TestNewBackendMissingWorker(t *testing.T) {
	_, err := NewBackend("rlimit", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execworker helper not found")
}

// TestRlimitBackendCommand tests helper invocation and the piped spec
func TestRlimitBackendCommand(t *testing.T) {
	backend, err := NewBackend("rlimit", stubWorker(t))
	require.NoError(t, err)
	assert.Equal(t, "rlimit", backend.Name())

	spec := testSpec()
	cmd, err := backend.Command(context.Background(), spec)
	require.NoError(t, err)

	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setpgid)
	assert.Equal(t, syscall.SIGKILL, cmd.SysProcAttr.Pdeathsig)

	// The helper receives the full spec on stdin
	var decoded WorkerSpec
	require.NoError(t, json.NewDecoder(cmd.Stdin).Decode(&decoded))
	assert.Equal(t, spec, decoded)
}

// TestNamespaceBackendCommand tests the extra namespace isolation flags
func TestNamespaceBackendCommand(t *testing.T) {
	backend, err := NewBackend("namespace", stubWorker(t))
	require.NoError(t, err)
	assert.Equal(t, "namespace", backend.Name())

	cmd, err := backend.Command(context.Background(), testSpec())
	require.NoError(t, err)

	attr := cmd.SysProcAttr
	require.NotNil(t, attr)
	assert.True(t, attr.Setpgid)
	assert.NotZero(t, attr.Cloneflags&syscall.CLONE_NEWPID)
	assert.NotZero(t, attr.Cloneflags&syscall.CLONE_NEWNET)
	assert.NotZero(t, attr.Cloneflags&syscall.CLONE_NEWUSER)
	require.Len(t, attr.UidMappings, 1)
	assert.Equal(t, 0, attr.UidMappings[0].ContainerID)
	assert.Equal(t, os.Getuid(), attr.UidMappings[0].HostID)
	require.Len(t, attr.GidMappings, 1)
	assert.False(t, attr.GidMappingsEnableSetgroups)
}

// TestExecBackendCommand tests direct spawning with the worker spec's settings
func TestExecBackendCommand(t *testing.T) {
	backend, err := NewBackend("exec", "")
	require.NoError(t, err)
	assert.Equal(t, "exec", backend.Name())

	spec := testSpec()
	cmd, err := backend.Command(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, spec.WorkDir, cmd.Dir)
	assert.Equal(t, spec.Env, cmd.Env)
	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setpgid)
}

// TestExecBackendEmptyCommand tests rejection of an empty command vector
func TestExecBackendEmptyCommand(t *testing.T) {
	backend, err := NewBackend("exec", "")
	require.NoError(t, err)

	_, err = backend.Command(context.Background(), WorkerSpec{WorkDir: "/tmp"})
	assert.Error(t, err)
}

// TestGuestEnv tests the allow-list and the workspace-scoped home
func TestGuestEnv(t *testing.T) {
	t.Setenv("PATH", "/usr/local/bin:/usr/bin")
	t.Setenv("LANG", "en_US.UTF-8")
	t.Setenv("SECRET_TOKEN", "hunter2")

	env := GuestEnv("/tmp/ws")

	assert.Contains(t, env, "PATH=/usr/local/bin:/usr/bin")
	assert.Contains(t, env, "LANG=en_US.UTF-8")
	assert.Contains(t, env, "HOME=/tmp/ws")
	assert.Contains(t, env, "PYTHONIOENCODING=utf-8")
	for _, kv := range env {
		assert.NotContains(t, kv, "SECRET_TOKEN")
	}
}
