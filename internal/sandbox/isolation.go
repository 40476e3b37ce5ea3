package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// Backend prepares the OS process that will run guest code with the limit
// profile applied before exec. Backends differ in how hard they isolate;
// callers never change, only the configured backend does.
type Backend interface {
	// Name returns the configuration name of the backend
	Name() string
	// Command builds the ready-to-start command for a worker spec. The
	// command is always placed in its own process group so the whole tree
	// can be killed together.
	Command(ctx context.Context, spec WorkerSpec) (*exec.Cmd, error)
}

// NewBackend selects an isolation backend by its configuration name.
// workerPath locates the execworker helper binary; an empty path resolves to
// an "execworker" binary next to the current executable.
func NewBackend(name, workerPath string) (Backend, error) {
	switch name {
	case "rlimit":
		path, err := resolveWorkerPath(workerPath)
		if err != nil {
			return nil, err
		}
		return &rlimitBackend{workerPath: path}, nil
	case "namespace":
		path, err := resolveWorkerPath(workerPath)
		if err != nil {
			return nil, err
		}
		return &namespaceBackend{rlimitBackend{workerPath: path}}, nil
	case "exec":
		return &execBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown isolation backend: %s", name)
	}
}

func resolveWorkerPath(workerPath string) (string, error) {
	if workerPath == "" {
		// Prefer a helper installed next to the server binary
		if self, err := os.Executable(); err == nil {
			sibling := filepath.Join(filepath.Dir(self), "execworker")
			if _, err := os.Stat(sibling); err == nil {
				return sibling, nil
			}
		}
		workerPath = "execworker"
	}

	path, err := exec.LookPath(workerPath)
	if err != nil {
		return "", fmt.Errorf("execworker helper not found at %s: %w", workerPath, err)
	}
	return path, nil
}

// rlimitBackend runs guest code through the execworker helper, which applies
// the profile with setrlimit between fork and exec. This is the default.
type rlimitBackend struct {
	workerPath string
}

func (b *rlimitBackend) Name() string { return "rlimit" }

func (b *rlimitBackend) Command(ctx context.Context, spec WorkerSpec) (*exec.Cmd, error) {
	stdin, err := specToPipe(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode worker spec: %w", err)
	}

	cmd := exec.CommandContext(ctx, b.workerPath)
	cmd.Stdin = stdin
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	return cmd, nil
}

// namespaceBackend layers Linux namespaces over the rlimit backend: new
// mount, pid, uts, ipc and network namespaces plus an unprivileged user
// namespace mapping. Optional hardening; the rlimits still apply inside.
type namespaceBackend struct {
	rlimitBackend
}

func (b *namespaceBackend) Name() string { return "namespace" }

func (b *namespaceBackend) Command(ctx context.Context, spec WorkerSpec) (*exec.Cmd, error) {
	cmd, err := b.rlimitBackend.Command(ctx, spec)
	if err != nil {
		return nil, err
	}

	attr := cmd.SysProcAttr
	attr.Cloneflags = syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS |
		syscall.CLONE_NEWIPC | syscall.CLONE_NEWNET | syscall.CLONE_NEWUSER
	attr.GidMappingsEnableSetgroups = false
	attr.UidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getuid(),
		Size:        1,
	}}
	attr.GidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getgid(),
		Size:        1,
	}}
	return cmd, nil
}

// execBackend spawns the guest command directly with only process-group
// separation and the allow-listed environment. No rlimits are applied, so it
// is suitable only for development and tests.
type execBackend struct{}

func (b *execBackend) Name() string { return "exec" }

func (b *execBackend) Command(ctx context.Context, spec WorkerSpec) (*exec.Cmd, error) {
	if len(spec.Cmd) == 0 {
		return nil, fmt.Errorf("worker command is required")
	}

	cmd := exec.CommandContext(ctx, spec.Cmd[0], spec.Cmd[1:]...)
	cmd.Dir = spec.WorkDir
	cmd.Env = spec.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	return cmd, nil
}

// specToPipe streams the JSON-encoded worker spec without buffering it all
// up front
func specToPipe(spec WorkerSpec) (io.ReadCloser, error) {
	reader, writer := io.Pipe()
	go func() {
		enc := json.NewEncoder(writer)
		err := enc.Encode(spec)
		_ = writer.CloseWithError(err)
	}()
	return reader, nil
}

// killProcessGroup kills a worker and every descendant it spawned
func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
