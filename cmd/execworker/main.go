package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/execbox/api/internal/sandbox"
)

// execworker is the init process for sandboxed executions. It reads a worker
// spec as JSON on stdin, applies the limit profile with setrlimit, scrubs the
// environment down to the allow-list, enters the workspace and execs the
// guest command. A dedicated binary is the only way to run code between fork
// and exec in Go.

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "execworker: %v\n", err)
		os.Exit(127)
	}
}

func run() error {
	spec, err := decodeSpec(os.Stdin)
	if err != nil {
		return err
	}

	if err := os.Chdir(spec.WorkDir); err != nil {
		return fmt.Errorf("failed to enter workspace: %w", err)
	}

	if err := applyLimits(spec.Limits); err != nil {
		return err
	}

	// LookPath resolves against the process environment, so scrub first
	scrubEnv(spec.Env)

	path, err := exec.LookPath(spec.Cmd[0])
	if err != nil {
		return fmt.Errorf("guest command not found: %w", err)
	}

	return unix.Exec(path, spec.Cmd, spec.Env)
}

func decodeSpec(r io.Reader) (*sandbox.WorkerSpec, error) {
	var spec sandbox.WorkerSpec
	if err := json.NewDecoder(r).Decode(&spec); err != nil {
		return nil, fmt.Errorf("failed to decode worker spec: %w", err)
	}

	if spec.WorkDir == "" {
		return nil, fmt.Errorf("worker spec has no work dir")
	}
	if len(spec.Cmd) == 0 {
		return nil, fmt.Errorf("worker spec has no command")
	}
	if err := spec.Limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limit profile: %w", err)
	}
	return &spec, nil
}

// applyLimits maps the profile onto kernel rlimits. Soft and hard caps are
// set together so the guest cannot raise them back.
func applyLimits(p sandbox.LimitProfile) error {
	core := uint64(0)
	if p.CoreDumpsEnabled {
		core = unix.RLIM_INFINITY
	}

	limits := []struct {
		name     string
		resource int
		value    uint64
	}{
		{"address space", unix.RLIMIT_AS, uint64(p.MaxAddressSpaceBytes)},
		{"cpu time", unix.RLIMIT_CPU, uint64(p.MaxCPUSeconds)},
		{"process count", unix.RLIMIT_NPROC, uint64(p.MaxProcesses)},
		{"file size", unix.RLIMIT_FSIZE, uint64(p.MaxOutputBytes)},
		{"core dump", unix.RLIMIT_CORE, core},
	}

	for _, l := range limits {
		rl := &unix.Rlimit{Cur: l.value, Max: l.value}
		if err := unix.Setrlimit(l.resource, rl); err != nil {
			return fmt.Errorf("failed to set %s limit: %w", l.name, err)
		}
	}
	return nil
}

// scrubEnv replaces the inherited environment with the parent's allow-list
func scrubEnv(env []string) {
	os.Clearenv()
	for _, kv := range env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			os.Setenv(kv[:i], kv[i+1:])
		}
	}
}
