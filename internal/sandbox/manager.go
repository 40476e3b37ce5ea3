package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/execbox/api/internal/config"
	"github.com/execbox/api/internal/lint"
	"github.com/execbox/api/internal/types"
)

const (
	// guestFileName is where submitted code lands inside the workspace
	guestFileName = "script.py"

	// workerFailureExit is the exit code the execworker helper reserves for
	// its own setup failures, distinguished from guest exits by the stderr
	// prefix below.
	workerFailureExit = 127
	workerErrPrefix   = "execworker: "
)

// Manager executes guest code in isolated workers. It owns the concurrency
// gate, the per-execution workspace lifecycle, output capture and the
// timeout/kill race; the actual limit application is delegated to the
// configured Backend.
type Manager struct {
	config  *config.Config
	profile LimitProfile
	backend Backend
	linter  *lint.Runner
	logger  *logrus.Entry
	slots   chan struct{}
}

// NewManager creates an execution manager. The backend and linter are
// injected so tests can substitute the direct-exec backend.
func NewManager(cfg *config.Config, backend Backend, linter *lint.Runner) *Manager {
	return &Manager{
		config:  cfg,
		profile: ProfileFromConfig(cfg),
		backend: backend,
		linter:  linter,
		logger:  logrus.WithField("component", "sandbox"),
		slots:   make(chan struct{}, cfg.MaxConcurrentJobs),
	}
}

// Profile returns the limit profile applied to every execution
func (m *Manager) Profile() LimitProfile {
	return m.profile
}

// Execute runs or lints the submitted code in a fresh scoped workspace.
// Guest outcomes (non-zero exits, kills, timeouts, lint findings) are
// reported in the result; an error return means the manager itself could not
// carry out the execution.
func (m *Manager) Execute(ctx context.Context, req *types.ExecutionRequest) (*types.ExecutionResult, error) {
	timeout := m.normalizeTimeout(req.TimeoutSeconds)

	if err := m.acquireSlot(ctx); err != nil {
		return nil, err
	}
	defer m.releaseSlot()

	ws, err := AcquireWorkspace(m.config.DataDirectory)
	if err != nil {
		return nil, err
	}
	defer ws.Release()

	scriptPath, err := ws.WriteFile(guestFileName, req.Code)
	if err != nil {
		return nil, err
	}

	if req.Mode == types.ModeLint {
		return m.lintFile(ctx, ws, scriptPath)
	}
	return m.runFile(ctx, ws, scriptPath, timeout)
}

// acquireSlot blocks until an execution slot is free or the context ends
func (m *Manager) acquireSlot(ctx context.Context) error {
	select {
	case m.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cancelled while waiting for an execution slot: %w", ctx.Err())
	}
}

func (m *Manager) releaseSlot() {
	<-m.slots
}

func (m *Manager) normalizeTimeout(seconds int) int {
	if seconds <= 0 {
		return m.config.DefaultTimeout
	}
	if seconds > m.config.MaxTimeout {
		return m.config.MaxTimeout
	}
	return seconds
}

// lintFile runs the diagnostic translator under the manager's own limits.
// There is no worker binary and no timeout race; findings come back as
// structured records plus the rendered report on stdout.
func (m *Manager) lintFile(ctx context.Context, ws *Workspace, scriptPath string) (*types.ExecutionResult, error) {
	records, err := m.linter.Check(ctx, scriptPath)
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"workspace": ws.ID,
		"findings":  len(records),
	}).Debug("Lint finished")

	return &types.ExecutionResult{
		Stdout:      lint.Render(records),
		Status:      types.ExitStatus{State: types.StateCompleted},
		Diagnostics: records,
	}, nil
}

func (m *Manager) runFile(ctx context.Context, ws *Workspace, scriptPath string, timeout int) (*types.ExecutionResult, error) {
	spec := WorkerSpec{
		WorkDir: ws.Path,
		Cmd:     []string{m.config.PythonPath, scriptPath},
		Env:     GuestEnv(ws.Path),
		Limits:  m.profile,
	}

	cmd, err := m.backend.Command(ctx, spec)
	if err != nil {
		return nil, err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}

	pid := cmd.Process.Pid
	start := time.Now()
	m.logger.WithFields(logrus.Fields{
		"workspace": ws.ID,
		"pid":       pid,
		"backend":   m.backend.Name(),
		"timeout":   timeout,
	}).Debug("Worker started")

	// The whole process group dies together: on wall-clock expiry, on context
	// cancellation, or not at all if the worker finishes first. The timer also
	// bounds workers that exit while a forked child keeps the pipes open.
	var timedOut atomic.Bool
	waitDone := make(chan struct{})
	wallTimer := time.NewTimer(time.Duration(timeout) * time.Second)
	defer wallTimer.Stop()

	go func() {
		select {
		case <-ctx.Done():
			killProcessGroup(pid)
		case <-wallTimer.C:
			timedOut.Store(true)
			killProcessGroup(pid)
		case <-waitDone:
		}
	}()

	outBuf := newCappedBuffer(m.profile.MaxOutputBytes)
	errBuf := newCappedBuffer(m.profile.MaxOutputBytes)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		outBuf.Consume(stdout)
	}()
	go func() {
		defer wg.Done()
		errBuf.Consume(stderr)
	}()

	// Readers must drain to EOF before Wait closes the pipes under them
	wg.Wait()
	waitErr := cmd.Wait()
	close(waitDone)

	if ctx.Err() != nil && !timedOut.Load() {
		return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
	}

	result := &types.ExecutionResult{
		Stdout:    outBuf.String(),
		Stderr:    errBuf.String(),
		Truncated: outBuf.Truncated() || errBuf.Truncated(),
	}

	if timedOut.Load() {
		result.Status = types.ExitStatus{
			State:   types.StateTimedOut,
			Message: fmt.Sprintf("Execution timed out after %d seconds", timeout),
		}
	} else {
		result.Status = exitStatusFromWait(waitErr)
	}

	if result.Status.State == types.StateKilled && result.Status.Message != "" {
		result.Stderr = appendLine(result.Stderr, result.Status.Message)
	}

	if result.Status.State == types.StateCompleted && result.Status.Code == workerFailureExit &&
		strings.HasPrefix(result.Stderr, workerErrPrefix) {
		detail := strings.TrimSpace(strings.TrimPrefix(result.Stderr, workerErrPrefix))
		return nil, fmt.Errorf("worker setup failed: %s", detail)
	}

	m.logger.WithFields(logrus.Fields{
		"workspace": ws.ID,
		"state":     result.Status.State,
		"duration":  time.Since(start).Round(time.Millisecond).String(),
		"truncated": result.Truncated,
	}).Debug("Worker finished")

	return result, nil
}

// exitStatusFromWait maps the Wait error of a non-timed-out worker
func exitStatusFromWait(err error) types.ExitStatus {
	if err == nil {
		return types.ExitStatus{State: types.StateCompleted}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			sig := status.Signal()
			return types.ExitStatus{
				State:   types.StateKilled,
				Signal:  signalToString(int(sig)),
				Message: signalCause(sig),
			}
		}
		return types.ExitStatus{State: types.StateCompleted, Code: exitErr.ExitCode()}
	}

	return types.ExitStatus{State: types.StateError, Message: err.Error()}
}

// signalCause names the resource limit behind the common kill signals.
// A SIGKILL outside the timeout path is attributed to the kernel reclaiming
// memory, the closest observable effect of the address space cap.
func signalCause(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGXCPU:
		return "CPU time limit exceeded"
	case syscall.SIGXFSZ:
		return "file size limit exceeded"
	case syscall.SIGKILL:
		return "memory limit exceeded (killed)"
	case syscall.SIGSEGV:
		return "segmentation fault"
	default:
		return ""
	}
}

// signalToString converts signal number to string
func signalToString(sig int) string {
	signals := map[int]string{
		1: "SIGHUP", 2: "SIGINT", 3: "SIGQUIT", 4: "SIGILL", 5: "SIGTRAP",
		6: "SIGABRT", 7: "SIGBUS", 8: "SIGFPE", 9: "SIGKILL", 10: "SIGUSR1",
		11: "SIGSEGV", 12: "SIGUSR2", 13: "SIGPIPE", 14: "SIGALRM", 15: "SIGTERM",
		24: "SIGXCPU", 25: "SIGXFSZ",
	}

	if name, exists := signals[sig]; exists {
		return name
	}
	return fmt.Sprintf("SIG%d", sig)
}

func appendLine(s, line string) string {
	if s == "" {
		return line + "\n"
	}
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s + line + "\n"
}

// cappedBuffer accumulates up to max bytes from a stream and keeps draining
// past the cap so the producer never blocks on a full pipe.
type cappedBuffer struct {
	max       int64
	buf       bytes.Buffer
	truncated bool
}

func newCappedBuffer(max int64) *cappedBuffer {
	return &cappedBuffer{max: max}
}

// Consume reads r to EOF. Bytes beyond the cap are discarded and mark the
// buffer truncated; reaching the cap exactly does not.
func (b *cappedBuffer) Consume(r io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			remaining := b.max - int64(b.buf.Len())
			switch {
			case remaining >= int64(n):
				b.buf.Write(chunk[:n])
			case remaining > 0:
				b.buf.Write(chunk[:remaining])
				b.truncated = true
			default:
				b.truncated = true
			}
		}
		if err != nil {
			return
		}
	}
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}

func (b *cappedBuffer) Truncated() bool {
	return b.truncated
}
