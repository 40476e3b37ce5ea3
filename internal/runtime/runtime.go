package runtime

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"

	"github.com/execbox/api/internal/config"
	"github.com/execbox/api/internal/types"
)

var (
	runtimes []types.Runtime
	mutex    sync.RWMutex
	logger   = logrus.WithField("component", "runtime")
)

// versionPattern matches the first dotted version number in tool output
var versionPattern = regexp.MustCompile(`\d+\.\d+(?:\.\d+)?`)

const probeTimeout = 5 * time.Second

// Manager discovers the tool binaries the service depends on
type Manager struct {
	config *config.Config
}

// NewManager creates a new runtime manager
func NewManager(cfg *config.Config) *Manager {
	return &Manager{config: cfg}
}

// DiscoverRuntimes probes the configured binaries and registers every one
// that responds to --version. Missing tools are logged, not fatal: execute
// and lint surface their own errors when a binary is absent.
func (m *Manager) DiscoverRuntimes(ctx context.Context) {
	probes := []struct {
		name string
		path string
	}{
		{"python", m.config.PythonPath},
		{"ruff", m.config.RuffPath},
		{filepath.Base(m.config.SessionShell), m.config.SessionShell},
		{"git", "git"},
		{"patch", "patch"},
	}

	found := 0
	for _, p := range probes {
		rt, err := probe(ctx, p.name, p.path)
		if err != nil {
			logger.WithError(err).Warnf("Runtime %s unavailable", p.name)
			continue
		}
		register(*rt)
		found++
		logger.Debugf("Discovered runtime %s-%s at %s", rt.Name, rt.Version, rt.Path)
	}

	if found == 0 {
		logger.Warn("No runtimes discovered, executions will fail")
		return
	}
	logger.Infof("Discovered %d runtimes", found)
}

// probe asks a binary for its version and extracts a semantic version from
// the reply. Tools that report on stderr are covered by the combined capture.
func probe(ctx context.Context, name, path string) (*types.Runtime, error) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	output, err := exec.CommandContext(probeCtx, resolved, "--version").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to run %s --version: %w", resolved, err)
	}

	version, err := parseVersion(string(output))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s version: %w", name, err)
	}

	return &types.Runtime{Name: name, Version: version, Path: resolved}, nil
}

// parseVersion extracts the first dotted version number in s. Partial
// versions like "3.11" are padded by the semver parser.
func parseVersion(s string) (*semver.Version, error) {
	match := versionPattern.FindString(s)
	if match == "" {
		return nil, fmt.Errorf("no version number in %q", strings.TrimSpace(firstLine(s)))
	}
	return semver.NewVersion(match)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// register adds a runtime, replacing a previous probe of the same name
func register(rt types.Runtime) {
	mutex.Lock()
	defer mutex.Unlock()

	for i := range runtimes {
		if runtimes[i].Name == rt.Name {
			runtimes[i] = rt
			return
		}
	}
	runtimes = append(runtimes, rt)
}

// GetRuntimes returns all discovered runtimes
func GetRuntimes() []types.Runtime {
	mutex.RLock()
	defer mutex.RUnlock()

	result := make([]types.Runtime, len(runtimes))
	copy(result, runtimes)
	return result
}

// Find returns the runtime registered under name
func Find(name string) (*types.Runtime, error) {
	mutex.RLock()
	defer mutex.RUnlock()

	for _, rt := range runtimes {
		if rt.Name == name {
			found := rt
			return &found, nil
		}
	}
	return nil, fmt.Errorf("runtime not found: %s", name)
}

// Satisfies reports whether the named runtime matches a semver constraint
// such as ">= 3.10".
func Satisfies(name, constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid version constraint: %w", err)
	}

	rt, err := Find(name)
	if err != nil {
		return false, err
	}
	return c.Check(rt.Version), nil
}

// reset clears the registry between tests
func reset() {
	mutex.Lock()
	defer mutex.Unlock()
	runtimes = nil
}
