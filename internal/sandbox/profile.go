package sandbox

import (
	"fmt"

	"github.com/execbox/api/internal/config"
)

// LimitProfile is the table of resource ceilings applied to a worker process
// before it runs guest code. It is built once at startup, passed by value and
// never modified afterwards; every concurrent execution shares the same
// profile. The ceilings are inherited by child processes and cannot be raised
// by an unprivileged process, so guest code cannot relax them.
type LimitProfile struct {
	MaxAddressSpaceBytes int64 `json:"max_address_space_bytes"`
	MaxCPUSeconds        int   `json:"max_cpu_seconds"`
	MaxProcesses         int   `json:"max_processes"`
	MaxOutputBytes       int64 `json:"max_output_bytes"`
	CoreDumpsEnabled     bool  `json:"core_dumps_enabled"`
}

// DefaultProfile returns the documented default ceilings: 2 GiB address
// space, 600 CPU-seconds, 50 processes, 50 MiB output, core dumps off.
func DefaultProfile() LimitProfile {
	return LimitProfile{
		MaxAddressSpaceBytes: 2 * 1024 * 1024 * 1024,
		MaxCPUSeconds:        600,
		MaxProcesses:         50,
		MaxOutputBytes:       50 * 1024 * 1024,
		CoreDumpsEnabled:     false,
	}
}

// ProfileFromConfig builds the limit profile from the loaded configuration
func ProfileFromConfig(cfg *config.Config) LimitProfile {
	return LimitProfile{
		MaxAddressSpaceBytes: cfg.MaxMemoryBytes,
		MaxCPUSeconds:        cfg.MaxCPUSeconds,
		MaxProcesses:         cfg.MaxProcesses,
		MaxOutputBytes:       cfg.MaxOutputBytes,
		CoreDumpsEnabled:     cfg.CoreDumpsEnabled,
	}
}

// Validate checks that every ceiling is usable
func (p LimitProfile) Validate() error {
	if p.MaxAddressSpaceBytes <= 0 {
		return fmt.Errorf("max address space must be positive")
	}
	if p.MaxCPUSeconds <= 0 {
		return fmt.Errorf("max cpu seconds must be positive")
	}
	if p.MaxProcesses <= 0 {
		return fmt.Errorf("max processes must be positive")
	}
	if p.MaxOutputBytes <= 0 {
		return fmt.Errorf("max output bytes must be positive")
	}
	return nil
}
