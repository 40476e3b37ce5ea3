package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execbox/api/internal/config"
)

// TestDefaultProfile tests the documented default ceilings
func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()

	assert.Equal(t, int64(2*1024*1024*1024), p.MaxAddressSpaceBytes)
	assert.Equal(t, 600, p.MaxCPUSeconds)
	assert.Equal(t, 50, p.MaxProcesses)
	assert.Equal(t, int64(50*1024*1024), p.MaxOutputBytes)
	assert.False(t, p.CoreDumpsEnabled)
	require.NoError(t, p.Validate())
}

// TestProfileFromConfig tests that the profile mirrors the loaded limits
func TestProfileFromConfig(t *testing.T) {
	cfg := &config.Config{
		MaxMemoryBytes:   1024 * 1024,
		MaxCPUSeconds:    30,
		MaxProcesses:     10,
		MaxOutputBytes:   4096,
		CoreDumpsEnabled: true,
	}

	p := ProfileFromConfig(cfg)
	assert.Equal(t, int64(1024*1024), p.MaxAddressSpaceBytes)
	assert.Equal(t, 30, p.MaxCPUSeconds)
	assert.Equal(t, 10, p.MaxProcesses)
	assert.Equal(t, int64(4096), p.MaxOutputBytes)
	assert.True(t, p.CoreDumpsEnabled)
}

// TestProfileValidate tests rejection of unusable ceilings
func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*LimitProfile)
	}{
		{"zero address space", func(p *LimitProfile) { p.MaxAddressSpaceBytes = 0 }},
		{"negative cpu seconds", func(p *LimitProfile) { p.MaxCPUSeconds = -1 }},
		{"zero processes", func(p *LimitProfile) { p.MaxProcesses = 0 }},
		{"zero output bytes", func(p *LimitProfile) { p.MaxOutputBytes = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultProfile()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}
