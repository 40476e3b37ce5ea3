package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Server configuration
	LogLevel         string `mapstructure:"log_level"`
	BindAddress      string `mapstructure:"bind_address"`
	DataDirectory    string `mapstructure:"data_directory"`
	RequestBodyLimit int64  `mapstructure:"request_body_limit"`

	// Sandbox execution limits
	MaxConcurrentJobs int   `mapstructure:"max_concurrent_jobs"`
	MaxMemoryBytes    int64 `mapstructure:"max_memory_bytes"`
	MaxCPUSeconds     int   `mapstructure:"max_cpu_seconds"`
	MaxProcesses      int   `mapstructure:"max_processes"`
	MaxOutputBytes    int64 `mapstructure:"max_output_bytes"`
	CoreDumpsEnabled  bool  `mapstructure:"core_dumps_enabled"`
	DefaultTimeout    int   `mapstructure:"default_timeout"`
	MaxTimeout        int   `mapstructure:"max_timeout"`

	// Sandbox toolchain
	IsolationBackend string `mapstructure:"isolation_backend"`
	WorkerPath       string `mapstructure:"worker_path"`
	PythonPath       string `mapstructure:"python_path"`
	RuffPath         string `mapstructure:"ruff_path"`

	// Interactive sessions
	SessionEnabled bool   `mapstructure:"session_enabled"`
	SessionNetwork string `mapstructure:"session_network"`
	SessionAddress string `mapstructure:"session_address"`
	SessionShell   string `mapstructure:"session_shell"`

	// Persistent workspace
	WorkspaceDirectory string `mapstructure:"workspace_directory"`

	// Web fetching
	UserAgent    string        `mapstructure:"user_agent"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Set default values
	viper.SetDefault("log_level", "INFO")
	viper.SetDefault("bind_address", getEnvOrDefault("PORT", "2000"))
	viper.SetDefault("data_directory", "/tmp/execbox")
	viper.SetDefault("request_body_limit", 1000000) // 1MB
	viper.SetDefault("max_concurrent_jobs", 64)
	viper.SetDefault("max_memory_bytes", 2*1024*1024*1024) // 2 GiB
	viper.SetDefault("max_cpu_seconds", 600)
	viper.SetDefault("max_processes", 50)
	viper.SetDefault("max_output_bytes", 50*1024*1024) // 50 MiB
	viper.SetDefault("core_dumps_enabled", false)
	viper.SetDefault("default_timeout", 10)
	viper.SetDefault("max_timeout", 300)
	viper.SetDefault("isolation_backend", "rlimit")
	viper.SetDefault("worker_path", "")
	viper.SetDefault("python_path", "python3")
	viper.SetDefault("ruff_path", "ruff")
	viper.SetDefault("session_enabled", true)
	viper.SetDefault("session_network", "tcp")
	viper.SetDefault("session_address", "0.0.0.0:4444")
	viper.SetDefault("session_shell", "/bin/bash")
	viper.SetDefault("workspace_directory", "/workspace")
	viper.SetDefault("user_agent", "Mozilla/5.0 (X11; Linux i686; rv:135.0) Gecko/20100101 Firefox/135.0")
	viper.SetDefault("fetch_timeout", "30s")

	// Set environment variable prefix
	viper.SetEnvPrefix("EXECBOX")
	viper.AutomaticEnv()

	// Try to read config file
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/execbox/")
	viper.AddConfigPath("$HOME/.execbox/")

	// Read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validate validates the configuration
func validate(config *Config) error {
	// Validate log level
	if _, err := logrus.ParseLevel(config.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", config.LogLevel)
	}

	if config.DataDirectory == "" {
		return fmt.Errorf("data_directory must not be empty")
	}

	// Validate numeric ranges
	if config.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("max_concurrent_jobs must be positive")
	}

	if config.MaxMemoryBytes <= 0 {
		return fmt.Errorf("max_memory_bytes must be positive")
	}

	if config.MaxCPUSeconds <= 0 {
		return fmt.Errorf("max_cpu_seconds must be positive")
	}

	if config.MaxProcesses <= 0 {
		return fmt.Errorf("max_processes must be positive")
	}

	if config.MaxOutputBytes <= 0 {
		return fmt.Errorf("max_output_bytes must be positive")
	}

	if config.DefaultTimeout <= 0 {
		return fmt.Errorf("default_timeout must be positive")
	}

	if config.MaxTimeout < config.DefaultTimeout {
		return fmt.Errorf("max_timeout must be at least default_timeout")
	}

	// Validate enumerations
	switch config.IsolationBackend {
	case "rlimit", "namespace", "exec":
	default:
		return fmt.Errorf("unknown isolation_backend: %s", config.IsolationBackend)
	}

	switch config.SessionNetwork {
	case "tcp", "unix":
	default:
		return fmt.Errorf("unknown session_network: %s", config.SessionNetwork)
	}

	return nil
}

// getEnvOrDefault builds a bind address from the PORT environment variable
func getEnvOrDefault(env, defaultValue string) string {
	if value := os.Getenv(env); value != "" {
		return "0.0.0.0:" + value
	}
	return "0.0.0.0:" + defaultValue
}

// GetBindAddress returns the complete bind address
func (c *Config) GetBindAddress() string {
	if c.BindAddress == "" {
		return "0.0.0.0:2000"
	}
	return c.BindAddress
}

// GetLogLevel returns the parsed log level
func (c *Config) GetLogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
