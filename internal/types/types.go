package types

import (
	"github.com/Masterminds/semver/v3"
)

// ExecutionMode selects what the sandbox does with the submitted code
type ExecutionMode string

const (
	ModeRun  ExecutionMode = "run"
	ModeLint ExecutionMode = "lint"
)

// ExitState classifies how a sandboxed process terminated
type ExitState string

const (
	StateCompleted ExitState = "completed"
	StateTimedOut  ExitState = "timed_out"
	StateKilled    ExitState = "killed"
	StateError     ExitState = "error"
)

// ExecutionRequest represents an incoming code execution request
type ExecutionRequest struct {
	Code           string        `json:"code"`
	TimeoutSeconds int           `json:"timeout_seconds,omitempty"`
	Mode           ExecutionMode `json:"mode,omitempty"`
}

// ExitStatus describes the termination of a sandboxed process.
// Code is meaningful for StateCompleted and Signal for StateKilled; Message
// carries detail for timeouts, kills with a known cause and manager errors.
type ExitStatus struct {
	State   ExitState `json:"state"`
	Code    int       `json:"code"`
	Signal  string    `json:"signal,omitempty"`
	Message string    `json:"message,omitempty"`
}

// ExecutionResult represents the complete result of a sandboxed execution
type ExecutionResult struct {
	Stdout      string             `json:"stdout"`
	Stderr      string             `json:"stderr"`
	Status      ExitStatus         `json:"status"`
	Truncated   bool               `json:"truncated"`
	Diagnostics []DiagnosticRecord `json:"diagnostics,omitempty"`
}

// Location points at a position in the submitted source
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// DiagnosticRecord represents one normalized static-analysis finding
type DiagnosticRecord struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Location Location `json:"location"`
}

// Runtime represents a guest tool discovered on this host
type Runtime struct {
	Name    string          `json:"name"`
	Version *semver.Version `json:"version"`
	Path    string          `json:"path"`
}

// RuntimeInfo represents runtime information for API responses
type RuntimeInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Path    string `json:"path"`
}

// SessionState represents the lifecycle state of an interactive session
type SessionState int32

const (
	SessionConnecting SessionState = iota
	SessionActive
	SessionTerminating
)

// String returns the session state name
func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionActive:
		return "active"
	case SessionTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// WebSocketMessage represents a terminal bridge frame
type WebSocketMessage struct {
	Type  string `json:"type"`
	Data  string `json:"data,omitempty"`
	Cols  uint16 `json:"cols,omitempty"`
	Rows  uint16 `json:"rows,omitempty"`
	Error string `json:"error,omitempty"`
	Code  *int   `json:"code,omitempty"`
}

// FetchRequest represents a web fetch request
type FetchRequest struct {
	URL       string `json:"url"`
	MaxLength int    `json:"max_length,omitempty"`
	Raw       bool   `json:"raw,omitempty"`
}

// FetchResult represents the processed content of a fetched page
type FetchResult struct {
	Content string `json:"content"`
}

// LinksRequest represents a link extraction request.
// Titles defaults to true when absent.
type LinksRequest struct {
	URL      string `json:"url"`
	MaxLinks int    `json:"max_links,omitempty"`
	Titles   *bool  `json:"titles,omitempty"`
}

// LinksResult represents the formatted link listing of a page
type LinksResult struct {
	Content string `json:"content"`
}

// TreeRequest represents a workspace listing request
type TreeRequest struct {
	Path string `json:"path,omitempty"`
}

// TreeEntry represents one file or directory in a workspace listing
type TreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Size int64  `json:"size,omitempty"`
}

// ReadRequest represents a workspace file read request
type ReadRequest struct {
	Files     []string `json:"files"`
	MaxLength int      `json:"max_length,omitempty"`
}

// FileContent represents the outcome of reading one workspace file
type FileContent struct {
	Content   string `json:"content,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ReadResult maps requested paths to their contents
type ReadResult struct {
	Files map[string]FileContent `json:"files"`
}

// WriteRequest represents a workspace file write request
type WriteRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Mode    string `json:"mode,omitempty"`
}

// GitRequest represents a git command to run inside the workspace
type GitRequest struct {
	Command string `json:"command"`
	Dir     string `json:"dir,omitempty"`
}

// CommandOutput represents the output of a workspace command
type CommandOutput struct {
	Output string `json:"output"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}
