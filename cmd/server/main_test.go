package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/execbox/api/internal/config"
	"github.com/execbox/api/internal/handler"
	"github.com/execbox/api/internal/lint"
	"github.com/execbox/api/internal/middleware"
	"github.com/execbox/api/internal/runtime"
	"github.com/execbox/api/internal/sandbox"
	"github.com/execbox/api/internal/types"
	"github.com/execbox/api/internal/web"
	"github.com/execbox/api/internal/workspace"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

func TestAPIEndpoints(t *testing.T) {
	// Set up test environment
	os.Setenv("EXECBOX_LOG_LEVEL", "error")
	os.Setenv("EXECBOX_DATA_DIRECTORY", "/tmp/execbox-test")
	os.Setenv("EXECBOX_WORKSPACE_DIRECTORY", "/tmp/execbox-test/workspace")
	os.Setenv("EXECBOX_ISOLATION_BACKEND", "exec")
	os.Setenv("EXECBOX_PYTHON_PATH", "/bin/sh")
	os.Setenv("EXECBOX_RUFF_PATH", "/nonexistent/ruff")
	os.Setenv("EXECBOX_REQUEST_BODY_LIMIT", "4096")
	os.Setenv("EXECBOX_SESSION_ENABLED", "false")

	// Create test directories first
	os.MkdirAll("/tmp/execbox-test/workspace", 0755)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize components
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	runtimeManager := runtime.NewManager(cfg)
	runtimeManager.DiscoverRuntimes(context.Background())

	backend, err := sandbox.NewBackend(cfg.IsolationBackend, cfg.WorkerPath)
	if err != nil {
		t.Fatalf("Failed to initialize isolation backend: %v", err)
	}
	executor := sandbox.NewManager(cfg, backend, lint.NewRunner(cfg.RuffPath))

	h := handler.NewHandler(cfg, executor, web.NewService(cfg), workspace.NewService(cfg), nil, logger)

	// Set up router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS())
	r.Use(middleware.BodyLimit(cfg.RequestBodyLimit))

	executeTimeout := time.Duration(cfg.MaxTimeout+30) * time.Second

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.JSON)
			r.Group(func(r chi.Router) {
				r.Use(chiMiddleware.Timeout(executeTimeout))
				r.Post("/execute", h.ExecuteCode)
			})
			r.Group(func(r chi.Router) {
				r.Use(chiMiddleware.Timeout(60 * time.Second))
				r.Post("/fetch", h.Fetch)
				r.Post("/links", h.Links)
				r.Route("/workspace", func(r chi.Router) {
					r.Post("/tree", h.WorkspaceTree)
					r.Post("/read", h.WorkspaceRead)
					r.Post("/write", h.WorkspaceWrite)
					r.Post("/git", h.WorkspaceGit)
				})
			})
		})
		r.Get("/runtimes", h.GetRuntimes)
	})
	r.HandleFunc("/connect", h.HandleWebSocket)
	r.Get("/", h.GetVersion)
	r.Get("/health", h.Health)

	// Test cases
	tests := []struct {
		name            string
		method          string
		path            string
		body            interface{}
		skipContentType bool
		expectedStatus  int
		checkResponse   func(t *testing.T, body []byte)
	}{
		{
			name:           "Health Check",
			method:         "GET",
			path:           "/health",
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var response map[string]interface{}
				if err := json.Unmarshal(body, &response); err != nil {
					t.Fatalf("Failed to unmarshal response: %v", err)
				}
				if response["status"] != "healthy" {
					t.Errorf("Expected healthy status, got %v", response["status"])
				}
				if _, ok := response["runtimes"]; !ok {
					t.Error("Expected runtimes count in response")
				}
			},
		},
		{
			name:           "Get Version",
			method:         "GET",
			path:           "/",
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var response map[string]interface{}
				if err := json.Unmarshal(body, &response); err != nil {
					t.Fatalf("Failed to unmarshal response: %v", err)
				}
				if response["message"] != "ExecBox v1.0.0-go" {
					t.Errorf("Unexpected version message: %v", response["message"])
				}
			},
		},
		{
			name:           "Get Runtimes",
			method:         "GET",
			path:           "/api/v1/runtimes",
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var runtimes []types.RuntimeInfo
				if err := json.Unmarshal(body, &runtimes); err != nil {
					t.Fatalf("Failed to unmarshal runtimes: %v", err)
				}
				// Even with no tools installed, should return an array
				if runtimes == nil {
					t.Error("Expected array response for runtimes")
				}
			},
		},
		{
			name:   "Execute Code - Run",
			method: "POST",
			path:   "/api/v1/execute",
			body: map[string]interface{}{
				"code": "echo hi",
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var result types.ExecutionResult
				if err := json.Unmarshal(body, &result); err != nil {
					t.Fatalf("Failed to unmarshal result: %v", err)
				}
				if result.Stdout != "hi\n" {
					t.Errorf("Expected stdout 'hi\\n', got %q", result.Stdout)
				}
				if result.Status.State != types.StateCompleted {
					t.Errorf("Expected completed state, got %s", result.Status.State)
				}
			},
		},
		{
			name:   "Execute Code - Exit Code",
			method: "POST",
			path:   "/api/v1/execute",
			body: map[string]interface{}{
				"code": "exit 3",
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var result types.ExecutionResult
				if err := json.Unmarshal(body, &result); err != nil {
					t.Fatalf("Failed to unmarshal result: %v", err)
				}
				if result.Status.State != types.StateCompleted {
					t.Errorf("Expected completed state, got %s", result.Status.State)
				}
				if result.Status.Code != 3 {
					t.Errorf("Expected exit code 3, got %d", result.Status.Code)
				}
			},
		},
		{
			name:           "Execute Code - Missing Code",
			method:         "POST",
			path:           "/api/v1/execute",
			body:           map[string]interface{}{},
			expectedStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, body []byte) {
				var response map[string]interface{}
				if err := json.Unmarshal(body, &response); err != nil {
					t.Fatalf("Failed to unmarshal error response: %v", err)
				}
				if response["message"] != "code is required as a string" {
					t.Errorf("Unexpected message: %v", response["message"])
				}
			},
		},
		{
			name:   "Execute Code - Invalid Mode",
			method: "POST",
			path:   "/api/v1/execute",
			body: map[string]interface{}{
				"code": "print('hello')",
				"mode": "compile",
			},
			expectedStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, body []byte) {
				var response map[string]interface{}
				if err := json.Unmarshal(body, &response); err != nil {
					t.Fatalf("Failed to unmarshal error response: %v", err)
				}
				if response["message"] != "mode must be either 'run' or 'lint'" {
					t.Errorf("Unexpected message: %v", response["message"])
				}
			},
		},
		{
			name:   "Execute Code - Unknown Field",
			method: "POST",
			path:   "/api/v1/execute",
			body: map[string]interface{}{
				"code":     "print('hello')",
				"language": "python",
			},
			expectedStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, body []byte) {
				var response map[string]interface{}
				if err := json.Unmarshal(body, &response); err != nil {
					t.Fatalf("Failed to unmarshal error response: %v", err)
				}
				if response["message"] != "Invalid JSON request" {
					t.Errorf("Unexpected message: %v", response["message"])
				}
			},
		},
		{
			name:   "Execute Code - Lint Tool Missing",
			method: "POST",
			path:   "/api/v1/execute",
			body: map[string]interface{}{
				"code": "x=1",
				"mode": "lint",
			},
			expectedStatus: http.StatusInternalServerError,
			checkResponse: func(t *testing.T, body []byte) {
				var result types.ExecutionResult
				if err := json.Unmarshal(body, &result); err != nil {
					t.Fatalf("Failed to unmarshal result: %v", err)
				}
				if result.Status.State != types.StateError {
					t.Errorf("Expected error state, got %s", result.Status.State)
				}
				if !strings.Contains(result.Status.Message, "Execution failed") {
					t.Errorf("Unexpected message: %q", result.Status.Message)
				}
			},
		},
		{
			name:   "Execute Code - Body Too Large",
			method: "POST",
			path:   "/api/v1/execute",
			body: map[string]interface{}{
				"code": strings.Repeat("a", 5000),
			},
			expectedStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:           "Fetch - Missing URL",
			method:         "POST",
			path:           "/api/v1/fetch",
			body:           map[string]interface{}{},
			expectedStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, body []byte) {
				var response map[string]interface{}
				if err := json.Unmarshal(body, &response); err != nil {
					t.Fatalf("Failed to unmarshal error response: %v", err)
				}
				if response["message"] != "url is required as a string" {
					t.Errorf("Unexpected message: %v", response["message"])
				}
			},
		},
		{
			name:           "Links - Missing URL",
			method:         "POST",
			path:           "/api/v1/links",
			body:           map[string]interface{}{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:   "Workspace Write",
			method: "POST",
			path:   "/api/v1/workspace/write",
			body: map[string]interface{}{
				"path":    "notes.txt",
				"content": "hello from the test",
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var output types.CommandOutput
				if err := json.Unmarshal(body, &output); err != nil {
					t.Fatalf("Failed to unmarshal output: %v", err)
				}
				if output.Output != "File 'notes.txt' written successfully." {
					t.Errorf("Unexpected output: %q", output.Output)
				}
			},
		},
		{
			name:   "Workspace Read",
			method: "POST",
			path:   "/api/v1/workspace/read",
			body: map[string]interface{}{
				"files": []string{"notes.txt"},
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var result types.ReadResult
				if err := json.Unmarshal(body, &result); err != nil {
					t.Fatalf("Failed to unmarshal result: %v", err)
				}
				if result.Files["notes.txt"].Content != "hello from the test" {
					t.Errorf("Unexpected content: %q", result.Files["notes.txt"].Content)
				}
			},
		},
		{
			name:           "Workspace Tree",
			method:         "POST",
			path:           "/api/v1/workspace/tree",
			body:           map[string]interface{}{},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var entries []types.TreeEntry
				if err := json.Unmarshal(body, &entries); err != nil {
					t.Fatalf("Failed to unmarshal entries: %v", err)
				}
				found := false
				for _, entry := range entries {
					if entry.Path == "notes.txt" {
						found = true
					}
				}
				if !found {
					t.Error("Expected notes.txt in the workspace tree")
				}
			},
		},
		{
			name:           "Workspace Read - Missing Files",
			method:         "POST",
			path:           "/api/v1/workspace/read",
			body:           map[string]interface{}{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Workspace Git - Missing Command",
			method:         "POST",
			path:           "/api/v1/workspace/git",
			body:           map[string]interface{}{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:   "Missing Content Type",
			method: "POST",
			path:   "/api/v1/execute",
			body: map[string]interface{}{
				"code": "echo hi",
			},
			skipContentType: true,
			expectedStatus:  http.StatusUnsupportedMediaType,
		},
		{
			name:           "WebSocket Without Upgrade",
			method:         "GET",
			path:           "/connect",
			expectedStatus: http.StatusBadRequest,
		},
	}

	// Run tests
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			var err error

			if tt.body != nil {
				bodyBytes, _ := json.Marshal(tt.body)
				req, err = http.NewRequest(tt.method, tt.path, bytes.NewBuffer(bodyBytes))
				if err != nil {
					t.Fatalf("Failed to create request: %v", err)
				}
				if !tt.skipContentType {
					req.Header.Set("Content-Type", "application/json")
				}
			} else {
				req, err = http.NewRequest(tt.method, tt.path, nil)
				if err != nil {
					t.Fatalf("Failed to create request: %v", err)
				}
			}

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, rr.Code)
			}

			if tt.checkResponse != nil {
				tt.checkResponse(t, rr.Body.Bytes())
			}
		})
	}

	// Cleanup
	os.RemoveAll("/tmp/execbox-test")
}
