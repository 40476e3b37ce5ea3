package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/execbox/api/internal/config"
	"github.com/execbox/api/internal/runtime"
	"github.com/execbox/api/internal/sandbox"
	"github.com/execbox/api/internal/session"
	"github.com/execbox/api/internal/types"
	"github.com/execbox/api/internal/web"
	"github.com/execbox/api/internal/workspace"
)

// defaultMaxLinks bounds the links listing when the request does not
const defaultMaxLinks = 100

// Handler contains the dependencies for HTTP handlers
type Handler struct {
	config    *config.Config
	executor  *sandbox.Manager
	web       *web.Service
	workspace *workspace.Service
	sessions  *session.Listener
	logger    *logrus.Logger
}

// NewHandler creates a new handler instance. sessions may be nil when the
// session listener is disabled.
func NewHandler(cfg *config.Config, executor *sandbox.Manager, webSvc *web.Service, wsSvc *workspace.Service, sessions *session.Listener, logger *logrus.Logger) *Handler {
	return &Handler{
		config:    cfg,
		executor:  executor,
		web:       webSvc,
		workspace: wsSvc,
		sessions:  sessions,
		logger:    logger,
	}
}

// GetVersion returns the API version
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"message": "ExecBox v1.0.0-go",
	}

	h.sendJSON(w, response, http.StatusOK)
}

// Health reports service liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":   "healthy",
		"runtimes": len(runtime.GetRuntimes()),
	}
	if h.sessions != nil {
		response["active_sessions"] = h.sessions.Count()
	}

	h.sendJSON(w, response, http.StatusOK)
}

// GetRuntimes returns the discovered tool runtimes
func (h *Handler) GetRuntimes(w http.ResponseWriter, r *http.Request) {
	runtimes := runtime.GetRuntimes()

	response := make([]types.RuntimeInfo, len(runtimes))
	for i, rt := range runtimes {
		response[i] = types.RuntimeInfo{
			Name:    rt.Name,
			Version: rt.Version.String(),
			Path:    rt.Path,
		}
	}

	h.sendJSON(w, response, http.StatusOK)
}

// ExecuteCode runs or lints submitted code in the sandbox
func (h *Handler) ExecuteCode(w http.ResponseWriter, r *http.Request) {
	var request types.ExecutionRequest
	if !h.decodeBody(w, r, &request) {
		return
	}

	if err := validateExecutionRequest(&request); err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.executor.Execute(r.Context(), &request)
	if err != nil {
		h.logger.WithError(err).Error("Execution failed")
		h.sendJSON(w, &types.ExecutionResult{
			Status: types.ExitStatus{
				State:   types.StateError,
				Message: "Execution failed: " + err.Error(),
			},
		}, http.StatusInternalServerError)
		return
	}

	h.sendJSON(w, result, http.StatusOK)
}

// Fetch retrieves a web page as markdown or raw text
func (h *Handler) Fetch(w http.ResponseWriter, r *http.Request) {
	var request types.FetchRequest
	if !h.decodeBody(w, r, &request) {
		return
	}

	if request.URL == "" {
		h.sendError(w, "url is required as a string", http.StatusBadRequest)
		return
	}
	if request.MaxLength < 0 {
		h.sendError(w, "max_length must be non-negative", http.StatusBadRequest)
		return
	}

	content, err := h.web.Fetch(r.Context(), request.URL, request.MaxLength, request.Raw)
	if err != nil {
		h.sendError(w, err.Error(), http.StatusBadGateway)
		return
	}

	h.sendJSON(w, types.FetchResult{Content: content}, http.StatusOK)
}

// Links lists the links found on a web page
func (h *Handler) Links(w http.ResponseWriter, r *http.Request) {
	var request types.LinksRequest
	if !h.decodeBody(w, r, &request) {
		return
	}

	if request.URL == "" {
		h.sendError(w, "url is required as a string", http.StatusBadRequest)
		return
	}

	maxLinks := request.MaxLinks
	if maxLinks <= 0 {
		maxLinks = defaultMaxLinks
	}
	titles := true
	if request.Titles != nil {
		titles = *request.Titles
	}

	content, err := h.web.Links(r.Context(), request.URL, maxLinks, titles)
	if err != nil {
		h.sendError(w, err.Error(), http.StatusBadGateway)
		return
	}

	h.sendJSON(w, types.LinksResult{Content: content}, http.StatusOK)
}

// WorkspaceTree lists the persistent workspace contents
func (h *Handler) WorkspaceTree(w http.ResponseWriter, r *http.Request) {
	var request types.TreeRequest
	if !h.decodeBody(w, r, &request) {
		return
	}

	entries, err := h.workspace.Tree(r.Context(), request.Path)
	if err != nil {
		h.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.sendJSON(w, entries, http.StatusOK)
}

// WorkspaceRead returns the contents of workspace files
func (h *Handler) WorkspaceRead(w http.ResponseWriter, r *http.Request) {
	var request types.ReadRequest
	if !h.decodeBody(w, r, &request) {
		return
	}

	if len(request.Files) == 0 {
		h.sendError(w, "files is required as an array", http.StatusBadRequest)
		return
	}

	result, err := h.workspace.Read(request.Files, request.MaxLength)
	if err != nil {
		h.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.sendJSON(w, result, http.StatusOK)
}

// WorkspaceWrite writes or patches a workspace file
func (h *Handler) WorkspaceWrite(w http.ResponseWriter, r *http.Request) {
	var request types.WriteRequest
	if !h.decodeBody(w, r, &request) {
		return
	}

	if request.Path == "" {
		h.sendError(w, "path is required as a string", http.StatusBadRequest)
		return
	}

	output, err := h.workspace.Write(r.Context(), request.Path, request.Content, request.Mode)
	if err != nil {
		h.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.sendJSON(w, types.CommandOutput{Output: output}, http.StatusOK)
}

// WorkspaceGit runs a git command inside the workspace
func (h *Handler) WorkspaceGit(w http.ResponseWriter, r *http.Request) {
	var request types.GitRequest
	if !h.decodeBody(w, r, &request) {
		return
	}

	if request.Command == "" {
		h.sendError(w, "command is required as a string", http.StatusBadRequest)
		return
	}

	output, err := h.workspace.Git(r.Context(), request.Command, request.Dir)
	if err != nil {
		h.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.sendJSON(w, types.CommandOutput{Output: output}, http.StatusOK)
}

// decodeBody decodes a JSON request body, writing the error response itself
// when decoding fails.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			h.sendError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		h.sendError(w, "Invalid JSON request", http.StatusBadRequest)
		return false
	}
	return true
}

// validateExecutionRequest validates the incoming execution request
func validateExecutionRequest(request *types.ExecutionRequest) error {
	if request.Code == "" {
		return errors.New("code is required as a string")
	}

	if request.TimeoutSeconds < 0 {
		return errors.New("timeout_seconds must be non-negative")
	}

	switch request.Mode {
	case "", types.ModeRun, types.ModeLint:
		return nil
	default:
		return errors.New("mode must be either 'run' or 'lint'")
	}
}

// sendError sends an error response
func (h *Handler) sendError(w http.ResponseWriter, message string, statusCode int) {
	response := types.ErrorResponse{
		Message: message,
		Code:    statusCode,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// sendJSON sends a JSON response
func (h *Handler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
