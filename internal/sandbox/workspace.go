package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Workspace is a private scratch directory owned by exactly one execution.
// It holds the guest code and whatever files the guest produces, and is
// removed recursively when the execution ends, on every exit path.
type Workspace struct {
	ID   string
	Path string

	logger *logrus.Entry
}

// AcquireWorkspace creates a fresh workspace directory with a
// collision-resistant random name under the given base directory.
func AcquireWorkspace(base string) (*Workspace, error) {
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace base: %w", err)
	}

	id := uuid.New().String()
	path := filepath.Join(base, id)
	if err := os.Mkdir(path, 0700); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	return &Workspace{
		ID:     id,
		Path:   path,
		logger: logrus.WithField("workspace", id),
	}, nil
}

// WriteFile writes a file into the workspace and returns its absolute path.
// Names resolving outside the workspace are rejected.
func (w *Workspace) WriteFile(name, content string) (string, error) {
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid file name: %s", name)
	}

	path := filepath.Join(w.Path, name)
	relPath, err := filepath.Rel(w.Path, path)
	if err != nil || strings.HasPrefix(relPath, "..") {
		return "", fmt.Errorf("path traversal detected: %s", name)
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return path, nil
}

// Release removes the workspace and everything in it. Removal errors are
// logged and swallowed so that cleanup never fails past the caller; Release
// is safe to call more than once.
func (w *Workspace) Release() {
	if err := os.RemoveAll(w.Path); err != nil {
		w.logger.WithError(err).Warn("Failed to remove workspace")
	}
}
