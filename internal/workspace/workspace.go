package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/google/shlex"
	"github.com/sirupsen/logrus"

	"github.com/execbox/api/internal/config"
	"github.com/execbox/api/internal/types"
)

// defaultReadLimit caps per-file reads unless the request overrides it
const defaultReadLimit = 65535

// Service operates on the persistent workspace directory, the durable
// counterpart to the throwaway execution workspaces.
type Service struct {
	baseDir string
	logger  *logrus.Entry
}

// NewService creates the workspace service rooted at the configured base dir
func NewService(cfg *config.Config) *Service {
	return &Service{
		baseDir: cfg.WorkspaceDirectory,
		logger:  logrus.WithField("component", "workspace"),
	}
}

// ensureBase creates the workspace root on demand
func (s *Service) ensureBase() error {
	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}
	return nil
}

// resolve joins a relative path to the base dir, rejecting anything that
// escapes it.
func (s *Service) resolve(rel string) (string, error) {
	if rel == "" {
		rel = "."
	}
	full := filepath.Join(s.baseDir, rel)

	check, err := filepath.Rel(s.baseDir, full)
	if err != nil || check == ".." || strings.HasPrefix(check, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the workspace: %s", rel)
	}
	return full, nil
}

// Tree lists the workspace subtree rooted at path, pruning .git. Entries come
// back sorted by path since the walk itself is concurrent.
func (s *Service) Tree(ctx context.Context, path string) ([]types.TreeEntry, error) {
	if err := s.ensureBase(); err != nil {
		return nil, err
	}

	root, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		entries []types.TreeEntry
	)

	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, root, func(walkPath string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}

		relPath, relErr := filepath.Rel(root, walkPath)
		if relErr != nil || relPath == "." {
			return nil
		}

		entry := types.TreeEntry{Path: relPath, Type: "file"}
		if d.IsDir() {
			entry.Type = "dir"
		} else if info, infoErr := d.Info(); infoErr == nil {
			entry.Size = info.Size()
		}

		mu.Lock()
		entries = append(entries, entry)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk workspace: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Read returns the contents of the requested files, one inline error per
// unreadable file. maxLength caps bytes per file; 0 means the default cap and
// a negative value lifts it.
func (s *Service) Read(files []string, maxLength int) (*types.ReadResult, error) {
	if err := s.ensureBase(); err != nil {
		return nil, err
	}
	if maxLength == 0 {
		maxLength = defaultReadLimit
	}

	result := &types.ReadResult{Files: make(map[string]types.FileContent, len(files))}
	failed := 0

	for _, file := range files {
		content := s.readOne(file, maxLength)
		if content.Error != "" {
			failed++
		}
		result.Files[file] = content
	}

	if len(files) > 0 && failed == len(files) {
		return nil, errors.New("Failed to read any of the requested files")
	}
	return result, nil
}

func (s *Service) readOne(file string, maxLength int) types.FileContent {
	full, err := s.resolve(file)
	if err != nil {
		return types.FileContent{Error: err.Error()}
	}

	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return types.FileContent{Error: fmt.Sprintf("File not found: %s", file)}
		}
		return types.FileContent{Error: fmt.Sprintf("Error reading file: %v", err)}
	}
	defer f.Close()

	var data []byte
	if maxLength > 0 {
		data = make([]byte, maxLength)
		n, readErr := io.ReadFull(f, data)
		if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
			return types.FileContent{Error: fmt.Sprintf("Error reading file: %v", readErr)}
		}
		data = data[:n]
	} else {
		data, err = io.ReadAll(f)
		if err != nil {
			return types.FileContent{Error: fmt.Sprintf("Error reading file: %v", err)}
		}
	}

	return types.FileContent{
		Content:   string(data),
		Truncated: maxLength > 0 && len(data) >= maxLength,
	}
}

// Write stores or patches a file. Overwrite mode replaces the file whole;
// patch mode pipes the content through the patch tool against the target.
func (s *Service) Write(ctx context.Context, path, content, mode string) (string, error) {
	if err := s.ensureBase(); err != nil {
		return "", err
	}

	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}

	switch mode {
	case "", "overwrite":
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return "", fmt.Errorf("File system error: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			return "", fmt.Errorf("File system error: %v", err)
		}
		return fmt.Sprintf("File '%s' written successfully.", path), nil

	case "patch":
		if _, statErr := os.Stat(full); os.IsNotExist(statErr) {
			if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
				return "", fmt.Errorf("File system error: %v", err)
			}
			if err := os.WriteFile(full, nil, 0644); err != nil {
				return "", fmt.Errorf("File system error: %v", err)
			}
		}

		stdout, stderr, err := runCommand(ctx, filepath.Dir(full), strings.NewReader(content),
			"Patch failed", "patch", full)
		if err != nil {
			return "", err
		}
		if output := formatOutput(stdout, stderr); output != "" {
			return output, nil
		}
		return "Patch applied successfully.", nil

	default:
		return "", fmt.Errorf("Invalid mode '%s'. Use 'overwrite' or 'patch'.", mode)
	}
}

// Git runs a git command line inside the workspace. The command is
// shell-split and must actually be git; thanks to exec there is no shell
// interpolation.
func (s *Service) Git(ctx context.Context, command, dir string) (string, error) {
	if err := s.ensureBase(); err != nil {
		return "", err
	}

	args, err := shlex.Split(command)
	if err != nil {
		return "", fmt.Errorf("failed to parse git command: %w", err)
	}
	if len(args) == 0 || args[0] != "git" {
		return "", errors.New("only git commands are allowed")
	}
	s.logger.WithField("command", command).Debug("Running git command")

	workDir, err := s.resolve(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", fmt.Errorf("File system error: %v", err)
	}

	stdout, stderr, err := runCommand(ctx, workDir, nil, "Git command failed", args...)
	if err != nil {
		return "", err
	}
	if output := formatOutput(stdout, stderr); output != "" {
		return output, nil
	}
	return "Git command completed successfully.", nil
}

// runCommand executes a tool, returning both streams. A non-zero exit folds
// the combined output into the error under the given prefix.
func runCommand(ctx context.Context, dir string, stdin io.Reader, errorPrefix string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Stdin = stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", "", fmt.Errorf("%s: %s", errorPrefix, formatOutput(stdout.String(), stderr.String()))
		}
		return "", "", fmt.Errorf("File system error: %v", err)
	}
	return stdout.String(), stderr.String(), nil
}

// formatOutput joins the trimmed non-empty streams
func formatOutput(stdout, stderr string) string {
	var sections []string
	for _, section := range []string{stdout, stderr} {
		if trimmed := strings.TrimSpace(section); trimmed != "" {
			sections = append(sections, trimmed)
		}
	}
	return strings.Join(sections, "\n")
}
