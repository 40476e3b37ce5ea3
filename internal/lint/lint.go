package lint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/execbox/api/internal/types"
)

// NoIssues is the rendered output for a clean report
const NoIssues = "No issues found!"

// Runner checks a single file with ruff and translates its JSON report into
// ordered diagnostic records. Findings are a normal outcome; only a tool
// failure surfaces as an error.
type Runner struct {
	ruffPath string
	logger   *logrus.Entry
}

// NewRunner creates a runner using the given ruff binary (name or path)
func NewRunner(ruffPath string) *Runner {
	return &Runner{
		ruffPath: ruffPath,
		logger:   logrus.WithField("component", "lint"),
	}
}

// ruffDiagnostic mirrors the fields consumed from ruff's JSON output
type ruffDiagnostic struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Location struct {
		Row    int `json:"row"`
		Column int `json:"column"`
	} `json:"location"`
}

// Check lints path and returns the diagnostics in report order.
func (r *Runner) Check(ctx context.Context, path string) ([]types.DiagnosticRecord, error) {
	cmd := exec.CommandContext(ctx, r.ruffPath, "check", "--output-format", "json", "--exit-zero", path)

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("linter failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("linter failed: %w", err)
	}

	r.logger.WithField("file", path).Debug("Lint completed")
	return Translate(output)
}

// Translate parses a ruff JSON report, preserving record order.
func Translate(report []byte) ([]types.DiagnosticRecord, error) {
	var raw []ruffDiagnostic
	if err := json.Unmarshal(report, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse linter output: %w", err)
	}

	records := make([]types.DiagnosticRecord, 0, len(raw))
	for _, d := range raw {
		records = append(records, types.DiagnosticRecord{
			Code:    d.Code,
			Message: d.Message,
			Location: types.Location{
				Line:   d.Location.Row,
				Column: d.Location.Column,
			},
		})
	}
	return records, nil
}

// Render formats diagnostics as a count header followed by one
// "line:col CODE message" line per record. An empty report renders the fixed
// no-issues marker.
func Render(records []types.DiagnosticRecord) string {
	if len(records) == 0 {
		return NoIssues
	}

	header := fmt.Sprintf("Found %d issues", len(records))
	if len(records) == 1 {
		header = "Found 1 issue"
	}

	lines := make([]string, 0, len(records)+1)
	lines = append(lines, header)
	for _, rec := range records {
		lines = append(lines, fmt.Sprintf("%d:%d %s %s", rec.Location.Line, rec.Location.Column, rec.Code, rec.Message))
	}
	return strings.Join(lines, "\n")
}
