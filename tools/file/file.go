// Package file provides the createOrUpdateFiles and readFiles tools, which
// move files between a run's sandbox and its RunState.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/nevindra/vybe"
	"github.com/nevindra/vybe/durable"
	"github.com/nevindra/vybe/sandbox"
	"golang.org/x/text/unicode/norm"
)

// Tool reads and writes files in one sandbox and mirrors successful writes
// into the run's file mapping.
type Tool struct {
	provider  sandbox.Provider
	sandboxID string
	state     *vybe.RunState
}

var _ vybe.Tool = (*Tool)(nil)

func New(p sandbox.Provider, sandboxID string, state *vybe.RunState) *Tool {
	return &Tool{provider: p, sandboxID: sandboxID, state: state}
}

func (t *Tool) Definitions() []vybe.ToolDefinition {
	return []vybe.ToolDefinition{
		{
			Name:        "createOrUpdateFiles",
			Description: "Create or update files in the sandbox. Paths are relative to the app root. Either every file is written or none is recorded.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"files":{"type":"array","items":{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}}},"required":["files"]}`),
		},
		{
			Name:        "readFiles",
			Description: "Read files from the sandbox. Returns a JSON array of {path, content}.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"files":{"type":"array","items":{"type":"string"}}},"required":["files"]}`),
		},
	}
}

func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (vybe.ToolResult, error) {
	switch name {
	case "createOrUpdateFiles":
		var params struct {
			Files []FileEntry `json:"files"`
		}
		if err := json.Unmarshal(args, &params); err != nil {
			return vybe.ToolResult{Error: "invalid args: " + err.Error()}, nil
		}
		return t.write(ctx, params.Files)
	case "readFiles":
		var params struct {
			Files []string `json:"files"`
		}
		if err := json.Unmarshal(args, &params); err != nil {
			return vybe.ToolResult{Error: "invalid args: " + err.Error()}, nil
		}
		return t.read(ctx, params.Files)
	default:
		return vybe.ToolResult{Error: "unknown file tool: " + name}, nil
	}
}

// FileEntry is one file as exchanged with the model.
type FileEntry struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// writeOutcome is the memoized result of one createOrUpdateFiles call. Files
// is the complete mapping after the call and is committed to RunState both
// on first execution and on replay.
type writeOutcome struct {
	Files      map[string]string `json:"files,omitempty"`
	Written    []string          `json:"written,omitempty"`
	Diagnostic string            `json:"diagnostic,omitempty"`
}

func (t *Tool) write(ctx context.Context, entries []FileEntry) (vybe.ToolResult, error) {
	out, err := durable.Step(ctx, "createOrUpdateFiles", func(ctx context.Context) (writeOutcome, error) {
		return t.writeAll(ctx, entries)
	})
	if err != nil {
		return vybe.ToolResult{}, err
	}
	if out.Diagnostic != "" {
		return vybe.ToolResult{Error: out.Diagnostic}, nil
	}
	t.state.ReplaceFiles(out.Files)
	return vybe.ToolResult{Content: fmt.Sprintf("Updated %d file(s): %s", len(out.Written), strings.Join(out.Written, ", "))}, nil
}

func (t *Tool) writeAll(ctx context.Context, entries []FileEntry) (writeOutcome, error) {
	if len(entries) == 0 {
		return writeOutcome{Diagnostic: "Failed to update files: no files given"}, nil
	}
	h, err := t.provider.Connect(ctx, t.sandboxID)
	if err != nil {
		if sandbox.IsGone(err) {
			return writeOutcome{}, err
		}
		return writeOutcome{Diagnostic: "Failed to update files: " + err.Error()}, nil
	}

	updated := t.state.Files()
	written := make([]string, 0, len(entries))
	for _, e := range entries {
		p, err := Normalize(e.Path)
		if err != nil {
			return writeOutcome{Diagnostic: "Failed to update files: " + err.Error()}, nil
		}
		if err := t.provider.WriteFile(ctx, h, p, []byte(e.Content)); err != nil {
			if sandbox.IsGone(err) {
				return writeOutcome{}, err
			}
			return writeOutcome{Diagnostic: "Failed to update files: " + err.Error()}, nil
		}
		updated[p] = e.Content
		written = append(written, p)
	}
	return writeOutcome{Files: updated, Written: written}, nil
}

func (t *Tool) read(ctx context.Context, paths []string) (vybe.ToolResult, error) {
	return durable.Step(ctx, "readFiles", func(ctx context.Context) (vybe.ToolResult, error) {
		if len(paths) == 0 {
			return vybe.ToolResult{Error: "Failed to read files: no files given"}, nil
		}
		h, err := t.provider.Connect(ctx, t.sandboxID)
		if err != nil {
			if sandbox.IsGone(err) {
				return vybe.ToolResult{}, err
			}
			return vybe.ToolResult{Error: "Failed to read files: " + err.Error()}, nil
		}

		contents := make([]FileEntry, 0, len(paths))
		for _, raw := range paths {
			p, err := Normalize(raw)
			if err != nil {
				return vybe.ToolResult{Error: "Failed to read files: " + err.Error()}, nil
			}
			data, err := t.provider.ReadFile(ctx, h, p)
			if err != nil {
				if sandbox.IsGone(err) {
					return vybe.ToolResult{}, err
				}
				return vybe.ToolResult{Error: "Failed to read files: " + err.Error()}, nil
			}
			contents = append(contents, FileEntry{Path: p, Content: string(data)})
		}
		data, err := json.Marshal(contents)
		if err != nil {
			return vybe.ToolResult{}, err
		}
		return vybe.ToolResult{Content: string(data)}, nil
	})
}

// Normalize puts a model-supplied path into canonical form so equivalent
// spellings share one key in the file mapping: Unicode NFC, cleaned, without
// a leading "./".
func Normalize(p string) (string, error) {
	p = norm.NFC.String(strings.TrimSpace(p))
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	if p == "." || p == "/" {
		return "", fmt.Errorf("not a file path: %q", p)
	}
	return p, nil
}
