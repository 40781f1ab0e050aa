// Package sandbox defines the boundary to ephemeral execution environments.
//
// A sandbox is created from a template, addressed afterwards by its id, and
// expires on its own. Callers never re-create a sandbox implicitly: once it
// is gone every operation fails with a *NotFoundError for the sandbox.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Handle identifies a live sandbox. It is JSON-serializable so durable steps
// can memoize it.
type Handle struct {
	ID        string `json:"id"`
	Template  string `json:"template"`
	CreatedAt int64  `json:"created_at"`
}

// CommandResult is the captured outcome of one shell command.
type CommandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Provider creates and operates sandboxes.
type Provider interface {
	// Create provisions a sandbox from template. Failure is a *ProvisionError.
	Create(ctx context.Context, template string) (Handle, error)
	// Connect re-attaches to a sandbox by id. An expired or unknown id is a
	// *NotFoundError with Resource "sandbox".
	Connect(ctx context.Context, id string) (Handle, error)
	// RunCommand runs command through a shell in the sandbox's working
	// directory. A non-zero exit status is reported in ExitCode, not as an
	// error. On transport failure the output captured so far is returned
	// together with the error.
	RunCommand(ctx context.Context, h Handle, command string) (CommandResult, error)
	// WriteFile creates or replaces path, creating parent directories.
	WriteFile(ctx context.Context, h Handle, path string, content []byte) error
	// ReadFile returns the content of path. A missing path is a
	// *NotFoundError with Resource "file".
	ReadFile(ctx context.Context, h Handle, path string) ([]byte, error)
	// Endpoint returns the public URL of port inside the sandbox. It performs
	// no I/O and is deterministic for a given handle and port.
	Endpoint(h Handle, port int) string
}

// Killer is implemented by providers that can remove a sandbox before it
// expires.
type Killer interface {
	Kill(ctx context.Context, id string) error
}

// Limits bounds resource use of a single command.
type Limits struct {
	Timeout   time.Duration
	MaxOutput int // bytes captured per stream
}

// DefaultLimits are applied by providers when no limits are configured.
var DefaultLimits = Limits{Timeout: 5 * time.Minute, MaxOutput: 256 * 1024}

// MaxLabel is the DNS limit on one label of a host name.
const MaxLabel = 63

// HostEndpoint formats the conventional "https://<port>-<id>.<domain>" URL.
// The "<port>-<id>" label is cut to MaxLabel characters.
func HostEndpoint(domain string, h Handle, port int) string {
	label := fmt.Sprintf("%d-%s", port, h.ID)
	if len(label) > MaxLabel {
		label = label[:MaxLabel]
	}
	return fmt.Sprintf("https://%s.%s", label, strings.TrimPrefix(domain, "."))
}

// LimitedBuffer captures up to Limit bytes and silently discards the rest.
type LimitedBuffer struct {
	buf       strings.Builder
	Limit     int
	Truncated bool
}

func (w *LimitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if remaining := w.Limit - w.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			p = p[:remaining]
			w.Truncated = true
		}
		w.buf.Write(p)
	} else if n > 0 {
		w.Truncated = true
	}
	return n, nil
}

func (w *LimitedBuffer) String() string { return w.buf.String() }
