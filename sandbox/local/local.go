// Package local runs sandboxes as workspace directories on the local host.
// Commands execute through "sh -c" with the workspace as working directory.
// It offers no isolation and is meant for development, tests and the
// sandboxd sidecar.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nevindra/vybe/sandbox"
)

type entry struct {
	handle     sandbox.Handle
	dir        string
	lastAccess time.Time
}

// Provider creates, reuses and evicts per-sandbox workspace directories.
// All methods are safe for concurrent use.
type Provider struct {
	root      string
	templates string
	domain    string
	ttl       time.Duration
	limits    sandbox.Limits
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	stopCh  chan struct{}
	doneCh  chan struct{}
}

var (
	_ sandbox.Provider = (*Provider)(nil)
	_ sandbox.Killer   = (*Provider)(nil)
)

// Option configures a Provider.
type Option func(*Provider)

// WithTemplates sets the directory holding one sub-directory per template.
// A sandbox starts as a copy of its template directory when one exists.
func WithTemplates(dir string) Option { return func(p *Provider) { p.templates = dir } }

// WithTTL sets the idle time after which a sandbox is evicted (default 30m).
func WithTTL(d time.Duration) Option { return func(p *Provider) { p.ttl = d } }

// WithDomain sets the domain used by Endpoint (default "localhost").
func WithDomain(d string) Option { return func(p *Provider) { p.domain = d } }

func WithLimits(l sandbox.Limits) Option { return func(p *Provider) { p.limits = l } }

func WithLogger(l *slog.Logger) Option { return func(p *Provider) { p.logger = l } }

// New creates a Provider rooted at root and starts the eviction loop, which
// runs every cleanup interval until Close.
func New(root string, cleanup time.Duration, opts ...Option) *Provider {
	p := &Provider{
		root:    root,
		domain:  "localhost",
		ttl:     30 * time.Minute,
		limits:  sandbox.DefaultLimits,
		logger:  slog.New(slog.DiscardHandler),
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	go p.runCleanup(cleanup)
	return p
}

func (p *Provider) Create(_ context.Context, template string) (sandbox.Handle, error) {
	h := sandbox.Handle{ID: uuid.NewString(), Template: template, CreatedAt: time.Now().Unix()}
	dir := filepath.Join(p.root, h.ID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return sandbox.Handle{}, &sandbox.ProvisionError{Template: template, Err: err}
	}
	if p.templates != "" && template != "" {
		src := filepath.Join(p.templates, filepath.Base(template))
		if _, err := os.Stat(src); err == nil {
			if err := os.CopyFS(dir, os.DirFS(src)); err != nil {
				os.RemoveAll(dir)
				return sandbox.Handle{}, &sandbox.ProvisionError{Template: template, Err: err}
			}
		}
	}

	p.mu.Lock()
	p.entries[h.ID] = &entry{handle: h, dir: dir, lastAccess: time.Now()}
	p.mu.Unlock()

	p.logger.Info("sandbox created", "sandbox_id", h.ID, "template", template)
	return h, nil
}

func (p *Provider) Connect(_ context.Context, id string) (sandbox.Handle, error) {
	e, err := p.lookup(id)
	if err != nil {
		return sandbox.Handle{}, err
	}
	return e.handle, nil
}

func (p *Provider) RunCommand(ctx context.Context, h sandbox.Handle, command string) (sandbox.CommandResult, error) {
	e, err := p.lookup(h.ID)
	if err != nil {
		return sandbox.CommandResult{}, err
	}

	if p.limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.limits.Timeout)
		defer cancel()
	}

	stdout := &sandbox.LimitedBuffer{Limit: p.limits.MaxOutput}
	stderr := &sandbox.LimitedBuffer{Limit: p.limits.MaxOutput}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = e.dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 2 * time.Second

	runErr := cmd.Run()
	res := sandbox.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case ctx.Err() != nil:
		res.ExitCode = -1
		return res, fmt.Errorf("command interrupted: %w", ctx.Err())
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		return res, runErr
	}
	return res, nil
}

func (p *Provider) WriteFile(_ context.Context, h sandbox.Handle, path string, content []byte) error {
	e, err := p.lookup(h.ID)
	if err != nil {
		return err
	}
	full := resolve(e.dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return err
	}
	return os.WriteFile(full, content, 0o644)
}

func (p *Provider) ReadFile(_ context.Context, h sandbox.Handle, path string) ([]byte, error) {
	e, err := p.lookup(h.ID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolve(e.dir, path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &sandbox.NotFoundError{Resource: sandbox.ResourceFile, Name: path}
	}
	return data, err
}

func (p *Provider) Endpoint(h sandbox.Handle, port int) string {
	return sandbox.HostEndpoint(p.domain, h, port)
}

// Kill removes a sandbox immediately.
func (p *Provider) Kill(_ context.Context, id string) error {
	p.mu.Lock()
	e, ok := p.entries[id]
	delete(p.entries, id)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return os.RemoveAll(e.dir)
}

// Close stops the eviction loop and waits for it to exit.
func (p *Provider) Close() {
	close(p.stopCh)
	<-p.doneCh
}

// lookup returns the live entry for id and refreshes its access time.
func (p *Provider) lookup(id string) (*entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return nil, &sandbox.NotFoundError{Resource: sandbox.ResourceSandbox, Name: id}
	}
	e.lastAccess = time.Now()
	return e, nil
}

func (p *Provider) runCleanup(interval time.Duration) {
	defer close(p.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.evictExpired()
		case <-p.stopCh:
			return
		}
	}
}

// evictExpired drops idle sandboxes under the lock and removes their
// directories outside it.
func (p *Provider) evictExpired() {
	p.mu.Lock()
	var dirs []string
	for id, e := range p.entries {
		if time.Since(e.lastAccess) > p.ttl {
			dirs = append(dirs, e.dir)
			delete(p.entries, id)
			p.logger.Info("sandbox expired", "sandbox_id", id)
		}
	}
	p.mu.Unlock()

	for _, dir := range dirs {
		os.RemoveAll(dir)
	}
}

// resolve maps a sandbox path onto the workspace. Absolute paths are taken
// relative to the workspace root; ".." cannot escape it.
func resolve(dir, path string) string {
	return filepath.Join(dir, filepath.Clean("/"+path))
}
