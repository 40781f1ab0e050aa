// Package docker runs sandboxes as Docker containers.
//
// Each sandbox is a container created from the template's image and labelled
// so that the reaper can find and remove it once its TTL has passed. Files
// move in and out as tar archives and commands run through exec sessions
// whose multiplexed output is split back into stdout and stderr.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/nevindra/vybe/sandbox"
)

const (
	labelSandbox  = "dev.vybe.sandbox"
	labelTemplate = "dev.vybe.template"
	labelCreated  = "dev.vybe.created"
)

// Provider implements sandbox.Provider on a Docker Engine.
type Provider struct {
	cli      *client.Client
	images   map[string]string
	workDir  string
	ports    []int
	domain   string
	memory   int64
	nanoCPUs int64
	ttl      time.Duration
	limits   sandbox.Limits
	logger   *slog.Logger

	reaping  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

var (
	_ sandbox.Provider = (*Provider)(nil)
	_ sandbox.Killer   = (*Provider)(nil)
)

// Option configures a Provider.
type Option func(*Provider)

// WithImage maps a template name to an image. Unmapped templates are used
// as image references directly.
func WithImage(template, image string) Option {
	return func(p *Provider) { p.images[template] = image }
}

// WithWorkDir sets the directory commands run in and relative paths resolve
// against (default "/home/user").
func WithWorkDir(dir string) Option { return func(p *Provider) { p.workDir = dir } }

// WithPorts publishes container ports on the host loopback interface.
func WithPorts(ports ...int) Option { return func(p *Provider) { p.ports = ports } }

// WithDomain sets the domain Endpoint builds URLs under.
func WithDomain(d string) Option { return func(p *Provider) { p.domain = d } }

// WithResources caps memory (bytes) and CPU (in units of 1e-9 CPUs).
func WithResources(memory, nanoCPUs int64) Option {
	return func(p *Provider) {
		p.memory = memory
		p.nanoCPUs = nanoCPUs
	}
}

// WithTTL sets the sandbox lifetime enforced by the reaper (default 30m).
func WithTTL(d time.Duration) Option { return func(p *Provider) { p.ttl = d } }

func WithLimits(l sandbox.Limits) Option { return func(p *Provider) { p.limits = l } }

func WithLogger(l *slog.Logger) Option { return func(p *Provider) { p.logger = l } }

// New connects to the Docker Engine configured by the environment
// (DOCKER_HOST and friends) with API version negotiation.
func New(opts ...Option) (*Provider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return NewWithClient(cli, opts...), nil
}

// NewWithClient uses an existing client.
func NewWithClient(cli *client.Client, opts ...Option) *Provider {
	p := &Provider{
		cli:     cli,
		images:  make(map[string]string),
		workDir: "/home/user",
		domain:  "localhost",
		ttl:     30 * time.Minute,
		limits:  sandbox.DefaultLimits,
		logger:  slog.New(slog.DiscardHandler),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Provider) Create(ctx context.Context, template string) (sandbox.Handle, error) {
	image := template
	if img, ok := p.images[template]; ok {
		image = img
	}
	now := time.Now()

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, port := range p.ports {
		np := nat.Port(strconv.Itoa(port) + "/tcp")
		exposed[np] = struct{}{}
		bindings[np] = []nat.PortBinding{{HostIP: "127.0.0.1"}}
	}

	cfg := &container.Config{
		Image:        image,
		WorkingDir:   p.workDir,
		ExposedPorts: exposed,
		Labels: map[string]string{
			labelSandbox:  "true",
			labelTemplate: template,
			labelCreated:  strconv.FormatInt(now.Unix(), 10),
		},
	}
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		Resources: container.Resources{
			Memory:   p.memory,
			NanoCPUs: p.nanoCPUs,
		},
	}

	created, err := p.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return sandbox.Handle{}, &sandbox.ProvisionError{Template: template, Err: err}
	}
	if err := p.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		p.remove(created.ID)
		return sandbox.Handle{}, &sandbox.ProvisionError{Template: template, Err: err}
	}

	p.logger.Info("sandbox created", "sandbox_id", created.ID, "template", template, "image", image)
	return sandbox.Handle{ID: shortID(created.ID), Template: template, CreatedAt: now.Unix()}, nil
}

func (p *Provider) Connect(ctx context.Context, id string) (sandbox.Handle, error) {
	info, err := p.cli.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return sandbox.Handle{}, &sandbox.NotFoundError{Resource: sandbox.ResourceSandbox, Name: id}
		}
		return sandbox.Handle{}, err
	}
	if info.Config == nil || info.Config.Labels[labelSandbox] != "true" ||
		info.State == nil || !info.State.Running {
		return sandbox.Handle{}, &sandbox.NotFoundError{Resource: sandbox.ResourceSandbox, Name: id}
	}
	created, _ := strconv.ParseInt(info.Config.Labels[labelCreated], 10, 64)
	return sandbox.Handle{ID: shortID(info.ID), Template: info.Config.Labels[labelTemplate], CreatedAt: created}, nil
}

func (p *Provider) RunCommand(ctx context.Context, h sandbox.Handle, command string) (sandbox.CommandResult, error) {
	if p.limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.limits.Timeout)
		defer cancel()
	}

	exec, err := p.cli.ContainerExecCreate(ctx, h.ID, container.ExecOptions{
		Cmd:          []string{"sh", "-c", command},
		WorkingDir:   p.workDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return sandbox.CommandResult{}, p.gone(ctx, h.ID, err)
	}
	attach, err := p.cli.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return sandbox.CommandResult{}, p.gone(ctx, h.ID, err)
	}
	defer attach.Close()

	stdout := &sandbox.LimitedBuffer{Limit: p.limits.MaxOutput}
	stderr := &sandbox.LimitedBuffer{Limit: p.limits.MaxOutput}
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, attach.Reader)
		copied <- err
	}()

	select {
	case err = <-copied:
	case <-ctx.Done():
		attach.Close()
		<-copied
		err = ctx.Err()
	}
	res := sandbox.CommandResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}
	if err != nil {
		return res, fmt.Errorf("exec output: %w", err)
	}

	inspect, err := p.cli.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return res, p.gone(ctx, h.ID, err)
	}
	res.ExitCode = inspect.ExitCode
	return res, nil
}

func (p *Provider) WriteFile(ctx context.Context, h sandbox.Handle, filePath string, content []byte) error {
	target := p.abs(filePath)
	archive, err := tarFile(target, content)
	if err != nil {
		return err
	}
	err = p.cli.CopyToContainer(ctx, h.ID, "/", archive, container.CopyToContainerOptions{})
	if err != nil {
		return p.gone(ctx, h.ID, err)
	}
	return nil
}

func (p *Provider) ReadFile(ctx context.Context, h sandbox.Handle, filePath string) ([]byte, error) {
	target := p.abs(filePath)
	rc, _, err := p.cli.CopyFromContainer(ctx, h.ID, target)
	if err != nil {
		if client.IsErrNotFound(err) {
			if _, cerr := p.Connect(ctx, h.ID); cerr != nil {
				return nil, cerr
			}
			return nil, &sandbox.NotFoundError{Resource: sandbox.ResourceFile, Name: filePath}
		}
		return nil, err
	}
	defer rc.Close()
	return untarFile(rc)
}

func (p *Provider) Endpoint(h sandbox.Handle, port int) string {
	return sandbox.HostEndpoint(p.domain, h, port)
}

// Kill removes the sandbox container.
func (p *Provider) Kill(ctx context.Context, id string) error {
	err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return err
	}
	return nil
}

// abs resolves path against the working directory.
func (p *Provider) abs(filePath string) string {
	if path.IsAbs(filePath) {
		return path.Clean(filePath)
	}
	return path.Join(p.workDir, filePath)
}

// gone maps an engine error to the sandbox lifecycle error when the
// container was removed or has stopped.
func (p *Provider) gone(ctx context.Context, id string, err error) error {
	if client.IsErrNotFound(err) {
		return &sandbox.NotFoundError{Resource: sandbox.ResourceSandbox, Name: id}
	}
	if ctx.Err() == nil {
		if _, cerr := p.Connect(ctx, id); sandbox.IsGone(cerr) {
			return cerr
		}
	}
	return err
}

func (p *Provider) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.Kill(ctx, id); err != nil {
		p.logger.Warn("remove sandbox failed", "sandbox_id", id, "error", err)
	}
}

// shortID trims a container id to the 12-character form the Engine accepts
// everywhere, so "<port>-<id>" stays a valid DNS label.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
