// Package codeagent runs one code generation job end to end: it provisions a
// sandbox, drives the generation network inside it, names and describes the
// result, and persists the outcome as an assistant message.
//
// Every externally visible effect is a durable step of the job's run, so a
// retried job replays finished work instead of repeating it.
package codeagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nevindra/vybe"
	"github.com/nevindra/vybe/durable"
	"github.com/nevindra/vybe/sandbox"
	"github.com/nevindra/vybe/tools/file"
	"github.com/nevindra/vybe/tools/shell"
)

const (
	DefaultTemplate    = "vybe-nextjs-test"
	DefaultPort        = 3000
	DefaultTemperature = 0.1

	// ReportTitle is the title of every run report.
	ReportTitle = "Final Result"
)

// Agent and network names double as durable step prefixes and must stay
// stable across releases.
const (
	CodeAgentName     = "code-agent"
	NetworkName       = "code-agent-network"
	TitleAgentName    = "fragment-title-generator"
	ResponseAgentName = "response-generator"
)

// Repository is the message persistence a run needs.
type Repository interface {
	ListMessages(ctx context.Context, projectID string) ([]vybe.Message, error)
	CreateMessage(ctx context.Context, m vybe.Message) error
}

// Report is what a run returns to its caller.
type Report struct {
	URL        string            `json:"url"`
	Title      string            `json:"title"`
	Files      map[string]string `json:"files"`
	Summary    string            `json:"summary"`
	MessageID  string            `json:"message_id"`
	Iterations int               `json:"iterations"`
	Outcome    vybe.Outcome      `json:"-"`
}

// Failed reports whether the run ended with an ERROR message.
func (r Report) Failed() bool {
	_, ok := r.Outcome.(vybe.ErrorOutcome)
	return ok
}

// Runner executes jobs. It is safe for concurrent use.
type Runner struct {
	sandboxes sandbox.Provider
	repo      Repository
	steps     durable.Store
	provider  vybe.Provider
	template  string
	port      int
	maxIter   int
	prompts   Prompts
	lease     time.Duration
	owner     string
	hooks     durable.Hooks
	wrapTool  func(t vybe.Tool, sandboxID string) vybe.Tool
	tracer    vybe.Tracer
	logger    *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithTemplate sets the sandbox template. Default: DefaultTemplate.
func WithTemplate(name string) Option { return func(r *Runner) { r.template = name } }

// WithPort sets the sandbox port the preview URL points at.
func WithPort(port int) Option { return func(r *Runner) { r.port = port } }

// WithMaxIterations bounds the generation network.
func WithMaxIterations(n int) Option { return func(r *Runner) { r.maxIter = n } }

// WithPrompts replaces the system prompts. Empty fields keep the default.
func WithPrompts(p Prompts) Option {
	return func(r *Runner) {
		if p.Code != "" {
			r.prompts.Code = p.Code
		}
		if p.Title != "" {
			r.prompts.Title = p.Title
		}
		if p.Response != "" {
			r.prompts.Response = p.Response
		}
	}
}

// WithStepLease sets the durable step claim lease.
func WithStepLease(d time.Duration) Option { return func(r *Runner) { r.lease = d } }

// WithOwner sets the prefix of the durable claim owner. Each Run claims
// steps as "<owner>/<attempt id>", so two attempts of the same job never
// share a claim even when they run in one process.
func WithOwner(owner string) Option { return func(r *Runner) { r.owner = owner } }

// WithStepHooks observes every durable step.
func WithStepHooks(h durable.Hooks) Option { return func(r *Runner) { r.hooks = h } }

// WithToolWrapper decorates the generation tools, e.g. with observer.WrapTool.
// fn receives the id of the sandbox the tools operate on.
func WithToolWrapper(fn func(t vybe.Tool, sandboxID string) vybe.Tool) Option {
	return func(r *Runner) { r.wrapTool = fn }
}

func WithTracer(t vybe.Tracer) Option  { return func(r *Runner) { r.tracer = t } }
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// New creates a Runner.
func New(sandboxes sandbox.Provider, repo Repository, steps durable.Store, provider vybe.Provider, opts ...Option) *Runner {
	r := &Runner{
		sandboxes: sandboxes,
		repo:      repo,
		steps:     steps,
		provider:  provider,
		template:  DefaultTemplate,
		port:      DefaultPort,
		maxIter:   vybe.DefaultMaxIterations,
		prompts:   DefaultPrompts(),
		logger:    nopLogger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes job under its current run id. Completed steps of an earlier
// attempt are replayed from the step store.
//
// Errors are returned unchanged so callers can tell durable.ErrStepInFlight
// and sandbox lifecycle failures apart from other causes.
func (r *Runner) Run(ctx context.Context, job vybe.Job) (Report, error) {
	ctx, span := r.startSpan(ctx, "codeagent.run",
		vybe.StringAttr("job.id", job.ID),
		vybe.StringAttr("run.id", job.RunID()),
		vybe.StringAttr("project.id", job.ProjectID))
	defer span.End()

	report, err := r.run(ctx, job)
	if err != nil {
		span.Error(err)
		r.logger.Error("run failed", "run_id", job.RunID(), "project_id", job.ProjectID, "error", err)
		return report, err
	}
	span.SetAttr(
		vybe.IntAttr("run.iterations", report.Iterations),
		vybe.BoolAttr("run.failed", report.Failed()))
	r.logger.Info("run finished", "run_id", job.RunID(), "project_id", job.ProjectID,
		"iterations", report.Iterations, "failed", report.Failed(), "files", len(report.Files))
	return report, nil
}

func (r *Runner) attemptOwner() string {
	if r.owner == "" {
		return "run/" + vybe.NewID()
	}
	return r.owner + "/" + vybe.NewID()
}

func (r *Runner) run(ctx context.Context, job vybe.Job) (Report, error) {
	opts := []durable.Option{
		durable.WithLogger(r.logger),
		durable.WithOwner(r.attemptOwner()),
	}
	if r.lease > 0 {
		opts = append(opts, durable.WithLease(r.lease))
	}
	if r.hooks != nil {
		opts = append(opts, durable.WithHooks(r.hooks))
	}
	ctx = durable.WithExecutor(ctx, durable.New(r.steps, job.RunID(), opts...))

	h, err := durable.Step(ctx, "get-sandbox-id", func(ctx context.Context) (sandbox.Handle, error) {
		return r.sandboxes.Create(ctx, r.template)
	})
	if err != nil {
		return Report{}, err
	}

	history, err := durable.Step(ctx, "get-previous-messages", func(ctx context.Context) ([]vybe.ChatMessage, error) {
		msgs, err := r.repo.ListMessages(ctx, job.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		return seedHistory(msgs, job.Input), nil
	})
	if err != nil {
		return Report{}, err
	}

	state := vybe.NewRunState(history)
	network := vybe.NewNetwork(NetworkName, r.codeAgent(h.ID, state),
		vybe.WithMaxIterations(r.maxIter),
		vybe.WithNetworkTracer(r.tracer),
		vybe.WithNetworkLogger(r.logger))
	res, err := network.Run(ctx, state)
	if err != nil {
		return Report{}, err
	}

	report := Report{Title: ReportTitle, Iterations: res.Iterations}
	outcome := vybe.Classify(state)
	if result, ok := outcome.(vybe.ResultOutcome); ok {
		if err := r.describe(ctx, &result); err != nil {
			return Report{}, err
		}
		url, err := durable.Step(ctx, "get-sandbox-url", func(ctx context.Context) (string, error) {
			h, err := r.sandboxes.Connect(ctx, h.ID)
			if err != nil {
				return "", err
			}
			return r.sandboxes.Endpoint(h, r.port), nil
		})
		if err != nil {
			return Report{}, err
		}
		result.EndpointURL = url
		outcome = result
		report.URL = url
	}

	id, err := durable.Step(ctx, "save-result", func(ctx context.Context) (string, error) {
		m := resultMessage(job.ProjectID, outcome)
		if err := r.repo.CreateMessage(ctx, m); err != nil {
			return "", fmt.Errorf("save result: %w", err)
		}
		return m.ID, nil
	})
	if err != nil {
		return Report{}, err
	}

	report.MessageID = id
	report.Files = state.Files()
	report.Summary = state.Summary()
	report.Outcome = outcome
	return report, nil
}

func (r *Runner) codeAgent(sandboxID string, state *vybe.RunState) vybe.Agent {
	tools := []vybe.Tool{
		shell.New(r.sandboxes, sandboxID),
		file.New(r.sandboxes, sandboxID, state),
	}
	if r.wrapTool != nil {
		for i, t := range tools {
			tools[i] = r.wrapTool(t, sandboxID)
		}
	}
	return vybe.NewLLMAgent(CodeAgentName, "An expert coding agent", r.provider,
		vybe.WithTools(tools...),
		vybe.WithPrompt(r.prompts.Code),
		vybe.WithMaxIter(1),
		vybe.WithTemperature(DefaultTemperature),
		vybe.WithTracer(r.tracer),
		vybe.WithLogger(r.logger))
}

// describe fills in the title and response of a result. The two agents run
// concurrently and fall back to their default text independently. Only step
// ownership conflicts are returned, as the step store must decide those.
func (r *Runner) describe(ctx context.Context, result *vybe.ResultOutcome) error {
	title := vybe.NewLLMAgent(TitleAgentName, "A fragment title generator", r.provider,
		vybe.WithPrompt(r.prompts.Title), vybe.WithTracer(r.tracer), vybe.WithLogger(r.logger))
	response := vybe.NewLLMAgent(ResponseAgentName, "A response generator", r.provider,
		vybe.WithPrompt(r.prompts.Response), vybe.WithTracer(r.tracer), vybe.WithLogger(r.logger))

	var g errgroup.Group
	g.Go(func() error {
		text, err := r.generate(ctx, title, result.Summary, vybe.FallbackTitle)
		result.Title = PlainTitle(text)
		return err
	})
	g.Go(func() error {
		text, err := r.generate(ctx, response, result.Summary, vybe.FallbackResponse)
		result.Response = text
		return err
	})
	return g.Wait()
}

func (r *Runner) generate(ctx context.Context, agent vybe.Agent, summary, fallback string) (string, error) {
	res, err := agent.Execute(ctx, vybe.AgentTask{Input: summary})
	if err != nil {
		if errors.Is(err, durable.ErrStepInFlight) || errors.Is(err, durable.ErrClaimLost) {
			return fallback, err
		}
		r.logger.Warn("agent failed, using fallback", "agent", agent.Name(), "error", err)
		return fallback, nil
	}
	return vybe.ExtractText(res.Output, fallback), nil
}

func (r *Runner) startSpan(ctx context.Context, name string, attrs ...vybe.SpanAttr) (context.Context, vybe.Span) {
	if r.tracer == nil {
		return ctx, noopSpan{}
	}
	return r.tracer.Start(ctx, name, attrs...)
}

// seedHistory maps stored messages to model conversation entries, oldest
// first, and appends input unless it already is the newest user message.
func seedHistory(msgs []vybe.Message, input string) []vybe.ChatMessage {
	history := make([]vybe.ChatMessage, 0, len(msgs)+1)
	for _, m := range msgs {
		if m.Role == vybe.RoleAssistant {
			history = append(history, vybe.AssistantMessage(m.Content))
		} else {
			history = append(history, vybe.UserMessage(m.Content))
		}
	}
	if n := len(msgs); input != "" && (n == 0 || msgs[n-1].Role != vybe.RoleUser || msgs[n-1].Content != input) {
		history = append(history, vybe.UserMessage(input))
	}
	return history
}

// resultMessage builds the assistant message persisted for outcome.
func resultMessage(projectID string, outcome vybe.Outcome) vybe.Message {
	m := vybe.Message{
		ID:        vybe.NewID(),
		ProjectID: projectID,
		Role:      vybe.RoleAssistant,
		CreatedAt: vybe.NowUnix(),
	}
	switch o := outcome.(type) {
	case vybe.ResultOutcome:
		m.Kind = vybe.KindResult
		m.Content = o.Response
		m.Fragment = &vybe.Fragment{
			ID:         vybe.NewID(),
			MessageID:  m.ID,
			SandboxURL: o.EndpointURL,
			Title:      o.Title,
			Files:      o.Files,
			CreatedAt:  m.CreatedAt,
		}
	case vybe.ErrorOutcome:
		m.Kind = vybe.KindError
		m.Content = o.Reason
	}
	return m
}
