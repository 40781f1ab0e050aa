package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/vybe"
	"github.com/nevindra/vybe/codeagent"
	"github.com/nevindra/vybe/durable"
	"github.com/nevindra/vybe/internal/config"
	"github.com/nevindra/vybe/observer"
	"github.com/nevindra/vybe/provider/resolve"
	"github.com/nevindra/vybe/quota"
	"github.com/nevindra/vybe/sandbox"
	"github.com/nevindra/vybe/sandbox/docker"
	"github.com/nevindra/vybe/sandbox/local"
	"github.com/nevindra/vybe/sandbox/remote"
	"github.com/nevindra/vybe/store/postgres"
	"github.com/nevindra/vybe/store/sqlite"
	"github.com/nevindra/vybe/worker"
)

// store is what a database backend provides: the domain store plus durable
// step records.
type store interface {
	vybe.Store
	durable.Store
}

// app holds the wired components of one process.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	store     store
	sandboxes sandbox.Provider
	provider  vybe.Provider
	inst      *observer.Instruments
	closers   []func(context.Context) error
}

// newApp wires the store, sandbox provider, LLM provider and telemetry.
// Callers must call close.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: cfg.Log.NewLogger(os.Stderr)}
	slog.SetDefault(a.logger)

	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(ctx, cfg.Observer.ServiceName, pricing(cfg.Observer))
		if err != nil {
			return nil, fmt.Errorf("init observer: %w", err)
		}
		a.inst = inst
		a.closers = append(a.closers, shutdown)
	}

	if err := a.openStore(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	if err := a.openSandboxes(); err != nil {
		a.close(ctx)
		return nil, err
	}
	provider, err := a.newProvider()
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.provider = provider
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	db := a.cfg.Database
	switch db.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, db.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
		a.store = postgres.New(pool, postgres.WithLogger(a.logger))
	default:
		s := sqlite.New(db.Path, sqlite.WithLogger(a.logger))
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		a.store = s
	}
	if err := a.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	return nil
}

func (a *app) openSandboxes() error {
	sc := a.cfg.Sandbox
	limits := sandbox.DefaultLimits
	if sc.CommandTimeout > 0 {
		limits.Timeout = sc.CommandTimeout
	}

	switch sc.Driver {
	case "remote":
		a.sandboxes = remote.NewClient(sc.URL, remote.WithDomain(sc.Domain))
	case "local":
		p := local.New(sc.Root, time.Minute,
			local.WithTTL(sc.TTL),
			local.WithDomain(sc.Domain),
			local.WithLimits(limits),
			local.WithLogger(a.logger))
		a.closers = append(a.closers, func(context.Context) error { p.Close(); return nil })
		a.sandboxes = p
	default:
		opts := []docker.Option{
			docker.WithPorts(sc.Port),
			docker.WithDomain(sc.Domain),
			docker.WithTTL(sc.TTL),
			docker.WithLimits(limits),
			docker.WithResources(sc.MemoryMB*1024*1024, int64(sc.CPUs*1e9)),
			docker.WithLogger(a.logger),
		}
		for template, image := range sc.Images {
			opts = append(opts, docker.WithImage(template, image))
		}
		p, err := docker.New(opts...)
		if err != nil {
			return fmt.Errorf("connect docker: %w", err)
		}
		p.StartReaper(max(sc.TTL/4, time.Minute))
		a.closers = append(a.closers, func(context.Context) error { return p.Close() })
		a.sandboxes = p
	}
	return nil
}

func (a *app) newProvider() (vybe.Provider, error) {
	lc := a.cfg.LLM
	base, err := resolve.Provider(resolve.Config{
		Provider: lc.Provider,
		APIKey:   lc.APIKey,
		Model:    lc.Model,
		BaseURL:  lc.BaseURL,
		Logger:   a.logger,
	})
	if err != nil {
		return nil, err
	}
	var p vybe.Provider = base
	if a.inst != nil {
		p = observer.WrapProvider(p, lc.Model, a.inst)
	}
	if lc.RPM > 0 || lc.TPM > 0 {
		p = vybe.WithRateLimit(p, vybe.RPM(lc.RPM), vybe.TPM(lc.TPM))
	}
	return vybe.WithRetry(p,
		vybe.RetryMaxAttempts(lc.MaxAttempts),
		vybe.RetryTimeout(lc.Timeout),
		vybe.RetryLogger(a.logger)), nil
}

// runner builds the code agent runner. owner names the durable claim owner.
func (a *app) runner(owner string) *codeagent.Runner {
	ac := a.cfg.Agent
	opts := []codeagent.Option{
		codeagent.WithTemplate(a.cfg.Sandbox.Template),
		codeagent.WithPort(a.cfg.Sandbox.Port),
		codeagent.WithMaxIterations(ac.MaxIterations),
		codeagent.WithStepLease(ac.StepLease),
		codeagent.WithOwner(owner),
		codeagent.WithLogger(a.logger),
	}
	prompts, err := loadPrompts(ac)
	if err != nil {
		a.logger.Warn("using default prompts", "error", err)
	} else {
		opts = append(opts, codeagent.WithPrompts(prompts))
	}
	if a.inst != nil {
		opts = append(opts,
			codeagent.WithTracer(observer.NewTracer()),
			codeagent.WithStepHooks(observer.NewStepHooks(a.inst)),
			codeagent.WithToolWrapper(func(t vybe.Tool, sandboxID string) vybe.Tool {
				return observer.WrapTool(t, a.inst, observer.AttrSandboxID.String(sandboxID))
			}))
	}
	return codeagent.New(a.sandboxes, a.store, a.store, a.provider, opts...)
}

func (a *app) tracker() *quota.Tracker {
	qc := a.cfg.Quota
	return quota.NewTracker(a.store,
		quota.WithPoints(qc.Points),
		quota.WithWindow(qc.Window),
		quota.WithCost(qc.Cost))
}

func (a *app) pool(id string) *worker.Pool {
	wc := a.cfg.Worker
	return worker.New(a.store, a.runner(id),
		worker.WithID(id),
		worker.WithWorkers(wc.Count),
		worker.WithPollInterval(wc.PollInterval),
		worker.WithJobLease(wc.Lease),
		worker.WithMaxAttempts(wc.MaxAttempts),
		worker.WithBackoff(wc.Backoff, wc.MaxBackoff),
		worker.WithRegenerateOnSandboxLoss(wc.RegenerateOnSandboxLoss),
		worker.WithOnRun(a.recordRun),
		worker.WithLogger(a.logger))
}

func (a *app) recordRun(job vybe.Job, report codeagent.Report, s worker.Settlement, err error, d time.Duration) {
	if a.inst == nil {
		return
	}
	outcome := "result"
	switch {
	case err != nil:
		outcome = "failed"
	case report.Failed():
		outcome = "error"
	}
	a.inst.RecordRun(context.Background(), outcome, d)
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

func pricing(c config.ObserverConfig) map[string]observer.ModelPricing {
	out := make(map[string]observer.ModelPricing, len(c.Pricing))
	for model, p := range c.Pricing {
		out[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
	}
	return out
}

// loadPrompts reads prompt overrides named in the agent config.
func loadPrompts(ac config.AgentConfig) (codeagent.Prompts, error) {
	var p codeagent.Prompts
	for _, f := range []struct {
		path string
		dst  *string
	}{
		{ac.CodePromptFile, &p.Code},
		{ac.TitlePromptFile, &p.Title},
		{ac.ResponsePromptFile, &p.Response},
	} {
		if f.path == "" {
			continue
		}
		data, err := os.ReadFile(f.path)
		if err != nil {
			return codeagent.Prompts{}, fmt.Errorf("read prompt: %w", err)
		}
		*f.dst = string(data)
	}
	return p, nil
}
