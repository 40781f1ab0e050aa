package vybe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nevindra/vybe/durable"
)

const (
	// CompletionMarker ends the summary an agent emits once the task is done.
	CompletionMarker = "</task_summary>"
	// DefaultMaxIterations bounds the agent turns of one network run.
	DefaultMaxIterations = 15
)

// RouterState is the network's position: Running(Iteration) while Done is
// false, and Done afterwards. Iteration counts completed agent turns.
type RouterState struct {
	Iteration int
	Done      bool
}

// DoneReason explains why a network stopped.
type DoneReason string

const (
	DoneCompleted DoneReason = "completed"        // summary captured
	DoneBudget    DoneReason = "budget_exhausted" // iteration cap reached
)

// NetworkResult summarizes a finished network run.
type NetworkResult struct {
	Iterations int
	Reason     DoneReason
	Usage      Usage
}

// Network drives one generation agent over a shared RunState until the
// agent reports completion or the iteration budget runs out.
//
// Each turn is the durable step "iteration-N". Its stored record holds the
// turn's output messages and the file mapping after the turn, so a replayed
// turn restores RunState exactly as the original execution left it.
type Network struct {
	name          string
	agent         Agent
	maxIterations int
	marker        string
	tracer        Tracer
	logger        *slog.Logger
}

// NetworkOption configures a Network.
type NetworkOption func(*Network)

// WithMaxIterations overrides DefaultMaxIterations.
func WithMaxIterations(n int) NetworkOption {
	return func(nw *Network) { nw.maxIterations = n }
}

// WithCompletionMarker overrides CompletionMarker.
func WithCompletionMarker(m string) NetworkOption {
	return func(nw *Network) { nw.marker = m }
}

func WithNetworkTracer(t Tracer) NetworkOption {
	return func(nw *Network) { nw.tracer = t }
}

func WithNetworkLogger(l *slog.Logger) NetworkOption {
	return func(nw *Network) { nw.logger = l }
}

func NewNetwork(name string, agent Agent, opts ...NetworkOption) *Network {
	n := &Network{
		name:          name,
		agent:         agent,
		maxIterations: DefaultMaxIterations,
		marker:        CompletionMarker,
		logger:        nopLogger,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

func (n *Network) Name() string { return n.name }

// Next is the router's transition function. A running network stops once a
// summary exists or the budget is spent; otherwise it stays on the same
// iteration and the caller runs the next turn.
func (n *Network) Next(s RouterState, state *RunState) RouterState {
	if s.Done {
		return s
	}
	if state.Summary() != "" || s.Iteration >= n.maxIterations {
		return RouterState{Iteration: s.Iteration, Done: true}
	}
	return s
}

// turnRecord is the memoized result of one network iteration.
type turnRecord struct {
	Output []ChatMessage     `json:"output"`
	Files  map[string]string `json:"files"`
	Usage  Usage             `json:"usage"`
}

// Run executes turns until Next reports Done. Agent errors abort the run and
// are returned as is; the state keeps whatever earlier turns produced.
func (n *Network) Run(ctx context.Context, state *RunState) (NetworkResult, error) {
	ctx, span := startSpan(ctx, n.tracer, "network.run",
		StringAttr("network.name", n.name),
		IntAttr("network.max_iterations", n.maxIterations))
	defer span.End()

	var result NetworkResult
	s := RouterState{}
	for {
		s = n.Next(s, state)
		if s.Done {
			break
		}
		iter := s.Iteration + 1
		rec, err := durable.Step(ctx, fmt.Sprintf("iteration-%d", iter), func(ctx context.Context) (turnRecord, error) {
			res, err := n.agent.Execute(ctx, AgentTask{History: state.History()})
			if err != nil {
				return turnRecord{}, err
			}
			return turnRecord{Output: res.Output, Files: state.Files(), Usage: res.Usage}, nil
		})
		if err != nil {
			span.Error(err)
			n.logger.Error("network turn failed", "network", n.name, "iteration", iter, "error", err)
			result.Iterations = s.Iteration
			return result, err
		}

		state.ReplaceFiles(rec.Files)
		state.AppendHistory(rec.Output...)
		result.Usage.InputTokens += rec.Usage.InputTokens
		result.Usage.OutputTokens += rec.Usage.OutputTokens
		if n.inspect(rec.Output, state) {
			n.logger.Info("completion marker observed", "network", n.name, "iteration", iter)
		}
		s.Iteration = iter
	}

	result.Iterations = s.Iteration
	result.Reason = DoneBudget
	if state.Summary() != "" {
		result.Reason = DoneCompleted
	}
	span.SetAttr(
		IntAttr("network.iterations", result.Iterations),
		StringAttr("network.done_reason", string(result.Reason)))
	n.logger.Info("network done", "network", n.name,
		"iterations", result.Iterations, "reason", result.Reason)
	return result, nil
}

// inspect captures the summary from the turn's most recent assistant text
// message when it contains the completion marker.
func (n *Network) inspect(output []ChatMessage, state *RunState) bool {
	text, ok := AgentResult{Output: output}.LastAssistantText()
	if !ok {
		return false
	}
	i := strings.Index(text, n.marker)
	if i < 0 {
		return false
	}
	return state.SetSummary(text[:i+len(n.marker)])
}
