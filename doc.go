// Package vybe is a durable orchestration core for agent-driven code generation.
//
// A run provisions an ephemeral sandbox, drives a bounded loop of language
// model turns that read and write files and execute commands inside that
// sandbox, and classifies what the loop produced. Every side-effecting step
// runs through the durable package so a retried or resumed run never repeats
// a completed effect.
//
// # Core Interfaces
//
//   - [Provider] talks to a chat-completion model.
//   - [Tool] exposes one or more callable functions to a model.
//   - [Agent] turns an [AgentTask] into output messages.
//   - [Store] persists project messages, jobs and usage counters.
//   - [Tracer] creates spans; the observer package supplies an OTEL one.
//
// # Running a network
//
//	state := vybe.NewRunState(history)
//	agent := vybe.NewLLMAgent("code-agent", "Writes code in a sandbox", provider,
//		vybe.WithPrompt(prompt),
//		vybe.WithTools(shell.New(sb, handle.ID), file.New(sb, handle.ID, state)),
//	)
//	net := vybe.NewNetwork("coding", agent)
//	result, err := net.Run(ctx, state)
//	outcome := vybe.Classify(state)
//
// Sub-packages provide the implementations: sandbox/docker, sandbox/local and
// sandbox/remote for execution environments, store/sqlite and store/postgres
// for persistence, provider/openaicompat for model access, and codeagent for
// the end-to-end run.
package vybe
