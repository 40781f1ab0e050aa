package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMMethod   = attribute.Key("llm.method")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")
	AttrToolCount    = attribute.Key("llm.tool_count")
	AttrToolCalls    = attribute.Key("llm.tool_calls")

	AttrToolName         = attribute.Key("tool.name")
	AttrToolStatus       = attribute.Key("tool.status")
	AttrToolResultLength = attribute.Key("tool.result_length")

	AttrStepName    = attribute.Key("durable.step")
	AttrStepOutcome = attribute.Key("durable.outcome")

	AttrRunID      = attribute.Key("run.id")
	AttrRunOutcome = attribute.Key("run.outcome")

	AttrSandboxID = attribute.Key("sandbox.id")
)
